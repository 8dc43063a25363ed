package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/crypto/bcrypt"

	"github.com/manupriyaaa/tracelens/internal/model"
	userrepo "github.com/manupriyaaa/tracelens/internal/repository/user"
)

var (
	// ErrInvalidOTP covers missing, expired and mismatched codes alike.
	ErrInvalidOTP = errors.New("invalid or expired OTP")

	// ErrInvalidCredentials is returned for a wrong password. It carries no
	// hint about whether the account exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// userRepo defines the account operations the service relies on.
type userRepo interface {
	Create(ctx context.Context, u model.User) (uuid.UUID, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	TouchLogin(ctx context.Context, id uuid.UUID, mobile string) error
}

// SMSSender delivers one-time codes. The transport is a black box; the
// development implementation just logs the code.
type SMSSender interface {
	Send(ctx context.Context, mobile, message string) error
}

// LogSender is the development SMSSender: it writes the message to the log
// instead of sending anything.
type LogSender struct{}

// Send logs the message.
func (LogSender) Send(_ context.Context, mobile, message string) error {
	zlog.Logger.Info().Str("mobile", mobile).Str("message", message).Msg("development SMS")
	return nil
}

// Config holds issuance parameters.
type Config struct {
	JWTSecret  []byte
	TokenTTL   time.Duration
	OTPTTL     time.Duration
	BcryptCost int
}

// Service implements OTP issuance and email+password+OTP login.
type Service struct {
	users userRepo
	otps  OTPStore
	sms   SMSSender
	cfg   Config
}

// NewService creates a new Service.
func NewService(users userRepo, otps OTPStore, sms SMSSender, cfg Config) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = 12
	}

	return &Service{users: users, otps: otps, sms: sms, cfg: cfg}
}

// RequestOTP generates a 6-digit code for the mobile number, stores it with
// a bounded lifetime and hands it to the SMS sender. The code is returned so
// the handler can expose it in development mode.
func (s *Service) RequestOTP(ctx context.Context, mobile string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("otp: failed to generate code: %w", err)
	}

	s.otps.Put(mobile, code, s.cfg.OTPTTL)

	message := fmt.Sprintf("Your TraceLens OTP is: %s. Valid for %d minutes. Do not share with anyone.",
		code, int(s.cfg.OTPTTL.Minutes()))
	if err := s.sms.Send(ctx, mobile, message); err != nil {
		return "", fmt.Errorf("otp: failed to send SMS: %w", err)
	}

	return code, nil
}

// Login verifies the OTP first, then finds or creates the account. A fresh
// email creates a verified user with the given password; an existing one
// must present the matching password. The used OTP is consumed on success.
func (s *Service) Login(ctx context.Context, email, password, mobile, otp string) (model.User, string, error) {
	stored, ok := s.otps.Get(mobile)
	if !ok || stored != otp {
		return model.User{}, "", ErrInvalidOTP
	}

	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, userrepo.ErrUserNotFound):
		u, err = s.register(ctx, email, password, mobile)
		if err != nil {
			return model.User{}, "", err
		}
	case err != nil:
		return model.User{}, "", fmt.Errorf("login: failed to look up user: %w", err)
	default:
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return model.User{}, "", ErrInvalidCredentials
		}
	}

	s.otps.Del(mobile)

	if err := s.users.TouchLogin(ctx, u.ID, mobile); err != nil {
		zlog.Logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("login: failed to record last login")
	}

	token, err := GenerateToken(u.ID.String(), s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		return model.User{}, "", fmt.Errorf("login: failed to issue token: %w", err)
	}

	return u, token, nil
}

// Me returns the account behind an authenticated user id.
func (s *Service) Me(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}

	return u, nil
}

func (s *Service) register(ctx context.Context, email, password, mobile string) (model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("login: failed to hash password: %w", err)
	}

	u := model.User{
		Email:        email,
		PasswordHash: string(hash),
		Mobile:       mobile,
		Verified:     true,
		CreatedAt:    time.Now().UTC(),
	}

	id, err := s.users.Create(ctx, u)
	if err != nil {
		return model.User{}, fmt.Errorf("login: failed to create user: %w", err)
	}

	u.ID = id
	zlog.Logger.Info().Str("email", email).Msg("new user created")

	return u, nil
}

// generateCode draws a uniform 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
