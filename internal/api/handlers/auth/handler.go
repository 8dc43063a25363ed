package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/manupriyaaa/tracelens/internal/api/respond"
	"github.com/manupriyaaa/tracelens/internal/middleware"
	"github.com/manupriyaaa/tracelens/internal/model"
	userrepo "github.com/manupriyaaa/tracelens/internal/repository/user"
	authsvc "github.com/manupriyaaa/tracelens/internal/service/auth"
)

var mobilePattern = regexp.MustCompile(`^\d{10}$`)

// service defines the interface for authentication operations.
type service interface {
	RequestOTP(ctx context.Context, mobile string) (string, error)
	Login(ctx context.Context, email, password, mobile, otp string) (model.User, string, error)
	Me(ctx context.Context, id uuid.UUID) (model.User, error)
}

// Handler provides HTTP handlers for the authentication endpoints.
type Handler struct {
	service service

	// exposeOTP includes the generated code in the send-otp response.
	// Meant for development setups without an SMS gateway.
	exposeOTP bool
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service, exposeOTP bool) *Handler {
	return &Handler{service: s, exposeOTP: exposeOTP}
}

// SendOTPRequest is the request body for the send-otp endpoint.
type SendOTPRequest struct {
	Mobile string `json:"mobile"`
}

// SendOTP generates a one-time code for the given mobile number and hands it
// to the SMS sender.
func (h *Handler) SendOTP(c *ginext.Context) {
	var req SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	if !mobilePattern.MatchString(req.Mobile) {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("mobile must be a 10-digit number"))
		return
	}

	code, err := h.service.RequestOTP(c.Request.Context(), req.Mobile)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to issue otp")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to send otp"))
		return
	}

	result := map[string]interface{}{"sent": true}
	if h.exposeOTP {
		result["otp"] = code
	}

	respond.OK(c, result)
}

// LoginRequest is the request body for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Mobile   string `json:"mobile"`
	OTP      string `json:"otp"`
}

// Login verifies the one-time code and the credentials, registering the user
// on first login, and returns a signed token.
func (h *Handler) Login(c *ginext.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	if req.Email == "" || req.Password == "" || !mobilePattern.MatchString(req.Mobile) {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("email, password and a 10-digit mobile are required"))
		return
	}

	user, token, err := h.service.Login(c.Request.Context(), req.Email, req.Password, req.Mobile, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, authsvc.ErrInvalidOTP):
			respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("invalid or expired otp"))
		case errors.Is(err, authsvc.ErrInvalidCredentials):
			respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
		default:
			zlog.Logger.Err(err).Msg("login failed")
			respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("login failed"))
		}
		return
	}

	respond.OK(c, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"id":     user.ID,
			"email":  user.Email,
			"mobile": user.Mobile,
		},
	})
}

// Me returns the authenticated caller's account. The password hash never
// leaves the model's json encoding.
func (h *Handler) Me(c *ginext.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("not authenticated"))
		return
	}

	user, err := h.service.Me(c.Request.Context(), ownerID)
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("user not found"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to load current user")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to load user"))
		return
	}

	respond.OK(c, user)
}
