package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/manupriyaaa/tracelens/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

// Repository provides user account persistence.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user and returns its UUID.
func (r *Repository) Create(ctx context.Context, u model.User) (uuid.UUID, error) {
	query := `
		INSERT INTO users (email, password_hash, mobile, verified)
		VALUES ($1, $2, $3, $4)
		RETURNING id
   `

	var id uuid.UUID
	err := r.db.Master.QueryRowContext(
		ctx, query, u.Email, u.PasswordHash, u.Mobile, u.Verified,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create: failed to save user: %w", err)
	}

	return id, nil
}

// GetByEmail retrieves a user by email, including the password hash.
func (r *Repository) GetByEmail(ctx context.Context, email string) (model.User, error) {
	query := `
		SELECT id, email, password_hash, mobile, verified, created_at, last_login
		FROM users
		WHERE email = $1
    `

	var u model.User
	err := r.db.Master.QueryRowContext(ctx, query, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Mobile, &u.Verified, &u.CreatedAt, &u.LastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}

		return model.User{}, fmt.Errorf("get: failed to get user: %w", err)
	}

	return u, nil
}

// GetByID retrieves a user by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `
		SELECT id, email, password_hash, mobile, verified, created_at, last_login
		FROM users
		WHERE id = $1
    `

	var u model.User
	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Mobile, &u.Verified, &u.CreatedAt, &u.LastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}

		return model.User{}, fmt.Errorf("get: failed to get user: %w", err)
	}

	return u, nil
}

// TouchLogin records a successful login and keeps the mobile number current.
func (r *Repository) TouchLogin(ctx context.Context, id uuid.UUID, mobile string) error {
	query := `
		UPDATE users
		SET last_login = NOW(), mobile = $1
		WHERE id = $2
    `

	rows, err := r.db.Master.ExecContext(ctx, query, mobile, id)
	if err != nil {
		return fmt.Errorf("touch: failed to update user: %w", err)
	}

	n, err := rows.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		return ErrUserNotFound
	}

	return nil
}
