package model

import (
	"time"

	"github.com/google/uuid"
)

// User is an account identified by email. The password hash never leaves
// the repository layer in API responses.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Mobile       string     `json:"mobile"`
	Verified     bool       `json:"verified"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// OwnerStats aggregates a user's image library.
type OwnerStats struct {
	TotalImages     int     `json:"total_images"`
	ProcessedImages int     `json:"processed_images"`
	TotalSize       int64   `json:"total_size"`
	TotalFaces      int     `json:"total_faces"`
	AvgConfidence   float64 `json:"avg_confidence"`
}

// ListFilter narrows and pages a per-owner image listing.
type ListFilter struct {
	Processed *bool
	Page      int
	Limit     int
	SortBy    string // uploaded_at | size | processed_at
	SortOrder string // asc | desc
}

// Pagination describes the page of results returned by a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}
