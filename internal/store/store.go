// Package store defines the user persistence interface and provides SQLite
// and PostgreSQL implementations.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface for user accounts.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByGoogleSub(ctx context.Context, sub string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdatePreferences(ctx context.Context, userID, preferences string) error

	// Password reset
	SetResetCode(ctx context.Context, userID, code string, expiresAt time.Time) error
	ConsumeResetCode(ctx context.Context, username, code string) (string, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User is a stored account.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"` // "admin" or "user"
	GoogleSub    string     `json:"-"`    // Google subject claim, empty for password accounts
	Preferences  string     `json:"preferences,omitempty"` // JSON-encoded user preferences
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
