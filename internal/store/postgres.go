package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			google_sub TEXT NOT NULL DEFAULT '',
			preferences JSONB NOT NULL DEFAULT '{}',
			last_login_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_google_sub ON users(google_sub)`,
		`CREATE TABLE IF NOT EXISTS password_resets (
			user_id TEXT PRIMARY KEY REFERENCES users(id),
			code TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	prefs := user.Preferences
	if prefs == "" {
		prefs = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, email, password_hash, role, google_sub, preferences, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.GoogleSub, prefs, user.CreatedAt,
	)
	return err
}

func (s *PostgresStore) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.GoogleSub, &u.Preferences, &u.LastLoginAt, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (s *PostgresStore) GetUserByGoogleSub(ctx context.Context, sub string) (*User, error) {
	if sub == "" {
		return nil, nil
	}
	return s.scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE google_sub = $1", sub))
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $1 WHERE id = $2", passwordHash, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = $1 WHERE id = $2", at, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdatePreferences(ctx context.Context, userID, preferences string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET preferences = $1 WHERE id = $2", preferences, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) SetResetCode(ctx context.Context, userID, code string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO password_resets (user_id, code, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT(user_id) DO UPDATE SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at`,
		userID, code, expiresAt)
	return err
}

func (s *PostgresStore) ConsumeResetCode(ctx context.Context, username, code string) (string, error) {
	var userID string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT r.user_id, r.expires_at FROM password_resets r
		 JOIN users u ON u.id = r.user_id WHERE u.username = $1 AND r.code = $2`,
		username, code).Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return "", errors.New("invalid reset code")
	}
	if err != nil {
		return "", err
	}
	if time.Now().After(expiresAt) {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM password_resets WHERE user_id = $1", userID)
		return "", errors.New("reset code expired")
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM password_resets WHERE user_id = $1", userID); err != nil {
		return "", err
	}
	return userID, nil
}
