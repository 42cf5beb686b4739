// Package auth implements the account flows behind the authentication
// handlers: password login and signup, Google sign-in, token refresh, and
// password reset. A successful login mints an opaque token and a session.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecan-ai/ecan/internal/session"
	"github.com/ecan-ai/ecan/internal/store"
	"github.com/ecan-ai/ecan/internal/token"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
)

const resetCodeTTL = 15 * time.Minute

// LoginResult is what a successful authentication hands back to the client.
type LoginResult struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

// GoogleVerifier validates an external Google ID token.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleIdentity, error)
}

// Service owns the account flows.
type Service struct {
	store    store.Store
	tokens   *token.Manager
	sessions *session.Manager
	google   GoogleVerifier
	logger   *slog.Logger
}

// NewService builds the auth service. google may be nil when Google sign-in
// is not configured.
func NewService(st store.Store, tokens *token.Manager, sessions *session.Manager, google GoogleVerifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		tokens:   tokens,
		sessions: sessions,
		google:   google,
		logger:   logger.With("component", "auth"),
	}
}

// Login authenticates a username/password pair, mints a token, and creates a
// session.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.establish(ctx, user)
}

// Signup creates a new account and logs it in.
func (s *Service) Signup(ctx context.Context, username, email, password string) (*LoginResult, error) {
	existing, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         "user",
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("account created", "user_id", user.ID, "username", username)
	return s.establish(ctx, user)
}

// GoogleLogin validates a Google ID token, provisions an account on first
// sign-in, and logs the user in.
func (s *Service) GoogleLogin(ctx context.Context, idToken string) (*LoginResult, error) {
	if s.google == nil {
		return nil, errors.New("google sign-in not configured")
	}
	ident, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("verify google token: %w", err)
	}

	user, err := s.store.GetUserByGoogleSub(ctx, ident.Sub)
	if err != nil {
		return nil, fmt.Errorf("get user by google sub: %w", err)
	}
	if user == nil {
		username := ident.Email
		if username == "" {
			username = "google-" + ident.Sub
		}
		user = &store.User{
			ID:        uuid.New().String(),
			Username:  username,
			Email:     ident.Email,
			Role:      "user",
			GoogleSub: ident.Sub,
			CreatedAt: time.Now(),
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("provision google account: %w", err)
		}
		s.logger.Info("google account provisioned", "user_id", user.ID, "username", username)
	}

	return s.establish(ctx, user)
}

// Logout revokes the token and destroys the session it authenticated.
func (s *Service) Logout(ctx context.Context, tokenValue string) bool {
	info, ok := s.tokens.Validate(tokenValue)
	if !ok {
		return false
	}
	s.tokens.Revoke(tokenValue)
	for _, sid := range s.sessions.SessionsForUser(info.User) {
		s.sessions.Destroy(sid)
	}
	s.logger.Info("logged out", "user_id", info.User)
	return true
}

// Refresh extends a valid token's lifetime and returns the same value.
func (s *Service) Refresh(ctx context.Context, tokenValue string, extend time.Duration) (string, error) {
	if _, ok := s.tokens.Validate(tokenValue); !ok {
		return "", ErrInvalidCredentials
	}
	if !s.tokens.Extend(tokenValue, extend) {
		return "", ErrInvalidCredentials
	}
	return tokenValue, nil
}

// LastLogin reports when the user last authenticated.
func (s *Service) LastLogin(ctx context.Context, username string) (*time.Time, error) {
	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user.LastLoginAt, nil
}

// ForgotPassword issues a short-lived numeric reset code for the account.
// The code is returned to the caller for delivery; an unknown username
// yields no error so the endpoint does not reveal which accounts exist.
func (s *Service) ForgotPassword(ctx context.Context, username string) (string, error) {
	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return "", nil
	}

	code, err := numericCode(6)
	if err != nil {
		return "", fmt.Errorf("mint reset code: %w", err)
	}
	if err := s.store.SetResetCode(ctx, user.ID, code, time.Now().Add(resetCodeTTL)); err != nil {
		return "", fmt.Errorf("store reset code: %w", err)
	}
	s.logger.Info("password reset requested", "user_id", user.ID)
	return code, nil
}

// ConfirmForgotPassword redeems a reset code and sets the new password. All
// existing tokens and sessions for the user are revoked.
func (s *Service) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	userID, err := s.store.ConsumeResetCode(ctx, username, code)
	if err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.tokens.RevokeUser(userID)
	for _, sid := range s.sessions.SessionsForUser(userID) {
		s.sessions.Destroy(sid)
	}
	s.logger.Info("password reset completed", "user_id", userID)
	return nil
}

// UpdatePreferences stores the user's preference document.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, prefs map[string]any) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	return s.store.UpdatePreferences(ctx, userID, string(data))
}

// establish mints the token and session for an authenticated user.
func (s *Service) establish(ctx context.Context, user *store.User) (*LoginResult, error) {
	tok := s.tokens.Generate(user.ID, user.Role)
	uc := s.sessions.Create(user.ID, user.Username, tok, "")

	if err := s.store.UpdateLastLogin(ctx, user.ID, time.Now()); err != nil {
		s.logger.Warn("last login update failed", "user_id", user.ID, "error", err)
	}

	s.logger.Info("login succeeded", "user_id", user.ID, "session_id", uc.SessionID())
	return &LoginResult{
		Token:     tok,
		SessionID: uc.SessionID(),
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
	}, nil
}

// numericCode mints an n-digit decimal code from crypto/rand.
func numericCode(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
