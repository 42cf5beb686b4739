package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/ecan-ai/ecan/internal/auth"
	"github.com/ecan-ai/ecan/pkg/protocol"
)

type authHandlers struct {
	deps Deps
}

func (h *authHandlers) login(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := req.DecodeParams(&params); err != nil || params.Username == "" || params.Password == "" {
		return protocol.NewError(req, protocol.CodeInvalidRequest, "username and password are required", nil)
	}

	res, err := h.deps.Auth.Login(ctx, params.Username, params.Password)
	if err != nil {
		return authError(req, err)
	}
	return protocol.NewSuccess(req, loginResult(res), nil)
}

func (h *authHandlers) signup(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := req.DecodeParams(&params); err != nil || params.Username == "" || params.Password == "" {
		return protocol.NewError(req, protocol.CodeInvalidRequest, "username and password are required", nil)
	}

	res, err := h.deps.Auth.Signup(ctx, params.Username, params.Email, params.Password)
	if err != nil {
		return authError(req, err)
	}
	return protocol.NewSuccess(req, loginResult(res), nil)
}

func (h *authHandlers) logout(ctx context.Context, req *protocol.Request) *protocol.Response {
	tok := req.TokenValue()
	if tok == "" {
		return protocol.NewError(req, protocol.CodeInvalidRequest, "token is required", nil)
	}
	if !h.deps.Auth.Logout(ctx, tok) {
		return protocol.NewSuccess(req, map[string]any{"message": "Already logged out"}, nil)
	}
	return protocol.NewSuccess(req, map[string]any{"message": "Logged out"}, nil)
}

func (h *authHandlers) refreshToken(ctx context.Context, req *protocol.Request) *protocol.Response {
	tok := req.TokenValue()
	if tok == "" {
		return protocol.NewError(req, protocol.CodeInvalidRequest, "token is required", nil)
	}
	refreshed, err := h.deps.Auth.Refresh(ctx, tok, h.deps.TokenTTL)
	if err != nil {
		return protocol.NewError(req, protocol.CodeInvalidToken, "Token is invalid or expired", nil)
	}
	return protocol.NewSuccess(req, map[string]any{"token": refreshed}, nil)
}

func (h *authHandlers) googleLogin(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		IDToken string `json:"id_token"`
	}
	if err := req.DecodeParams(&params); err != nil || params.IDToken == "" {
		return protocol.NewError(req, protocol.CodeInvalidRequest, "id_token is required", nil)
	}

	res, err := h.deps.Auth.GoogleLogin(ctx, params.IDToken)
	if err != nil {
		return authError(req, err)
	}
	return protocol.NewSuccess(req, loginResult(res), nil)
}

func (h *authHandlers) lastLogin(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		Username string `json:"username"`
	}
	if err := req.DecodeParams(&params); err != nil || params.Username == "" {
		return protocol.NewError(req, protocol.CodeInvalidRequest, "username is required", nil)
	}

	last, err := h.deps.Auth.LastLogin(ctx, params.Username)
	if err != nil {
		return authError(req, err)
	}
	result := map[string]any{"last_login": nil}
	if last != nil {
		result["last_login"] = last.Format(time.RFC3339)
	}
	return protocol.NewSuccess(req, result, nil)
}

func (h *authHandlers) forgotPassword(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		Username string `json:"username"`
	}
	if err := req.DecodeParams(&params); err != nil || params.Username == "" {
		return protocol.NewError(req, protocol.CodeInvalidRequest, "username is required", nil)
	}

	if _, err := h.deps.Auth.ForgotPassword(ctx, params.Username); err != nil {
		return authError(req, err)
	}
	// Same message whether or not the account exists.
	return protocol.NewSuccess(req, map[string]any{
		"message": "If the account exists, a reset code has been sent",
	}, nil)
}

func (h *authHandlers) confirmForgotPassword(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		Username    string `json:"username"`
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	if err := req.DecodeParams(&params); err != nil ||
		params.Username == "" || params.Code == "" || params.NewPassword == "" {
		return protocol.NewError(req, protocol.CodeInvalidRequest, "username, code, and new_password are required", nil)
	}

	if err := h.deps.Auth.ConfirmForgotPassword(ctx, params.Username, params.Code, params.NewPassword); err != nil {
		return authError(req, err)
	}
	return protocol.NewSuccess(req, map[string]any{"message": "Password updated"}, nil)
}

func (h *authHandlers) updatePreferences(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		Preferences map[string]any `json:"preferences"`
	}
	if err := req.DecodeParams(&params); err != nil || params.Preferences == nil {
		return protocol.NewError(req, protocol.CodeInvalidRequest, "preferences object is required", nil)
	}

	p, err := h.deps.Resolver.HandlerContext(ctx, req)
	if err != nil || p.UserID() == "" {
		return protocol.NewError(req, protocol.CodeHandlerError, "No authenticated user for this request", nil)
	}

	if err := h.deps.Auth.UpdatePreferences(ctx, p.UserID(), params.Preferences); err != nil {
		return protocol.NewError(req, protocol.CodeHandlerError, err.Error(), nil)
	}
	return protocol.NewSuccess(req, map[string]any{"message": "Preferences updated"}, nil)
}

func loginResult(res *auth.LoginResult) map[string]any {
	return map[string]any{
		"token":      res.Token,
		"session_id": res.SessionID,
		"user_id":    res.UserID,
		"username":   res.Username,
		"role":       res.Role,
		"message":    "Login successful",
	}
}

// authError maps service errors onto envelope codes. Credential problems get
// HANDLER_ERROR with a stable message; everything else carries the error text.
func authError(req *protocol.Request, err error) *protocol.Response {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return protocol.NewError(req, protocol.CodeHandlerError, "Invalid credentials", nil)
	case errors.Is(err, auth.ErrUserExists):
		return protocol.NewError(req, protocol.CodeHandlerError, "User already exists", nil)
	case errors.Is(err, auth.ErrUserNotFound):
		return protocol.NewError(req, protocol.CodeHandlerError, "User not found", nil)
	default:
		return protocol.NewError(req, protocol.CodeHandlerError, err.Error(), nil)
	}
}
