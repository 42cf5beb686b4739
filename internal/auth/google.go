package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// GoogleIdentity is the subset of Google ID token claims the service needs.
type GoogleIdentity struct {
	Sub   string
	Email string
	Name  string
}

// GoogleProvider validates Google-issued ID tokens using JWKS.
type GoogleProvider struct {
	issuer string
	jwks   keyfunc.Keyfunc
}

// NewGoogleProvider creates a GoogleProvider that fetches keys from jwksURL.
// issuer is matched against the token's iss claim.
func NewGoogleProvider(jwksURL, issuer string) (*GoogleProvider, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("google JWKS URL is required")
	}
	if issuer == "" {
		issuer = "https://accounts.google.com"
	}

	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &GoogleProvider{issuer: issuer, jwks: jwks}, nil
}

// Verify parses a Google ID token and returns the identity claims.
func (g *GoogleProvider) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	token, err := jwt.Parse(idToken, g.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(g.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("google token has no subject")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return &GoogleIdentity{Sub: sub, Email: email, Name: name}, nil
}
