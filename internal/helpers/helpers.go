package helpers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

type CustomClaims struct {
	Role        string `json:"role"`
	Email       string `json:"email"`
	AppMetadata struct {
		Provider  string   `json:"provider"`
		Providers []string `json:"providers"`
		Roles     []string `json:"roles,omitempty"`
	} `json:"app_metadata"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	jwt.RegisteredClaims
}

// TokenVerifier validates Supabase access tokens against the project's
// JWKS. The key set is fetched on first use and refreshed in the background.
type TokenVerifier struct {
	jwksURL         string
	allowUnverified bool

	mu      sync.Mutex
	jwks    *keyfunc.JWKS
	keyFunc jwt.Keyfunc
}

// NewTokenVerifier builds a verifier for the given Supabase project URL.
// allowUnverified falls back to unverified parsing when the key set cannot
// be fetched and must only be set in development.
func NewTokenVerifier(supabaseURL string, allowUnverified bool) *TokenVerifier {
	return &TokenVerifier{
		jwksURL:         strings.TrimRight(supabaseURL, "/") + "/auth/v1/.well-known/jwks.json",
		allowUnverified: allowUnverified,
	}
}

// NewStaticTokenVerifier verifies tokens with a fixed key function.
func NewStaticTokenVerifier(keyFunc jwt.Keyfunc) *TokenVerifier {
	return &TokenVerifier{keyFunc: keyFunc}
}

func (v *TokenVerifier) keyfunc(ctx context.Context) (jwt.Keyfunc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keyFunc != nil {
		return v.keyFunc, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	jwks, err := keyfunc.Get(v.jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	v.jwks = jwks
	v.keyFunc = jwks.Keyfunc
	return v.keyFunc, nil
}

// ValidateToken parses tokenStr and checks its signature and expiry.
func (v *TokenVerifier) ValidateToken(ctx context.Context, tokenStr string) (*CustomClaims, error) {
	keyFunc, err := v.keyfunc(ctx)
	if err != nil {
		if !v.allowUnverified {
			return nil, err
		}
		token, _, parseErr := jwt.NewParser().ParseUnverified(tokenStr, &CustomClaims{})
		if parseErr != nil {
			return nil, fmt.Errorf("JWKS validation failed and fallback parsing failed: %w", parseErr)
		}
		claims, ok := token.Claims.(*CustomClaims)
		if !ok {
			return nil, errors.New("invalid token claims")
		}
		return claims, nil
	}

	token, err := jwt.ParseWithClaims(tokenStr, &CustomClaims{}, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}
	return claims, nil
}

// Close stops the background JWKS refresh.
func (v *TokenVerifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// StringTrim strips surrounding whitespace.
func StringTrim(s string) string {
	return strings.TrimSpace(s)
}
