package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/gotrue-go/types"

	"github.com/joshua-takyi/platerank/internal/apperrors"
	"github.com/joshua-takyi/platerank/internal/helpers"
	"github.com/joshua-takyi/platerank/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) ValidateToken(ctx context.Context, tokenStr string) (*helpers.CustomClaims, error) {
	args := m.Called(ctx, tokenStr)
	claims, _ := args.Get(0).(*helpers.CustomClaims)
	return claims, args.Error(1)
}

type mockProfiles struct {
	mock.Mock
}

func (m *mockProfiles) GetUser(ctx context.Context, id uuid.UUID, accessToken string) (*models.User, error) {
	args := m.Called(ctx, id, accessToken)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockProfiles) RefreshToken(ctx context.Context, refreshToken string) (*types.TokenResponse, error) {
	args := m.Called(ctx, refreshToken)
	res, _ := args.Get(0).(*types.TokenResponse)
	return res, args.Error(1)
}

func claimsFor(id uuid.UUID) *helpers.CustomClaims {
	c := &helpers.CustomClaims{Email: "diner@example.com"}
	c.Subject = id.String()
	return c
}

func authRouter(v TokenValidator, p ProfileService) (*gin.Engine, *helpers.EnhancedClaims) {
	captured := &helpers.EnhancedClaims{}
	r := gin.New()
	r.GET("/me", AuthMiddleware(v, p, false, newTestLogger()), func(c *gin.Context) {
		claims, _ := helpers.ClaimsFromContext(c)
		*captured = *claims
		c.Status(http.StatusOK)
	})
	return r, captured
}

func decodeError(t *testing.T, body []byte) models.ApiError {
	t.Helper()
	var res models.ApiResponse
	require.NoError(t, json.Unmarshal(body, &res))
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	return *res.Error
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	userID := uuid.New()
	v, p := new(mockVerifier), new(mockProfiles)
	v.On("ValidateToken", mock.Anything, "good").Return(claimsFor(userID), nil)
	p.On("GetUser", mock.Anything, userID, "good").Return(&models.User{ID: userID, Role: "admin", Username: "chef"}, nil)
	r, captured := authRouter(v, p)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, userID, captured.UserID)
	assert.True(t, captured.IsAdmin())
	assert.Equal(t, "chef", captured.Username)
}

func TestAuthMiddleware_CookieAndMissingProfile(t *testing.T) {
	userID := uuid.New()
	v, p := new(mockVerifier), new(mockProfiles)
	v.On("ValidateToken", mock.Anything, "cookie-token").Return(claimsFor(userID), nil)
	p.On("GetUser", mock.Anything, userID, "cookie-token").Return(nil, errors.New("user not found"))
	r, captured := authRouter(v, p)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.RoleUser, captured.Role)
	assert.False(t, captured.IsAdmin())
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	r, _ := authRouter(new(mockVerifier), new(mockProfiles))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rr.Body.Bytes()).Code)
}

func TestAuthMiddleware_RefreshesExpiredToken(t *testing.T) {
	userID := uuid.New()
	v, p := new(mockVerifier), new(mockProfiles)
	v.On("ValidateToken", mock.Anything, "expired").Return(nil, errors.New("token is expired"))
	v.On("ValidateToken", mock.Anything, "fresh").Return(claimsFor(userID), nil)

	refreshed := &types.TokenResponse{}
	refreshed.AccessToken = "fresh"
	refreshed.RefreshToken = "next-refresh"
	refreshed.ExpiresIn = 3600
	p.On("RefreshToken", mock.Anything, "refresh-me").Return(refreshed, nil)
	p.On("GetUser", mock.Anything, userID, "fresh").Return(&models.User{ID: userID, Role: "user"}, nil)
	r, captured := authRouter(v, p)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "expired"})
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-me"})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, userID, captured.UserID)

	cookies := map[string]string{}
	for _, c := range rr.Result().Cookies() {
		cookies[c.Name] = c.Value
	}
	assert.Equal(t, "fresh", cookies["access_token"])
	assert.Equal(t, "next-refresh", cookies["refresh_token"])
}

func TestAuthMiddleware_InvalidTokenWithoutRefresh(t *testing.T) {
	v := new(mockVerifier)
	v.On("ValidateToken", mock.Anything, "bad").Return(nil, errors.New("signature invalid"))
	r, _ := authRouter(v, new(mockProfiles))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthMiddleware_NonUUIDSubject(t *testing.T) {
	v := new(mockVerifier)
	claims := &helpers.CustomClaims{}
	claims.Subject = "not-a-uuid"
	v.On("ValidateToken", mock.Anything, "odd").Return(claims, nil)
	r, _ := authRouter(v, new(mockProfiles))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer odd")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestStructuredLogger_LogsCallerRole(t *testing.T) {
	tests := []struct {
		name     string
		claims   *helpers.EnhancedClaims
		wantRole string
	}{
		{"anonymous", nil, "guest"},
		{"signed in", &helpers.EnhancedClaims{UserID: uuid.New(), Role: "admin"}, "admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := gin.New()
			r.Use(StructuredLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
			r.GET("/", func(c *gin.Context) {
				if tt.claims != nil {
					c.Set(helpers.UserContextKey, tt.claims)
				}
				c.Status(http.StatusOK)
			})

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantRole, entry["role"])
			assert.EqualValues(t, http.StatusOK, entry["status"])
		})
	}
}

func TestErrorHandler_RendersUnwrittenErrors(t *testing.T) {
	tests := []struct {
		name        string
		debug       bool
		wantDetails bool
	}{
		{"production hides details", false, false},
		{"development shows details", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(DebugMode(tt.debug), ErrorHandler(newTestLogger()))
			r.GET("/", func(c *gin.Context) {
				_ = c.Error(errors.New("mongo: connection reset"))
			})

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, http.StatusInternalServerError, rr.Code)
			apiErr := decodeError(t, rr.Body.Bytes())
			assert.Equal(t, "INTERNAL_ERROR", apiErr.Code)
			if tt.wantDetails {
				assert.Contains(t, apiErr.Details, "connection reset")
			} else {
				assert.Empty(t, apiErr.Details)
			}
		})
	}
}

func TestErrorHandler_KeepsWrittenResponse(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(newTestLogger()))
	r.GET("/", func(c *gin.Context) {
		_ = c.Error(apperrors.Conflict("try again", errors.New("write conflict")))
		c.JSON(http.StatusConflict, gin.H{"success": false})
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.JSONEq(t, `{"success":false}`, rr.Body.String())
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := gin.New()
	r.Use(Metrics())
	r.GET("/reviews/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reviews/abc", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
}
