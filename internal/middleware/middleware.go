package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"

	"github.com/joshua-takyi/platerank/internal/apperrors"
	"github.com/joshua-takyi/platerank/internal/helpers"
	"github.com/joshua-takyi/platerank/internal/models"
)

const refreshTokenMaxAge = 3600 * 24 * 30

// TokenValidator verifies an access token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenStr string) (*helpers.CustomClaims, error)
}

// ProfileService resolves the caller's profile and refreshes expired sessions.
type ProfileService interface {
	GetUser(ctx context.Context, id uuid.UUID, accessToken string) (*models.User, error)
	RefreshToken(ctx context.Context, refreshToken string) (*types.TokenResponse, error)
}

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// DebugMode marks requests so error responses carry internal details.
func DebugMode(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(helpers.DebugKey, enabled)
		c.Next()
	}
}

// StructuredLogger provides structured logging middleware
func StructuredLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		requestID, _ := c.Get("request_id")
		claims, _ := helpers.ClaimsFromContext(c)
		status := c.Writer.Status()

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		logger.Log(c.Request.Context(), level, "HTTP Request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"role", claims.GetSafeRole(),
		)
	}
}

// ErrorHandler logs errors attached with c.Error and renders a 500 if the
// handler did not write a response itself.
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()
		requestID, _ := c.Get("request_id")

		logger.Error("Request error",
			"request_id", requestID,
			"error", err.Error(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)

		if !c.Writer.Written() {
			status, body := models.ErrorResponseFrom(err.Err, c.GetBool(helpers.DebugKey))
			c.JSON(status, body)
		}
	}
}

// abortWithError renders err in the standard error shape and stops the chain.
func abortWithError(c *gin.Context, err error) {
	status, body := models.ErrorResponseFrom(err, c.GetBool(helpers.DebugKey))
	c.AbortWithStatusJSON(status, body)
}

// bearerToken reads the access token from the access_token cookie or the
// Authorization header.
func bearerToken(c *gin.Context) string {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// AuthMiddleware verifies the caller's token, refreshing it from the
// refresh_token cookie when it has expired, and stores the caller's claims
// and profile role in the context.
func AuthMiddleware(verifier TokenValidator, profiles ProfileService, secureCookies bool, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		token := bearerToken(c)
		if token == "" {
			abortWithError(c, apperrors.Unauthorized("authentication required"))
			return
		}

		claims, err := verifier.ValidateToken(ctx, token)
		if err != nil {
			refreshToken, refreshErr := c.Cookie("refresh_token")
			if refreshErr != nil || refreshToken == "" {
				abortWithError(c, apperrors.Unauthorized("invalid or expired token"))
				return
			}

			tokenRes, refreshErr := profiles.RefreshToken(ctx, refreshToken)
			if refreshErr != nil || tokenRes == nil || tokenRes.AccessToken == "" {
				logger.WarnContext(ctx, "Token refresh failed", "error", refreshErr)
				abortWithError(c, apperrors.Unauthorized("token expired and refresh failed"))
				return
			}

			logger.InfoContext(ctx, "Token refreshed successfully",
				"user_id", tokenRes.User.ID,
				"expires_in", tokenRes.ExpiresIn,
			)
			c.SetCookie("access_token", tokenRes.AccessToken, tokenRes.ExpiresIn, "/", "", secureCookies, true)
			c.SetCookie("refresh_token", tokenRes.RefreshToken, refreshTokenMaxAge, "/", "", secureCookies, true)

			token = tokenRes.AccessToken
			claims, err = verifier.ValidateToken(ctx, token)
			if err != nil {
				abortWithError(c, apperrors.Unauthorized("refreshed token validation failed"))
				return
			}
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			logger.WarnContext(ctx, "Invalid user ID in token", "user_id", claims.Subject, "error", err)
			abortWithError(c, apperrors.Unauthorized("invalid subject in token"))
			return
		}

		role := models.RoleUser
		var username string
		user, err := profiles.GetUser(ctx, userID, token)
		if err != nil {
			logger.InfoContext(ctx, "Profile not found, using default role",
				"user_id", userID,
				"error", err,
			)
		} else {
			username = user.Username
			if user.Role != "" {
				role = user.Role
			}
		}

		c.Set(helpers.UserContextKey, &helpers.EnhancedClaims{
			CustomClaims: claims,
			UserID:       userID,
			Role:         role,
			Email:        claims.Email,
			Username:     username,
		})
		c.Next()
	}
}
