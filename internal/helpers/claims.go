package helpers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// UserContextKey is the gin context key AuthMiddleware stores claims under.
	UserContextKey = "user"
	// DebugKey enables error details in responses.
	DebugKey = "debug"
)

// EnhancedClaims are the verified token claims merged with the caller's
// profile role.
type EnhancedClaims struct {
	*CustomClaims
	UserID   uuid.UUID `json:"id"`
	Role     string    `json:"role"`
	Email    string    `json:"email,omitempty"`
	Username string    `json:"username,omitempty"`
}

func (ec *EnhancedClaims) IsAdmin() bool {
	return ec != nil && ec.Role == "admin"
}

func (ec *EnhancedClaims) IsOwner(userID uuid.UUID) bool {
	return ec != nil && ec.UserID == userID
}

// CanModify reports whether the caller may edit or delete a resource owned by ownerID.
func (ec *EnhancedClaims) CanModify(ownerID uuid.UUID) bool {
	return ec.IsOwner(ownerID) || ec.IsAdmin()
}

func (ec *EnhancedClaims) GetSafeRole() string {
	if ec == nil || ec.Role == "" {
		return "guest"
	}
	return ec.Role
}

// ClaimsFromContext returns the claims set by AuthMiddleware, if any.
func ClaimsFromContext(c *gin.Context) (*EnhancedClaims, bool) {
	raw, exists := c.Get(UserContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := raw.(*EnhancedClaims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}
