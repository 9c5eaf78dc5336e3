package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joshua-takyi/platerank/internal/apperrors"
	"github.com/joshua-takyi/platerank/internal/helpers"
	"github.com/joshua-takyi/platerank/internal/models"
)

// respondError writes err in the standard error shape. Server errors are
// also attached to the context so ErrorHandler logs them.
func respondError(c *gin.Context, err error) {
	status, body := models.ErrorResponseFrom(err, c.GetBool(helpers.DebugKey))
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

// parseObjectID reads a hex ObjectID path parameter. Clients sometimes send
// quoted values, so surrounding quotes are stripped first.
func parseObjectID(c *gin.Context, param string) (primitive.ObjectID, error) {
	raw := strings.Trim(strings.TrimSpace(c.Param(param)), "\"'")
	if raw == "" {
		return primitive.NilObjectID, apperrors.InvalidInput(param + " is required")
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, apperrors.InvalidInput("invalid " + param + " format")
	}
	return id, nil
}

func parseOptionalObjectID(raw *string, field string) (*primitive.ObjectID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(*raw)
	if err != nil {
		return nil, apperrors.InvalidInput("invalid " + field + " format")
	}
	return &id, nil
}

// currentUser returns the authenticated caller set by AuthMiddleware.
func currentUser(c *gin.Context) (*helpers.EnhancedClaims, error) {
	claims, ok := helpers.ClaimsFromContext(c)
	if !ok || claims.UserID == uuid.Nil {
		return nil, apperrors.Unauthorized("authentication required")
	}
	return claims, nil
}

func bindError(err error) error {
	return apperrors.InvalidInput("invalid request payload: " + err.Error())
}
