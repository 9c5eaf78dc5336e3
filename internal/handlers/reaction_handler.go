package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joshua-takyi/platerank/internal/models"
	"github.com/joshua-takyi/platerank/internal/services"
)

type toggleFunc func(ctx context.Context, reviewID primitive.ObjectID, userID uuid.UUID) (*services.ReactionResult, error)

func LikeReviewHandler(rs *services.ReactionService) gin.HandlerFunc {
	return reactionHandler(rs.ToggleLike)
}

func DislikeReviewHandler(rs *services.ReactionService) gin.HandlerFunc {
	return reactionHandler(rs.ToggleDislike)
}

func reactionHandler(toggle toggleFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := currentUser(c)
		if err != nil {
			respondError(c, err)
			return
		}
		reviewID, err := parseObjectID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		res, err := toggle(c.Request.Context(), reviewID, claims.UserID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(res, ""))
	}
}
