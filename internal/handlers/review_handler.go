package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joshua-takyi/platerank/internal/apperrors"
	"github.com/joshua-takyi/platerank/internal/models"
	"github.com/joshua-takyi/platerank/internal/services"
)

type createReviewRequest struct {
	Rating     int     `json:"rating" binding:"required,min=1,max=5"`
	Comment    string  `json:"comment" binding:"max=1000"`
	MenuItemID *string `json:"menu_item_id"`
}

type updateReviewRequest struct {
	Rating     *int    `json:"rating" binding:"omitempty,min=1,max=5"`
	Comment    *string `json:"comment" binding:"omitempty,max=1000"`
	MenuItemID *string `json:"menu_item_id"`
}

type listReviewsRequest struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=100"`
	SortBy    string `form:"sort_by" binding:"omitempty,oneof=created_at rating likes_count"`
	SortOrder string `form:"sort_order" binding:"omitempty,oneof=asc desc"`
}

func CreateReviewHandler(rs *services.ReviewService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := currentUser(c)
		if err != nil {
			respondError(c, err)
			return
		}
		establishmentID, err := parseObjectID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var req createReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
		menuItemID, err := parseOptionalObjectID(req.MenuItemID, "menu_item_id")
		if err != nil {
			respondError(c, err)
			return
		}

		review, err := rs.Create(c.Request.Context(), claims.UserID, establishmentID, services.CreateReviewInput{
			Rating:     req.Rating,
			Comment:    req.Comment,
			MenuItemID: menuItemID,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, models.SuccessResponse(review, "Review created successfully"))
	}
}

func GetReviewHandler(rs *services.ReviewService) gin.HandlerFunc {
	return func(c *gin.Context) {
		reviewID, err := parseObjectID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		review, err := rs.Get(c.Request.Context(), reviewID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(review, ""))
	}
}

func ListEstablishmentReviewsHandler(rs *services.ReviewService) gin.HandlerFunc {
	return func(c *gin.Context) {
		establishmentID, err := parseObjectID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var req listReviewsRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			respondError(c, apperrors.InvalidInput("invalid query parameters: "+err.Error()))
			return
		}

		page, err := rs.ListByEstablishment(c.Request.Context(), establishmentID, services.ListReviewsQuery{
			Page:      req.Page,
			Limit:     req.Limit,
			SortBy:    req.SortBy,
			SortOrder: req.SortOrder,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(page, ""))
	}
}

func UpdateReviewHandler(rs *services.ReviewService) gin.HandlerFunc {
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

		var req updateReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
		menuItemID, err := parseOptionalObjectID(req.MenuItemID, "menu_item_id")
		if err != nil {
			respondError(c, err)
			return
		}

		review, err := rs.Update(c.Request.Context(), reviewID, claims.UserID, models.ReviewPatch{
			Rating:     req.Rating,
			Comment:    req.Comment,
			MenuItemID: menuItemID,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(review, "Review updated successfully"))
	}
}

func DeleteReviewHandler(rs *services.ReviewService) gin.HandlerFunc {
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

		if err := rs.Delete(c.Request.Context(), reviewID, claims); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(nil, "Review deleted successfully"))
	}
}
