package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joshua-takyi/platerank/internal/apperrors"
	"github.com/joshua-takyi/platerank/internal/models"
	"github.com/joshua-takyi/platerank/internal/services"
)

type rankingRequest struct {
	Page       int     `form:"page" binding:"omitempty,min=1"`
	Limit      int     `form:"limit" binding:"omitempty,min=1,max=100"`
	CategoryID *string `form:"category_id"`
}

func RankingHandler(rs *services.RankingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rankingRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			respondError(c, apperrors.InvalidInput("invalid query parameters: "+err.Error()))
			return
		}
		categoryID, err := parseOptionalObjectID(req.CategoryID, "category_id")
		if err != nil {
			respondError(c, err)
			return
		}

		page, err := rs.GetRanking(c.Request.Context(), services.RankingQuery{
			Page:       req.Page,
			Limit:      req.Limit,
			CategoryID: categoryID,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(page, ""))
	}
}

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports OK when every check passes and 503 otherwise.
func HealthHandler(service string, checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		overall := "OK"
		if status != http.StatusOK {
			overall = "DEGRADED"
		}
		c.JSON(status, gin.H{
			"status":  overall,
			"service": service,
			"checks":  results,
		})
	}
}
