package routes

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/joshua-takyi/platerank/internal/container"
	"github.com/joshua-takyi/platerank/internal/handlers"
	"github.com/joshua-takyi/platerank/internal/metrics"
	"github.com/joshua-takyi/platerank/internal/middleware"
)

// SetupRoutes configures all routes with the dependency container
func SetupRoutes(container *container.Container) *gin.Engine {
	cfg := container.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
	}))

	// Add middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.DebugMode(cfg.IsDevelopment()))
	r.Use(middleware.StructuredLogger(container.Logger))
	r.Use(middleware.ErrorHandler(container.Logger))
	r.Use(middleware.Metrics())
	r.Use(gin.Recovery())

	auth := middleware.AuthMiddleware(container.TokenVerifier, container.UserService, cfg.IsProduction(), container.Logger)

	// API version 1
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthHandler("platerank-api", healthChecks(container)))
		v1.GET("/metrics", gin.WrapH(metrics.Handler()))

		v1.GET("/establishments/ranking", handlers.RankingHandler(container.RankingService))
		v1.GET("/establishments/:id/reviews", handlers.ListEstablishmentReviewsHandler(container.ReviewService))
		v1.GET("/reviews/:id", handlers.GetReviewHandler(container.ReviewService))
	}

	protected := v1.Group("/")
	protected.Use(auth)
	{
		protected.POST("/establishments/:id/reviews", handlers.CreateReviewHandler(container.ReviewService))
		protected.PATCH("/reviews/:id", handlers.UpdateReviewHandler(container.ReviewService))
		protected.DELETE("/reviews/:id", handlers.DeleteReviewHandler(container.ReviewService))
	}

	reactionRoutes := protected.Group("/reviews/:id")
	reactionRoutes.Use(container.ReactionRateLimiter.Handler())
	{
		reactionRoutes.POST("/like", handlers.LikeReviewHandler(container.ReactionService))
		reactionRoutes.POST("/dislike", handlers.DislikeReviewHandler(container.ReactionService))
	}

	return r
}

func healthChecks(container *container.Container) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"mongodb": func(ctx context.Context) error {
			return container.MongoDBClient.Ping(ctx, readpref.Primary())
		},
	}
	if container.RedisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return container.RedisClient.Ping(ctx).Err()
		}
	}
	return checks
}
