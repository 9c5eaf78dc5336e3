package container

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/supabase-community/supabase-go"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/joshua-takyi/platerank/internal/cache"
	"github.com/joshua-takyi/platerank/internal/config"
	"github.com/joshua-takyi/platerank/internal/helpers"
	"github.com/joshua-takyi/platerank/internal/middleware"
	"github.com/joshua-takyi/platerank/internal/models"
	"github.com/joshua-takyi/platerank/internal/services"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *slog.Logger
	// Database clients
	SupabaseClient *supabase.Client
	MongoDBClient  *mongo.Client
	RedisClient    *redis.Client

	TokenVerifier       *helpers.TokenVerifier
	ReactionRateLimiter *middleware.RateLimiter

	UserService     *services.UserService
	ReviewService   *services.ReviewService
	ReactionService *services.ReactionService
	RankingService  *services.RankingService
}

// NewContainer creates a new dependency injection container. redisClient may
// be nil, in which case ranking pages are not cached.
func NewContainer(
	cfg *config.Config,
	logger *slog.Logger,
	supabaseClient *supabase.Client,
	mongoDBClient *mongo.Client,
	redisClient *redis.Client,
) *Container {
	// Initialize repositories
	supa := models.SupabaseNewRepo(supabaseClient, cfg.SupabaseURL, cfg.SupabaseAnonKey)
	mongo := models.MongodbNewRepo(mongoDBClient, cfg.MongoDBDatabase)

	var rankingCache cache.RankingCache = cache.NoopRankingCache{}
	if redisClient != nil {
		rankingCache = cache.NewRedisRankingCache(redisClient, cfg.RankingCacheTTL)
	}

	runner := services.NewTxRunner(mongo, services.TxOptions{
		MaxAttempts:    cfg.TxMaxAttempts,
		Timeout:        cfg.TxTimeout,
		InitialBackoff: cfg.TxRetryBackoff,
	}, logger)

	return &Container{
		Config:              cfg,
		Logger:              logger,
		SupabaseClient:      supabaseClient,
		MongoDBClient:       mongoDBClient,
		RedisClient:         redisClient,
		TokenVerifier:       helpers.NewTokenVerifier(cfg.SupabaseURL, cfg.IsDevelopment()),
		ReactionRateLimiter: middleware.NewRateLimiter(cfg.ReactionRateLimitRPS, cfg.ReactionRateLimitBurst, logger),
		UserService:         services.NewUserService(supa),
		ReviewService:       services.NewReviewService(mongo, mongo, runner, rankingCache, logger, time.Now),
		ReactionService:     services.NewReactionService(mongo, rankingCache, logger, cfg.TxMaxAttempts),
		RankingService:      services.NewRankingService(mongo, mongo, rankingCache, logger, time.Now),
	}
}

// Close releases background resources owned by the container.
func (c *Container) Close() {
	c.ReactionRateLimiter.Close()
	c.TokenVerifier.Close()
}
