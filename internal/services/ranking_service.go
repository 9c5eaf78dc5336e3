package services

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joshua-takyi/platerank/internal/cache"
	"github.com/joshua-takyi/platerank/internal/metrics"
	"github.com/joshua-takyi/platerank/internal/models"
)

// Score weights. The weighted sum lies in [0,1] and is rescaled to 0-5.
const (
	ratingWeight     = 0.6
	likesWeight      = 0.3
	recencyWeight    = 0.1
	recencyDecayDays = 90.0
	scoreScale       = 5.0
)

type ScoreBreakdown struct {
	RatingComponent  float64 `json:"rating_component"`
	LikesComponent   float64 `json:"likes_component"`
	RecencyComponent float64 `json:"recency_component"`
}

type RankedEstablishment struct {
	ID             primitive.ObjectID `json:"id"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	CategoryID     primitive.ObjectID `json:"category_id"`
	CategoryName   string             `json:"category_name,omitempty"`
	ImageURL       string             `json:"image_url,omitempty"`
	MeanRating     float64            `json:"mean_rating"`
	ReviewCount    int                `json:"review_count"`
	TotalLikes     int                `json:"total_likes"`
	TotalDislikes  int                `json:"total_dislikes"`
	LatestReviewAt *time.Time         `json:"latest_review_at,omitempty"`
	Score          float64            `json:"score"`
	Breakdown      ScoreBreakdown     `json:"breakdown"`
}

type RankingPage struct {
	Ranking    []RankedEstablishment `json:"ranking"`
	Pagination models.Pagination     `json:"pagination"`
}

type RankingQuery struct {
	Page       int
	Limit      int
	CategoryID *primitive.ObjectID
}

// ScoreEstablishment computes the ranking score of an establishment from its
// mean rating and review stats. A nil stats contributes nothing for likes
// and recency.
func ScoreEstablishment(meanRating float64, stats *models.ReviewStats, now time.Time) (float64, ScoreBreakdown) {
	rating := (meanRating / models.MaxRating) * ratingWeight

	var likes, recency float64
	if stats != nil && stats.ReviewCount > 0 {
		net := float64(stats.TotalLikes - stats.TotalDislikes)
		denom := math.Max(float64(stats.TotalLikes+stats.TotalDislikes), 1)
		likes = ((net/denom + 1) / 2) * likesWeight

		// future timestamps count as brand new
		days := math.Max(now.Sub(stats.LatestReviewAt).Hours()/24, 0)
		recency = math.Exp(-days/recencyDecayDays) * recencyWeight
	}

	score := models.Round2((rating + likes + recency) * scoreScale)
	return score, ScoreBreakdown{
		RatingComponent:  models.Round2(rating * scoreScale),
		LikesComponent:   models.Round2(likes * scoreScale),
		RecencyComponent: models.Round2(recency * scoreScale),
	}
}

type RankingService struct {
	establishments models.EstablishmentsRepo
	reviews        models.ReviewsRepo
	cache          cache.RankingCache
	logger         *slog.Logger
	now            func() time.Time
}

func NewRankingService(establishments models.EstablishmentsRepo, reviews models.ReviewsRepo, rankingCache cache.RankingCache, logger *slog.Logger, now func() time.Time) *RankingService {
	if now == nil {
		now = time.Now
	}
	if rankingCache == nil {
		rankingCache = cache.NoopRankingCache{}
	}
	return &RankingService{
		establishments: establishments,
		reviews:        reviews,
		cache:          rankingCache,
		logger:         logger,
		now:            now,
	}
}

// GetRanking scores every eligible establishment, orders them by score
// (then mean rating, then ID) and returns the requested page.
func (rs *RankingService) GetRanking(ctx context.Context, q RankingQuery) (*RankingPage, error) {
	page, limit, err := normalizePage(q.Page, q.Limit)
	if err != nil {
		return nil, err
	}

	key := cache.RankingKey{Page: page, Limit: limit}
	if q.CategoryID != nil {
		key.CategoryID = q.CategoryID.Hex()
	}

	gen, cacheable := rs.cacheGeneration(ctx)
	if cacheable {
		if cached, ok := rs.cached(ctx, gen, key); ok {
			return cached, nil
		}
	}

	ranked, err := rs.rankAll(ctx, q.CategoryID)
	if err != nil {
		return nil, err
	}

	total := len(ranked)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)
	result := &RankingPage{
		Ranking:    ranked[start:end],
		Pagination: models.NewPagination(page, limit, total),
	}

	if cacheable {
		rs.store(ctx, gen, key, result)
	}
	return result, nil
}

func (rs *RankingService) rankAll(ctx context.Context, categoryID *primitive.ObjectID) ([]RankedEstablishment, error) {
	candidates, err := rs.establishments.ListRankingCandidates(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranking candidates: %w", err)
	}

	ids := make([]primitive.ObjectID, len(candidates))
	categoryIDs := make([]primitive.ObjectID, 0, len(candidates))
	for i, est := range candidates {
		ids[i] = est.ID
		if !est.CategoryID.IsZero() && !slices.Contains(categoryIDs, est.CategoryID) {
			categoryIDs = append(categoryIDs, est.CategoryID)
		}
	}
	stats, err := rs.reviews.ReviewStatsByEstablishment(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load review stats: %w", err)
	}
	categoryNames, err := rs.establishments.CategoryNames(ctx, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load category names: %w", err)
	}

	now := rs.now()
	ranked := make([]RankedEstablishment, 0, len(candidates))
	for _, est := range candidates {
		entry := RankedEstablishment{
			ID:           est.ID,
			Name:         est.Name,
			Description:  est.Description,
			CategoryID:   est.CategoryID,
			CategoryName: categoryNames[est.CategoryID],
			ImageURL:     est.ImageURL,
			MeanRating:   est.MeanRating,
			ReviewCount:  est.ReviewCount,
		}

		var st *models.ReviewStats
		if s, ok := stats[est.ID]; ok {
			st = &s
			entry.TotalLikes = s.TotalLikes
			entry.TotalDislikes = s.TotalDislikes
			latest := s.LatestReviewAt
			entry.LatestReviewAt = &latest
		}
		entry.Score, entry.Breakdown = ScoreEstablishment(est.MeanRating, st, now)
		ranked = append(ranked, entry)
	}

	slices.SortFunc(ranked, compareRanked)
	return ranked, nil
}

// compareRanked orders by score descending, then mean rating descending,
// then ID ascending.
func compareRanked(a, b RankedEstablishment) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.MeanRating, a.MeanRating); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.Hex(), b.ID.Hex())
}

func (rs *RankingService) cacheGeneration(ctx context.Context) (int64, bool) {
	gen, err := rs.cache.Generation(ctx)
	if err != nil {
		metrics.RankingCacheTotal.WithLabelValues("error").Inc()
		rs.logger.WarnContext(ctx, "ranking cache unavailable", slog.String("error", err.Error()))
		return 0, false
	}
	return gen, true
}

func (rs *RankingService) cached(ctx context.Context, gen int64, key cache.RankingKey) (*RankingPage, bool) {
	data, hit, err := rs.cache.Get(ctx, gen, key)
	if err != nil {
		metrics.RankingCacheTotal.WithLabelValues("error").Inc()
		rs.logger.WarnContext(ctx, "ranking cache read failed", slog.String("error", err.Error()))
		return nil, false
	}
	if !hit {
		metrics.RankingCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	var page RankingPage
	if err := json.Unmarshal(data, &page); err != nil {
		metrics.RankingCacheTotal.WithLabelValues("error").Inc()
		rs.logger.WarnContext(ctx, "ranking cache entry unreadable", slog.String("error", err.Error()))
		return nil, false
	}
	metrics.RankingCacheTotal.WithLabelValues("hit").Inc()
	return &page, true
}

func (rs *RankingService) store(ctx context.Context, gen int64, key cache.RankingKey, page *RankingPage) {
	data, err := json.Marshal(page)
	if err != nil {
		rs.logger.WarnContext(ctx, "failed to encode ranking page", slog.String("error", err.Error()))
		return
	}
	if err := rs.cache.Set(ctx, gen, key, data); err != nil {
		metrics.RankingCacheTotal.WithLabelValues("error").Inc()
		rs.logger.WarnContext(ctx, "ranking cache write failed", slog.String("error", err.Error()))
	}
}
