package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joshua-takyi/platerank/internal/apperrors"
	"github.com/joshua-takyi/platerank/internal/cache"
	"github.com/joshua-takyi/platerank/internal/metrics"
	"github.com/joshua-takyi/platerank/internal/models"
)

// ReactionResult is a review after a toggle together with the caller's
// resulting reaction.
type ReactionResult struct {
	Review *models.Review       `json:"review"`
	State  models.ReactionState `json:"state"`
}

type ReactionService struct {
	reviews     models.ReviewsRepo
	cache       cache.RankingCache
	logger      *slog.Logger
	maxAttempts int
}

func NewReactionService(reviews models.ReviewsRepo, rankingCache cache.RankingCache, logger *slog.Logger, maxAttempts int) *ReactionService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if rankingCache == nil {
		rankingCache = cache.NoopRankingCache{}
	}
	return &ReactionService{
		reviews:     reviews,
		cache:       rankingCache,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

func (rs *ReactionService) ToggleLike(ctx context.Context, reviewID primitive.ObjectID, userID uuid.UUID) (*ReactionResult, error) {
	return rs.toggle(ctx, reviewID, userID, models.ReactionLike)
}

func (rs *ReactionService) ToggleDislike(ctx context.Context, reviewID primitive.ObjectID, userID uuid.UUID) (*ReactionResult, error) {
	return rs.toggle(ctx, reviewID, userID, models.ReactionDislike)
}

// toggle reads the caller's current state and applies the transition as one
// guarded update. A guard miss means the same user raced another toggle, so
// the state is re-read and the transition recomputed.
func (rs *ReactionService) toggle(ctx context.Context, reviewID primitive.ObjectID, userID uuid.UUID, kind models.ReactionKind) (*ReactionResult, error) {
	if userID == uuid.Nil {
		return nil, apperrors.Unauthorized("a signed-in user is required")
	}

	var result *ReactionResult
	op := func() error {
		review, err := rs.reviews.FindReviewByID(ctx, reviewID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to load review: %w", err))
		}
		if review == nil {
			return backoff.Permanent(apperrors.NotFound("review", reviewID.Hex()))
		}
		if review.AuthorID == userID {
			return backoff.Permanent(apperrors.SelfReactionForbidden())
		}

		from := review.ReactionOf(userID)
		to := models.NextReactionState(from, kind)
		updated, err := rs.reviews.ApplyReaction(ctx, reviewID, userID, from, to)
		if err != nil {
			if errors.Is(err, models.ErrReactionConflict) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("failed to apply reaction: %w", err))
		}
		result = &ReactionResult{Review: updated, State: to}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(rs.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, models.ErrReactionConflict) {
			return nil, apperrors.Conflict("the reaction changed concurrently, please retry", err)
		}
		return nil, err
	}

	metrics.ReactionTogglesTotal.WithLabelValues(string(kind), string(result.State)).Inc()
	invalidateRanking(ctx, rs.cache, rs.logger)
	rs.logger.InfoContext(ctx, "reaction toggled",
		slog.String("review_id", reviewID.Hex()),
		slog.String("user_id", userID.String()),
		slog.String("kind", string(kind)),
		slog.String("state", string(result.State)),
	)
	return result, nil
}
