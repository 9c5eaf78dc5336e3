package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joshua-takyi/platerank/internal/apperrors"
	"github.com/joshua-takyi/platerank/internal/cache"
	"github.com/joshua-takyi/platerank/internal/helpers"
	"github.com/joshua-takyi/platerank/internal/models"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

type CreateReviewInput struct {
	Rating     int
	Comment    string
	MenuItemID *primitive.ObjectID
}

type ListReviewsQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

type ReviewPage struct {
	Reviews    []*models.Review  `json:"reviews"`
	Pagination models.Pagination `json:"pagination"`
}

type ReviewService struct {
	reviews        models.ReviewsRepo
	establishments models.EstablishmentsRepo
	runner         *TxRunner
	updater        *AggregateUpdater
	cache          cache.RankingCache
	logger         *slog.Logger
	now            func() time.Time
}

func NewReviewService(
	reviews models.ReviewsRepo,
	establishments models.EstablishmentsRepo,
	runner *TxRunner,
	rankingCache cache.RankingCache,
	logger *slog.Logger,
	now func() time.Time,
) *ReviewService {
	if now == nil {
		now = time.Now
	}
	if rankingCache == nil {
		rankingCache = cache.NoopRankingCache{}
	}
	return &ReviewService{
		reviews:        reviews,
		establishments: establishments,
		runner:         runner,
		updater:        NewAggregateUpdater(establishments, reviews, now),
		cache:          rankingCache,
		logger:         logger,
		now:            now,
	}
}

// Create stores a new review and folds its rating into the establishment
// aggregate in one transaction.
func (rs *ReviewService) Create(ctx context.Context, authorID uuid.UUID, establishmentID primitive.ObjectID, input CreateReviewInput) (*models.Review, error) {
	if authorID == uuid.Nil {
		return nil, apperrors.Unauthorized("a signed-in user is required")
	}
	review := models.NewReview(authorID, establishmentID, input.Rating, input.Comment, input.MenuItemID, rs.now())
	review.Sanitize()
	if err := review.ValidateReview(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	est, err := rs.establishments.GetEstablishment(ctx, establishmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load establishment: %w", err)
	}
	if est == nil {
		return nil, apperrors.EstablishmentNotFound(establishmentID.Hex())
	}
	if !est.IsApproved {
		return nil, apperrors.EstablishmentNotApproved(establishmentID.Hex())
	}

	if input.MenuItemID != nil {
		if err := rs.checkMenuItem(ctx, *input.MenuItemID, establishmentID); err != nil {
			return nil, err
		}
	}

	existing, err := rs.reviews.FindReviewByAuthor(ctx, authorID, establishmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing review: %w", err)
	}
	if existing != nil {
		return nil, apperrors.DuplicateReview()
	}

	if err := review.BeforeCreate(); err != nil {
		return nil, fmt.Errorf("failed to prepare review: %w", err)
	}

	var agg models.Aggregate
	err = rs.runner.RunChecked(ctx, "create_review", func(ctx context.Context) error {
		var txErr error
		agg, txErr = rs.updater.Within(ctx, establishmentID, func(ctx context.Context) error {
			if err := rs.reviews.InsertReview(ctx, review.Clone()); err != nil {
				if errors.Is(err, models.ErrDuplicateReview) {
					return apperrors.DuplicateReview()
				}
				return fmt.Errorf("failed to insert review: %w", err)
			}
			return nil
		})
		return txErr
	}, func(ctx context.Context) (bool, error) {
		stored, err := rs.reviews.FindReviewByID(ctx, review.ID)
		return stored != nil, err
	})
	if err != nil {
		return nil, err
	}

	rs.invalidateRanking(ctx)
	rs.logger.InfoContext(ctx, "review created",
		slog.String("review_id", review.ID.Hex()),
		slog.String("establishment_id", establishmentID.Hex()),
		slog.String("author_id", authorID.String()),
		slog.Int("rating", review.Rating),
		slog.Float64("mean_rating", agg.MeanRating),
		slog.Int("review_count", agg.ReviewCount),
	)
	return review, nil
}

// Update applies an author's patch. Only a rating change touches the
// establishment aggregate.
func (rs *ReviewService) Update(ctx context.Context, reviewID primitive.ObjectID, authorID uuid.UUID, patch models.ReviewPatch) (*models.Review, error) {
	patch.Sanitize()
	if patch.Rating != nil {
		if err := models.ValidateRating(*patch.Rating); err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
	}
	if patch.Comment != nil {
		if err := models.ValidateComment(*patch.Comment); err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
	}

	review, err := rs.reviews.FindReviewByID(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to load review: %w", err)
	}
	if review == nil {
		return nil, apperrors.NotFound("review", reviewID.Hex())
	}
	if review.AuthorID != authorID {
		return nil, apperrors.Forbidden("only the author can edit this review")
	}
	if patch.MenuItemID != nil {
		if err := rs.checkMenuItem(ctx, *patch.MenuItemID, review.EstablishmentID); err != nil {
			return nil, err
		}
	}
	// A rating equal to the one just read is dropped from the patch: the
	// plain update below runs outside the aggregate transaction and must not
	// write the rating back over a concurrent change.
	if patch.Rating != nil && *patch.Rating == review.Rating {
		patch.Rating = nil
	}
	if patch.IsEmpty() {
		return review, nil
	}

	if patch.Rating == nil {
		updated, err := rs.reviews.UpdateReviewFields(ctx, reviewID, patch, rs.now())
		if err != nil {
			if errors.Is(err, models.ErrNoDocument) {
				return nil, apperrors.NotFound("review", reviewID.Hex())
			}
			return nil, fmt.Errorf("failed to update review: %w", err)
		}
		rs.logger.InfoContext(ctx, "review updated",
			slog.String("review_id", reviewID.Hex()),
			slog.Bool("rating_changed", false),
		)
		return updated, nil
	}

	var (
		updated *models.Review
		agg     models.Aggregate
	)
	err = rs.runner.RunChecked(ctx, "update_review", func(ctx context.Context) error {
		var txErr error
		agg, txErr = rs.updater.Within(ctx, review.EstablishmentID, func(ctx context.Context) error {
			var err error
			updated, err = rs.reviews.UpdateReviewFields(ctx, reviewID, patch, rs.now())
			if err != nil {
				if errors.Is(err, models.ErrNoDocument) {
					return apperrors.NotFound("review", reviewID.Hex())
				}
				return fmt.Errorf("failed to update review: %w", err)
			}
			return nil
		})
		return txErr
	}, func(ctx context.Context) (bool, error) {
		stored, err := rs.reviews.FindReviewByID(ctx, reviewID)
		if err != nil || stored == nil || updated == nil {
			return false, err
		}
		return stored.Rating == updated.Rating && stored.UpdatedAt.Equal(updated.UpdatedAt), nil
	})
	if err != nil {
		return nil, err
	}

	rs.invalidateRanking(ctx)
	rs.logger.InfoContext(ctx, "review updated",
		slog.String("review_id", reviewID.Hex()),
		slog.Bool("rating_changed", true),
		slog.Int("rating", updated.Rating),
		slog.Float64("mean_rating", agg.MeanRating),
		slog.Int("review_count", agg.ReviewCount),
	)
	return updated, nil
}

// Delete removes a review on behalf of its author or an administrator and
// recomputes the establishment aggregate over what remains.
func (rs *ReviewService) Delete(ctx context.Context, reviewID primitive.ObjectID, requester *helpers.EnhancedClaims) error {
	if requester == nil || requester.UserID == uuid.Nil {
		return apperrors.Unauthorized("a signed-in user is required")
	}

	review, err := rs.reviews.FindReviewByID(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("failed to load review: %w", err)
	}
	if review == nil {
		return apperrors.NotFound("review", reviewID.Hex())
	}
	if !requester.CanModify(review.AuthorID) {
		return apperrors.Forbidden("only the author or an administrator can delete this review")
	}

	var agg models.Aggregate
	err = rs.runner.RunChecked(ctx, "delete_review", func(ctx context.Context) error {
		var txErr error
		agg, txErr = rs.updater.Within(ctx, review.EstablishmentID, func(ctx context.Context) error {
			if err := rs.reviews.DeleteReview(ctx, reviewID); err != nil {
				if errors.Is(err, models.ErrNoDocument) {
					return apperrors.NotFound("review", reviewID.Hex())
				}
				return fmt.Errorf("failed to delete review: %w", err)
			}
			return nil
		})
		return txErr
	}, func(ctx context.Context) (bool, error) {
		stored, err := rs.reviews.FindReviewByID(ctx, reviewID)
		return stored == nil && err == nil, err
	})
	if err != nil {
		return err
	}

	rs.invalidateRanking(ctx)
	rs.logger.InfoContext(ctx, "review deleted",
		slog.String("review_id", reviewID.Hex()),
		slog.String("establishment_id", review.EstablishmentID.Hex()),
		slog.String("requester_id", requester.UserID.String()),
		slog.Bool("by_admin", !requester.IsOwner(review.AuthorID)),
		slog.Float64("mean_rating", agg.MeanRating),
		slog.Int("review_count", agg.ReviewCount),
	)
	return nil
}

func (rs *ReviewService) Get(ctx context.Context, reviewID primitive.ObjectID) (*models.Review, error) {
	review, err := rs.reviews.FindReviewByID(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to load review: %w", err)
	}
	if review == nil {
		return nil, apperrors.NotFound("review", reviewID.Hex())
	}
	return review, nil
}

// ListByEstablishment pages through an establishment's reviews, newest first
// unless another sort is requested.
func (rs *ReviewService) ListByEstablishment(ctx context.Context, establishmentID primitive.ObjectID, q ListReviewsQuery) (*ReviewPage, error) {
	page, limit, err := normalizePage(q.Page, q.Limit)
	if err != nil {
		return nil, err
	}
	sortBy, ok := models.ParseReviewSortField(q.SortBy)
	if !ok {
		return nil, apperrors.InvalidInput("sort_by must be one of created_at, rating, likes_count")
	}
	var ascending bool
	switch q.SortOrder {
	case "", "desc":
	case "asc":
		ascending = true
	default:
		return nil, apperrors.InvalidInput("sort_order must be asc or desc")
	}

	est, err := rs.establishments.GetEstablishment(ctx, establishmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load establishment: %w", err)
	}
	if est == nil {
		return nil, apperrors.EstablishmentNotFound(establishmentID.Hex())
	}

	reviews, total, err := rs.reviews.ListReviewsByEstablishment(ctx, establishmentID, models.ReviewListOptions{
		Offset:    (page - 1) * limit,
		Limit:     limit,
		SortBy:    sortBy,
		Ascending: ascending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	return &ReviewPage{
		Reviews:    reviews,
		Pagination: models.NewPagination(page, limit, total),
	}, nil
}

func (rs *ReviewService) checkMenuItem(ctx context.Context, menuItemID, establishmentID primitive.ObjectID) error {
	item, err := rs.establishments.GetMenuItem(ctx, menuItemID)
	if err != nil {
		return fmt.Errorf("failed to load menu item: %w", err)
	}
	if item == nil {
		return apperrors.NotFound("menu item", menuItemID.Hex())
	}
	if item.EstablishmentID != establishmentID {
		return apperrors.MenuItemNotInEstablishment()
	}
	return nil
}

func (rs *ReviewService) invalidateRanking(ctx context.Context) {
	invalidateRanking(ctx, rs.cache, rs.logger)
}

// invalidateRanking bumps the ranking cache generation. Failures only log:
// the mutation has already committed.
func invalidateRanking(ctx context.Context, c cache.RankingCache, logger *slog.Logger) {
	if err := c.Invalidate(ctx); err != nil {
		logger.WarnContext(ctx, "failed to invalidate ranking cache", slog.String("error", err.Error()))
	}
}

// normalizePage applies defaults and bounds to page and limit. Zero means
// unset.
func normalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if page < 1 {
		return 0, 0, apperrors.InvalidInput("page must be at least 1")
	}
	if limit < 1 || limit > MaxPageLimit {
		return 0, 0, apperrors.InvalidInput(fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit))
	}
	return page, limit, nil
}
