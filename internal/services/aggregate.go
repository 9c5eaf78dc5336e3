package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joshua-takyi/platerank/internal/apperrors"
	"github.com/joshua-takyi/platerank/internal/metrics"
	"github.com/joshua-takyi/platerank/internal/models"
)

// AggregateUpdater keeps an establishment's mean rating and review count
// equal to its review set. It must run inside the transaction of the review
// write that changed the set.
type AggregateUpdater struct {
	establishments models.EstablishmentsRepo
	reviews        models.ReviewsRepo
	now            func() time.Time
}

func NewAggregateUpdater(establishments models.EstablishmentsRepo, reviews models.ReviewsRepo, now func() time.Time) *AggregateUpdater {
	if now == nil {
		now = time.Now
	}
	return &AggregateUpdater{
		establishments: establishments,
		reviews:        reviews,
		now:            now,
	}
}

// Within claims the establishment, runs mutate, then recomputes and stores
// the aggregate from every rating now attached to the establishment.
func (u *AggregateUpdater) Within(ctx context.Context, establishmentID primitive.ObjectID, mutate func(ctx context.Context) error) (models.Aggregate, error) {
	if err := u.establishments.LockAggregate(ctx, establishmentID); err != nil {
		if errors.Is(err, models.ErrNoDocument) {
			return models.Aggregate{}, apperrors.EstablishmentNotFound(establishmentID.Hex())
		}
		return models.Aggregate{}, fmt.Errorf("failed to claim establishment aggregate: %w", err)
	}

	if err := mutate(ctx); err != nil {
		return models.Aggregate{}, err
	}

	start := time.Now()
	ratings, err := u.reviews.ListEstablishmentRatings(ctx, establishmentID)
	if err != nil {
		return models.Aggregate{}, fmt.Errorf("failed to read establishment ratings: %w", err)
	}

	agg := models.ComputeAggregate(ratings)
	if err := u.establishments.SetAggregate(ctx, establishmentID, agg, u.now()); err != nil {
		if errors.Is(err, models.ErrNoDocument) {
			return models.Aggregate{}, apperrors.EstablishmentNotFound(establishmentID.Hex())
		}
		return models.Aggregate{}, fmt.Errorf("failed to store establishment aggregate: %w", err)
	}
	metrics.AggregateRecomputeDuration.Observe(time.Since(start).Seconds())

	return agg, nil
}
