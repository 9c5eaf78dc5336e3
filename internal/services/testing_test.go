package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joshua-takyi/platerank/internal/cache"
	"github.com/joshua-takyi/platerank/internal/models"
	"github.com/joshua-takyi/platerank/internal/storetest"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clock() time.Time { return fixedNow }

type fixture struct {
	store     *storetest.Store
	reviews   *ReviewService
	reactions *ReactionService
	ranking   *RankingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCache(t, cache.NoopRankingCache{})
}

func newFixtureWithCache(t *testing.T, rankingCache cache.RankingCache) *fixture {
	t.Helper()
	store := storetest.New()
	logger := testLogger()
	runner := NewTxRunner(store, TxOptions{MaxAttempts: 3, Timeout: time.Second, InitialBackoff: time.Millisecond}, logger)
	return &fixture{
		store:     store,
		reviews:   NewReviewService(store, store, runner, rankingCache, logger, clock),
		reactions: NewReactionService(store, rankingCache, logger, 3),
		ranking:   NewRankingService(store, store, rankingCache, logger, clock),
	}
}

func (f *fixture) approvedEstablishment(name string) primitive.ObjectID {
	return f.store.AddEstablishment(models.Establishment{
		Name:       name,
		IsApproved: true,
		CreatedAt:  fixedNow,
		UpdatedAt:  fixedNow,
	})
}

func (f *fixture) establishment(t *testing.T, id primitive.ObjectID) models.Establishment {
	t.Helper()
	est, ok := f.store.Establishment(id)
	if !ok {
		t.Fatalf("establishment %s not found", id.Hex())
	}
	return est
}

func newUser() uuid.UUID { return uuid.New() }
