// Package storetest provides an in-memory, transactional implementation of
// the review and establishment repositories for engine tests.
//
// Transactions hold a per-establishment lock from LockAggregate until they
// commit or abort, mirroring how the first write on an establishment
// document serialises MongoDB transactions. Aborted transactions are rolled
// back from an undo log.
package storetest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joshua-takyi/platerank/internal/models"
)

type txKey struct{}

type tx struct {
	undo  []func()
	locks []primitive.ObjectID
}

type Store struct {
	mu             sync.Mutex
	reviews        map[primitive.ObjectID]*models.Review
	establishments map[primitive.ObjectID]*models.Establishment
	menuItems      map[primitive.ObjectID]*models.MenuItem
	categories     map[primitive.ObjectID]string
	locks          map[primitive.ObjectID]chan struct{}

	failCommits      int
	ambiguousCommits int
	failReactions    int
	commits          int
	aborts           int
}

var (
	_ models.ReviewsRepo        = (*Store)(nil)
	_ models.EstablishmentsRepo = (*Store)(nil)
	_ models.Transactor         = (*Store)(nil)
)

func New() *Store {
	return &Store{
		reviews:        make(map[primitive.ObjectID]*models.Review),
		establishments: make(map[primitive.ObjectID]*models.Establishment),
		menuItems:      make(map[primitive.ObjectID]*models.MenuItem),
		categories:     make(map[primitive.ObjectID]string),
		locks:          make(map[primitive.ObjectID]chan struct{}),
	}
}

// AddEstablishment seeds an establishment and returns its ID.
func (s *Store) AddEstablishment(est models.Establishment) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if est.ID.IsZero() {
		est.ID = primitive.NewObjectID()
	}
	s.establishments[est.ID] = &est
	return est.ID
}

func (s *Store) AddMenuItem(item models.MenuItem) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID.IsZero() {
		item.ID = primitive.NewObjectID()
	}
	s.menuItems[item.ID] = &item
	return item.ID
}

// AddCategory seeds a category and returns its ID.
func (s *Store) AddCategory(name string) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := primitive.NewObjectID()
	s.categories[id] = name
	return id
}

// AddReview seeds a review directly, bypassing the aggregate.
func (s *Store) AddReview(review models.Review) primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if review.ID.IsZero() {
		review.ID = primitive.NewObjectID()
	}
	s.reviews[review.ID] = review.Clone()
	return review.ID
}

// Establishment returns a snapshot of the stored establishment.
func (s *Store) Establishment(id primitive.ObjectID) (models.Establishment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	est, ok := s.establishments[id]
	if !ok {
		return models.Establishment{}, false
	}
	return *est, true
}

// Review returns a snapshot of the stored review.
func (s *Store) Review(id primitive.ObjectID) (*models.Review, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// ReviewCount returns the number of stored reviews for an establishment.
func (s *Store) ReviewCount(establishmentID primitive.ObjectID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.reviews {
		if r.EstablishmentID == establishmentID {
			n++
		}
	}
	return n
}

// FailCommits makes the next n transaction commits fail with
// models.ErrWriteConflict, rolling back their writes.
func (s *Store) FailCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

// AmbiguousCommits makes the next n transactions commit their writes and
// then report models.ErrCommitOutcomeUnknown, as a commit whose reply was
// lost would.
func (s *Store) AmbiguousCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ambiguousCommits = n
}

// FailReactions makes the next n ApplyReaction calls report
// models.ErrReactionConflict without writing.
func (s *Store) FailReactions(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReactions = n
}

func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(txKey{}).(*tx); nested {
		return fn(ctx)
	}

	t := &tx{}
	err := fn(context.WithValue(ctx, txKey{}, t))

	s.mu.Lock()
	if err == nil && s.failCommits > 0 {
		s.failCommits--
		err = models.ErrWriteConflict
	}
	if err != nil {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		s.aborts++
	} else {
		s.commits++
		if s.ambiguousCommits > 0 {
			s.ambiguousCommits--
			err = fmt.Errorf("%w: connection reset after commit", models.ErrCommitOutcomeUnknown)
		}
	}
	for _, id := range t.locks {
		<-s.locks[id]
	}
	s.mu.Unlock()
	return err
}

// record registers an undo step when ctx carries a transaction. Callers hold s.mu.
func record(ctx context.Context, undo func()) {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		t.undo = append(t.undo, undo)
	}
}

func (s *Store) lockFor(id primitive.ObjectID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

// ---------------------------------------------------------------------------
// EstablishmentsRepo
// ---------------------------------------------------------------------------

func (s *Store) GetEstablishment(_ context.Context, id primitive.ObjectID) (*models.Establishment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	est, ok := s.establishments[id]
	if !ok {
		return nil, nil
	}
	cp := *est
	return &cp, nil
}

func (s *Store) GetMenuItem(_ context.Context, id primitive.ObjectID) (*models.MenuItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.menuItems[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Store) LockAggregate(ctx context.Context, id primitive.ObjectID) error {
	t, inTx := ctx.Value(txKey{}).(*tx)
	if inTx && slices.Contains(t.locks, id) {
		return s.bumpVersion(ctx, id)
	}

	s.mu.Lock()
	_, exists := s.establishments[id]
	s.mu.Unlock()
	if !exists {
		return models.ErrNoDocument
	}

	if inTx {
		select {
		case s.lockFor(id) <- struct{}{}:
			t.locks = append(t.locks, id)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.bumpVersion(ctx, id)
}

func (s *Store) bumpVersion(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	est, ok := s.establishments[id]
	if !ok {
		return models.ErrNoDocument
	}
	est.AggregateVersion++
	record(ctx, func() { est.AggregateVersion-- })
	return nil
}

func (s *Store) SetAggregate(ctx context.Context, id primitive.ObjectID, agg models.Aggregate, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	est, ok := s.establishments[id]
	if !ok {
		return models.ErrNoDocument
	}
	prevMean, prevCount, prevUpdated := est.MeanRating, est.ReviewCount, est.UpdatedAt
	est.MeanRating, est.ReviewCount, est.UpdatedAt = agg.MeanRating, agg.ReviewCount, now
	record(ctx, func() {
		est.MeanRating, est.ReviewCount, est.UpdatedAt = prevMean, prevCount, prevUpdated
	})
	return nil
}

func (s *Store) ListRankingCandidates(_ context.Context, categoryID *primitive.ObjectID) ([]*models.Establishment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Establishment, 0)
	for _, est := range s.establishments {
		if !est.IsApproved || est.ReviewCount <= 0 {
			continue
		}
		if categoryID != nil && est.CategoryID != *categoryID {
			continue
		}
		cp := *est
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.Establishment) int {
		return cmp.Compare(a.ID.Hex(), b.ID.Hex())
	})
	return out, nil
}

func (s *Store) CategoryNames(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make(map[primitive.ObjectID]string, len(ids))
	for _, id := range ids {
		if name, ok := s.categories[id]; ok {
			names[id] = name
		}
	}
	return names, nil
}

// ---------------------------------------------------------------------------
// ReviewsRepo
// ---------------------------------------------------------------------------

func (s *Store) InsertReview(ctx context.Context, review *models.Review) error {
	if err := review.ValidateReview(); err != nil {
		return err
	}
	if err := review.BeforeCreate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reviews {
		if r.AuthorID == review.AuthorID && r.EstablishmentID == review.EstablishmentID {
			return models.ErrDuplicateReview
		}
	}
	id := review.ID
	s.reviews[id] = review.Clone()
	record(ctx, func() { delete(s.reviews, id) })
	return nil
}

func (s *Store) FindReviewByID(_ context.Context, id primitive.ObjectID) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (s *Store) FindReviewByAuthor(_ context.Context, authorID uuid.UUID, establishmentID primitive.ObjectID) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reviews {
		if r.AuthorID == authorID && r.EstablishmentID == establishmentID {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateReviewFields(ctx context.Context, id primitive.ObjectID, patch models.ReviewPatch, now time.Time) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, models.ErrNoDocument
	}

	prevRating, prevComment, prevMenuItem, prevUpdated := r.Rating, r.Comment, r.MenuItemID, r.UpdatedAt
	if patch.Rating != nil {
		r.Rating = *patch.Rating
	}
	if patch.Comment != nil {
		r.Comment = *patch.Comment
	}
	if patch.MenuItemID != nil {
		item := *patch.MenuItemID
		r.MenuItemID = &item
	}
	r.UpdatedAt = now
	record(ctx, func() {
		r.Rating, r.Comment, r.MenuItemID, r.UpdatedAt = prevRating, prevComment, prevMenuItem, prevUpdated
	})
	return r.Clone(), nil
}

func (s *Store) DeleteReview(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return models.ErrNoDocument
	}
	delete(s.reviews, id)
	record(ctx, func() { s.reviews[id] = r })
	return nil
}

func (s *Store) ListEstablishmentRatings(_ context.Context, establishmentID primitive.ObjectID) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ratings := make([]int, 0)
	for _, r := range s.reviews {
		if r.EstablishmentID == establishmentID {
			ratings = append(ratings, r.Rating)
		}
	}
	return ratings, nil
}

func (s *Store) ListReviewsByEstablishment(_ context.Context, establishmentID primitive.ObjectID, opts models.ReviewListOptions) ([]*models.Review, int, error) {
	s.mu.Lock()
	matched := make([]*models.Review, 0)
	for _, r := range s.reviews {
		if r.EstablishmentID == establishmentID {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.Unlock()

	slices.SortFunc(matched, func(a, b *models.Review) int {
		var c int
		switch opts.SortBy {
		case models.SortByRating:
			c = cmp.Compare(a.Rating, b.Rating)
		case models.SortByLikesCount:
			c = cmp.Compare(a.LikesCount, b.LikesCount)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID.Hex(), b.ID.Hex())
		}
		if !opts.Ascending {
			c = -c
		}
		return c
	})

	total := len(matched)
	start := min(opts.Offset, total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}
	return matched[start:end], total, nil
}

func (s *Store) ApplyReaction(_ context.Context, reviewID primitive.ObjectID, userID uuid.UUID, from, to models.ReactionState) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReactions > 0 {
		s.failReactions--
		return nil, models.ErrReactionConflict
	}

	r, ok := s.reviews[reviewID]
	if !ok || r.AuthorID == userID || r.ReactionOf(userID) != from {
		return nil, models.ErrReactionConflict
	}

	switch from {
	case models.ReactionLiked:
		r.LikedBy = slices.DeleteFunc(r.LikedBy, func(u uuid.UUID) bool { return u == userID })
		r.LikesCount--
	case models.ReactionDisliked:
		r.DislikedBy = slices.DeleteFunc(r.DislikedBy, func(u uuid.UUID) bool { return u == userID })
		r.DislikesCount--
	}
	switch to {
	case models.ReactionLiked:
		r.LikedBy = append(r.LikedBy, userID)
		r.LikesCount++
	case models.ReactionDisliked:
		r.DislikedBy = append(r.DislikedBy, userID)
		r.DislikesCount++
	}
	return r.Clone(), nil
}

func (s *Store) ReviewStatsByEstablishment(_ context.Context, establishmentIDs []primitive.ObjectID) (map[primitive.ObjectID]models.ReviewStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[primitive.ObjectID]models.ReviewStats, len(establishmentIDs))
	for _, r := range s.reviews {
		if !slices.Contains(establishmentIDs, r.EstablishmentID) {
			continue
		}
		st := stats[r.EstablishmentID]
		st.EstablishmentID = r.EstablishmentID
		st.ReviewCount++
		st.TotalLikes += r.LikesCount
		st.TotalDislikes += r.DislikesCount
		if r.CreatedAt.After(st.LatestReviewAt) {
			st.LatestReviewAt = r.CreatedAt
		}
		stats[r.EstablishmentID] = st
	}
	return stats, nil
}
