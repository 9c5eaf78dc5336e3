package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ReviewsRepo is the review document store. Methods that take part in an
// aggregate transaction receive the transaction through ctx.
type ReviewsRepo interface {
	InsertReview(ctx context.Context, review *Review) error
	FindReviewByID(ctx context.Context, id primitive.ObjectID) (*Review, error)
	FindReviewByAuthor(ctx context.Context, authorID uuid.UUID, establishmentID primitive.ObjectID) (*Review, error)
	UpdateReviewFields(ctx context.Context, id primitive.ObjectID, patch ReviewPatch, now time.Time) (*Review, error)
	DeleteReview(ctx context.Context, id primitive.ObjectID) error
	ListEstablishmentRatings(ctx context.Context, establishmentID primitive.ObjectID) ([]int, error)
	ListReviewsByEstablishment(ctx context.Context, establishmentID primitive.ObjectID, opts ReviewListOptions) ([]*Review, int, error)
	ApplyReaction(ctx context.Context, reviewID primitive.ObjectID, userID uuid.UUID, from, to ReactionState) (*Review, error)
	ReviewStatsByEstablishment(ctx context.Context, establishmentIDs []primitive.ObjectID) (map[primitive.ObjectID]ReviewStats, error)
}

func (mdb *MongodbRepo) InsertReview(ctx context.Context, review *Review) error {
	if err := review.ValidateReview(); err != nil {
		return fmt.Errorf("invalid review data: %w", err)
	}
	if err := review.BeforeCreate(); err != nil {
		return fmt.Errorf("failed to prepare review for creation: %w", err)
	}

	col, err := mdb.GetCollection(ctx, ReviewColName)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	if _, err := col.InsertOne(ctx, review); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateReview
		}
		return fmt.Errorf("failed to insert review into database: %w", err)
	}
	return nil
}

func (mdb *MongodbRepo) FindReviewByID(ctx context.Context, id primitive.ObjectID) (*Review, error) {
	return mdb.findOneReview(ctx, bson.M{"_id": id})
}

func (mdb *MongodbRepo) FindReviewByAuthor(ctx context.Context, authorID uuid.UUID, establishmentID primitive.ObjectID) (*Review, error) {
	return mdb.findOneReview(ctx, bson.M{"author_id": authorID, "establishment_id": establishmentID})
}

func (mdb *MongodbRepo) findOneReview(ctx context.Context, filter bson.M) (*Review, error) {
	col, err := mdb.GetCollection(ctx, ReviewColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}

	var review Review
	if err := col.FindOne(ctx, filter).Decode(&review); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("error finding review: %w", err)
	}
	return &review, nil
}

func (mdb *MongodbRepo) UpdateReviewFields(ctx context.Context, id primitive.ObjectID, patch ReviewPatch, now time.Time) (*Review, error) {
	col, err := mdb.GetCollection(ctx, ReviewColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}

	set := bson.M{"updated_at": now}
	if patch.Rating != nil {
		set["rating"] = *patch.Rating
	}
	if patch.Comment != nil {
		set["comment"] = *patch.Comment
	}
	if patch.MenuItemID != nil {
		set["menu_item_id"] = *patch.MenuItemID
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated Review
	err = col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoDocument
		}
		return nil, fmt.Errorf("error updating review: %w", err)
	}
	return &updated, nil
}

func (mdb *MongodbRepo) DeleteReview(ctx context.Context, id primitive.ObjectID) error {
	col, err := mdb.GetCollection(ctx, ReviewColName)
	if err != nil {
		return fmt.Errorf("error getting collection: %w", err)
	}

	res, err := col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting review: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNoDocument
	}
	return nil
}

// ListEstablishmentRatings reads the rating of every review attached to an
// establishment. Called inside the aggregate transaction.
func (mdb *MongodbRepo) ListEstablishmentRatings(ctx context.Context, establishmentID primitive.ObjectID) ([]int, error) {
	col, err := mdb.GetCollection(ctx, ReviewColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}

	opts := options.Find().SetProjection(bson.M{"rating": 1})
	cursor, err := col.Find(ctx, bson.M{"establishment_id": establishmentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding ratings: %w", err)
	}
	defer cursor.Close(ctx)

	ratings := make([]int, 0)
	for cursor.Next(ctx) {
		var doc struct {
			Rating int `bson:"rating"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding rating: %w", err)
		}
		ratings = append(ratings, doc.Rating)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return ratings, nil
}

func (mdb *MongodbRepo) ListReviewsByEstablishment(ctx context.Context, establishmentID primitive.ObjectID, opts ReviewListOptions) ([]*Review, int, error) {
	col, err := mdb.GetCollection(ctx, ReviewColName)
	if err != nil {
		return nil, 0, fmt.Errorf("error getting collection: %w", err)
	}

	filter := bson.M{"establishment_id": establishmentID}
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("error counting reviews: %w", err)
	}

	direction := -1
	if opts.Ascending {
		direction = 1
	}
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = SortByCreatedAt
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: string(sortBy), Value: direction}, {Key: "_id", Value: direction}}).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit))

	cursor, err := col.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("error finding reviews: %w", err)
	}
	defer cursor.Close(ctx)

	reviews := make([]*Review, 0)
	if err := cursor.All(ctx, &reviews); err != nil {
		return nil, 0, fmt.Errorf("error decoding reviews: %w", err)
	}
	return reviews, int(total), nil
}

// ApplyReaction moves userID from one reaction state to another in a single
// atomic update. It returns ErrReactionConflict when the stored state is no
// longer `from` (or the review is gone); callers re-read and retry.
func (mdb *MongodbRepo) ApplyReaction(ctx context.Context, reviewID primitive.ObjectID, userID uuid.UUID, from, to ReactionState) (*Review, error) {
	col, err := mdb.GetCollection(ctx, ReviewColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}

	filter, update := reactionUpdate(reviewID, userID, from, to)
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated Review
	if err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReactionConflict
		}
		return nil, fmt.Errorf("error applying reaction: %w", err)
	}
	return &updated, nil
}

// ReviewStatsByEstablishment sums reaction counters and finds the latest
// review per establishment in one aggregation.
func (mdb *MongodbRepo) ReviewStatsByEstablishment(ctx context.Context, establishmentIDs []primitive.ObjectID) (map[primitive.ObjectID]ReviewStats, error) {
	stats := make(map[primitive.ObjectID]ReviewStats, len(establishmentIDs))
	if len(establishmentIDs) == 0 {
		return stats, nil
	}

	col, err := mdb.GetCollection(ctx, ReviewColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"establishment_id": bson.M{"$in": establishmentIDs}}}},
		{{Key: "$group", Value: bson.M{
			"_id":              "$establishment_id",
			"review_count":     bson.M{"$sum": 1},
			"total_likes":      bson.M{"$sum": "$likes_count"},
			"total_dislikes":   bson.M{"$sum": "$dislikes_count"},
			"latest_review_at": bson.M{"$max": "$created_at"},
		}}},
	}
	cursor, err := col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("error aggregating review stats: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []ReviewStats
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("error decoding review stats: %w", err)
	}
	for _, row := range rows {
		stats[row.EstablishmentID] = row
	}
	return stats, nil
}
