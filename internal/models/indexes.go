package models

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes the review store relies on. The
// (author_id, establishment_id) unique index is what turns a concurrent
// second review into ErrDuplicateReview.
func (mdb *MongodbRepo) EnsureIndexes(ctx context.Context) error {
	reviews, err := mdb.GetCollection(ctx, ReviewColName)
	if err != nil {
		return fmt.Errorf("error getting collection: %w", err)
	}

	reviewIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "author_id", Value: 1},
				{Key: "establishment_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetName("author_establishment_unique"),
		},
		// listing and stats aggregation
		{
			Keys: bson.D{
				{Key: "establishment_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("establishment_created_at_idx"),
		},
	}
	if _, err := reviews.Indexes().CreateMany(ctx, reviewIndexes); err != nil {
		return fmt.Errorf("error creating review indexes: %w", err)
	}

	establishments, err := mdb.GetCollection(ctx, EstablishmentColName)
	if err != nil {
		return fmt.Errorf("error getting collection: %w", err)
	}

	_, err = establishments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "is_approved", Value: 1},
			{Key: "category_id", Value: 1},
			{Key: "review_count", Value: 1},
		},
		Options: options.Index().SetName("ranking_candidates_idx"),
	})
	if err != nil {
		return fmt.Errorf("error creating establishment indexes: %w", err)
	}

	return nil
}
