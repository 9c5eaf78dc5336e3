package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type EstablishmentsRepo interface {
	GetEstablishment(ctx context.Context, id primitive.ObjectID) (*Establishment, error)
	GetMenuItem(ctx context.Context, id primitive.ObjectID) (*MenuItem, error)
	// LockAggregate claims the establishment's aggregate for the current
	// transaction. Concurrent transactions on the same establishment conflict
	// here, before any review write.
	LockAggregate(ctx context.Context, id primitive.ObjectID) error
	SetAggregate(ctx context.Context, id primitive.ObjectID, agg Aggregate, now time.Time) error
	ListRankingCandidates(ctx context.Context, categoryID *primitive.ObjectID) ([]*Establishment, error)
	// CategoryNames resolves category IDs to names. Unknown IDs are absent
	// from the result.
	CategoryNames(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error)
}

func (mdb *MongodbRepo) GetEstablishment(ctx context.Context, id primitive.ObjectID) (*Establishment, error) {
	col, err := mdb.GetCollection(ctx, EstablishmentColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}

	var est Establishment
	if err := col.FindOne(ctx, bson.M{"_id": id}).Decode(&est); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("error finding establishment: %w", err)
	}
	return &est, nil
}

func (mdb *MongodbRepo) GetMenuItem(ctx context.Context, id primitive.ObjectID) (*MenuItem, error) {
	col, err := mdb.GetCollection(ctx, MenuItemColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}

	var item MenuItem
	if err := col.FindOne(ctx, bson.M{"_id": id}).Decode(&item); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("error finding menu item: %w", err)
	}
	return &item, nil
}

func (mdb *MongodbRepo) LockAggregate(ctx context.Context, id primitive.ObjectID) error {
	col, err := mdb.GetCollection(ctx, EstablishmentColName)
	if err != nil {
		return fmt.Errorf("error getting collection: %w", err)
	}

	res, err := col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"aggregate_version": 1}})
	if err != nil {
		return fmt.Errorf("error locking establishment aggregate: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNoDocument
	}
	return nil
}

func (mdb *MongodbRepo) SetAggregate(ctx context.Context, id primitive.ObjectID, agg Aggregate, now time.Time) error {
	col, err := mdb.GetCollection(ctx, EstablishmentColName)
	if err != nil {
		return fmt.Errorf("error getting collection: %w", err)
	}

	update := bson.M{"$set": bson.M{
		"mean_rating":  agg.MeanRating,
		"review_count": agg.ReviewCount,
		"updated_at":   now,
	}}
	res, err := col.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("error updating establishment aggregate: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNoDocument
	}
	return nil
}

// ListRankingCandidates returns approved establishments with at least one
// review, optionally restricted to a category, in _id order.
func (mdb *MongodbRepo) ListRankingCandidates(ctx context.Context, categoryID *primitive.ObjectID) ([]*Establishment, error) {
	col, err := mdb.GetCollection(ctx, EstablishmentColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}

	filter := bson.M{
		"is_approved":  true,
		"review_count": bson.M{"$gt": 0},
	}
	if categoryID != nil {
		filter["category_id"] = *categoryID
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding ranking candidates: %w", err)
	}
	defer cursor.Close(ctx)

	establishments := make([]*Establishment, 0)
	if err := cursor.All(ctx, &establishments); err != nil {
		return nil, fmt.Errorf("error decoding establishments: %w", err)
	}
	return establishments, nil
}

func (mdb *MongodbRepo) CategoryNames(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	names := make(map[primitive.ObjectID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	col, err := mdb.GetCollection(ctx, CategoryColName)
	if err != nil {
		return nil, fmt.Errorf("error getting collection: %w", err)
	}

	opts := options.Find().SetProjection(bson.M{"name": 1})
	cursor, err := col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding categories: %w", err)
	}
	defer cursor.Close(ctx)

	var categories []Category
	if err := cursor.All(ctx, &categories); err != nil {
		return nil, fmt.Errorf("error decoding categories: %w", err)
	}
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names, nil
}
