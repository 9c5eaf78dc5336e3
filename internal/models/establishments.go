package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Establishment documents are owned by the catalog. This service only reads
// them and maintains the aggregate fields.
type Establishment struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name             string             `bson:"name" json:"name"`
	Description      string             `bson:"description" json:"description"`
	CategoryID       primitive.ObjectID `bson:"category_id" json:"category_id"`
	IsApproved       bool               `bson:"is_approved" json:"is_approved"`
	ImageURL         string             `bson:"image_url,omitempty" json:"image_url,omitempty"`
	CreatedBy        uuid.UUID          `bson:"created_by" json:"created_by"`
	MeanRating       float64            `bson:"mean_rating" json:"mean_rating"`
	ReviewCount      int                `bson:"review_count" json:"review_count"`
	AggregateVersion int64              `bson:"aggregate_version" json:"-"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}

type MenuItem struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EstablishmentID primitive.ObjectID `bson:"establishment_id" json:"establishment_id"`
	Name            string             `bson:"name" json:"name"`
}

// Category is the catalog's establishment category. Only the name is read.
type Category struct {
	ID   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name string             `bson:"name" json:"name"`
}

// Aggregate is the derived rating summary stored on an establishment.
type Aggregate struct {
	MeanRating  float64 `bson:"mean_rating" json:"mean_rating"`
	ReviewCount int     `bson:"review_count" json:"review_count"`
}

// ComputeAggregate returns the mean of ratings rounded to 2 decimals, or a
// zero aggregate for an empty set.
func ComputeAggregate(ratings []int) Aggregate {
	if len(ratings) == 0 {
		return Aggregate{}
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return Aggregate{
		MeanRating:  Round2(float64(sum) / float64(len(ratings))),
		ReviewCount: len(ratings),
	}
}

// Round2 rounds half away from zero to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
