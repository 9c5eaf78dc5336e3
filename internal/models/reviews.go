package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joshua-takyi/platerank/internal/helpers"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 1000
)

type Review struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	AuthorID        uuid.UUID           `bson:"author_id" json:"author_id"`
	EstablishmentID primitive.ObjectID  `bson:"establishment_id" json:"establishment_id"`
	MenuItemID      *primitive.ObjectID `bson:"menu_item_id,omitempty" json:"menu_item_id,omitempty"`
	Rating          int                 `bson:"rating" json:"rating" validate:"required,min=1,max=5"`
	Comment         string              `bson:"comment" json:"comment" validate:"max=1000"`
	LikedBy         []uuid.UUID         `bson:"liked_by" json:"liked_by"`
	DislikedBy      []uuid.UUID         `bson:"disliked_by" json:"disliked_by"`
	LikesCount      int                 `bson:"likes_count" json:"likes_count"`
	DislikesCount   int                 `bson:"dislikes_count" json:"dislikes_count"`
	CreatedAt       time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `bson:"updated_at" json:"updated_at"`
}

// ReviewPatch carries the author-editable fields. Nil means unchanged.
type ReviewPatch struct {
	Rating     *int
	Comment    *string
	MenuItemID *primitive.ObjectID
}

func (p ReviewPatch) IsEmpty() bool {
	return p.Rating == nil && p.Comment == nil && p.MenuItemID == nil
}

// ReviewStats is the per-establishment reaction and recency summary used for ranking.
type ReviewStats struct {
	EstablishmentID primitive.ObjectID `bson:"_id" json:"establishment_id"`
	ReviewCount     int                `bson:"review_count" json:"review_count"`
	TotalLikes      int                `bson:"total_likes" json:"total_likes"`
	TotalDislikes   int                `bson:"total_dislikes" json:"total_dislikes"`
	LatestReviewAt  time.Time          `bson:"latest_review_at" json:"latest_review_at"`
}

type ReviewSortField string

const (
	SortByCreatedAt  ReviewSortField = "created_at"
	SortByRating     ReviewSortField = "rating"
	SortByLikesCount ReviewSortField = "likes_count"
)

func ParseReviewSortField(s string) (ReviewSortField, bool) {
	switch ReviewSortField(s) {
	case "", SortByCreatedAt:
		return SortByCreatedAt, true
	case SortByRating:
		return SortByRating, true
	case SortByLikesCount:
		return SortByLikesCount, true
	}
	return "", false
}

type ReviewListOptions struct {
	Offset    int
	Limit     int
	SortBy    ReviewSortField
	Ascending bool
}

func NewReview(authorID uuid.UUID, establishmentID primitive.ObjectID, rating int, comment string, menuItemID *primitive.ObjectID, now time.Time) *Review {
	return &Review{
		AuthorID:        authorID,
		EstablishmentID: establishmentID,
		MenuItemID:      menuItemID,
		Rating:          rating,
		Comment:         comment,
		LikedBy:         []uuid.UUID{},
		DislikedBy:      []uuid.UUID{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (r *Review) BeforeCreate() error {
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	if r.LikedBy == nil {
		r.LikedBy = []uuid.UUID{}
	}
	if r.DislikedBy == nil {
		r.DislikedBy = []uuid.UUID{}
	}
	return nil
}

// ValidateReview checks the struct tags through the shared validator plus the
// references the tags cannot express.
func (r Review) ValidateReview() error {
	if r.AuthorID == uuid.Nil {
		return fmt.Errorf("invalid author ID")
	}
	if r.EstablishmentID.IsZero() {
		return fmt.Errorf("invalid establishment ID")
	}
	if err := Validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

func ValidateRating(rating int) error {
	if err := Validate.Var(rating, "min=1,max=5"); err != nil {
		return fmt.Errorf("rating must be between %d and %d", MinRating, MaxRating)
	}
	return nil
}

// ValidateComment bounds the comment length in characters, not bytes.
func ValidateComment(comment string) error {
	if err := Validate.Var(comment, "max=1000"); err != nil {
		return fmt.Errorf("comment must be at most %d characters", MaxCommentLength)
	}
	return nil
}

// validationError turns the first failed field into a readable message.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid review: %w", err)
	}
	switch fe := verrs[0]; fe.Field() {
	case "Rating":
		return fmt.Errorf("rating must be between %d and %d", MinRating, MaxRating)
	case "Comment":
		return fmt.Errorf("comment must be at most %d characters", MaxCommentLength)
	default:
		return fmt.Errorf("invalid %s: failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
	}
}

func (r *Review) Sanitize() {
	r.Comment = helpers.StringTrim(r.Comment)
}

// Sanitize trims the comment, if the patch carries one.
func (p *ReviewPatch) Sanitize() {
	if p.Comment != nil {
		comment := helpers.StringTrim(*p.Comment)
		p.Comment = &comment
	}
}

// ReactionOf reports the reaction state of user on this review.
func (r *Review) ReactionOf(user uuid.UUID) ReactionState {
	switch {
	case slices.Contains(r.LikedBy, user):
		return ReactionLiked
	case slices.Contains(r.DislikedBy, user):
		return ReactionDisliked
	default:
		return ReactionNone
	}
}

// Clone returns a deep copy so callers can mutate it freely.
func (r *Review) Clone() *Review {
	cp := *r
	cp.LikedBy = slices.Clone(r.LikedBy)
	cp.DislikedBy = slices.Clone(r.DislikedBy)
	if r.MenuItemID != nil {
		id := *r.MenuItemID
		cp.MenuItemID = &id
	}
	return &cp
}
