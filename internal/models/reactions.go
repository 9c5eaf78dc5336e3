package models

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReactionState is a user's reaction to a single review.
type ReactionState string

const (
	ReactionNone     ReactionState = "none"
	ReactionLiked    ReactionState = "liked"
	ReactionDisliked ReactionState = "disliked"
)

// ReactionKind is the toggle a user requested.
type ReactionKind string

const (
	ReactionLike    ReactionKind = "like"
	ReactionDislike ReactionKind = "dislike"
)

// target is the state a toggle of this kind moves towards.
func (k ReactionKind) target() ReactionState {
	if k == ReactionLike {
		return ReactionLiked
	}
	return ReactionDisliked
}

// NextReactionState applies a toggle: reacting the same way twice retracts,
// reacting the other way switches sides in one step.
func NextReactionState(from ReactionState, kind ReactionKind) ReactionState {
	if from == kind.target() {
		return ReactionNone
	}
	return kind.target()
}

// reactionField maps a non-none state to its set and counter fields.
func reactionField(state ReactionState) (set, counter string) {
	switch state {
	case ReactionLiked:
		return "liked_by", "likes_count"
	case ReactionDisliked:
		return "disliked_by", "dislikes_count"
	}
	return "", ""
}

// reactionUpdate builds a guarded single-document update moving user from
// one state to another. The filter only matches while the stored state is
// still `from`, so a stale read can never leave the user in both sets or
// skew the counters.
func reactionUpdate(reviewID primitive.ObjectID, user uuid.UUID, from, to ReactionState) (bson.M, bson.M) {
	filter := bson.M{
		"_id":       reviewID,
		"author_id": bson.M{"$ne": user},
	}
	if from == ReactionNone {
		filter["liked_by"] = bson.M{"$ne": user}
		filter["disliked_by"] = bson.M{"$ne": user}
	} else {
		set, _ := reactionField(from)
		filter[set] = user
	}

	update := bson.M{}
	inc := bson.M{}
	if from != ReactionNone {
		set, counter := reactionField(from)
		update["$pull"] = bson.M{set: user}
		inc[counter] = -1
	}
	if to != ReactionNone {
		set, counter := reactionField(to)
		update["$addToSet"] = bson.M{set: user}
		inc[counter] = 1
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	return filter, update
}
