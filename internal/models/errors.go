package models

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrDuplicateReview is returned when the (author, establishment) unique index rejects an insert.
	ErrDuplicateReview = errors.New("review already exists for this author and establishment")
	// ErrReactionConflict is returned when a guarded reaction update no longer matches the stored state.
	ErrReactionConflict = errors.New("reaction state changed concurrently")
	// ErrWriteConflict marks a transaction aborted by a concurrent writer.
	ErrWriteConflict = errors.New("transaction write conflict")
	// ErrNoDocument is returned when a write targets a document that no longer exists.
	ErrNoDocument = errors.New("document not found")
	// ErrCommitOutcomeUnknown means the commit may or may not have been
	// applied. The transaction must not be re-run blindly.
	ErrCommitOutcomeUnknown = errors.New("transaction commit outcome unknown")
)

// IsTransientTxError reports whether a transaction failed before anything
// was committed, so running it again from the start is safe.
func IsTransientTxError(err error) bool {
	if err == nil || errors.Is(err, ErrCommitOutcomeUnknown) {
		return false
	}
	if errors.Is(err, ErrWriteConflict) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorLabel(labelTransientTransaction) {
			return true
		}
		// 112 = WriteConflict
		if se.HasErrorCode(112) {
			return true
		}
	}
	return mongo.IsTimeout(err)
}
