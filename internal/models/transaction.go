package models

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	labelTransientTransaction = "TransientTransactionError"
	labelUnknownCommitResult  = "UnknownTransactionCommitResult"

	maxCommitAttempts = 3
)

// Transactor runs fn inside a single multi-document transaction. Repository
// calls made with the ctx passed to fn join that transaction. A non-nil
// error from fn aborts it.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// WithTransaction runs one attempt of fn. Retrying transient failures is left
// to the caller so that the attempt budget stays configurable. An ambiguous
// commit is retried here, commit only, and surfaces as ErrCommitOutcomeUnknown
// if it stays ambiguous.
func (mdb *MongodbRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mdb.mongodbClient == nil {
		return fmt.Errorf("mongodb client is not initialized")
	}

	session, err := mdb.mongodbClient.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := session.StartTransaction(txOpts); err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	sessCtx := mongo.NewSessionContext(ctx, session)
	if err := fn(sessCtx); err != nil {
		_ = session.AbortTransaction(context.WithoutCancel(ctx))
		return err
	}

	if err := commitWithRetry(sessCtx, session.CommitTransaction); err != nil {
		if !errors.Is(err, ErrCommitOutcomeUnknown) {
			_ = session.AbortTransaction(context.WithoutCancel(ctx))
		}
		return err
	}
	return nil
}

// commitWithRetry re-sends the commit while the server reports the outcome as
// unknown. Commit is idempotent, so this never applies the writes twice.
func commitWithRetry(ctx context.Context, commit func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		err = commit(ctx)
		if err == nil {
			return nil
		}
		if !commitOutcomeUnknown(err) {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %w", ErrCommitOutcomeUnknown, err)
}

// commitOutcomeUnknown reports whether a commit error leaves it open whether
// the transaction was applied.
func commitOutcomeUnknown(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel(labelUnknownCommitResult) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
