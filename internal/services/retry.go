package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joshua-takyi/platerank/internal/apperrors"
	"github.com/joshua-takyi/platerank/internal/metrics"
	"github.com/joshua-takyi/platerank/internal/models"
)

// TxOptions bounds the transaction runner.
type TxOptions struct {
	MaxAttempts    int
	Timeout        time.Duration
	InitialBackoff time.Duration
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		MaxAttempts:    3,
		Timeout:        5 * time.Second,
		InitialBackoff: 50 * time.Millisecond,
	}
}

// TxRunner executes aggregate-affecting mutations in a transaction, retrying
// transient write conflicts with exponential backoff. Exhausted retries
// surface as apperrors.Conflict.
type TxRunner struct {
	tx     models.Transactor
	opts   TxOptions
	logger *slog.Logger
}

func NewTxRunner(tx models.Transactor, opts TxOptions, logger *slog.Logger) *TxRunner {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &TxRunner{
		tx:     tx,
		opts:   opts,
		logger: logger,
	}
}

func (r *TxRunner) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.opts.InitialBackoff > 0 {
		b.InitialInterval = r.opts.InitialBackoff
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxAttempts-1)), ctx)
}

// Run executes fn inside a transaction. fn may run more than once and must
// not keep state between attempts. A commit whose outcome is unknown is not
// re-run and comes back wrapping models.ErrCommitOutcomeUnknown.
func (r *TxRunner) Run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		attemptCtx := ctx
		if r.opts.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
			defer cancel()
		}

		err := r.tx.WithTransaction(attemptCtx, fn)
		switch {
		case err == nil:
			metrics.TxAttemptsTotal.WithLabelValues(operation, "committed").Inc()
			return nil
		case models.IsTransientTxError(err) && ctx.Err() == nil:
			metrics.TxAttemptsTotal.WithLabelValues(operation, "retried").Inc()
			r.logger.DebugContext(ctx, "transaction conflict, retrying",
				slog.String("operation", operation),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		case errors.Is(err, models.ErrCommitOutcomeUnknown):
			metrics.TxAttemptsTotal.WithLabelValues(operation, "unknown").Inc()
			return backoff.Permanent(err)
		default:
			metrics.TxAttemptsTotal.WithLabelValues(operation, "failed").Inc()
			return backoff.Permanent(err)
		}
	}

	err := backoff.Retry(op, r.newBackOff(ctx))
	if err != nil && models.IsTransientTxError(err) && ctx.Err() == nil {
		metrics.TxAttemptsTotal.WithLabelValues(operation, "exhausted").Inc()
		r.logger.WarnContext(ctx, "transaction retries exhausted",
			slog.String("operation", operation),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return apperrors.Conflict("the request conflicted with a concurrent update, please retry", err)
	}
	return err
}

// RunChecked is Run for mutations that must not be applied twice. When the
// commit outcome is unknown, committed reads the stored state to decide
// whether fn took effect: true counts as success, false as a conflict the
// client can retry.
func (r *TxRunner) RunChecked(ctx context.Context, operation string, fn func(ctx context.Context) error, committed func(ctx context.Context) (bool, error)) error {
	err := r.Run(ctx, operation, fn)
	if !errors.Is(err, models.ErrCommitOutcomeUnknown) {
		return err
	}

	checkCtx := context.WithoutCancel(ctx)
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(checkCtx, r.opts.Timeout)
		defer cancel()
	}
	applied, checkErr := committed(checkCtx)
	if checkErr != nil {
		return fmt.Errorf("failed to resolve commit outcome: %w", errors.Join(err, checkErr))
	}
	if !applied {
		r.logger.WarnContext(ctx, "transaction commit not applied",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return apperrors.Conflict("the request could not be confirmed, please retry", err)
	}
	metrics.TxAttemptsTotal.WithLabelValues(operation, "resolved").Inc()
	r.logger.InfoContext(ctx, "transaction commit confirmed after unknown outcome",
		slog.String("operation", operation),
	)
	return nil
}
