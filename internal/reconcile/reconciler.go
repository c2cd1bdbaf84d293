// Package reconcile fails deposits and withdrawals whose processor callback
// never arrived.
package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/congo-pay/ledger/internal/funding"
	"github.com/congo-pay/ledger/internal/ledger"
)

const defaultBatchSize = 100

// Confirmer settles a pending transaction.
type Confirmer interface {
	Confirm(ctx context.Context, transactionID string, outcome ledger.Status) (funding.ConfirmResult, error)
}

// Reconciler periodically fails PENDING rows older than a maximum age.
type Reconciler struct {
	store     ledger.Store
	confirmer Confirmer
	maxAge    time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithBatchSize bounds how many rows one pass settles.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the reconciler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a reconciler. A zero maxAge disables it.
func New(store ledger.Store, confirmer Confirmer, maxAge, interval time.Duration, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		confirmer: confirmer,
		maxAge:    maxAge,
		interval:  interval,
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "reconcile"))
	return r
}

// Enabled reports whether the reconciler has work to do.
func (r *Reconciler) Enabled() bool {
	return r.maxAge > 0 && r.interval > 0
}

// Run reconciles on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if !r.Enabled() {
		r.logger.Info("reconciler disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("reconcile pass failed", slog.Any("error", err))
			}
		}
	}
}

// RunOnce fails one batch of stale PENDING rows and reports how many it
// settled. Rows confirmed concurrently by the processor are skipped.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	if r.maxAge <= 0 {
		return 0, nil
	}
	stale, err := r.store.ListStalePending(ctx, r.now().Add(-r.maxAge), r.batchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, t := range stale {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		res, err := r.confirmer.Confirm(ctx, t.ID, ledger.StatusFailed)
		switch {
		case errors.Is(err, ledger.ErrInvalidStateTransition):
			continue
		case err != nil:
			r.logger.Warn("could not fail stale transaction",
				slog.String("transaction_id", t.ID),
				slog.Any("error", err),
			)
			continue
		}
		if res.Applied {
			settled++
			r.logger.Info("stale transaction failed",
				slog.String("transaction_id", t.ID),
				slog.String("kind", string(t.Kind)),
				slog.Time("created_at", t.CreatedAt),
			)
		}
	}
	return settled, nil
}
