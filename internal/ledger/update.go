package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/congo-pay/ledger/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	retryBackoff       = 5 * time.Millisecond
)

// Ledger serializes writers per wallet on top of a Store. Every balance
// affecting operation goes through Update.
type Ledger struct {
	store       Store
	locks       *Locker
	maxAttempts int
	logger      *slog.Logger
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithMaxAttempts bounds how many times a conflicting write is attempted.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New wraps store with per-wallet locking.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		locks:       NewLocker(),
		maxAttempts: defaultMaxAttempts,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the backing store for read paths.
func (l *Ledger) Store() Store {
	return l.store
}

// Update locks the given wallets and runs fn as one atomic unit. fn may run
// more than once when the store reports a conflict, so it must not leak
// partial results between attempts.
func (l *Ledger) Update(ctx context.Context, userIDs []string, fn func(tx Tx) error) error {
	unlock := l.locks.Lock(userIDs...)
	defer unlock()

	for attempt := 1; ; attempt++ {
		err := l.store.WithinTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		metrics.WriteConflicts.Inc()
		if attempt >= l.maxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		l.logger.Debug("retrying conflicting write", slog.Int("attempt", attempt), slog.Any("error", err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
}
