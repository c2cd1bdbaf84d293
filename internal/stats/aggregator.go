// Package stats derives balance and movement summaries from the ledger log.
package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledger/internal/ledger"
	"github.com/congo-pay/ledger/internal/metrics"
)

const (
	// DefaultMonths is the length of the monthly breakdown.
	DefaultMonths = 6
	// DefaultCacheTTL bounds how long a cached summary is served.
	DefaultCacheTTL = 5 * time.Minute

	iteratePageSize = 200
	computeAttempts = 3
)

// MonthTotals sums the completed movements of one calendar month.
type MonthTotals struct {
	Month             string `json:"month"`
	Deposits          int64  `json:"deposits"`
	Withdrawals       int64  `json:"withdrawals"`
	TransfersSent     int64  `json:"transfers_sent"`
	TransfersReceived int64  `json:"transfers_received"`
}

// Summary is the per-user statistics projection. All totals are magnitudes.
type Summary struct {
	UserID            string        `json:"user_id"`
	CurrentBalance    int64         `json:"current_balance"`
	TotalDeposits     int64         `json:"total_deposits"`
	TotalWithdrawals  int64         `json:"total_withdrawals"`
	TotalTransfers    int64         `json:"total_transfers"`
	TransfersSent     int64         `json:"transfers_sent"`
	TransfersReceived int64         `json:"transfers_received"`
	Monthly           []MonthTotals `json:"monthly"`
	GeneratedAt       time.Time     `json:"generated_at"`
}

// Aggregator computes summaries from the store and caches them in Redis when
// a client is configured.
type Aggregator struct {
	store  ledger.Store
	cache  *redis.Client
	ttl    time.Duration
	months int
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithCache enables the Redis projection cache.
func WithCache(client *redis.Client, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = client
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithMonths sets how many calendar months the breakdown covers.
func WithMonths(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.months = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator builds an aggregator over store.
func NewAggregator(store ledger.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:  store,
		ttl:    DefaultCacheTTL,
		months: DefaultMonths,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("component", "stats"))
	return a
}

// CurrentBalance returns the wallet balance of userID.
func (a *Aggregator) CurrentBalance(ctx context.Context, userID string) (int64, error) {
	w, err := a.store.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// TotalsByKind sums the COMPLETED amounts of kind inside w. The result keeps
// the sign convention of the kind.
func (a *Aggregator) TotalsByKind(ctx context.Context, userID string, kind ledger.Kind, w ledger.Window) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown kind %q", ledger.ErrInvalidOperation, kind)
	}
	return a.store.SumCompleted(ctx, userID, kind, w)
}

// Stats returns the summary for userID, from cache when possible. A computed
// summary is cached only when no invalidation for the user happened while it
// was being built.
func (a *Aggregator) Stats(ctx context.Context, userID string) (Summary, error) {
	defer metrics.ObserveSince("stats", time.Now())

	if s, ok := a.cached(ctx, userID); ok {
		return s, nil
	}
	gen, genOK := a.generation(ctx, userID)
	s, consistent, err := a.compute(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	if consistent && genOK {
		a.remember(ctx, s, gen)
	}
	return s, nil
}

// compute builds a summary whose balance agrees with its completed totals.
// The wallet is read before and after the sums; a commit in between forces
// another pass. consistent is false when every pass raced a writer.
func (a *Aggregator) compute(ctx context.Context, userID string) (s Summary, consistent bool, err error) {
	for attempt := 0; attempt < computeAttempts; attempt++ {
		s, consistent, err = a.computeOnce(ctx, userID)
		if err != nil || consistent {
			return s, consistent, err
		}
	}
	a.logger.Warn("stats raced concurrent writes", slog.String("user_id", userID))
	return s, false, nil
}

func (a *Aggregator) computeOnce(ctx context.Context, userID string) (Summary, bool, error) {
	before, err := a.store.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return Summary{}, false, err
	}
	s := Summary{UserID: userID, CurrentBalance: before.Balance, GeneratedAt: a.now()}

	var signed int64
	totals := make(map[ledger.Kind]int64, 4)
	for _, kind := range []ledger.Kind{ledger.KindDeposit, ledger.KindWithdrawal, ledger.KindTransferOut, ledger.KindTransferIn} {
		sum, err := a.store.SumCompleted(ctx, userID, kind, ledger.Window{})
		if err != nil {
			return Summary{}, false, fmt.Errorf("sum %s: %w", kind, err)
		}
		signed += sum
		totals[kind] = abs(sum)
	}
	s.TotalDeposits = totals[ledger.KindDeposit]
	s.TotalWithdrawals = totals[ledger.KindWithdrawal]
	s.TransfersSent = totals[ledger.KindTransferOut]
	s.TransfersReceived = totals[ledger.KindTransferIn]
	s.TotalTransfers = s.TransfersSent + s.TransfersReceived

	if s.Monthly, err = a.monthly(ctx, userID); err != nil {
		return Summary{}, false, err
	}

	after, err := a.store.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return Summary{}, false, err
	}
	consistent := after.Balance == before.Balance &&
		after.UpdatedAt.Equal(before.UpdatedAt) &&
		signed == before.Balance
	return s, consistent, nil
}

// monthly walks the log newest first and stops at the first row older than
// the window.
func (a *Aggregator) monthly(ctx context.Context, userID string) ([]MonthTotals, error) {
	now := a.now().UTC()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := current.AddDate(0, -(a.months - 1), 0)

	out := make([]MonthTotals, a.months)
	index := make(map[string]*MonthTotals, a.months)
	for i := range out {
		m := start.AddDate(0, i, 0).Format("2006-01")
		out[i].Month = m
		index[m] = &out[i]
	}

	for t, err := range ledger.Iterate(ctx, a.store, userID, "", iteratePageSize) {
		if err != nil {
			return nil, fmt.Errorf("iterate transactions: %w", err)
		}
		if t.CreatedAt.Before(start) {
			break
		}
		if t.Status != ledger.StatusCompleted {
			continue
		}
		bucket, ok := index[t.CreatedAt.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		switch t.Kind {
		case ledger.KindDeposit:
			bucket.Deposits += abs(t.Amount)
		case ledger.KindWithdrawal:
			bucket.Withdrawals += abs(t.Amount)
		case ledger.KindTransferOut:
			bucket.TransfersSent += abs(t.Amount)
		case ledger.KindTransferIn:
			bucket.TransfersReceived += abs(t.Amount)
		}
	}
	return out, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
