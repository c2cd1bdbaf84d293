package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledger/internal/funding"
	"github.com/congo-pay/ledger/internal/ledger"
	"github.com/congo-pay/ledger/internal/logging"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestStatsExcludesFailedAndPending(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewInMemory()
	svc := funding.NewService(ledger.New(store), nil)

	dep, err := svc.RequestDeposit(ctx, funding.DepositInput{UserID: "u", Amount: 100, PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Confirm(ctx, dep.ID, ledger.StatusCompleted); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.RequestWithdrawal(ctx, funding.WithdrawalInput{UserID: "u", Amount: 150, WithdrawalMethod: "bank", AccountDetails: "x"}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	failed, err := svc.RequestDeposit(ctx, funding.DepositInput{UserID: "u", Amount: 70, PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Confirm(ctx, failed.ID, ledger.StatusFailed); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := svc.RequestDeposit(ctx, funding.DepositInput{UserID: "u", Amount: 5, PaymentMethod: "card"}); err != nil {
		t.Fatalf("pending deposit: %v", err)
	}

	s, err := NewAggregator(store).Stats(ctx, "u")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.TotalDeposits != 100 || s.TotalWithdrawals != 0 || s.CurrentBalance != 100 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if len(s.Monthly) != DefaultMonths {
		t.Fatalf("expected %d months, got %d", DefaultMonths, len(s.Monthly))
	}
	if last := s.Monthly[len(s.Monthly)-1]; last.Deposits != 100 {
		t.Fatalf("expected current month to hold the deposit, got %+v", last)
	}
}

func TestStatsTransfersAndMonthlyBreakdown(t *testing.T) {
	ctx := context.Background()
	var clock time.Time
	store := ledger.NewInMemory(ledger.WithClock(func() time.Time { return clock }))

	at := func(ts time.Time, userID string, kind ledger.Kind, amount int64) {
		t.Helper()
		clock = ts
		err := store.WithinTx(ctx, func(tx ledger.Tx) error {
			row, err := tx.AppendTransaction(ctx, ledger.Transaction{UserID: userID, Kind: kind, Amount: amount, CorrelationID: "c"})
			if err != nil {
				return err
			}
			if err := tx.TransitionTransaction(ctx, row.ID, ledger.StatusPending, ledger.StatusCompleted); err != nil {
				return err
			}
			_, err = tx.AdjustBalance(ctx, userID, amount)
			return err
		})
		if err != nil {
			t.Fatalf("write %s: %v", kind, err)
		}
	}

	at(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), "u", ledger.KindDeposit, 1_000)
	at(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), "u", ledger.KindDeposit, 500)
	at(time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), "u", ledger.KindTransferOut, -200)
	at(time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC), "u", ledger.KindTransferIn, 50)
	at(time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), "u", ledger.KindWithdrawal, -300)

	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(store, WithMonths(3), WithClock(func() time.Time { return now }))
	s, err := agg.Stats(ctx, "u")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if s.TotalDeposits != 1_500 || s.TotalWithdrawals != 300 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	if s.TransfersSent != 200 || s.TransfersReceived != 50 || s.TotalTransfers != 250 {
		t.Fatalf("unexpected transfer totals: %+v", s)
	}
	if s.CurrentBalance != 1_050 {
		t.Fatalf("expected balance 1050, got %d", s.CurrentBalance)
	}

	want := []MonthTotals{
		{Month: "2025-04", Deposits: 500},
		{Month: "2025-05", TransfersSent: 200},
		{Month: "2025-06", Withdrawals: 300, TransfersReceived: 50},
	}
	if len(s.Monthly) != len(want) {
		t.Fatalf("expected %d months, got %+v", len(want), s.Monthly)
	}
	for i := range want {
		if s.Monthly[i] != want[i] {
			t.Fatalf("month %d: expected %+v, got %+v", i, want[i], s.Monthly[i])
		}
	}

	sum, err := agg.TotalsByKind(ctx, "u", ledger.KindDeposit, ledger.Window{Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil || sum != 500 {
		t.Fatalf("windowed deposits: %d, %v", sum, err)
	}
	if _, err := agg.TotalsByKind(ctx, "u", "BOGUS", ledger.Window{}); !errors.Is(err, ledger.ErrInvalidOperation) {
		t.Fatalf("expected invalid kind rejection, got %v", err)
	}
}

func TestStatsCacheAndInvalidate(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)
	store := ledger.NewInMemory()
	agg := NewAggregator(store, WithCache(client, time.Minute), WithLogger(logging.Discard()))

	if _, err := ledger.SeedBalance(ctx, store, "u", 40); err != nil {
		t.Fatalf("seed: %v", err)
	}
	first, err := agg.Stats(ctx, "u")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !mr.Exists(cacheKey("u")) {
		t.Fatalf("expected summary to be cached")
	}

	if _, err := ledger.SeedBalance(ctx, store, "u", 60); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cached, err := agg.Stats(ctx, "u")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if cached.TotalDeposits != first.TotalDeposits {
		t.Fatalf("expected cached summary, got %+v", cached)
	}

	agg.Invalidate(ctx, "u", "someone-else")
	if mr.Exists(cacheKey("u")) {
		t.Fatalf("expected cache entry to be dropped")
	}
	fresh, err := agg.Stats(ctx, "u")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if fresh.TotalDeposits != 100 || fresh.CurrentBalance != 100 {
		t.Fatalf("unexpected fresh summary: %+v", fresh)
	}
}

func TestStatsFallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)
	store := ledger.NewInMemory()
	agg := NewAggregator(store, WithCache(client, time.Minute))
	if _, err := ledger.SeedBalance(ctx, store, "u", 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mr.Close()
	s, err := agg.Stats(ctx, "u")
	if err != nil {
		t.Fatalf("stats should not depend on the cache: %v", err)
	}
	if s.CurrentBalance != 10 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

// pausingStore blocks the first SumCompleted call until release is closed.
type pausingStore struct {
	ledger.Store
	once    sync.Once
	paused  chan struct{}
	release chan struct{}
}

func (s *pausingStore) SumCompleted(ctx context.Context, userID string, kind ledger.Kind, w ledger.Window) (int64, error) {
	s.once.Do(func() {
		close(s.paused)
		<-s.release
	})
	return s.Store.SumCompleted(ctx, userID, kind, w)
}

func TestStatsConfirmDuringComputeIsNotCachedStale(t *testing.T) {
	ctx := context.Background()
	client, _ := setupRedis(t)
	base := ledger.NewInMemory()
	slow := &pausingStore{Store: base, paused: make(chan struct{}), release: make(chan struct{})}
	agg := NewAggregator(slow, WithCache(client, time.Minute), WithLogger(logging.Discard()))
	svc := funding.NewService(ledger.New(base), nil, funding.WithCache(agg))

	dep, err := svc.RequestDeposit(ctx, funding.DepositInput{UserID: "u", Amount: 100, PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	type result struct {
		s   Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := agg.Stats(ctx, "u")
		done <- result{s, err}
	}()

	<-slow.paused
	if _, err := svc.Confirm(ctx, dep.ID, ledger.StatusCompleted); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	close(slow.release)

	r := <-done
	if r.err != nil {
		t.Fatalf("stats: %v", r.err)
	}
	if r.s.CurrentBalance != r.s.TotalDeposits {
		t.Fatalf("summary contradicts itself: %+v", r.s)
	}

	fresh, err := agg.Stats(ctx, "u")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if fresh.CurrentBalance != 100 || fresh.TotalDeposits != 100 {
		t.Fatalf("expected confirmed deposit in summary, got %+v", fresh)
	}
}

func TestStatsSummaryOutdatedByInvalidateIsNotCached(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)
	agg := NewAggregator(ledger.NewInMemory(), WithCache(client, time.Minute), WithLogger(logging.Discard()))

	gen, ok := agg.generation(ctx, "u")
	if !ok {
		t.Fatalf("expected generation to be readable")
	}
	agg.Invalidate(ctx, "u")
	agg.remember(ctx, Summary{UserID: "u", CurrentBalance: 1}, gen)
	if mr.Exists(cacheKey("u")) {
		t.Fatalf("summary computed before the invalidation must not be cached")
	}

	gen, _ = agg.generation(ctx, "u")
	agg.remember(ctx, Summary{UserID: "u", CurrentBalance: 2}, gen)
	if !mr.Exists(cacheKey("u")) {
		t.Fatalf("expected current summary to be cached")
	}
}
