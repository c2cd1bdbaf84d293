package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/congo-pay/ledger/internal/funding"
	"github.com/congo-pay/ledger/internal/ledger"
)

func TestRunOnceFailsOnlyStaleRows(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	store := ledger.NewInMemory(ledger.WithClock(func() time.Time { return clock }))
	svc := funding.NewService(ledger.New(store), nil)
	if _, err := ledger.SeedBalance(ctx, store, "u", 100); err != nil {
		t.Fatalf("seed: %v", err)
	}

	oldDeposit, err := svc.RequestDeposit(ctx, funding.DepositInput{UserID: "u", Amount: 10, PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	oldWithdrawal, err := svc.RequestWithdrawal(ctx, funding.WithdrawalInput{UserID: "u", Amount: 60, WithdrawalMethod: "bank", AccountDetails: "x"})
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	confirmed, err := svc.RequestDeposit(ctx, funding.DepositInput{UserID: "u", Amount: 5, PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Confirm(ctx, confirmed.ID, ledger.StatusCompleted); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	clock = clock.Add(23 * time.Hour)
	fresh, err := svc.RequestDeposit(ctx, funding.DepositInput{UserID: "u", Amount: 7, PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	clock = clock.Add(2 * time.Hour)
	r := New(store, svc, 24*time.Hour, time.Minute, WithClock(func() time.Time { return clock }))
	n, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 stale rows failed, got %d", n)
	}

	for id, want := range map[string]ledger.Status{
		oldDeposit.ID:    ledger.StatusFailed,
		oldWithdrawal.ID: ledger.StatusFailed,
		confirmed.ID:     ledger.StatusCompleted,
		fresh.ID:         ledger.StatusPending,
	} {
		got, err := store.GetTransaction(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != want {
			t.Fatalf("%s: expected %s, got %s", id, want, got.Status)
		}
	}

	w, err := store.GetOrCreateWallet(ctx, "u")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.Balance != 105 || w.Reserved != 0 {
		t.Fatalf("expected reservation released and balance 105, got %+v", w)
	}

	if n, err := r.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("second pass: n=%d err=%v", n, err)
	}
}

func TestDisabledReconcilerDoesNothing(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewInMemory()
	svc := funding.NewService(ledger.New(store), nil)
	if _, err := svc.RequestDeposit(ctx, funding.DepositInput{UserID: "u", Amount: 10, PaymentMethod: "card"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	r := New(store, svc, 0, time.Minute)
	if r.Enabled() {
		t.Fatalf("expected zero max age to disable the reconciler")
	}
	if n, err := r.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("expected no work, got n=%d err=%v", n, err)
	}

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("disabled Run should return immediately")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := ledger.NewInMemory()
	r := New(store, funding.NewService(ledger.New(store), nil), time.Hour, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
