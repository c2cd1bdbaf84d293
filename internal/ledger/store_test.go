package ledger

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// every connection to :memory: is its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store := NewGormStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func forEachStore(t *testing.T, test func(t *testing.T, store Store)) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewInMemory() },
		"sqlite": newSQLiteStore,
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			test(t, build(t))
		})
	}
}

func appendPending(t *testing.T, store Store, txn Transaction) Transaction {
	t.Helper()
	var out Transaction
	err := store.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		out, err = tx.AppendTransaction(context.Background(), txn)
		return err
	})
	if err != nil {
		t.Fatalf("append transaction: %v", err)
	}
	return out
}

func TestStore_GetOrCreateWalletIsLazyAndStable(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		w, err := store.GetOrCreateWallet(ctx, "user-a")
		if err != nil {
			t.Fatalf("create wallet: %v", err)
		}
		if w.UserID != "user-a" || w.Balance != 0 || w.Reserved != 0 {
			t.Fatalf("unexpected new wallet: %+v", w)
		}

		again, err := store.GetOrCreateWallet(ctx, "user-a")
		if err != nil {
			t.Fatalf("get wallet: %v", err)
		}
		if !again.CreatedAt.Equal(w.CreatedAt) {
			t.Fatalf("wallet recreated: %v vs %v", again.CreatedAt, w.CreatedAt)
		}
	})
}

func TestStore_CompletedDepositMovesBalance(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		deposit := appendPending(t, store, Transaction{UserID: "user-a", Kind: KindDeposit, Amount: 5_000, IntentRef: "int_1"})
		if deposit.Status != StatusPending || deposit.ID == "" {
			t.Fatalf("unexpected appended row: %+v", deposit)
		}

		w, _ := store.GetOrCreateWallet(ctx, "user-a")
		if w.Balance != 0 {
			t.Fatalf("pending deposit must not credit, balance=%d", w.Balance)
		}

		err := store.WithinTx(ctx, func(tx Tx) error {
			if err := tx.TransitionTransaction(ctx, deposit.ID, StatusPending, StatusCompleted); err != nil {
				return err
			}
			_, err := tx.AdjustBalance(ctx, "user-a", deposit.Amount)
			return err
		})
		if err != nil {
			t.Fatalf("complete deposit: %v", err)
		}

		w, _ = store.GetOrCreateWallet(ctx, "user-a")
		if w.Balance != 5_000 {
			t.Fatalf("expected balance 5000, got %d", w.Balance)
		}
		got, err := store.GetTransactionByIntent(ctx, "int_1")
		if err != nil {
			t.Fatalf("get by intent: %v", err)
		}
		if got.ID != deposit.ID || got.Status != StatusCompleted {
			t.Fatalf("unexpected row by intent: %+v", got)
		}
	})
}

func TestStore_TransitionIsCompareAndSet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		row := appendPending(t, store, Transaction{UserID: "user-a", Kind: KindDeposit, Amount: 100})

		err := store.WithinTx(ctx, func(tx Tx) error {
			return tx.TransitionTransaction(ctx, row.ID, StatusPending, StatusFailed)
		})
		if err != nil {
			t.Fatalf("fail row: %v", err)
		}

		err = store.WithinTx(ctx, func(tx Tx) error {
			return tx.TransitionTransaction(ctx, row.ID, StatusPending, StatusCompleted)
		})
		if !errors.Is(err, ErrInvalidStateTransition) {
			t.Fatalf("expected invalid state transition, got %v", err)
		}

		err = store.WithinTx(ctx, func(tx Tx) error {
			return tx.TransitionTransaction(ctx, "missing", StatusPending, StatusCompleted)
		})
		if !errors.Is(err, ErrTransactionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestStore_FailedUnitLeavesNoTrace(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		err := store.WithinTx(ctx, func(tx Tx) error {
			if _, err := tx.AppendTransaction(ctx, Transaction{UserID: "user-a", Kind: KindWithdrawal, Amount: -10}); err != nil {
				return err
			}
			_, err := tx.AdjustBalance(ctx, "user-a", -10)
			return err
		})
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("expected insufficient funds, got %v", err)
		}

		rows, err := store.ListTransactions(ctx, "user-a", ListQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(rows) != 0 {
			t.Fatalf("rolled back unit left %d rows", len(rows))
		}
	})
}

func TestStore_DuplicateIntentRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		appendPending(t, store, Transaction{UserID: "user-a", Kind: KindDeposit, Amount: 100, IntentRef: "int_dup"})

		err := store.WithinTx(ctx, func(tx Tx) error {
			_, err := tx.AppendTransaction(ctx, Transaction{UserID: "user-b", Kind: KindDeposit, Amount: 100, IntentRef: "int_dup"})
			return err
		})
		if !errors.Is(err, ErrDuplicateIntent) {
			t.Fatalf("expected duplicate intent, got %v", err)
		}
	})
}

func TestStore_ListTransactionsNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			appendPending(t, store, Transaction{UserID: "user-a", Kind: KindDeposit, Amount: int64(100 + i)})
		}
		appendPending(t, store, Transaction{UserID: "user-a", Kind: KindWithdrawal, Amount: -50})
		appendPending(t, store, Transaction{UserID: "user-b", Kind: KindDeposit, Amount: 1})

		all, err := store.ListTransactions(ctx, "user-a", ListQuery{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 4 {
			t.Fatalf("expected 4 rows, got %d", len(all))
		}
		for i := 1; i < len(all); i++ {
			if all[i].CreatedAt.After(all[i-1].CreatedAt) {
				t.Fatalf("rows not ordered newest first at %d", i)
			}
		}

		deposits, _ := store.ListTransactions(ctx, "user-a", ListQuery{Kind: KindDeposit})
		if len(deposits) != 3 {
			t.Fatalf("expected 3 deposits, got %d", len(deposits))
		}

		page, _ := store.ListTransactions(ctx, "user-a", ListQuery{Offset: 1, Limit: 2})
		if len(page) != 2 || page[0].ID != all[1].ID || page[1].ID != all[2].ID {
			t.Fatalf("unexpected page: %+v", page)
		}
	})
}

func TestStore_SumCompletedAndStalePending(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := SeedBalance(ctx, store, "user-a", 700); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if _, err := SeedBalance(ctx, store, "user-a", 300); err != nil {
			t.Fatalf("seed: %v", err)
		}
		pending := appendPending(t, store, Transaction{UserID: "user-a", Kind: KindDeposit, Amount: 999})

		sum, err := store.SumCompleted(ctx, "user-a", KindDeposit, Window{})
		if err != nil {
			t.Fatalf("sum: %v", err)
		}
		if sum != 1_000 {
			t.Fatalf("expected completed sum 1000, got %d", sum)
		}

		future := Window{Start: time.Now().Add(time.Hour)}
		if sum, _ := store.SumCompleted(ctx, "user-a", KindDeposit, future); sum != 0 {
			t.Fatalf("expected empty window sum 0, got %d", sum)
		}

		stale, err := store.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
		if err != nil {
			t.Fatalf("stale: %v", err)
		}
		if len(stale) != 1 || stale[0].ID != pending.ID {
			t.Fatalf("expected only the pending deposit, got %+v", stale)
		}
		if none, _ := store.ListStalePending(ctx, time.Now().Add(-time.Hour), 10); len(none) != 0 {
			t.Fatalf("fresh rows reported stale: %+v", none)
		}
	})
}

func TestStore_ReservationCannotGoNegative(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		err := store.WithinTx(ctx, func(tx Tx) error {
			w, err := tx.AdjustReserved(ctx, "user-a", 40)
			if err != nil {
				return err
			}
			if w.Reserved != 40 {
				t.Errorf("expected reserved 40, got %d", w.Reserved)
			}
			_, err = tx.AdjustReserved(ctx, "user-a", -40)
			return err
		})
		if err != nil {
			t.Fatalf("reserve and release: %v", err)
		}

		err = store.WithinTx(ctx, func(tx Tx) error {
			_, err := tx.AdjustReserved(ctx, "user-a", -1)
			return err
		})
		if !errors.Is(err, ErrInvalidOperation) {
			t.Fatalf("expected invalid operation, got %v", err)
		}
	})
}

func TestStore_BalanceOverflowRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		if _, err := SeedBalance(ctx, store, "user-a", math.MaxInt64); err != nil {
			t.Fatalf("seed: %v", err)
		}

		err := store.WithinTx(ctx, func(tx Tx) error {
			_, err := tx.AdjustBalance(ctx, "user-a", 1)
			return err
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected invalid amount on overflow, got %v", err)
		}
		if w, _ := store.GetOrCreateWallet(ctx, "user-a"); w.Balance != math.MaxInt64 {
			t.Fatalf("overflowing credit changed the balance to %d", w.Balance)
		}

		err = store.WithinTx(ctx, func(tx Tx) error {
			_, err := tx.AdjustBalance(ctx, "user-a", -1)
			return err
		})
		if err != nil {
			t.Fatalf("debit from the maximum balance: %v", err)
		}
		if w, _ := store.GetOrCreateWallet(ctx, "user-a"); w.Balance != math.MaxInt64-1 {
			t.Fatalf("expected balance %d, got %d", int64(math.MaxInt64-1), w.Balance)
		}
	})
}
