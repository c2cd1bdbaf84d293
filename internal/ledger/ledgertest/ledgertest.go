// Package ledgertest provides store backends and consistency checks for tests
// of packages built on the ledger.
package ledgertest

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/congo-pay/ledger/internal/ledger"
)

// OpenSQLite opens a private in-memory sqlite database that lives until the
// test ends.
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
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
	return db
}

// NewSQLite returns a migrated store over OpenSQLite.
func NewSQLite(t testing.TB) ledger.Store {
	t.Helper()
	store := ledger.NewGormStore(OpenSQLite(t))
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

// ForEachBackend runs test once per embedded store backend.
func ForEachBackend(t *testing.T, test func(t *testing.T, store ledger.Store)) {
	t.Helper()
	backends := []struct {
		name  string
		build func(testing.TB) ledger.Store
	}{
		{"memory", func(testing.TB) ledger.Store { return ledger.NewInMemory() }},
		{"sqlite", NewSQLite},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			test(t, b.build(t))
		})
	}
}

// AssertInvariant walks each user's full transaction log and fails the test
// unless the wallet balance equals the sum of COMPLETED amounts and the
// reservation equals the PENDING withdrawals.
func AssertInvariant(t testing.TB, store ledger.Store, userIDs ...string) {
	t.Helper()
	ctx := context.Background()
	for _, userID := range userIDs {
		var completed, pendingWithdrawals int64
		for txn, err := range ledger.Iterate(ctx, store, userID, "", 0) {
			if err != nil {
				t.Fatalf("iterate %s: %v", userID, err)
			}
			switch {
			case txn.Status == ledger.StatusCompleted:
				completed += txn.Amount
			case txn.Status == ledger.StatusPending && txn.Kind == ledger.KindWithdrawal:
				pendingWithdrawals -= txn.Amount
			}
		}

		w, err := store.GetOrCreateWallet(ctx, userID)
		if err != nil {
			t.Fatalf("wallet %s: %v", userID, err)
		}
		if w.Balance != completed {
			t.Fatalf("%s: balance %d does not match completed log total %d", userID, w.Balance, completed)
		}
		if w.Reserved != pendingWithdrawals {
			t.Fatalf("%s: reserved %d does not match pending withdrawals %d", userID, w.Reserved, pendingWithdrawals)
		}
		if w.Balance < 0 || w.Available() < 0 {
			t.Fatalf("%s: negative funds %+v", userID, w)
		}
	}
}
