package ledger

import (
	"context"
	"time"
)

// Kind classifies a transaction row.
type Kind string

const (
	KindDeposit     Kind = "DEPOSIT"
	KindWithdrawal  Kind = "WITHDRAWAL"
	KindTransferOut Kind = "TRANSFER_OUT"
	KindTransferIn  Kind = "TRANSFER_IN"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransferOut, KindTransferIn:
		return true
	}
	return false
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Wallet is the per-user balance record. Balance is the sum of all COMPLETED
// transaction amounts; Reserved holds funds promised to pending withdrawals.
type Wallet struct {
	UserID    string
	Balance   int64
	Reserved  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the balance that can still be debited.
func (w Wallet) Available() int64 {
	return w.Balance - w.Reserved
}

// Transaction is an append-only record of a requested balance change.
type Transaction struct {
	ID             string
	UserID         string
	Kind           Kind
	Amount         int64
	Status         Status
	CounterpartyID string
	CorrelationID  string
	IntentRef      string
	Method         string
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Window bounds a query to [Start, End). Zero values leave a side open.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// ListQuery selects a page of a user's transactions, newest first.
type ListQuery struct {
	Kind   Kind
	Offset int
	Limit  int
}

// Tx exposes the mutating operations of a store inside one atomic unit.
type Tx interface {
	GetOrCreateWallet(ctx context.Context, userID string) (Wallet, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	AppendTransaction(ctx context.Context, t Transaction) (Transaction, error)
	TransitionTransaction(ctx context.Context, id string, expected, next Status) error
	AdjustBalance(ctx context.Context, userID string, delta int64) (Wallet, error)
	AdjustReserved(ctx context.Context, userID string, delta int64) (Wallet, error)
}

// Store is the durable home of wallets and the transaction log. It is the only
// component that touches persistent state.
type Store interface {
	GetOrCreateWallet(ctx context.Context, userID string) (Wallet, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	GetTransactionByIntent(ctx context.Context, intentRef string) (Transaction, error)
	ListTransactions(ctx context.Context, userID string, q ListQuery) ([]Transaction, error)
	SumCompleted(ctx context.Context, userID string, kind Kind, w Window) (int64, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Transaction, error)
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
