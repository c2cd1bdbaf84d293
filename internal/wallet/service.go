package wallet

import (
	"context"
	"fmt"

	"github.com/congo-pay/ledger/internal/ledger"
)

// Service exposes the read side of a user's wallet. It never takes wallet
// locks; reads see the last committed state.
type Service struct {
	store ledger.Store
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// Get returns the caller's wallet, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, userID string) (ledger.Wallet, error) {
	if userID == "" {
		return ledger.Wallet{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidOperation)
	}
	return s.store.GetOrCreateWallet(ctx, userID)
}

// Transactions returns one page of the caller's history.
func (s *Service) Transactions(ctx context.Context, in ListInput) (Page, error) {
	if in.UserID == "" {
		return Page{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidOperation)
	}
	switch {
	case in.Page < 1:
		return Page{}, fmt.Errorf("%w: page must be at least 1", ledger.ErrInvalidOperation)
	case in.Limit < 1 || in.Limit > MaxPageLimit:
		return Page{}, fmt.Errorf("%w: limit must be between 1 and %d", ledger.ErrInvalidOperation, MaxPageLimit)
	case in.Kind != "" && !in.Kind.Valid():
		return Page{}, fmt.Errorf("%w: unknown kind %q", ledger.ErrInvalidOperation, in.Kind)
	}

	// one extra row tells whether another page exists
	items, err := s.store.ListTransactions(ctx, in.UserID, ledger.ListQuery{
		Kind:   in.Kind,
		Offset: (in.Page - 1) * in.Limit,
		Limit:  in.Limit + 1,
	})
	if err != nil {
		return Page{}, err
	}
	page := Page{Page: in.Page, Limit: in.Limit}
	if len(items) > in.Limit {
		items, page.HasMore = items[:in.Limit], true
	}
	page.Items = items
	return page, nil
}

// Transaction returns one of the caller's transactions. Rows owned by other
// users are reported as not found.
func (s *Service) Transaction(ctx context.Context, userID, id string) (ledger.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if t.UserID != userID {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return t, nil
}
