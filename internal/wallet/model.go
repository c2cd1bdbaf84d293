package wallet

import "github.com/congo-pay/ledger/internal/ledger"

const (
	// DefaultPageLimit is used when a list request names no limit.
	DefaultPageLimit = 20
	// MaxPageLimit caps the size of a single page.
	MaxPageLimit = 100
)

// ListInput selects a page of the caller's history. Page is 1-based and Limit
// must be within [1, MaxPageLimit].
type ListInput struct {
	UserID string
	Kind   ledger.Kind
	Page   int
	Limit  int
}

// Page is one slice of a user's transaction history, newest first.
type Page struct {
	Items   []ledger.Transaction
	Page    int
	Limit   int
	HasMore bool
}
