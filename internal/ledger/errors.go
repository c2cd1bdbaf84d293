package ledger

import "errors"

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive and within limits")

	// ErrInsufficientFunds occurs when a debit exceeds the available balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidOperation covers requests that can never succeed, such as a
	// transfer to oneself.
	ErrInvalidOperation = errors.New("ledger: invalid operation")

	// ErrRecipientNotFound means the transfer target has no resolvable account.
	ErrRecipientNotFound = errors.New("ledger: recipient not found")

	// ErrTransactionNotFound is returned for unknown transaction ids or intent refs.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")

	// ErrInvalidStateTransition is the compare-and-set failure on a transaction status.
	ErrInvalidStateTransition = errors.New("ledger: invalid state transition")

	// ErrExternalGateway signals the payment processor could not be reached.
	// The transaction stays PENDING.
	ErrExternalGateway = errors.New("ledger: external gateway error")

	// ErrConflict is a transient write conflict between concurrent writers.
	ErrConflict = errors.New("ledger: write conflict")

	// ErrDuplicateIntent is returned when an intent reference is already bound.
	ErrDuplicateIntent = errors.New("ledger: duplicate intent reference")
)

// IsRetryable reports whether the operation may succeed if attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
