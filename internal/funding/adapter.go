package funding

import (
	"context"
	"fmt"
	"strings"

	"github.com/congo-pay/ledger/internal/ledger"
)

// Adapter translates processor callbacks, keyed by intent reference, into
// confirmations. Duplicate and out-of-order deliveries are absorbed by
// Service.Confirm.
type Adapter struct {
	service *Service
}

// NewAdapter builds the inbound side of the processor integration.
func NewAdapter(service *Service) *Adapter {
	return &Adapter{service: service}
}

// ConfirmIntent marks the intent's transaction COMPLETED.
func (a *Adapter) ConfirmIntent(ctx context.Context, intentRef string) (ConfirmResult, error) {
	return a.ConfirmPayment(ctx, intentRef, "", string(ledger.StatusCompleted))
}

// FailIntent marks the intent's transaction FAILED.
func (a *Adapter) FailIntent(ctx context.Context, intentRef string) (ConfirmResult, error) {
	return a.ConfirmPayment(ctx, intentRef, "", string(ledger.StatusFailed))
}

// ConfirmPayment applies a processor verdict. When transactionID is given it
// must match the transaction bound to intentRef.
func (a *Adapter) ConfirmPayment(ctx context.Context, intentRef, transactionID, outcome string) (ConfirmResult, error) {
	status, err := ParseOutcome(outcome)
	if err != nil {
		return ConfirmResult{}, err
	}
	if strings.TrimSpace(intentRef) == "" {
		return ConfirmResult{}, fmt.Errorf("%w: intent reference is required", ledger.ErrInvalidOperation)
	}

	t, err := a.service.ledger.Store().GetTransactionByIntent(ctx, intentRef)
	if err != nil {
		return ConfirmResult{}, err
	}
	if transactionID != "" && transactionID != t.ID {
		return ConfirmResult{}, fmt.Errorf("%w: intent %s does not belong to transaction %s", ledger.ErrInvalidOperation, intentRef, transactionID)
	}
	return a.service.Confirm(ctx, t.ID, status)
}

// ParseOutcome accepts COMPLETED or FAILED, case-insensitively.
func ParseOutcome(outcome string) (ledger.Status, error) {
	switch s := ledger.Status(strings.ToUpper(strings.TrimSpace(outcome))); s {
	case ledger.StatusCompleted, ledger.StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown outcome %q", ledger.ErrInvalidOperation, outcome)
}
