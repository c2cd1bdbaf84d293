package funding

import (
	"context"

	"github.com/google/uuid"

	"github.com/congo-pay/ledger/internal/ledger"
)

// Processor represents the connector to the external payment processor.
// Calls are made after the wallet lock is released.
type Processor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Receipt, error)
}

// IntentRequest carries what the processor needs to collect or pay out funds.
// AccountDetails is forwarded as-is and never stored by the ledger.
type IntentRequest struct {
	IntentRef      string
	TransactionID  string
	UserID         string
	Kind           ledger.Kind
	Amount         int64
	Method         string
	AccountDetails string
}

// Receipt captures the processor's acknowledgement of an intent.
type Receipt struct {
	Reference string
	Status    string
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, req IntentRequest) (Receipt, error)

// CreateIntent calls f.
func (f ProcessorFunc) CreateIntent(ctx context.Context, req IntentRequest) (Receipt, error) {
	return f(ctx, req)
}

// StaticProcessor simulates a processor that accepts every intent. The
// outcome arrives later through the webhook.
type StaticProcessor struct{}

// CreateIntent accepts the intent with a synthetic reference.
func (StaticProcessor) CreateIntent(_ context.Context, _ IntentRequest) (Receipt, error) {
	return Receipt{Reference: uuid.NewString(), Status: "accepted"}, nil
}
