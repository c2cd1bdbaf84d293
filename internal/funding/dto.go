package funding

import "github.com/congo-pay/ledger/internal/httpx"

// DepositRequest captures user-provided data to fund a wallet.
type DepositRequest struct {
	Amount        int64  `json:"amount" validate:"gt=0,lte=1000000000000000"`
	PaymentMethod string `json:"payment_method" validate:"required,max=64"`
	Description   string `json:"description" validate:"max=1024"`
}

// WithdrawalRequest captures payout details. AccountDetails goes to the
// processor only.
type WithdrawalRequest struct {
	Amount           int64  `json:"amount" validate:"gt=0,lte=1000000000000000"`
	WithdrawalMethod string `json:"withdrawal_method" validate:"required,max=64"`
	AccountDetails   string `json:"account_details" validate:"required,max=256"`
	Description      string `json:"description" validate:"max=1024"`
}

// WebhookRequest is the processor's confirm_payment callback.
type WebhookRequest struct {
	IntentRef     string `json:"intent_ref" validate:"required"`
	TransactionID string `json:"transaction_id"`
	Outcome       string `json:"outcome" validate:"required"`
}

// IntentResponse is returned when a deposit or withdrawal is requested.
type IntentResponse struct {
	Transaction httpx.TransactionView `json:"transaction"`
	IntentRef   string                `json:"intent_ref"`
	Error       string                `json:"error,omitempty"`
}

// WebhookResponse acknowledges a processed callback.
type WebhookResponse struct {
	Transaction httpx.TransactionView `json:"transaction"`
	Applied     bool                  `json:"applied"`
}
