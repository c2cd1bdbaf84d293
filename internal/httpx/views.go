package httpx

import (
	"time"

	"github.com/congo-pay/ledger/internal/ledger"
)

// TransactionView is the JSON shape of a transaction.
type TransactionView struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Amount         int64     `json:"amount"`
	AmountDisplay  string    `json:"amount_display"`
	Status         string    `json:"status"`
	Description    string    `json:"description"`
	Method         string    `json:"method,omitempty"`
	CounterpartyID string    `json:"counterparty_id,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewTransactionView renders t with amounts formatted at the currency scale.
func NewTransactionView(t ledger.Transaction, scale int32) TransactionView {
	return TransactionView{
		ID:             t.ID,
		Kind:           string(t.Kind),
		Amount:         t.Amount,
		AmountDisplay:  ledger.FormatAmount(t.Amount, scale),
		Status:         string(t.Status),
		Description:    t.Description,
		Method:         t.Method,
		CounterpartyID: t.CounterpartyID,
		CorrelationID:  t.CorrelationID,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// WalletView is the JSON shape of a wallet.
type WalletView struct {
	UserID         string    `json:"user_id"`
	Balance        int64     `json:"balance"`
	Reserved       int64     `json:"reserved"`
	Available      int64     `json:"available"`
	BalanceDisplay string    `json:"balance_display"`
	Currency       string    `json:"currency"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewWalletView renders w in the configured currency.
func NewWalletView(w ledger.Wallet, currency string, scale int32) WalletView {
	return WalletView{
		UserID:         w.UserID,
		Balance:        w.Balance,
		Reserved:       w.Reserved,
		Available:      w.Available(),
		BalanceDisplay: ledger.FormatAmount(w.Balance, scale),
		Currency:       currency,
		UpdatedAt:      w.UpdatedAt,
	}
}
