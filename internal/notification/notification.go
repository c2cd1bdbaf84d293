package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/congo-pay/ledger/internal/ledger"
)

// Ledger event kinds.
const (
	KindDepositCompleted    = "deposit_completed"
	KindWithdrawalCompleted = "withdrawal_completed"
	KindTransactionFailed   = "transaction_failed"
	KindTransferSent        = "transfer_sent"
	KindTransferReceived    = "transfer_received"
)

// Message describes a committed ledger event for one user.
type Message struct {
	Kind          string    `json:"kind"`
	Destination   string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Amount        int64     `json:"amount"`
	Body          string    `json:"body"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems. Delivery happens
// after the ledger commit; a failed send never undoes the movement.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// FromTransaction builds the event for a committed transaction.
func FromTransaction(kind string, t ledger.Transaction, body string) Message {
	return Message{
		Kind:          kind,
		Destination:   t.UserID,
		TransactionID: t.ID,
		CorrelationID: t.CorrelationID,
		Amount:        t.Amount,
		Body:          body,
		OccurredAt:    t.UpdatedAt,
	}
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("transaction_id", message.TransactionID),
		slog.Int64("amount", message.Amount),
		slog.String("body", message.Body),
	)
	return nil
}

// SendTimeout bounds how long Dispatch waits on a notifier.
var SendTimeout = 2 * time.Second

// Dispatch sends message and logs delivery failures instead of returning them.
// The send outlives cancellation of ctx but never runs past SendTimeout, so a
// slow downstream cannot hold the caller.
func Dispatch(ctx context.Context, n Notifier, logger *slog.Logger, message Message) {
	if n == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SendTimeout)
	defer cancel()
	if err := n.Send(sendCtx, message); err != nil && logger != nil {
		logger.Warn("notification delivery failed",
			slog.String("kind", message.Kind),
			slog.String("transaction_id", message.TransactionID),
			slog.Any("error", err),
		)
	}
}
