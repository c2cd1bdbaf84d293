package payments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/ledger/internal/ledger"
	"github.com/congo-pay/ledger/internal/metrics"
	"github.com/congo-pay/ledger/internal/notification"
)

// Directory resolves whether an account exists.
type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// CacheInvalidator drops derived per-user projections after a commit.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...string)
}

// Service moves funds between two wallets.
type Service struct {
	ledger    *ledger.Ledger
	directory Directory
	notifier  notification.Notifier
	cache     CacheInvalidator
	logger    *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier sets where transfer events are delivered.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithCache sets the projection cache invalidated after transfers.
func WithCache(c CacheInvalidator) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a payment service.
func NewService(l *ledger.Ledger, directory Directory, opts ...Option) *Service {
	s := &Service{
		ledger:    l,
		directory: directory,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "payments"))
	return s
}

// TransferInput captures the data needed to move funds between wallets.
type TransferInput struct {
	SenderID    string
	RecipientID string
	Amount      int64
	Description string
}

// Transfer moves Amount from the sender to the recipient. Both legs are
// written and completed in one store transaction while both wallets are
// locked, so either both balances change or neither does. The sender's
// TRANSFER_OUT row is returned.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (ledger.Transaction, error) {
	defer metrics.ObserveSince("transfer", time.Now())

	switch {
	case in.SenderID == "" || in.RecipientID == "":
		return ledger.Transaction{}, fmt.Errorf("%w: sender and recipient are required", ledger.ErrInvalidOperation)
	case in.SenderID == in.RecipientID:
		return ledger.Transaction{}, fmt.Errorf("%w: cannot transfer to self", ledger.ErrInvalidOperation)
	case !ledger.ValidAmount(in.Amount):
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}

	if s.directory != nil {
		ok, err := s.directory.Exists(ctx, in.RecipientID)
		if err != nil {
			return ledger.Transaction{}, fmt.Errorf("resolve recipient: %w", err)
		}
		if !ok {
			return ledger.Transaction{}, ledger.ErrRecipientNotFound
		}
	}

	description := ledger.SanitizeDescription(in.Description)
	var out, inLeg ledger.Transaction
	err := s.ledger.Update(ctx, []string{in.SenderID, in.RecipientID}, func(tx ledger.Tx) error {
		wallets, err := lockWallets(ctx, tx, in.SenderID, in.RecipientID)
		if err != nil {
			return err
		}
		if wallets[in.SenderID].Available() < in.Amount {
			return ledger.ErrInsufficientFunds
		}

		correlationID := uuid.NewString()
		if out, err = tx.AppendTransaction(ctx, ledger.Transaction{
			UserID:         in.SenderID,
			Kind:           ledger.KindTransferOut,
			Amount:         ledger.SignedAmount(ledger.KindTransferOut, in.Amount),
			CounterpartyID: in.RecipientID,
			CorrelationID:  correlationID,
			Description:    description,
		}); err != nil {
			return err
		}
		if inLeg, err = tx.AppendTransaction(ctx, ledger.Transaction{
			UserID:         in.RecipientID,
			Kind:           ledger.KindTransferIn,
			Amount:         in.Amount,
			CounterpartyID: in.SenderID,
			CorrelationID:  correlationID,
			Description:    description,
		}); err != nil {
			return err
		}

		for _, leg := range []ledger.Transaction{out, inLeg} {
			if err := tx.TransitionTransaction(ctx, leg.ID, ledger.StatusPending, ledger.StatusCompleted); err != nil {
				return err
			}
			if _, err := tx.AdjustBalance(ctx, leg.UserID, leg.Amount); err != nil {
				return err
			}
		}

		if out, err = tx.GetTransaction(ctx, out.ID); err != nil {
			return err
		}
		inLeg, err = tx.GetTransaction(ctx, inLeg.ID)
		return err
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	metrics.TransactionsCreated.WithLabelValues(string(ledger.KindTransferOut)).Inc()
	metrics.TransactionsCreated.WithLabelValues(string(ledger.KindTransferIn)).Inc()
	if s.cache != nil {
		s.cache.Invalidate(ctx, in.SenderID, in.RecipientID)
	}
	notification.Dispatch(ctx, s.notifier, s.logger, notification.FromTransaction(
		notification.KindTransferSent, out, fmt.Sprintf("You sent %d to %s", in.Amount, in.RecipientID)))
	notification.Dispatch(ctx, s.notifier, s.logger, notification.FromTransaction(
		notification.KindTransferReceived, inLeg, fmt.Sprintf("You received %d from %s", in.Amount, in.SenderID)))

	s.logger.Info("transfer completed",
		slog.String("correlation_id", out.CorrelationID),
		slog.String("sender_id", in.SenderID),
		slog.String("recipient_id", in.RecipientID),
		slog.Int64("amount", in.Amount),
	)
	return out, nil
}

// lockWallets loads the wallets in ascending user id order, so two transfers
// between the same pair take row locks in the same order whichever way the
// money flows.
func lockWallets(ctx context.Context, tx ledger.Tx, userIDs ...string) (map[string]ledger.Wallet, error) {
	ordered := slices.Clone(userIDs)
	slices.Sort(ordered)
	wallets := make(map[string]ledger.Wallet, len(ordered))
	for _, id := range ordered {
		w, err := tx.GetOrCreateWallet(ctx, id)
		if err != nil {
			return nil, err
		}
		wallets[id] = w
	}
	return wallets, nil
}
