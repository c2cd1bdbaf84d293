package funding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/ledger/internal/ledger"
	"github.com/congo-pay/ledger/internal/metrics"
	"github.com/congo-pay/ledger/internal/notification"
)

// CacheInvalidator drops derived per-user projections after a commit.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...string)
}

// Service is the transaction authority for deposits and withdrawals. It owns
// the PENDING to terminal lifecycle of those rows.
type Service struct {
	ledger    *ledger.Ledger
	processor Processor
	notifier  notification.Notifier
	cache     CacheInvalidator
	logger    *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier sets where committed events are delivered.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithCache sets the projection cache invalidated after commits.
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

// NewService wires the funding flows. A nil processor defaults to StaticProcessor.
func NewService(l *ledger.Ledger, processor Processor, opts ...Option) *Service {
	if processor == nil {
		processor = StaticProcessor{}
	}
	s := &Service{
		ledger:    l,
		processor: processor,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "funding"))
	return s
}

// DepositInput captures a request to fund a wallet from an external source.
type DepositInput struct {
	UserID        string
	Amount        int64
	PaymentMethod string
	Description   string
}

// WithdrawalInput captures a request to pay funds out of a wallet.
type WithdrawalInput struct {
	UserID           string
	Amount           int64
	WithdrawalMethod string
	AccountDetails   string
	Description      string
}

// ConfirmResult reports the transaction after a confirmation and whether this
// call changed it.
type ConfirmResult struct {
	Transaction ledger.Transaction
	Applied     bool
}

// RequestDeposit records a PENDING deposit and hands the intent to the
// processor. The balance only moves when the deposit is confirmed. When the
// processor cannot be reached the transaction is still returned, PENDING,
// together with an ErrExternalGateway error.
func (s *Service) RequestDeposit(ctx context.Context, in DepositInput) (ledger.Transaction, error) {
	defer metrics.ObserveSince("request_deposit", time.Now())

	method := strings.TrimSpace(in.PaymentMethod)
	switch {
	case in.UserID == "":
		return ledger.Transaction{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidOperation)
	case !ledger.ValidAmount(in.Amount):
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	case method == "":
		return ledger.Transaction{}, fmt.Errorf("%w: payment method is required", ledger.ErrInvalidOperation)
	}

	created, err := s.open(ctx, ledger.Transaction{
		UserID:      in.UserID,
		Kind:        ledger.KindDeposit,
		Amount:      in.Amount,
		IntentRef:   newIntentRef(),
		Method:      method,
		Description: ledger.SanitizeDescription(in.Description),
	}, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.submit(ctx, created, "")
}

// RequestWithdrawal records a PENDING withdrawal and reserves its amount in
// the same unit, so concurrent debits cannot spend the funds twice.
func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (ledger.Transaction, error) {
	defer metrics.ObserveSince("request_withdrawal", time.Now())

	method := strings.TrimSpace(in.WithdrawalMethod)
	switch {
	case in.UserID == "":
		return ledger.Transaction{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidOperation)
	case !ledger.ValidAmount(in.Amount):
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	case method == "":
		return ledger.Transaction{}, fmt.Errorf("%w: withdrawal method is required", ledger.ErrInvalidOperation)
	}

	created, err := s.open(ctx, ledger.Transaction{
		UserID:      in.UserID,
		Kind:        ledger.KindWithdrawal,
		Amount:      ledger.SignedAmount(ledger.KindWithdrawal, in.Amount),
		IntentRef:   newIntentRef(),
		Method:      method,
		Description: ledger.SanitizeDescription(in.Description),
	}, func(ctx context.Context, tx ledger.Tx) error {
		w, err := tx.GetOrCreateWallet(ctx, in.UserID)
		if err != nil {
			return err
		}
		if w.Available() < in.Amount {
			return ledger.ErrInsufficientFunds
		}
		_, err = tx.AdjustReserved(ctx, in.UserID, in.Amount)
		return err
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.submit(ctx, created, in.AccountDetails)
}

// open appends a PENDING row under the wallet lock, running check first.
func (s *Service) open(ctx context.Context, t ledger.Transaction, check func(context.Context, ledger.Tx) error) (ledger.Transaction, error) {
	var created ledger.Transaction
	err := s.ledger.Update(ctx, []string{t.UserID}, func(tx ledger.Tx) error {
		if _, err := tx.GetOrCreateWallet(ctx, t.UserID); err != nil {
			return err
		}
		if check != nil {
			if err := check(ctx, tx); err != nil {
				return err
			}
		}
		var err error
		created, err = tx.AppendTransaction(ctx, t)
		return err
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	metrics.TransactionsCreated.WithLabelValues(string(t.Kind)).Inc()
	s.invalidate(ctx, t.UserID)
	return created, nil
}

// submit hands a freshly created row to the processor.
func (s *Service) submit(ctx context.Context, t ledger.Transaction, accountDetails string) (ledger.Transaction, error) {
	receipt, err := s.processor.CreateIntent(ctx, IntentRequest{
		IntentRef:      t.IntentRef,
		TransactionID:  t.ID,
		UserID:         t.UserID,
		Kind:           t.Kind,
		Amount:         magnitude(t.Amount),
		Method:         t.Method,
		AccountDetails: accountDetails,
	})
	if err != nil {
		s.logger.Warn("processor rejected intent",
			slog.String("transaction_id", t.ID),
			slog.String("intent_ref", t.IntentRef),
			slog.Any("error", err),
		)
		return t, fmt.Errorf("%w: %v", ledger.ErrExternalGateway, err)
	}
	s.logger.Info("intent created",
		slog.String("transaction_id", t.ID),
		slog.String("kind", string(t.Kind)),
		slog.String("intent_ref", t.IntentRef),
		slog.String("processor_ref", receipt.Reference),
	)
	return t, nil
}

// Confirm moves a PENDING deposit or withdrawal to outcome. It is safe to call
// repeatedly and concurrently: a transaction already in outcome is returned
// unchanged, and only the first call applies the balance effect.
func (s *Service) Confirm(ctx context.Context, transactionID string, outcome ledger.Status) (ConfirmResult, error) {
	defer metrics.ObserveSince("confirm", time.Now())

	if outcome != ledger.StatusCompleted && outcome != ledger.StatusFailed {
		return ConfirmResult{}, fmt.Errorf("%w: outcome must be COMPLETED or FAILED", ledger.ErrInvalidOperation)
	}

	current, err := s.ledger.Store().GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			s.logger.Warn("confirmation for unknown transaction", slog.String("transaction_id", transactionID))
			s.countConfirmation(outcome, metrics.ResultRejected)
		}
		return ConfirmResult{}, err
	}
	if current.Kind == ledger.KindTransferOut || current.Kind == ledger.KindTransferIn {
		s.countConfirmation(outcome, metrics.ResultRejected)
		return ConfirmResult{}, fmt.Errorf("%w: transfer legs cannot be confirmed individually", ledger.ErrInvalidOperation)
	}
	if res, done, err := settled(current, outcome); done {
		s.recordSettled(outcome, err)
		return res, err
	}

	var result ConfirmResult
	var settledErr error
	err = s.ledger.Update(ctx, []string{current.UserID}, func(tx ledger.Tx) error {
		result, settledErr = ConfirmResult{}, nil
		t, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if res, done, err := settled(t, outcome); done {
			result, settledErr = res, err
			return err
		}

		if err := tx.TransitionTransaction(ctx, t.ID, ledger.StatusPending, outcome); err != nil {
			return err
		}
		if err := applyOutcome(ctx, tx, t, outcome); err != nil {
			return err
		}
		if result.Transaction, err = tx.GetTransaction(ctx, t.ID); err != nil {
			return err
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		if settledErr != nil {
			s.recordSettled(outcome, settledErr)
		}
		return ConfirmResult{}, err
	}
	if !result.Applied {
		s.recordSettled(outcome, nil)
		return result, nil
	}

	s.countConfirmation(outcome, metrics.ResultApplied)
	s.invalidate(ctx, result.Transaction.UserID)
	s.notify(ctx, result.Transaction)
	s.logger.Info("transaction confirmed",
		slog.String("transaction_id", result.Transaction.ID),
		slog.String("kind", string(result.Transaction.Kind)),
		slog.String("status", string(result.Transaction.Status)),
	)
	return result, nil
}

// settled reports whether t no longer needs work for outcome.
func settled(t ledger.Transaction, outcome ledger.Status) (ConfirmResult, bool, error) {
	switch {
	case t.Status == outcome:
		return ConfirmResult{Transaction: t}, true, nil
	case t.Status.Terminal():
		return ConfirmResult{}, true, fmt.Errorf("%w: transaction %s is already %s", ledger.ErrInvalidStateTransition, t.ID, t.Status)
	}
	return ConfirmResult{}, false, nil
}

func applyOutcome(ctx context.Context, tx ledger.Tx, t ledger.Transaction, outcome ledger.Status) error {
	if outcome == ledger.StatusCompleted {
		if _, err := tx.AdjustBalance(ctx, t.UserID, t.Amount); err != nil {
			return err
		}
	}
	if t.Kind == ledger.KindWithdrawal {
		if _, err := tx.AdjustReserved(ctx, t.UserID, -magnitude(t.Amount)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordSettled(outcome ledger.Status, err error) {
	if err != nil {
		s.countConfirmation(outcome, metrics.ResultRejected)
		return
	}
	s.countConfirmation(outcome, metrics.ResultDuplicate)
}

func (s *Service) countConfirmation(outcome ledger.Status, result string) {
	metrics.Confirmations.WithLabelValues(string(outcome), result).Inc()
}

func (s *Service) notify(ctx context.Context, t ledger.Transaction) {
	var kind, body string
	switch {
	case t.Status == ledger.StatusFailed:
		kind, body = notification.KindTransactionFailed, fmt.Sprintf("%s %s failed", strings.ToLower(string(t.Kind)), t.ID)
	case t.Kind == ledger.KindDeposit:
		kind, body = notification.KindDepositCompleted, fmt.Sprintf("Deposit of %d completed", t.Amount)
	default:
		kind, body = notification.KindWithdrawalCompleted, fmt.Sprintf("Withdrawal of %d completed", magnitude(t.Amount))
	}
	notification.Dispatch(ctx, s.notifier, s.logger, notification.FromTransaction(kind, t, body))
}

func (s *Service) invalidate(ctx context.Context, userIDs ...string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userIDs...)
	}
}

func newIntentRef() string {
	return "int_" + uuid.NewString()
}

func magnitude(amount int64) int64 {
	if amount < 0 {
		return -amount
	}
	return amount
}
