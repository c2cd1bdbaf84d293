package funding

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/httpx"
	"github.com/congo-pay/ledger/internal/ledger"
)

// Handler exposes HTTP endpoints for deposits, withdrawals and the processor webhook.
type Handler struct {
	service       *Service
	adapter       *Adapter
	webhookSecret []byte
	scale         int32
	logger        *slog.Logger
}

// NewHandler constructs a funding handler. scale is the currency's number of
// decimal places used for display amounts.
func NewHandler(service *Service, adapter *Adapter, webhookSecret string, scale int32) *Handler {
	return &Handler{
		service:       service,
		adapter:       adapter,
		webhookSecret: []byte(webhookSecret),
		scale:         scale,
		logger:        service.logger,
	}
}

// Deposit requests an external deposit into the caller's wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req DepositRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}

	t, err := h.service.RequestDeposit(c.UserContext(), DepositInput{
		UserID:        uid,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Description:   req.Description,
	})
	return h.respondIntent(c, t, err)
}

// Withdraw requests a payout from the caller's wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req WithdrawalRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}

	t, err := h.service.RequestWithdrawal(c.UserContext(), WithdrawalInput{
		UserID:           uid,
		Amount:           req.Amount,
		WithdrawalMethod: req.WithdrawalMethod,
		AccountDetails:   req.AccountDetails,
		Description:      req.Description,
	})
	return h.respondIntent(c, t, err)
}

func (h *Handler) respondIntent(c *fiber.Ctx, t ledger.Transaction, err error) error {
	if err != nil {
		// the row exists and stays PENDING; hand it back so the client can poll
		if errors.Is(err, ledger.ErrExternalGateway) && t.ID != "" {
			return c.Status(http.StatusBadGateway).JSON(IntentResponse{
				Transaction: httpx.NewTransactionView(t, h.scale),
				IntentRef:   t.IntentRef,
				Error:       err.Error(),
			})
		}
		return httpx.Error(err)
	}
	return c.Status(http.StatusCreated).JSON(IntentResponse{
		Transaction: httpx.NewTransactionView(t, h.scale),
		IntentRef:   t.IntentRef,
	})
}

// Webhook receives processor verdicts. The body must be signed with the
// shared secret.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	if !VerifySignature(h.webhookSecret, body, c.Get(SignatureHeader)) {
		h.logger.Warn("webhook signature mismatch", slog.String("ip", c.IP()))
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}

	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := httpx.Validate(&req); err != nil {
		return err
	}

	res, err := h.adapter.ConfirmPayment(c.UserContext(), req.IntentRef, req.TransactionID, req.Outcome)
	if err != nil {
		return httpx.Error(err)
	}
	return c.Status(http.StatusOK).JSON(WebhookResponse{
		Transaction: httpx.NewTransactionView(res.Transaction, h.scale),
		Applied:     res.Applied,
	})
}
