package wallet

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/httpx"
	"github.com/congo-pay/ledger/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service  *Service
	currency string
	scale    int32
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, currency string, scale int32) *Handler {
	return &Handler{service: service, currency: currency, scale: scale}
}

type listResponse struct {
	Items   []httpx.TransactionView `json:"items"`
	Page    int                     `json:"page"`
	Limit   int                     `json:"limit"`
	HasMore bool                    `json:"has_more"`
}

// Get returns the caller's wallet.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	w, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return httpx.Error(err)
	}
	return c.Status(http.StatusOK).JSON(httpx.NewWalletView(w, h.currency, h.scale))
}

// Transactions lists the caller's history.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	page, err := h.service.Transactions(c.UserContext(), ListInput{
		UserID: uid,
		Kind:   ledger.Kind(strings.ToUpper(c.Query("kind"))),
		Page:   c.QueryInt("page", 1),
		Limit:  c.QueryInt("limit", DefaultPageLimit),
	})
	if err != nil {
		return httpx.Error(err)
	}

	resp := listResponse{
		Items:   make([]httpx.TransactionView, 0, len(page.Items)),
		Page:    page.Page,
		Limit:   page.Limit,
		HasMore: page.HasMore,
	}
	for _, t := range page.Items {
		resp.Items = append(resp.Items, httpx.NewTransactionView(t, h.scale))
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// Transaction returns a single transaction. Clients poll it while a deposit
// or withdrawal is PENDING.
func (h *Handler) Transaction(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	t, err := h.service.Transaction(c.UserContext(), uid, c.Params("transactionId"))
	if err != nil {
		return httpx.Error(err)
	}
	return c.Status(http.StatusOK).JSON(httpx.NewTransactionView(t, h.scale))
}
