package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/httpx"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
	scale   int32
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service, scale int32) *Handler {
	return &Handler{service: service, scale: scale}
}

// TransferRequest is the body of a peer transfer.
type TransferRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,max=64"`
	Amount      int64  `json:"amount" validate:"gt=0,lte=1000000000000000"`
	Description string `json:"description" validate:"max=1024"`
}

// Transfer moves funds from the caller's wallet to another user's.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	var req TransferRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}

	t, err := h.service.Transfer(c.UserContext(), TransferInput{
		SenderID:    uid,
		RecipientID: req.RecipientID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return httpx.Error(err)
	}
	return c.Status(http.StatusCreated).JSON(httpx.NewTransactionView(t, h.scale))
}
