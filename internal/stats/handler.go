package stats

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/httpx"
)

// Handler exposes the statistics endpoint.
type Handler struct {
	aggregator *Aggregator
}

// NewHandler builds a stats handler.
func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

// Get returns the caller's summary.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, err := httpx.UserID(c)
	if err != nil {
		return err
	}
	s, err := h.aggregator.Stats(c.UserContext(), uid)
	if err != nil {
		return httpx.Error(err)
	}
	return c.Status(http.StatusOK).JSON(s)
}
