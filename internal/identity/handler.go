package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/httpx"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Phone    string `json:"phone" validate:"required,max=32"`
	PIN      string `json:"pin" validate:"required,numeric,min=4,max=12"`
	DeviceID string `json:"device_id" validate:"max=128"`
}

type userResponse struct {
	UserID   string `json:"user_id"`
	Phone    string `json:"phone"`
	Tier     string `json:"tier"`
	DeviceID string `json:"device_id"`
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	user, err := h.service.Register(c.UserContext(), Credentials{Phone: req.Phone, PIN: req.PIN, DeviceID: req.DeviceID})
	if err != nil {
		switch {
		case errors.Is(err, ErrUserExists):
			return fiber.NewError(http.StatusConflict, "user already exists")
		case errors.Is(err, ErrWeakPIN), errors.Is(err, ErrInvalidCredentials):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return httpx.Error(err)
		}
	}
	return c.Status(http.StatusCreated).JSON(userResponse{UserID: user.ID, Phone: user.Phone, Tier: user.Tier, DeviceID: user.DeviceID})
}
