package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/httpx"
	"github.com/congo-pay/ledger/internal/identity"
)

// Handler exposes the login endpoint.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type loginRequest struct {
	Phone    string `json:"phone" validate:"required,max=32"`
	PIN      string `json:"pin" validate:"required,max=12"`
	DeviceID string `json:"device_id" validate:"max=128"`
}

// Login validates credentials and returns an access token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.Login(c.UserContext(), identity.Credentials{Phone: req.Phone, PIN: req.PIN, DeviceID: req.DeviceID})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials),
			errors.Is(err, identity.ErrDeviceMismatch),
			errors.Is(err, identity.ErrDeviceRequired):
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, "login failed")
		}
	}
	return c.Status(http.StatusOK).JSON(resp)
}
