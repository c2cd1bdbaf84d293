package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledger/internal/auth"
	"github.com/congo-pay/ledger/internal/identity"
)

// RegisterIdentityRoutes wires onboarding.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
}

// RegisterAuthRoutes wires authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	if rateLimiter != nil {
		group.Post("/login", rateLimiter, h.Login)
	} else {
		group.Post("/login", h.Login)
	}
}
