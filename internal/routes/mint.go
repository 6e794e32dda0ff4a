package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pkp-relay/internal/capacity"
	"github.com/congo-pay/pkp-relay/internal/pkp"
)

// RegisterMintRoutes wires the PKP mint endpoints behind the per-caller limiter.
func RegisterMintRoutes(r fiber.Router, h *pkp.Handler, limiter fiber.Handler) {
	r.Post("/mint", limiter, h.Mint)
	r.Post("/mint-pkp", limiter, h.MintSignAnything)
}

// RegisterCapacityRoutes wires capacity delegation endpoints.
func RegisterCapacityRoutes(r fiber.Router, h *capacity.Handler) {
	r.Post("/capacity-credits", h.Delegate)
}
