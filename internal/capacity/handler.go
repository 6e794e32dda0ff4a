package capacity

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/auth"
)

// Handler exposes capacity delegation endpoints.
type Handler struct {
	issuer *Issuer
}

// NewHandler constructs a capacity HTTP handler.
func NewHandler(issuer *Issuer) *Handler {
	return &Handler{issuer: issuer}
}

type delegateRequest struct {
	Network       string `json:"network"`
	WalletAddress string `json:"walletAddress"`
}

type delegateResponse struct {
	CapacityDelegationAuthSig auth.AuthSig `json:"capacityDelegationAuthSig"`
}

// Delegate handles POST /capacity-credits.
func (h *Handler) Delegate(c *fiber.Ctx) error {
	var req delegateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	req.Network = strings.TrimSpace(req.Network)
	if req.Network == "" {
		return fiber.NewError(http.StatusBadRequest, "network is required")
	}

	authz, err := h.issuer.Issue(c.UserContext(), IssueInput{
		Network:    req.Network,
		Delegatees: []string{strings.TrimSpace(req.WalletAddress)},
	})
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(delegateResponse{CapacityDelegationAuthSig: authz.AuthSig})
}
