package pkp

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/identity"
)

// Handler exposes the mint endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a mint HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type mintRequest struct {
	AuthMethod identity.AuthMethod `json:"authMethod"`
	Network    string              `json:"network"`
	Options    *Overrides          `json:"options,omitempty"`
}

type mintResponse struct {
	PKP Record `json:"pkp"`
}

// Mint handles POST /mint.
func (h *Handler) Mint(c *fiber.Ctx) error {
	req, err := parseMintRequest(c)
	if err != nil {
		return err
	}
	var overrides Overrides
	if req.Options != nil {
		overrides = *req.Options
	}
	return h.mint(c, req, overrides)
}

// MintSignAnything handles POST /mint-pkp. Callers that send no scope
// override get a single sign-anything scope per auth method.
func (h *Handler) MintSignAnything(c *fiber.Ctx) error {
	req, err := parseMintRequest(c)
	if err != nil {
		return err
	}
	var overrides Overrides
	if req.Options != nil {
		overrides = *req.Options
	}
	if overrides.PermittedAuthMethodScopes == nil {
		overrides.PermittedAuthMethodScopes = [][]Numeric{{"1"}}
	}
	return h.mint(c, req, overrides)
}

func (h *Handler) mint(c *fiber.Ctx, req mintRequest, overrides Overrides) error {
	rec, err := h.service.Mint(c.UserContext(), req.Network, req.AuthMethod, overrides)
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(mintResponse{PKP: rec})
}

func parseMintRequest(c *fiber.Ctx) (mintRequest, error) {
	var req mintRequest
	if err := c.BodyParser(&req); err != nil {
		return mintRequest{}, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	req.Network = strings.TrimSpace(req.Network)
	if req.Network == "" {
		return mintRequest{}, fiber.NewError(http.StatusBadRequest, "network is required")
	}
	return req, nil
}
