package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pkp-relay/internal/node"
)

type networkStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// RegisterNetworkRoutes lists supported networks with their node connection state.
func RegisterNetworkRoutes(r fiber.Router, pool *node.Pool) {
	r.Get("/networks", func(c *fiber.Ctx) error {
		states := pool.States()
		out := make([]networkStatus, 0, len(states))
		for _, name := range pool.Networks() {
			out = append(out, networkStatus{Name: name, State: states[name].String()})
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"networks": out})
	})
}
