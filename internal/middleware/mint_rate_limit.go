package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/pkp-relay/internal/identity"
)

const mintRateLimitPrefix = "rl:mint:"

// MintRateLimit limits mint requests per identity address or IP using Redis if available.
func MintRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		key := mintRateLimitPrefix + callerKey(c)
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err == nil && cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many mint requests, try again later")
		}
		return c.Next()
	}
}

func callerKey(c *fiber.Ctx) string {
	var req struct {
		AuthMethod identity.AuthMethod `json:"authMethod"`
	}
	if err := c.BodyParser(&req); err == nil {
		if addr, err := identity.ParseAddress(req.AuthMethod); err == nil {
			return strings.ToLower(addr)
		}
	}
	return c.IP()
}
