package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/pkp-relay/internal/apperr"
)

// Audit emits one structured log line per relay request. Failed requests carry
// the error kind so mint and delegation failures can be told apart.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID := RequestIDFrom(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if err == nil {
			logger.Info("request completed", append(attrs, slog.Int("status", status))...)
			return nil
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if kind := apperr.KindOf(err); kind != "" {
			status = apperr.HTTPStatus(err)
			attrs = append(attrs, slog.String("kind", string(kind)))
		}
		attrs = append(attrs, slog.Int("status", status), slog.Any("error", err))
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", attrs...)
		} else {
			logger.Warn("request rejected", attrs...)
		}
		return err
	}
}
