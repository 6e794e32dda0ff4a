package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/pkp-relay/internal/capacity"
	"github.com/congo-pay/pkp-relay/internal/config"
	"github.com/congo-pay/pkp-relay/internal/contracts"
	"github.com/congo-pay/pkp-relay/internal/ledger"
	"github.com/congo-pay/pkp-relay/internal/middleware"
	"github.com/congo-pay/pkp-relay/internal/node"
	"github.com/congo-pay/pkp-relay/internal/notification"
	"github.com/congo-pay/pkp-relay/internal/pkp"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	Dataset contracts.Dataset
	Backend ledger.Backend
	Signer  *ledger.Signer
	Cache   *redis.Client
	Logger  *slog.Logger
	// NodeFactory overrides how node clients are built; nil uses Cfg.
	NodeFactory node.Factory
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Backend == nil || d.Signer == nil {
		return fmt.Errorf("ledger backend and signer are required")
	}
	if !d.Cfg.IsDevelopment() && d.Cache == nil {
		d.Logger.Warn("redis not configured; idempotency and mint rate limiting disabled", slog.String("env", d.Cfg.AppEnv))
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	registry, err := contracts.NewRegistry(d.Dataset, d.Backend, d.Signer)
	if err != nil {
		return err
	}
	notifier := notification.NewLoggerNotifier(d.Logger)
	gas := pkp.NewGasPolicy(d.Cfg.GasLimitPercent, d.Cfg.GasLimitBaseDefault)
	mintSvc := pkp.NewService(registry, gas, notifier, d.Logger, pkp.Options{
		MintTimeout:       d.Cfg.MintTimeout,
		PollInterval:      d.Cfg.ReceiptPollInterval,
		RequireSignedAuth: d.Cfg.RequireSignedAuth,
	})

	factory := d.NodeFactory
	if factory == nil {
		factory = nodeFactory(d.Cfg, d.Backend)
	}
	pool := node.NewPool(registry.Networks(), factory, node.PoolConfig{
		MaxAttempts:     d.Cfg.ConnectMaxAttempts,
		InitialInterval: d.Cfg.ConnectInitialInterval,
		ConnectTimeout:  d.Cfg.ConnectTimeout,
	}, d.Logger)

	allowances := capacity.NewStaticAllowance(capacity.Allowance{
		ID:            d.Cfg.CapacityTokenID,
		RatePerSecond: d.Cfg.CapacityRatePerSecond,
		ExpiresAt:     d.Cfg.CapacityExpiresAt,
	})
	issuer := capacity.NewIssuer(pool, d.Signer, allowances, notifier, d.Logger, capacity.IssuerConfig{
		Uses: d.Cfg.DelegationUses,
		TTL:  d.Cfg.DelegationTTL,
	})

	mintHandler := pkp.NewHandler(mintSvc)
	capacityHandler := capacity.NewHandler(issuer)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID := middleware.RequestIDFrom(c)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Relay routes are served at the root, where existing clients call them.
	RegisterMintRoutes(app, mintHandler, middleware.MintRateLimit(d.Cache, d.Cfg.MintRatePerMinute))
	RegisterCapacityRoutes(app, capacityHandler)
	RegisterNetworkRoutes(app, pool)

	return nil
}

// nodeFactory handshakes with configured threshold nodes and falls back to
// the ledger's latest header for networks without node URLs.
func nodeFactory(cfg config.Config, backend ledger.Backend) node.Factory {
	return func(network string) (node.Client, error) {
		if urls := cfg.NodeURLsFor(network); len(urls) > 0 {
			return node.NewHandshakeClient(network, urls, cfg.MinHandshakes, nil), nil
		}
		return node.NewLedgerClient(network, backend), nil
	}
}
