package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/pkp-relay/internal/config"
	"github.com/congo-pay/pkp-relay/internal/contracts"
	"github.com/congo-pay/pkp-relay/internal/infra"
	"github.com/congo-pay/pkp-relay/internal/ledger"
	"github.com/congo-pay/pkp-relay/internal/logging"
	"github.com/congo-pay/pkp-relay/internal/server"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)

	ctx := context.Background()

	signer, err := ledger.NewSigner(cfg.HolderKey)
	if err != nil {
		logger.Error("load signer", "error", err)
		os.Exit(1)
	}
	logger.Info("signer loaded", "address", signer.Address().Hex())

	dataset, err := contracts.LoadDataset(cfg.ContractsFile)
	if err != nil {
		logger.Error("load contracts", "error", err)
		os.Exit(1)
	}

	var backend ledger.Backend
	if cfg.InMemoryLedger {
		network := dataset.Names()[0]
		dataset, err = dataset.Only(network)
		if err != nil {
			logger.Error("load contracts", "error", err)
			os.Exit(1)
		}
		entry := dataset.Networks[network]
		backend = ledger.NewInMemory(ledger.InMemoryConfig{
			NFT:    common.HexToAddress(entry.Contracts[string(contracts.RoleRegistry)]),
			Helper: common.HexToAddress(entry.Contracts[string(contracts.RoleHelper)]),
		})
		logger.Warn("using in-memory ledger", "network", network)
	} else {
		client, err := infra.DialLedger(ctx, cfg.RPCURL)
		if err != nil {
			logger.Error("connect ledger", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		backend = client
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, dataset, backend, signer, cache, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
