// Paygate - programmable payment gateway with escrow and internal ledger
package main

import (
	"context"
	"os"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/config"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/logging"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/server"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting paygate",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"chain_id", cfg.ChainID,
		"chain_mock", cfg.ChainMock,
		"settlement_mock", cfg.SettlementMock,
	)

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(ctx) }()

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
