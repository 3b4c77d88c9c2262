package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vibe-trader/internal/app"
	"vibe-trader/internal/config"
	"vibe-trader/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("server shut down")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// ---- Services ----
	a, err := app.Build(ctx, cfg, logger, false)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to release resources", "err", err)
		}
	}()

	go func() {
		if _, err := a.Portfolio.WarmSnapshots(ctx); err != nil {
			logger.Warn("failed to warm snapshot cache", "err", err)
		}
	}()

	// ---- HTTP ----
	deps := server.Deps{
		Chat:        a.Chat,
		Portfolio:   a.Portfolio,
		Leaderboard: a.Leaderboard,
		Gate:        a.Gate,
		Events:      a.Events,
		Auth:        a.Auth,
		Metrics:     a.Metrics,
	}
	if !cfg.Production() {
		deps.Admin = a.Admin
	}
	srv, err := server.New(deps, server.Options{
		FrontendURL: cfg.Server.FrontendURL,
		Production:  cfg.Production(),
	}, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	logger.Info("starting vibe-trader",
		"env", cfg.Server.Env,
		"wallet", a.Execution.Taker(),
		"buy_amount_sol", cfg.BuyAmount().String(),
	)
	return srv.Run(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
}
