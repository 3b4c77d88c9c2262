package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"vibe-trader/handler"
	"vibe-trader/internal/app"
	"vibe-trader/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// ---- Read-side services ----
	a, err := app.Build(ctx, cfg, logger, true)
	if err != nil {
		logger.Error("failed to build services", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Portfolio, a.Leaderboard, a.Auth, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
