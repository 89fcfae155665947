package main

import (
	"log/slog"
	"os"

	"github.com/dwizi/switchboard/internal/cli"
	"github.com/dwizi/switchboard/internal/config"
)

func main() {
	cfg := config.FromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	if err := cli.NewRoot(logger).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
