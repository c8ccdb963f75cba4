package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lectic-ai/lectic/cmd/commands"
	"github.com/lectic-ai/lectic/internal/config"
)

func main() {
	if err := config.LoadDotenv(config.DotenvPath()); err != nil {
		slog.Warn("failed to load .env", "path", config.DotenvPath(), "error", err)
	}

	// SIGTERM matters too: serve runs under process supervisors.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := commands.NewRootCommand().Run(ctx, os.Args); err != nil {
		slog.Error("lectic exited with error", "error", err)
		os.Exit(1)
	}
}
