package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/lectic-ai/lectic/internal/agents"
	"github.com/lectic-ai/lectic/internal/config"
	"github.com/lectic-ai/lectic/internal/document"
	"github.com/lectic-ai/lectic/internal/gateway"
	"github.com/lectic-ai/lectic/internal/heartbeat"
	"github.com/lectic-ai/lectic/internal/runtime"
	"github.com/lectic-ai/lectic/internal/transcript"
	"github.com/lectic-ai/lectic/internal/turns"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the lectic gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.StringFlag{
				Name:    "documents",
				Aliases: []string{"docs"},
				Usage:   "Directory to discover interlocutor documents in",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	// Setup debug logging
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	// Load config
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("documents") {
		cfg.Documents.Dir = cmd.String("documents")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Interlocutor documents
	docs, err := document.Discover(cfg.Documents.Dir, cfg.Documents.Include)
	if err != nil {
		return fmt.Errorf("discover documents: %w", err)
	}
	if len(docs) == 0 {
		slog.Warn("no interlocutor documents found", "dir", cfg.Documents.Dir, "include", cfg.Documents.Include)
	}

	// Transcript store
	transcripts, err := transcript.OpenSQLite(cfg.Transcripts.Path)
	if err != nil {
		return fmt.Errorf("open transcripts: %w", err)
	}
	defer transcripts.Close()

	// One turn store and handler per interlocutor
	names := make([]string, 0, len(docs))
	byName := make(map[string]agents.Agent, len(docs))
	for _, doc := range docs {
		it := runtime.NewInterlocutor(doc, &runtime.ScriptModel{}, transcripts)
		store := turns.NewStore(it.TurnFunc(), turns.Options{
			MaxTasksPerContext: cfg.Store.MaxTasksPerContext,
		})
		defer store.Close()

		names = append(names, it.Name)
		byName[it.Name] = agents.NewHandler(it.Name, it.Prompt, store, cfg.Store.FastPathWait.Duration())
		slog.Info("interlocutor loaded", "name", it.Name, "document", doc.Path)
	}

	// Gateway server
	server := gateway.NewServer(names, byName, cfg.Gateway.Host, cfg.Gateway.Port)

	// Heartbeat beacon for the status command
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	hb := heartbeat.NewWriter(filepath.Join(config.LecticPath(), "heartbeat.json"), addr, names)
	hb.Start()
	defer hb.Stop()

	// SIGHUP re-reads .env and the config file. Document and listener
	// changes need a restart; the reload keeps env-derived values fresh.
	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(func(next *config.Config) {
		if next.Gateway.Host != cfg.Gateway.Host || next.Gateway.Port != cfg.Gateway.Port {
			slog.Warn("gateway address changed in config, restart to apply",
				"current", addr, "configured", fmt.Sprintf("%s:%d", next.Gateway.Host, next.Gateway.Port))
		}
		slog.Info("config reloaded", "path", configPath)
	})
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := reloader.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			}
		}
	}()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
