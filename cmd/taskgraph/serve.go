package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/taskgraph/internal/config"
	"github.com/untoldecay/taskgraph/internal/engine"
	"github.com/untoldecay/taskgraph/internal/rpc"
	"github.com/untoldecay/taskgraph/internal/storage/sqlite"
	"github.com/untoldecay/taskgraph/internal/webui"
)

// checkpointInterval is how often the WAL is folded back into the main
// database file while serving.
const checkpointInterval = 30 * time.Second

var serveUI bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP stdio server (the default command)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveUI, "ui", false, "also serve the read-only dashboard")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Stdout carries the JSON-RPC stream; logs go to a rotating file.
	log := newLogger(cfg)
	slog.SetDefault(log)

	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	eng := engine.New(store, log, engine.WithClaimTTL(cfg.ClaimTTL))
	srv := rpc.New(eng, cfg.Agent, log)

	log.Info("taskgraph starting",
		"db", cfg.DBPath, "agent", cfg.Agent, "claim_ttl", cfg.ClaimTTL)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ServeStdio(ctx)
	})

	if serveUI {
		dash := webui.New(eng, cfg.UIPort, log)
		g.Go(dash.ListenAndServe)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return dash.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(checkpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := store.Checkpoint(ctx); err != nil {
					log.Warn("checkpoint failed", "error", err)
				}
			}
		}
	})

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		// Shutdown via signal or client disconnect is a clean exit.
		err = nil
	}
	log.Info("taskgraph stopped")
	return err
}

// loadConfig merges flags over the environment/file configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagAgent != "" {
		cfg.Agent = flagAgent
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	sink := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: level}))
}

// newStderrLogger is for human-facing commands where the log can go to the
// terminal instead of the file.
func newStderrLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
