package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/executor-service/internal/config"
	"github.com/aigoflow/executor-service/internal/ipc"
	"github.com/aigoflow/executor-service/internal/session"
)

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	var rank = flag.Int("rank", 0, "Rank of this worker within its group")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// The channel address set arrives through the environment, either as
	// five explicit addresses or derived from a shared group id. An
	// incomplete set means this worker must not start.
	addrs, err := ipc.AddrsFromEnv()
	if err != nil {
		if cfg.GroupID == "" {
			slog.Error("Invalid worker address set", "error", err)
			os.Exit(1)
		}
		addrs = ipc.GroupWorkerAddrs(cfg.SubjectPrefix, cfg.GroupID)
	}

	conn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		slog.Error("Failed to connect to NATS", "url", cfg.NatsURL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	registry := session.NewRegistry()
	session.RegisterBuiltins(registry)

	server, err := session.NewRankServer(conn, addrs, registry, *rank)
	if err != nil {
		slog.Error("Failed to create rank server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	go server.ReportStats(ctx, 5*time.Second)

	if err := server.Serve(ctx); err != nil {
		slog.Error("Worker rank failed", "worker_id", server.WorkerID(), "error", err)
		os.Exit(1)
	}
}
