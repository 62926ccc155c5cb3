package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aigoflow/executor-service/internal/config"
	"github.com/aigoflow/executor-service/internal/dispatch"
	"github.com/aigoflow/executor-service/internal/ipc"
	"github.com/aigoflow/executor-service/internal/session"
	"github.com/aigoflow/executor-service/internal/stats"
)

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
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

	// Initialize database
	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := stats.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Mint the channel address set for this worker group. Attaching to an
	// externally-launched group derives the same set from the shared
	// group id instead.
	var addrs ipc.WorkerAddrs
	if cfg.GroupID != "" {
		addrs = ipc.GroupWorkerAddrs(cfg.SubjectPrefix, cfg.GroupID)
	} else {
		addrs = ipc.NewWorkerAddrs(cfg.SubjectPrefix)
	}
	if err := addrs.Validate(); err != nil {
		slog.Error("Invalid worker address set", "error", err)
		os.Exit(1)
	}

	// Select the session backend before opening any channel; a bad
	// configuration must fail here, not on first use.
	var sess session.Session
	if cfg.LocalWorkers > 0 {
		registry := session.NewRegistry()
		session.RegisterBuiltins(registry)
		sess, err = session.NewLocalPool(cfg.LocalWorkers, registry)
	} else {
		sess, err = session.New(cfg, addrs, cfg.NWorkers)
	}
	if err != nil {
		db.Event("error", "session.failed", "Session construction failed", map[string]interface{}{
			"error": err.Error(),
		})
		slog.Error("Failed to construct session", "error", err)
		os.Exit(1)
	}

	db.Event("info", "startup", "Coordinator starting", map[string]interface{}{
		"nats_url":    cfg.NatsURL,
		"result_addr": addrs.Result,
		"n_workers":   cfg.NWorkers,
		"http_addr":   cfg.HTTPAddr,
		"db_path":     cfg.DBPath,
	})

	// Open the coordinator-side channels
	resultCh, err := ipc.DialNats(cfg.NatsURL, addrs.Result)
	if err != nil {
		slog.Error("Failed to open result channel", "error", err)
		os.Exit(1)
	}
	statsCh, err := ipc.DialNats(cfg.NatsURL, addrs.Stats)
	if err != nil {
		slog.Error("Failed to open stats channel", "error", err)
		os.Exit(1)
	}
	kvCh, err := ipc.DialNats(cfg.NatsURL, addrs.KVCacheEvents)
	if err != nil {
		slog.Error("Failed to open KV cache events channel", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The periodical-responses flag only changes how often the drain loop
	// re-checks the channel.
	var interval time.Duration
	if cfg.PeriodicalResponses {
		interval = cfg.ResultTimeout
	}
	dispatcher := dispatch.NewDispatcher(resultCh, interval)
	dispatcher.Start()

	sink := stats.NewSink(db, statsCh)
	go sink.Run(ctx)
	go stats.ForwardKVEvents(ctx, kvCh, nil)

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		slog.Info("Metrics endpoint listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	// Verify every rank answers before accepting work.
	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if results, err := sess.SubmitSync(pingCtx, session.NewTask(session.TaskPing, nil)); err != nil {
		slog.Warn("Worker group ping incomplete", "error", err)
	} else {
		slog.Info("Worker group ready", "n_workers", len(results))
	}
	pingCancel()

	slog.Info("Coordinator started",
		"request_addr", addrs.Request,
		"result_addr", addrs.Result,
		"stats_addr", addrs.Stats)

	// Block until shutdown signal or fatal dispatch error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case <-dispatcher.Done():
		if err := dispatcher.Err(); err != nil {
			db.Event("error", "fatal", "Dispatch halted", map[string]interface{}{
				"error": err.Error(),
			})
			slog.Error("Dispatch halted on fatal error", "error", err)
		}
	}

	cancel()
	sess.Shutdown()
	dispatcher.Stop()
	statsCh.Close()
	kvCh.Close()
	httpSrv.Close()
	db.Event("info", "shutdown", "Coordinator stopped", nil)
	slog.Info("Coordinator stopped")
}
