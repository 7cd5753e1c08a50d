// Package main implements the LawGPT API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lawgpt/lawgpt/engine/app"
	"github.com/lawgpt/lawgpt/pkg/config"
	"github.com/lawgpt/lawgpt/pkg/extract"
	"github.com/lawgpt/lawgpt/pkg/mid"
)

const maxBodyBytes = 8 << 20

func main() {
	configPath := flag.String("config", "lawgpt.yaml", "path to YAML config")
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	// Indexes are flushed and closed after the HTTP server has drained.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("close indexes", "err", err)
		}
	}()

	var nc *nats.Conn
	if cfg.Ingest.NATSURL != "" {
		nc, err = nats.Connect(cfg.Ingest.NATSURL, nats.Name("lawgpt-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newServer(a, nc, extract.New(logger), logger).routes(cfg.Server.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	if cfg.Server.MetricsAddr != "" {
		msrv := a.Metrics.ServeAsync(cfg.Server.MetricsAddr, logger)
		defer msrv.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func (s *server) routes(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/records", s.handleAddRecords)
	mux.HandleFunc("POST /api/records/rebuild", s.handleRebuild)
	mux.HandleFunc("POST /api/records/similar", s.handleSimilar)
	mux.Handle("GET /metrics", s.app.Metrics.Handler())

	return mid.Chain(mux,
		mid.Recover(s.logger),
		mid.RequestID(),
		mid.OTel("lawgpt-api"),
		mid.Logger(s.logger),
		mid.CORS(corsOrigin),
		mid.MaxBytes(maxBodyBytes),
	)
}
