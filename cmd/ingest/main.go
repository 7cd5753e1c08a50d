// Command ingest watches the document storage directory, extracts text from
// new files and runs them through the ingestion pipeline, either in process
// or by queueing jobs on NATS for a consumer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/lawgpt/lawgpt/engine/app"
	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/ingest"
	"github.com/lawgpt/lawgpt/pkg/config"
	"github.com/lawgpt/lawgpt/pkg/extract"
)

func main() {
	var (
		configPath = flag.String("config", "lawgpt.yaml", "path to YAML config")
		envFile    = flag.String("env", ".env", "optional .env file")
		dir        = flag.String("dir", "", "storage directory to watch (overrides ingest.watch_dir)")
		queue      = flag.Bool("queue", false, "publish jobs to NATS instead of ingesting in process")
		consume    = flag.Bool("consume", false, "also run the NATS ingest consumer")
		once       = flag.Bool("once", false, "scan the directory once and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	if *dir != "" {
		cfg.Ingest.WatchDir = *dir
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(cfg, *queue, *consume, *once, logger); err != nil {
		logger.Error("ingest exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, queue, consume, once bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("close indexes", "err", err)
		}
	}()
	if cfg.Server.MetricsAddr != "" {
		defer a.Metrics.ServeAsync(cfg.Server.MetricsAddr, logger).Close()
	}

	x := extract.New(logger)
	h := handler(func(ctx context.Context, _ string, doc domain.Document) error {
		_, err := a.Ingest(ctx, doc)
		return err
	})

	if queue || consume {
		if cfg.Ingest.NATSURL == "" {
			return fmt.Errorf("ingest: nats_url is required with -queue or -consume")
		}
		nc, err := nats.Connect(cfg.Ingest.NATSURL, nats.Name("lawgpt-ingest"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()

		if consume {
			sub, err := ingest.StartConsumer(nc, a.Deps, x)
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			logger.Info("ingest consumer started", "subject", ingest.Subject)
		}
		if queue {
			h = func(ctx context.Context, path string, doc domain.Document) error {
				// Text is already extracted; the consumer only reads Path when Text is empty.
				return ingest.Enqueue(ctx, nc, ingest.Job{Document: doc, Path: path})
			}
		}
	}

	w := newWatcher(cfg.Ingest.WatchDir, cfg.Ingest.ScanInterval, x, h, logger)
	if once {
		w.scan(ctx)
		return nil
	}
	logger.Info("watching storage", "dir", cfg.Ingest.WatchDir, "interval", cfg.Ingest.ScanInterval)
	return w.run(ctx)
}
