package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/cambio-core/internal/audit"
	"github.com/example/cambio-core/internal/config"
	"github.com/example/cambio-core/internal/ledger"
	"github.com/example/cambio-core/internal/matching"
	"github.com/example/cambio-core/internal/notify"
	"github.com/example/cambio-core/internal/operation"
	"github.com/example/cambio-core/internal/scheduler"
	"github.com/example/cambio-core/internal/store"
)

const auditFlushInterval = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	txm := store.NewTxManager(pool, logger)

	ledgerSvc := ledger.NewService(ledger.NewPostgresStore(pool), txm, nil, logger)
	matcher := matching.NewEngine(matching.NewPostgresStore(pool), txm, logger)

	var notifier operation.EventPublisher
	if cfg.AMQPURL != "" {
		pub, err := notify.NewRabbitPublisher(cfg.AMQPURL, notify.DefaultExchange, logger)
		if err != nil {
			logger.Error("failed to connect to broker", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		notifier = pub
	} else {
		logger.Warn("AMQP_URL not set, notification fan-out disabled")
	}

	opSvc := operation.NewService(operation.NewPostgresStore(pool), txm, ledgerSvc, matcher, notifier, logger)

	var flushTrail func()
	if cfg.AuditArchivePath != "" {
		db, err := sql.Open("sqlite3", cfg.AuditArchivePath)
		if err != nil {
			logger.Error("failed to open audit archive", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		archive, err := audit.NewStore(db)
		if err != nil {
			logger.Error("failed to initialize audit archive", "error", err)
			os.Exit(1)
		}
		head, err := archive.Head(ctx)
		if err != nil {
			logger.Error("failed to read audit archive head", "error", err)
			os.Exit(1)
		}
		trail := audit.ResumeChain(head)
		opSvc.SetAuditTrail(trail)

		flushTrail = func() {
			entries := trail.Drain()
			if len(entries) == 0 {
				return
			}
			if err := archive.Archive(context.Background(), entries); err != nil {
				logger.Error("failed to archive audit entries", "error", err, "count", len(entries))
			}
		}
		go func() {
			ticker := time.NewTicker(auditFlushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					flushTrail()
				}
			}
		}()
	}

	sweeper := scheduler.NewSweeper(opSvc, cfg.SweepInterval, cfg.ExpiryWindow, logger)
	sweeper.Start(ctx)

	logger.Info("exchange lifecycle core running",
		"env", cfg.Environment,
		"sweep_interval", cfg.SweepInterval.String(),
		"expiry_window", cfg.ExpiryWindow.String(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	sweeper.Stop()
	cancel()
	if flushTrail != nil {
		flushTrail()
	}
}
