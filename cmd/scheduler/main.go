package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"esusu.org/internal/audit"
	"esusu.org/internal/config"
	"esusu.org/internal/ids"
	"esusu.org/internal/obs"
	"esusu.org/internal/payments"
	"esusu.org/internal/store/pg"
	"esusu.org/internal/tenure"
)

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)
	audit.SetLogger(logger)

	if cfg.PGDSN == "" {
		log.Fatal("ESUSU_PG_DSN is required for the scheduler")
	}
	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	codec, err := ids.NewCodec(cfg.HashSalt, cfg.HashMinLength)
	if err != nil {
		log.Fatalf("hash codec: %v", err)
	}

	svc := tenure.NewService(store, codec, payments.NewCardProcessor(),
		tenure.WithWorkers(cfg.CollectWorkers),
		tenure.WithChargeTimeout(time.Duration(cfg.ChargeTimeoutSeconds)*time.Second),
		tenure.WithChargeRateLimit(cfg.ChargeRatePerSecond, cfg.ChargeRatePerSecond),
		tenure.WithLogger(logger),
	)

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	// Promotion sweep: future tenures whose activation time has passed go live.
	if _, err := c.AddFunc(cfg.PromotionSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		promoted, err := svc.PromoteMatured(ctx)
		if err != nil {
			logger.Error("promotion sweep failed", "error", err)
			return
		}
		if promoted > 0 {
			logger.Info("promotion sweep finished", "promoted", promoted)
		}
	}); err != nil {
		log.Fatalf("schedule promotions: %v", err)
	}

	// Collection run: charge every subscription due today.
	if _, err := c.AddFunc(cfg.CollectionSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		report, err := svc.CollectDueContributions(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("collection run failed", "error", err)
			return
		}
		logger.Info("collection run finished",
			"due", report.Due,
			"collected", report.Collected,
			"failed", report.Failed,
		)
		if report.Err != nil {
			logger.Warn("collection run had charge errors", "error", report.Err)
		}
	}); err != nil {
		log.Fatalf("schedule collections: %v", err)
	}

	logger.Info("starting esusu-scheduler",
		"promotion_schedule", cfg.PromotionSchedule,
		"collection_schedule", cfg.CollectionSchedule,
	)
	c.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down, waiting for running jobs")
	<-c.Stop().Done()
	logger.Info("stopped")
}
