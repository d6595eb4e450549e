package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esusu.org/internal/audit"
	"esusu.org/internal/config"
	"esusu.org/internal/httpapi"
	"esusu.org/internal/ids"
	"esusu.org/internal/obs"
	"esusu.org/internal/payments"
	"esusu.org/internal/store/pg"
	"esusu.org/internal/tenure"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)
	audit.SetLogger(logger)

	codec, err := ids.NewCodec(cfg.HashSalt, cfg.HashMinLength)
	if err != nil {
		log.Fatalf("hash codec: %v", err)
	}

	// Postgres when a DSN is set; in-memory otherwise, so the API can run
	// standalone in development. /readyz pings the DB only when one exists.
	var (
		store   tenure.Store
		probe   httpapi.ReadyProbe
		pgStore *pg.Store
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		logger.Warn("ESUSU_PG_DSN not set, using in-memory store")
		store = tenure.NewInMemory()
	}

	svc := tenure.NewService(store, codec, payments.NewCardProcessor(),
		tenure.WithWorkers(cfg.CollectWorkers),
		tenure.WithChargeTimeout(time.Duration(cfg.ChargeTimeoutSeconds)*time.Second),
		tenure.WithChargeRateLimit(cfg.ChargeRatePerSecond, cfg.ChargeRatePerSecond),
		tenure.WithLogger(logger),
	)

	api := httpapi.New(probe, version, svc, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting esusu-api", "version", version, "addr", srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	logger.Info("stopped")
}
