package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"clustercard.org/internal/auth"
	"clustercard.org/internal/blob"
	"clustercard.org/internal/cohort"
	"clustercard.org/internal/config"
	"clustercard.org/internal/exchange"
	"clustercard.org/internal/httpapi"
	"clustercard.org/internal/obs"
	"clustercard.org/internal/profile"
	"clustercard.org/internal/store/pg"
)

var version = "1.2.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.Development)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CLUSTERCARD_COMMIT"))

	// Storage wiring. Without a DSN the service runs fully in memory, which
	// is enough for local development against seeded clusters.
	var (
		registry cohort.Registry
		profiles profile.Store
		accounts auth.Provider
		ready    httpapi.ReadyProbe
	)
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("open postgres", zap.Error(err))
		}
		defer func() { _ = store.Close() }()
		registry = store
		profiles = profile.NewPGStore(store.DB())
		accounts = auth.NewPGProvider(store.DB())
		ready = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		logger.Warn("no CLUSTERCARD_PG_DSN set; using in-memory stores")
		registry = cohort.NewInMemory()
		profiles = profile.NewInMemory()
		accounts = auth.NewInMemoryProvider()
	}

	blobs, err := blob.NewFS(cfg.BlobDir)
	if err != nil {
		logger.Fatal("open blob store", zap.Error(err))
	}

	tokens, err := auth.NewTokenService(cfg.AuthSecret)
	if err != nil {
		logger.Fatal("token service", zap.Error(err))
	}

	coordinator := exchange.NewCoordinator(registry, profiles, blobs, logger)

	api := httpapi.New(httpapi.Deps{
		Registry:       registry,
		Profiles:       profiles,
		Accounts:       accounts,
		Tokens:         tokens,
		Blobs:          blobs,
		Exchange:       coordinator,
		Ready:          ready,
		Log:            logger,
		Version:        version,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
		AllowedOrigins: cfg.AllowedOrigins,
		AdminEmails:    cfg.AdminEmails,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting clustercard-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Info("stopped")
}
