package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicpro/dictation-sync/internal/auth"
	"github.com/clinicpro/dictation-sync/internal/config"
	"github.com/clinicpro/dictation-sync/internal/database"
	"github.com/clinicpro/dictation-sync/internal/hub"
	"github.com/clinicpro/dictation-sync/internal/metrics"
	"github.com/clinicpro/dictation-sync/internal/pairing"
	"github.com/clinicpro/dictation-sync/internal/server"
	"github.com/clinicpro/dictation-sync/internal/session"
	"github.com/clinicpro/dictation-sync/internal/sweeper"
	"github.com/clinicpro/dictation-sync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("syncd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("syncd stopped")
}

func run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	deps := server.Deps{Metrics: m, Logger: logger}

	// Storage
	var (
		sessionRepo  session.Repository
		pairingStore pairing.Store
	)
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
			"migrate", cfg.Database.Migrate,
		)
		pool, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		sessionRepo = session.NewPostgresRepository(pool)
		pairingStore = pairing.NewPostgresStore(pool)
		deps.DB = pool
		logger.Info("database connected")
	} else {
		logger.Warn("no database configured, using in-memory stores")
		sessionRepo = session.NewMemoryRepository()
		pairingStore = pairing.NewMemoryStore()
	}

	// Realtime
	sessionOpts := session.Options{
		TTL:             cfg.Sessions.TTL,
		PlaceholderName: cfg.Sessions.PlaceholderName,
		Logger:          logger,
	}
	if cfg.Auth.PrivateKeyPath != "" {
		key, err := auth.LoadPrivateKey(cfg.Auth.PrivateKeyPath)
		if err != nil {
			return err
		}
		issuer, err := auth.NewIssuer(key, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}

		h := hub.New(hub.Config{
			PingInterval:    cfg.Realtime.PingInterval,
			WriteTimeout:    cfg.Realtime.WriteTimeout,
			MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
			SendBuffer:      cfg.Realtime.SendBuffer,
		}, issuer, logger, m)
		defer h.Close()

		deps.Issuer = issuer
		deps.Hub = h
		sessionOpts.Notifier = h
		logger.Info("realtime enabled", "path", cfg.Realtime.Path, "issuer", cfg.Auth.Issuer)
	} else {
		logger.Warn("auth.private_key_path not set, realtime sync disabled")
	}

	deps.Sessions = session.NewService(sessionRepo, sessionOpts)
	deps.Pairing = pairing.NewService(pairingStore, cfg.Pairing.UserTTL, cfg.Pairing.GuestTTL, logger)

	sw := sweeper.New(sweeper.Config{Interval: cfg.Pairing.SweepInterval}, []sweeper.Job{
		sweeper.JobFunc{JobName: "pairing_tokens", Fn: func(ctx context.Context) (int, error) {
			return deps.Pairing.Purge(ctx, cfg.Pairing.Retain)
		}},
	}, logger)
	if err := sw.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := sw.Stop(stopCtx); err != nil {
			logger.Warn("stop sweeper", "error", err)
		}
	}()

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		PublicURL:    cfg.Server.PublicURL,
		MobileAppURL: cfg.Server.MobileAppURL,
		RealtimePath: cfg.Realtime.Path,
		MetricsPath:  cfg.Metrics.Path,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ListLimit:    cfg.Sessions.ListLimit,
	}, deps)

	logger.Info("syncd running", "addr", cfg.Server.Addr, "public_url", cfg.Server.PublicURL)
	return srv.Run(ctx)
}
