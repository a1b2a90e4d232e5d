package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/peercam/config"
	"github.com/mossy-p/peercam/internal/handlers"
	"github.com/mossy-p/peercam/internal/logger"
	"github.com/mossy-p/peercam/internal/metrics"
	"github.com/mossy-p/peercam/internal/redis"
	"github.com/mossy-p/peercam/internal/registry"
	"github.com/mossy-p/peercam/internal/relay"
	"github.com/mossy-p/peercam/internal/session"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log, cfg.Environment); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	m := metrics.New()

	regOpts := registry.Options{
		MaxPeers:  cfg.Registry.MaxPeers,
		Generator: registry.NanoIDGenerator(cfg.Registry.IDLength),
		Logger:    logger.Named("registry"),
		Metrics:   m,
	}

	// Connect to Redis
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redis.Connect(ctx, cfg.Redis)
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()

		regOpts.Presence = redis.NewPresence(client, cfg.Redis.PresenceTTL, instanceName())
		regOpts.PresenceRefresh = cfg.Redis.PresenceTTL / 2
		logger.Info("Redis connection established", zap.String("host", cfg.Redis.Host))
	}

	reg := registry.New(regOpts)
	rel := relay.New(cfg.Signaling.SendBuffer, logger.Named("relay"), m)
	coord := session.NewCoordinator(reg, session.Options{
		Policy:         session.Policy(cfg.Session.Policy),
		PendingTimeout: cfg.Session.PendingTimeout,
		TombstoneTTL:   cfg.Session.TombstoneTTL,
		Logger:         logger.Named("session"),
		Metrics:        m,
	})

	router := handlers.NewRouter(handlers.Deps{
		Config:   cfg,
		Registry: reg,
		Relay:    rel,
		Sessions: coord,
		Metrics:  m,
		Logger:   logger.Lg,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Session.PendingTimeout > 0 {
		go sweepPending(ctx, coord, cfg.Session.PendingTimeout)
	}

	go func() {
		logger.Info("Starting peercam signaling server",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
			zap.String("session_policy", cfg.Session.Policy))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func sweepPending(ctx context.Context, coord *session.Coordinator, timeout time.Duration) {
	interval := timeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := coord.SweepPending(); n > 0 {
				logger.Info("closed stale pending sessions", zap.Int("count", n))
			}
		}
	}
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "peercam"
	}
	return host + "/" + uuid.NewString()[:8]
}
