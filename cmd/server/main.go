package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/agora-relay/agora-relay/internal/api/http"
	"github.com/agora-relay/agora-relay/internal/api/ws"
	appnames "github.com/agora-relay/agora-relay/internal/application/names"
	"github.com/agora-relay/agora-relay/internal/application/relay"
	"github.com/agora-relay/agora-relay/internal/application/session"
	"github.com/agora-relay/agora-relay/internal/config"
	domainnames "github.com/agora-relay/agora-relay/internal/domain/names"
	"github.com/agora-relay/agora-relay/internal/domain/world"
	"github.com/agora-relay/agora-relay/internal/infrastructure/memory"
	"github.com/agora-relay/agora-relay/internal/infrastructure/postgres"
	"github.com/agora-relay/agora-relay/internal/infrastructure/secrets"
	"github.com/agora-relay/agora-relay/internal/protocol"
	"github.com/agora-relay/agora-relay/internal/upstream"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence: postgres when configured, in-memory otherwise.
	var namesRepo domainnames.Repository
	dsn, err := secrets.Resolve("DATABASE_URL", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("secret error: %v", err)
	}
	if dsn != "" {
		pool, err := postgres.NewPool(ctx, dsn)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		namesRepo = postgres.NewNamesRepository(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, name overrides are not persisted")
		namesRepo = memory.NewNamesRepository()
	}

	w := world.New(cfg.HistoryCapacity)
	namesSvc := appnames.NewService(namesRepo, logger)
	overrides, err := namesSvc.Load(ctx)
	if err != nil {
		log.Fatalf("load name overrides: %v", err)
	}
	w.LoadNameOverrides(overrides)

	identity, err := protocol.NewIdentity("relay")
	if err != nil {
		log.Fatalf("identity error: %v", err)
	}
	identity.Nick = cfg.RelayNick

	link := upstream.New(upstream.Config{
		URL:             cfg.UpstreamURL,
		Identity:        identity,
		DefaultChannels: cfg.DefaultChannels,
		ReconnectMin:    cfg.ReconnectMin,
		ReconnectMax:    cfg.ReconnectMax,
		Reconnect:       true,
		Logger:          logger,
	})
	sessions := session.NewManager(cfg.UpstreamURL, "guest", logger)

	rel := relay.New(relay.Config{
		World:    w,
		Link:     link,
		Sessions: sessions,
		Names:    namesSvc,
		Identity: identity,
		Logger:   logger,
	})
	hub := ws.NewHub(ws.Config{
		MaxConnections:      cfg.MaxConnections,
		MaxConnectionsPerIP: cfg.MaxConnectionsPerIP,
		RateLimitCount:      cfg.RateLimitCount,
		RateLimitWindow:     cfg.RateLimitWindow,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		ClientTimeout:       cfg.ClientTimeout,
	}, rel, logger)
	rel.SetBroadcaster(hub)

	apiServer := httpapi.NewServer(hub, rel)
	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go link.Run(ctx)
	go rel.Run(ctx)
	go hub.Run(ctx)

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("upstream", cfg.UpstreamURL).Msg("relay started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)
}
