package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sydnec/skullking/go/internal/lobby/config"
	"github.com/sydnec/skullking/go/internal/lobby/feed"
	"github.com/sydnec/skullking/go/internal/lobby/gateway"
	"github.com/sydnec/skullking/go/internal/lobby/rooms"
	"github.com/sydnec/skullking/go/internal/lobby/view"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(getEnv("LOBBY_CONFIG", "lobby.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots, closeSnapshots, err := newSnapshotProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create snapshot provider")
	}
	defer closeSnapshots()

	board := view.NewBoard()

	// The pipeline is created after the service, but the service only reads stats lazily.
	var pipeline *feed.Pipeline
	svc := gateway.NewService(gateway.DefaultConnectionConfig(), board, statsFunc(func() map[string]interface{} {
		return pipeline.Stats()
	}), cfg.HTTP.AllowedOrigins)
	pipeline = feed.NewPipeline(rooms.Renderers{board, svc.ConnectionManager()}, cfg.PipelineBuffer)

	source := newSource(cfg, snapshots)

	log.Info().
		Str("transport", cfg.Upstream.Transport).
		Str("snapshot_source", cfg.Snapshot.Source).
		Int("port", cfg.HTTP.Port).
		Msg("starting lobby mirror")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		svc.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := source.Run(ctx, pipeline); err != nil {
			log.Error().Err(err).Msg("room feed stopped")
			stop()
		}
	}()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      svc.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	wg.Wait()
	log.Info().Msg("lobby mirror shutdown complete")
}

func setupLogging(cfg *config.Config) {
	if cfg.Log.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newSnapshotProvider(ctx context.Context, cfg *config.Config) (feed.SnapshotProvider, func(), error) {
	switch cfg.Snapshot.Source {
	case config.SnapshotHTTP:
		return feed.NewHTTPSnapshotProvider(cfg.Snapshot.URL, cfg.Snapshot.Timeout), func() {}, nil
	case config.SnapshotPostgres:
		p, err := feed.NewPostgresSnapshotProvider(ctx, cfg.Postgres.ConnString(), cfg.Postgres.Query)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		log.Warn().Msg("no snapshot source configured, reconnects will not resync the room list")
		return feed.NoSnapshot{}, func() {}, nil
	}
}

func newSource(cfg *config.Config, snapshots feed.SnapshotProvider) feed.Source {
	if cfg.Upstream.Transport == config.TransportNATS {
		natsCfg := feed.DefaultNATSSourceConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.StreamName = cfg.NATS.Stream
		natsCfg.SubjectFilter = cfg.NATS.Subject
		natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
		natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
		return feed.NewNATSSource(natsCfg, snapshots)
	}

	wsCfg := feed.DefaultWebSocketSourceConfig()
	wsCfg.URL = cfg.Upstream.WebSocketURL
	wsCfg.HandshakeTimeout = cfg.Upstream.HandshakeTimeout
	wsCfg.PingInterval = cfg.Upstream.PingInterval
	wsCfg.ReconnectMin = cfg.Upstream.ReconnectMin
	wsCfg.ReconnectMax = cfg.Upstream.ReconnectMax
	return feed.NewWebSocketSource(wsCfg, snapshots)
}

type statsFunc func() map[string]interface{}

func (f statsFunc) Stats() map[string]interface{} { return f() }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
