package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sydnec/skullking/go/internal/lobby/events"
	"github.com/sydnec/skullking/go/internal/lobby/feed"
)

// script is a full room lifecycle, one step per interval.
var script = []events.RoomEvent{
	{Kind: events.KindCreate, Code: "H668Q6", Usernames: []string{"alice"}},
	{Kind: events.KindJoin, Code: "H668Q6", Usernames: []string{"alice", "bob"}},
	{Kind: events.KindCreate, Code: "ZK42PL", Usernames: []string{"carol"}},
	{Kind: events.KindLeave, Code: "H668Q6", Usernames: []string{"bob"}},
	{Kind: events.KindDelete, Code: "H668Q6", Usernames: []string{}},
	{Kind: events.KindDelete, Code: "ZK42PL", Usernames: []string{}},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := feed.DefaultNATSPublisherConfig()
	cfg.URL = getEnv("NATS_URL", cfg.URL)

	interval, err := time.ParseDuration(getEnv("PUBLISH_INTERVAL", "2s"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid PUBLISH_INTERVAL")
	}

	pub, err := feed.NewNATSPublisher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}
	defer pub.Close()

	for i, ev := range script {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
		if err := pub.Publish(ctx, ev); err != nil {
			log.Error().Err(err).Str("code", ev.Code).Msg("publish failed")
			return
		}
	}
	log.Info().Int("events", len(script)).Msg("script published")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
