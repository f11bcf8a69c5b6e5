package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSSourceConfig holds configuration for the JetStream room feed
type NATSSourceConfig struct {
	URL           string
	StreamName    string
	SubjectFilter string // e.g., "rooms.updates.>"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSSourceConfig returns default JetStream configuration
func DefaultNATSSourceConfig() NATSSourceConfig {
	return NATSSourceConfig{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_UPDATES",
		SubjectFilter: "rooms.updates.>",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSSource consumes room updates from JetStream with an ordered consumer,
// so updates reach the pipeline in publish order.
type NATSSource struct {
	config    NATSSourceConfig
	snapshots SnapshotProvider
}

// NewNATSSource creates a JetStream source
func NewNATSSource(config NATSSourceConfig, snapshots SnapshotProvider) *NATSSource {
	return &NATSSource{config: config, snapshots: snapshots}
}

// Run consumes until ctx is done. NATS handles reconnects; each one triggers a resync.
func (s *NATSSource) Run(ctx context.Context, sink Sink) error {
	reconnected := make(chan struct{}, 1)

	opts := []nats.Option{
		nats.MaxReconnects(s.config.MaxReconnects),
		nats.ReconnectWait(s.config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			select {
			case reconnected <- struct{}{}:
			default:
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(s.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	consumer, err := js.OrderedConsumer(ctx, s.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.config.SubjectFilter},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	log.Info().
		Str("stream", s.config.StreamName).
		Str("subject", s.config.SubjectFilter).
		Msg("starting JetStream room consumer")

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	resync(ctx, s.snapshots, sink)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("JetStream room consumer shutting down")
			return nil
		case <-reconnected:
			resync(ctx, s.snapshots, sink)
		case msg := <-messageCh:
			log.Debug().Str("subject", msg.Subject()).Msg("room update received")
			if err := sink.Deliver(ctx, msg.Data()); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("deliver room update: %w", err)
			}
		}
	}
}
