package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/sydnec/skullking/go/internal/lobby/events"
)

// NATSPublisherConfig holds configuration for publishing room updates
type NATSPublisherConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxAge        time.Duration
}

// DefaultNATSPublisherConfig matches DefaultNATSSourceConfig
func DefaultNATSPublisherConfig() NATSPublisherConfig {
	return NATSPublisherConfig{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_UPDATES",
		SubjectPrefix: "rooms.updates",
		MaxAge:        24 * time.Hour,
	}
}

// NATSPublisher writes update_rooms envelopes to JetStream, one subject per room
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NATSPublisherConfig
}

// NewNATSPublisher connects and makes sure the stream exists
func NewNATSPublisher(ctx context.Context, cfg NATSPublisherConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Lobby room updates",
		Subjects:    []string{SubjectFor(cfg.SubjectPrefix, ">")},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &NATSPublisher{nc: nc, js: js, config: cfg}, nil
}

// Publish encodes ev and publishes it on <prefix>.<code>
func (p *NATSPublisher) Publish(ctx context.Context, ev events.RoomEvent) error {
	data, err := events.Encode(ev)
	if err != nil {
		return err
	}

	subject := SubjectFor(p.config.SubjectPrefix, ev.Code)
	msgID := uuid.NewString()
	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Room-Code":  []string{ev.Code},
			"Event-Kind": []string{string(ev.Kind)},
		},
	},
		jetstream.WithMsgID(msgID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Info().
		Str("subject", subject).
		Str("kind", string(ev.Kind)).
		Uint64("sequence", ack.Sequence).
		Msg("published room update")
	return nil
}

// Close closes the NATS connection
func (p *NATSPublisher) Close() {
	p.nc.Close()
}

// SubjectFor builds a subject under prefix; tokens NATS treats specially are replaced.
func SubjectFor(prefix, code string) string {
	if code != ">" && code != "*" {
		code = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(code)
	}
	return prefix + "." + code
}
