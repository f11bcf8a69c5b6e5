package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// WebSocketSourceConfig holds configuration for the room updates socket
type WebSocketSourceConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // 0 disables client pings and read deadlines
	WriteTimeout     time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

// DefaultWebSocketSourceConfig returns default socket configuration
func DefaultWebSocketSourceConfig() WebSocketSourceConfig {
	return WebSocketSourceConfig{
		URL:              "ws://localhost:8001/ws/room_updates/",
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReconnectMin:     time.Second,
		ReconnectMax:     30 * time.Second,
	}
}

// WebSocketSource reads room updates from the game server socket and
// reconnects with exponential backoff. Every (re)connect triggers a resync.
type WebSocketSource struct {
	config    WebSocketSourceConfig
	dialer    *websocket.Dialer
	snapshots SnapshotProvider
	clock     clockwork.Clock
}

// WebSocketSourceOption configures a WebSocketSource
type WebSocketSourceOption func(*WebSocketSource)

// WithClock sets the clock used for reconnect backoff
func WithClock(clock clockwork.Clock) WebSocketSourceOption {
	return func(s *WebSocketSource) { s.clock = clock }
}

// NewWebSocketSource creates a socket source
func NewWebSocketSource(config WebSocketSourceConfig, snapshots SnapshotProvider, opts ...WebSocketSourceOption) *WebSocketSource {
	s := &WebSocketSource{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		snapshots: snapshots,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run keeps a session open until ctx is done
func (s *WebSocketSource) Run(ctx context.Context, sink Sink) error {
	backoff := s.config.ReconnectMin

	for {
		delivered, err := s.session(ctx, sink)
		if ctx.Err() != nil {
			log.Info().Str("url", s.config.URL).Msg("room socket shutting down")
			return nil
		}
		// A server that accepts and hangs up right away keeps backing off
		if delivered {
			backoff = s.config.ReconnectMin
		}

		log.Warn().
			Err(err).
			Str("url", s.config.URL).
			Dur("retry_in", backoff).
			Msg("room socket disconnected")

		timer := s.clock.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.Chan():
		}
		backoff = nextBackoff(backoff, s.config.ReconnectMin, s.config.ReconnectMax)
	}
}

// session runs one connection. delivered reports whether any message reached the sink.
func (s *WebSocketSource) session(ctx context.Context, sink Sink) (delivered bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial room socket: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Info().Str("url", s.config.URL).Msg("room socket connected")

	if s.config.PingInterval > 0 {
		readTimeout := 2 * s.config.PingInterval
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		pingCtx, cancelPing := context.WithCancel(ctx)
		defer cancelPing()
		go s.pingLoop(pingCtx, conn)
	}

	// Messages arriving meanwhile stay buffered on the socket until after the resync
	resync(ctx, s.snapshots, sink)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("read room socket: %w", err)
		}
		if s.config.PingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * s.config.PingInterval))
		}
		if err := sink.Deliver(ctx, message); err != nil {
			return delivered, fmt.Errorf("deliver room message: %w", err)
		}
		delivered = true
	}
}

// pingLoop keeps the connection alive; WriteControl is safe alongside reads
func (s *WebSocketSource) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := s.clock.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Msg("room socket ping failed")
				return
			}
		}
	}
}

// nextBackoff doubles cur within [floor, ceiling]
func nextBackoff(cur, floor, ceiling time.Duration) time.Duration {
	next := cur * 2
	if next < floor {
		next = floor
	}
	if next > ceiling {
		next = ceiling
	}
	return next
}
