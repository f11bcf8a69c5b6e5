package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/sydnec/skullking/go/internal/lobby/rooms"
)

// logSink records deliveries and resyncs in arrival order
type logSink struct {
	mu  sync.Mutex
	log []string
}

func (s *logSink) Deliver(_ context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, string(raw))
	return nil
}

func (s *logSink) Resync(_ context.Context, snapshot []rooms.RoomEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, "resync")
	return nil
}

func (s *logSink) entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func TestWebSocketSource_ResyncsOnEveryConnectAndReconnects(t *testing.T) {
	var sessions atomic.Int32
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		switch sessions.Add(1) {
		case 1:
			conn.WriteMessage(websocket.TextMessage, []byte("first-1"))
			conn.WriteMessage(websocket.TextMessage, []byte("first-2"))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		default:
			conn.WriteMessage(websocket.TextMessage, []byte("second-1"))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	config := WebSocketSourceConfig{
		URL:              "ws" + strings.TrimPrefix(server.URL, "http"),
		HandshakeTimeout: time.Second,
		ReconnectMin:     time.Second,
		ReconnectMax:     4 * time.Second,
	}
	snapshots := snapshotFunc(func(context.Context) ([]rooms.RoomEntry, error) {
		return []rooms.RoomEntry{}, nil
	})
	source := NewWebSocketSource(config, snapshots, WithClock(clock))
	sink := &logSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, sink) }()

	waitFor(t, "first session", func() bool { return len(sink.entries()) == 3 })

	blockCtx, blockCancel := context.WithTimeout(ctx, 2*time.Second)
	defer blockCancel()
	if err := clock.BlockUntilContext(blockCtx, 1); err != nil {
		t.Fatalf("source never waited for backoff: %v", err)
	}
	clock.Advance(time.Second)

	waitFor(t, "second session", func() bool { return len(sink.entries()) == 5 })

	want := []string{"resync", "first-1", "first-2", "resync", "second-1"}
	if diff := cmp.Diff(want, sink.entries()); diff != "" {
		t.Fatalf("sink log (-want +got):\n%s", diff)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestWebSocketSource_StopsWhileBackingOff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	config := WebSocketSourceConfig{
		URL:              "ws://127.0.0.1:1/unreachable",
		HandshakeTimeout: time.Second,
		ReconnectMin:     time.Minute,
		ReconnectMax:     time.Minute,
	}
	source := NewWebSocketSource(config, NoSnapshot{}, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, &logSink{}) }()

	blockCtx, blockCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer blockCancel()
	if err := clock.BlockUntilContext(blockCtx, 1); err != nil {
		t.Fatalf("source never waited for backoff: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop during backoff")
	}
}

func TestWebSocketSource_KeepsBackingOffWhenServerHangsUp(t *testing.T) {
	var sessions atomic.Int32
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		sessions.Add(1)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	config := WebSocketSourceConfig{
		URL:              "ws" + strings.TrimPrefix(server.URL, "http"),
		HandshakeTimeout: time.Second,
		ReconnectMin:     time.Second,
		ReconnectMax:     8 * time.Second,
	}
	source := NewWebSocketSource(config, NoSnapshot{}, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, &logSink{}) }()

	awaitBackoff := func() {
		t.Helper()
		blockCtx, blockCancel := context.WithTimeout(ctx, 2*time.Second)
		defer blockCancel()
		if err := clock.BlockUntilContext(blockCtx, 1); err != nil {
			t.Fatalf("source never waited for backoff: %v", err)
		}
	}

	waitFor(t, "first session", func() bool { return sessions.Load() == 1 })
	awaitBackoff()
	clock.Advance(time.Second)
	waitFor(t, "second session", func() bool { return sessions.Load() == 2 })

	// The second wait must be longer than ReconnectMin
	awaitBackoff()
	clock.Advance(time.Second)
	time.Sleep(100 * time.Millisecond)
	if got := sessions.Load(); got != 2 {
		t.Fatalf("redialed after %v, backoff was reset (sessions = %d)", time.Second, got)
	}
	clock.Advance(time.Second)
	waitFor(t, "third session", func() bool { return sessions.Load() == 3 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestNextBackoff(t *testing.T) {
	cases := []struct {
		cur, want time.Duration
	}{
		{cur: time.Second, want: 2 * time.Second},
		{cur: 8 * time.Second, want: 10 * time.Second},
		{cur: 10 * time.Second, want: 10 * time.Second},
		{cur: 0, want: time.Second},
	}
	for _, tc := range cases {
		if got := nextBackoff(tc.cur, time.Second, 10*time.Second); got != tc.want {
			t.Fatalf("nextBackoff(%v) = %v, want %v", tc.cur, got, tc.want)
		}
	}
}
