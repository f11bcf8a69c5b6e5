package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sydnec/skullking/go/internal/lobby/rooms"
)

// ErrNoSnapshot is returned when no snapshot source is configured
var ErrNoSnapshot = errors.New("no snapshot source configured")

// SnapshotProvider fetches the authoritative room list
type SnapshotProvider interface {
	Snapshot(ctx context.Context) ([]rooms.RoomEntry, error)
}

// NoSnapshot never has a room list; sources skip the resync
type NoSnapshot struct{}

func (NoSnapshot) Snapshot(context.Context) ([]rooms.RoomEntry, error) {
	return nil, ErrNoSnapshot
}

// HTTPSnapshotProvider reads the room list as JSON from the game server
type HTTPSnapshotProvider struct {
	url    string
	client *http.Client
}

// NewHTTPSnapshotProvider creates a provider for url
func NewHTTPSnapshotProvider(url string, timeout time.Duration) *HTTPSnapshotProvider {
	return &HTTPSnapshotProvider{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Snapshot fetches [{"code": ..., "usernames": [...]}, ...]
func (p *HTTPSnapshotProvider) Snapshot(ctx context.Context) ([]rooms.RoomEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("snapshot returned status code: %d, response: %s", resp.StatusCode, string(body))
	}

	var entries []rooms.RoomEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return entries, nil
}

// DefaultRoomsQuery lists rooms with their players from the game database
const DefaultRoomsQuery = `
SELECT r.code,
       COALESCE(array_agg(u.username ORDER BY pr.id) FILTER (WHERE u.username IS NOT NULL), '{}') AS usernames
FROM myapp_room r
LEFT JOIN myapp_player_rooms pr ON pr.room_id = r.id
LEFT JOIN myapp_player p ON p.id = pr.player_id
LEFT JOIN auth_user u ON u.id = p.user_id
GROUP BY r.id, r.code
ORDER BY r.id`

// PostgresSnapshotProvider reads the room list straight from the game database
type PostgresSnapshotProvider struct {
	pool  *pgxpool.Pool
	query string
}

// NewPostgresSnapshotProvider connects a pool and verifies it
func NewPostgresSnapshotProvider(ctx context.Context, dsn, query string) (*PostgresSnapshotProvider, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if query == "" {
		query = DefaultRoomsQuery
	}
	return &PostgresSnapshotProvider{pool: pool, query: query}, nil
}

// Snapshot runs the rooms query; it must return (code text, usernames text[])
func (p *PostgresSnapshotProvider) Snapshot(ctx context.Context) ([]rooms.RoomEntry, error) {
	rows, err := p.pool.Query(ctx, p.query)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var entries []rooms.RoomEntry
	for rows.Next() {
		var entry rooms.RoomEntry
		if err := rows.Scan(&entry.Code, &entry.Usernames); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return entries, nil
}

// Close releases the pool
func (p *PostgresSnapshotProvider) Close() {
	p.pool.Close()
}

// resync fetches a snapshot and hands it to the sink. Failures are logged only:
// the live feed is still worth consuming without one.
func resync(ctx context.Context, provider SnapshotProvider, sink Sink) {
	if provider == nil {
		return
	}

	snapshot, err := provider.Snapshot(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		log.Warn().Msg("no snapshot source, room list may miss changes made while disconnected")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch room snapshot")
		return
	}

	if err := sink.Resync(ctx, snapshot); err != nil {
		log.Error().Err(err).Msg("failed to queue room snapshot")
	}
}
