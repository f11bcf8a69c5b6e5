package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Service bundles the browser-facing side of the lobby mirror
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	stats             StatsProvider
	allowedOrigins    []string
}

// NewService creates the gateway over a rendered room list
func NewService(config ConnectionConfig, lister RoomLister, stats StatsProvider, allowedOrigins []string) *Service {
	cm := NewConnectionManager(config, lister)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		stateHandler:      NewStateHandler(lister),
		stats:             stats,
		allowedOrigins:    allowedOrigins,
	}
}

// ConnectionManager exposes the fanout renderer
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}

// Start runs the connection manager until ctx is done
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting lobby gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("lobby gateway stopped")
}

// RegisterRoutes registers every gateway route
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.GetStats()); err != nil {
			log.Error().Err(err).Msg("failed to encode info response")
		}
	})
}

// Handler returns the routed handler with CORS and h2c applied
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
	})

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// GetStats returns statistics about the gateway and the pipeline feeding it
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "lobby_gateway"
	if s.stats != nil {
		for k, v := range s.stats.Stats() {
			stats[k] = v
		}
	}
	return stats
}
