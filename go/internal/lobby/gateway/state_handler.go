package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/sydnec/skullking/go/internal/lobby/rooms"
)

// RoomLister is the rendered room list read by the HTTP handlers
type RoomLister interface {
	Rooms() []rooms.RoomEntry
	RenderHTML(w io.Writer) error
}

// StatsProvider reports pipeline counters
type StatsProvider interface {
	Stats() map[string]interface{}
}

// StateHandler handles HTTP requests for the room list
type StateHandler struct {
	rooms RoomLister
}

// NewStateHandler creates a new state handler
func NewStateHandler(lister RoomLister) *StateHandler {
	return &StateHandler{rooms: lister}
}

// HandleGetRooms handles GET /api/rooms
func (h *StateHandler) HandleGetRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.rooms.Rooms()); err != nil {
		log.Error().Err(err).Msg("failed to encode rooms response")
	}
}

// HandleRoomList handles GET /rooms and returns the HTML fragment
func (h *StateHandler) HandleRoomList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.rooms.RenderHTML(w); err != nil {
		log.Error().Err(err).Msg("failed to render room list")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms", h.HandleGetRooms)
	mux.HandleFunc("/rooms", h.HandleRoomList)
}
