package view

import (
	"fmt"
	"html/template"
	"io"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sydnec/skullking/go/internal/lobby/rooms"
)

// roomListTemplate mirrors the lobby page markup: one line per room with its
// players and a join form posting the room code.
var roomListTemplate = template.Must(template.New("rooms").Parse(`<ul>
{{- range . }}
<li class="room-line-content {{ .Code }}"><div class="player-list-line {{ .Code }}">
{{- range .Usernames }}<span class="username-line">{{ . }}</span>{{ end -}}
</div><form action="/room/{{ .Code }}/" method="post"><input type="hidden" name="room_id" value="{{ .Code }}"><button type="submit">Join room</button></form></li>
{{- end }}
</ul>
`))

// Board is the rendered room list. It applies presentation ops and can be
// read concurrently by HTTP handlers.
type Board struct {
	mu    sync.RWMutex
	rows  map[string][]string
	order []string
}

// NewBoard creates an empty board
func NewBoard() *Board {
	return &Board{rows: make(map[string][]string)}
}

// AppendRoom renders a new room row
func (b *Board) AppendRoom(entry rooms.RoomEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.rows[entry.Code]; exists {
		log.Warn().Str("code", entry.Code).Msg("room row already rendered, replacing roster")
		b.rows[entry.Code] = slices.Clone(entry.Usernames)
		return
	}
	b.rows[entry.Code] = slices.Clone(entry.Usernames)
	b.order = append(b.order, entry.Code)
}

// UpdateMembership replaces the roster of a rendered row; unknown codes are ignored
func (b *Board) UpdateMembership(code string, usernames []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.rows[code]; !exists {
		return
	}
	b.rows[code] = slices.Clone(usernames)
}

// RemoveRoom drops a rendered row; unknown codes are ignored
func (b *Board) RemoveRoom(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.rows[code]; !exists {
		return
	}
	delete(b.rows, code)
	if i := slices.Index(b.order, code); i >= 0 {
		b.order = slices.Delete(b.order, i, i+1)
	}
}

// Rooms returns a copy of the rendered rows in display order
func (b *Board) Rooms() []rooms.RoomEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]rooms.RoomEntry, 0, len(b.order))
	for _, code := range b.order {
		usernames := slices.Clone(b.rows[code])
		if usernames == nil {
			usernames = []string{}
		}
		out = append(out, rooms.RoomEntry{Code: code, Usernames: usernames})
	}
	return out
}

// Len returns the number of rendered rows
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// RenderHTML writes the room list markup
func (b *Board) RenderHTML(w io.Writer) error {
	if err := roomListTemplate.Execute(w, b.Rooms()); err != nil {
		return fmt.Errorf("render room list: %w", err)
	}
	return nil
}
