package rooms

import (
	"slices"

	"github.com/sydnec/skullking/go/internal/lobby/events"
)

// RoomEntry is one room and its joined usernames in server order
type RoomEntry struct {
	Code      string   `json:"code"`
	Usernames []string `json:"usernames"`
}

// Clone returns a deep copy of the entry
func (e RoomEntry) Clone() RoomEntry {
	return RoomEntry{Code: e.Code, Usernames: cloneStrings(e.Usernames)}
}

// RoomState is the local room list, keyed by room code.
// It is not safe for concurrent use; one goroutine owns it.
type RoomState struct {
	rooms map[string]*RoomEntry
	order []string // codes in creation order
}

// NewRoomState creates an empty room state
func NewRoomState() *RoomState {
	return &RoomState{
		rooms: make(map[string]*RoomEntry),
	}
}

// Apply applies a room event and returns the presentation ops it produces.
// Events for a code that is not present only matter when they create it.
func (s *RoomState) Apply(event events.RoomEvent) []Op {
	entry, present := s.rooms[event.Code]

	switch event.Kind {
	case events.KindCreate:
		if present {
			// Re-create overwrites the roster, same as join/leave
			entry.Usernames = cloneStrings(event.Usernames)
			return []Op{UpdateMembership{Code: event.Code, Usernames: cloneStrings(entry.Usernames)}}
		}
		entry = &RoomEntry{Code: event.Code, Usernames: cloneStrings(event.Usernames)}
		s.rooms[event.Code] = entry
		s.order = append(s.order, event.Code)
		return []Op{AppendRoom{Entry: entry.Clone()}}

	case events.KindJoin, events.KindLeave:
		if !present {
			return nil
		}
		// The event carries the complete roster; replace, never merge
		entry.Usernames = cloneStrings(event.Usernames)
		return []Op{UpdateMembership{Code: event.Code, Usernames: cloneStrings(entry.Usernames)}}

	case events.KindDelete:
		if !present {
			return nil
		}
		s.remove(event.Code)
		return []Op{RemoveRoom{Code: event.Code}}

	default:
		return nil
	}
}

// Resync replaces the state with an authoritative snapshot and returns the
// ops that turn the previous view into the snapshot.
func (s *RoomState) Resync(snapshot []RoomEntry) []Op {
	next := make(map[string]*RoomEntry, len(snapshot))
	order := make([]string, 0, len(snapshot))
	for _, e := range snapshot {
		if e.Code == "" {
			continue
		}
		if existing, dup := next[e.Code]; dup {
			// Last occurrence wins, keep first position
			existing.Usernames = cloneStrings(e.Usernames)
			continue
		}
		entry := e.Clone()
		if entry.Usernames == nil {
			entry.Usernames = []string{}
		}
		next[e.Code] = &entry
		order = append(order, e.Code)
	}

	var ops []Op
	for _, code := range s.order {
		if _, keep := next[code]; !keep {
			ops = append(ops, RemoveRoom{Code: code})
		}
	}
	for _, code := range order {
		entry := next[code]
		prev, existed := s.rooms[code]
		switch {
		case !existed:
			ops = append(ops, AppendRoom{Entry: entry.Clone()})
		case !slices.Equal(prev.Usernames, entry.Usernames):
			ops = append(ops, UpdateMembership{Code: code, Usernames: cloneStrings(entry.Usernames)})
		}
	}

	// Surviving rooms keep their rendered position, new ones follow in snapshot order
	merged := make([]string, 0, len(order))
	for _, code := range s.order {
		if _, keep := next[code]; keep {
			merged = append(merged, code)
		}
	}
	for _, code := range order {
		if _, existed := s.rooms[code]; !existed {
			merged = append(merged, code)
		}
	}

	s.rooms = next
	s.order = merged
	return ops
}

// Get returns a copy of the entry for code
func (s *RoomState) Get(code string) (RoomEntry, bool) {
	entry, ok := s.rooms[code]
	if !ok {
		return RoomEntry{}, false
	}
	return entry.Clone(), true
}

// Len returns the number of present rooms
func (s *RoomState) Len() int {
	return len(s.rooms)
}

// Snapshot returns copies of all entries in creation order
func (s *RoomState) Snapshot() []RoomEntry {
	out := make([]RoomEntry, 0, len(s.order))
	for _, code := range s.order {
		out = append(out, s.rooms[code].Clone())
	}
	return out
}

func (s *RoomState) remove(code string) {
	delete(s.rooms, code)
	if i := slices.Index(s.order, code); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

