package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// UpdateRoomsTag is the top-level message tag carrying room updates
const UpdateRoomsTag = "update_rooms"

var (
	// ErrIgnored marks messages that are not room updates at all
	ErrIgnored = errors.New("not a room update")
	// ErrMalformed marks room updates whose nested record is unusable
	ErrMalformed = errors.New("malformed room update")
)

// Kind represents the type of room mutation
type Kind string

const (
	KindCreate Kind = "create"
	KindJoin   Kind = "join"
	KindLeave  Kind = "leave"
	KindDelete Kind = "delete"
)

// Valid reports whether k is one of the four room mutations
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindJoin, KindLeave, KindDelete:
		return true
	default:
		return false
	}
}

// RoomEvent is a decoded room mutation
type RoomEvent struct {
	Kind      Kind
	Code      string
	Usernames []string
}

// envelope is the top-level push message
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// object holds a JSON object by exact key; encoding/json struct matching ignores case
type object map[string]json.RawMessage

// field decodes key into v. Missing keys and null values report false.
func (o object) field(key string, v interface{}) (bool, error) {
	raw, ok := o[key]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("%s: %w", key, err)
	}
	return true, nil
}

// Decode parses a raw push message into a RoomEvent.
// Messages with another tag return ErrIgnored, broken room updates return ErrMalformed.
func Decode(raw []byte) (RoomEvent, error) {
	var top object
	if err := json.Unmarshal(raw, &top); err != nil {
		return RoomEvent{}, fmt.Errorf("%w: %v", ErrIgnored, err)
	}
	var tag string
	if _, err := top.field("message", &tag); err != nil || tag != UpdateRoomsTag {
		return RoomEvent{}, ErrIgnored
	}

	var data object
	present, err := top.field("data", &data)
	switch {
	case err != nil:
		return RoomEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	case !present:
		return RoomEvent{}, fmt.Errorf("%w: missing data", ErrMalformed)
	}

	var (
		code      string
		usernames []*string
		kind      Kind
	)
	for _, f := range []struct {
		key string
		v   interface{}
	}{
		{"code", &code},
		{"usernames", &usernames},
		{"message", &kind},
	} {
		present, err := data.field(f.key, f.v)
		if err != nil {
			return RoomEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !present {
			return RoomEvent{}, fmt.Errorf("%w: missing %s", ErrMalformed, f.key)
		}
	}

	switch {
	case code == "":
		return RoomEvent{}, fmt.Errorf("%w: missing code", ErrMalformed)
	case !kind.Valid():
		return RoomEvent{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}

	names := make([]string, len(usernames))
	for i, name := range usernames {
		if name == nil {
			return RoomEvent{}, fmt.Errorf("%w: null username at %d", ErrMalformed, i)
		}
		names[i] = *name
	}

	return RoomEvent{
		Kind:      kind,
		Code:      code,
		Usernames: names,
	}, nil
}

// Encode produces the wire form of a room event
func Encode(event RoomEvent) ([]byte, error) {
	usernames := event.Usernames
	if usernames == nil {
		usernames = []string{}
	}

	data, err := json.Marshal(map[string]interface{}{
		"code":      event.Code,
		"usernames": usernames,
		"message":   event.Kind,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal room data: %w", err)
	}

	return json.Marshal(envelope{Message: UpdateRoomsTag, Data: data})
}
