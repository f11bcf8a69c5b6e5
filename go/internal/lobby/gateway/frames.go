package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/sydnec/skullking/go/internal/lobby/rooms"
)

// FrameType identifies a frame sent to browser clients.
// Clients must treat append_room for a code they already show as a roster replace.
type FrameType string

const (
	FrameSnapshot         FrameType = "snapshot"
	FrameAppendRoom       FrameType = "append_room"
	FrameUpdateMembership FrameType = "update_membership"
	FrameRemoveRoom       FrameType = "remove_room"
)

type rosterFrame struct {
	Op        FrameType `json:"op"`
	Code      string    `json:"code"`
	Usernames []string  `json:"usernames"`
}

type removeFrame struct {
	Op   FrameType `json:"op"`
	Code string    `json:"code"`
}

type snapshotFrame struct {
	Op    FrameType         `json:"op"`
	Rooms []rooms.RoomEntry `json:"rooms"`
}

// EncodeOp converts a presentation op into its wire frame
func EncodeOp(op rooms.Op) ([]byte, error) {
	var v interface{}
	switch o := op.(type) {
	case rooms.AppendRoom:
		v = rosterFrame{Op: FrameAppendRoom, Code: o.Entry.Code, Usernames: nonNil(o.Entry.Usernames)}
	case rooms.UpdateMembership:
		v = rosterFrame{Op: FrameUpdateMembership, Code: o.Code, Usernames: nonNil(o.Usernames)}
	case rooms.RemoveRoom:
		v = removeFrame{Op: FrameRemoveRoom, Code: o.Code}
	default:
		return nil, fmt.Errorf("unknown presentation op %T", op)
	}
	return json.Marshal(v)
}

// EncodeSnapshot builds the frame a client receives when it connects
func EncodeSnapshot(entries []rooms.RoomEntry) ([]byte, error) {
	if entries == nil {
		entries = []rooms.RoomEntry{}
	}
	return json.Marshal(snapshotFrame{Op: FrameSnapshot, Rooms: entries})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
