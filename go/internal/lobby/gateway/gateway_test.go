package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/sydnec/skullking/go/internal/lobby/rooms"
	"github.com/sydnec/skullking/go/internal/lobby/view"
)

type fixedStats map[string]interface{}

func (f fixedStats) Stats() map[string]interface{} { return f }

func TestEncodeOp_Frames(t *testing.T) {
	cases := []struct {
		name string
		op   rooms.Op
		want string
	}{
		{
			name: "append",
			op:   rooms.AppendRoom{Entry: rooms.RoomEntry{Code: "H668Q6", Usernames: []string{"Sydnec"}}},
			want: `{"op":"append_room","code":"H668Q6","usernames":["Sydnec"]}`,
		},
		{
			name: "update with empty roster",
			op:   rooms.UpdateMembership{Code: "H668Q6"},
			want: `{"op":"update_membership","code":"H668Q6","usernames":[]}`,
		},
		{
			name: "remove",
			op:   rooms.RemoveRoom{Code: "H668Q6"},
			want: `{"op":"remove_room","code":"H668Q6"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeOp(tc.op)
			if err != nil {
				t.Fatalf("EncodeOp returned error: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("frame = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEncodeSnapshot_EmptyIsList(t *testing.T) {
	got, err := EncodeSnapshot(nil)
	if err != nil {
		t.Fatalf("EncodeSnapshot returned error: %v", err)
	}
	if string(got) != `{"op":"snapshot","rooms":[]}` {
		t.Fatalf("unexpected snapshot frame %s", got)
	}
}

func newTestGateway(t *testing.T) (*Service, *view.Board, *httptest.Server) {
	t.Helper()

	board := view.NewBoard()
	svc := NewService(DefaultConnectionConfig(), board, fixedStats{"events_processed": 3}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)

	server := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return svc, board, server
}

// wireFrame is the client-side view of every frame the gateway pushes
type wireFrame struct {
	Op        FrameType         `json:"op"`
	Code      string            `json:"code,omitempty"`
	Usernames []string          `json:"usernames,omitempty"`
	Rooms     []rooms.RoomEntry `json:"rooms,omitempty"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return frame
}

func TestGateway_StreamsSnapshotThenOps(t *testing.T) {
	svc, board, server := newTestGateway(t)
	board.AppendRoom(rooms.RoomEntry{Code: "H668Q6", Usernames: []string{"Sydnec"}})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/rooms"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	snapshot := readFrame(t, conn)
	if snapshot.Op != FrameSnapshot {
		t.Fatalf("expected snapshot frame first, got %q", snapshot.Op)
	}
	if diff := cmp.Diff([]rooms.RoomEntry{{Code: "H668Q6", Usernames: []string{"Sydnec"}}}, snapshot.Rooms); diff != "" {
		t.Fatalf("snapshot rooms (-want +got):\n%s", diff)
	}

	fanout := svc.ConnectionManager()
	fanout.UpdateMembership("H668Q6", []string{"Sydnec", "Player1"})
	fanout.RemoveRoom("H668Q6")

	update := readFrame(t, conn)
	want := wireFrame{Op: FrameUpdateMembership, Code: "H668Q6", Usernames: []string{"Sydnec", "Player1"}}
	if diff := cmp.Diff(want, update); diff != "" {
		t.Fatalf("update frame (-want +got):\n%s", diff)
	}

	remove := readFrame(t, conn)
	if diff := cmp.Diff(wireFrame{Op: FrameRemoveRoom, Code: "H668Q6"}, remove); diff != "" {
		t.Fatalf("remove frame (-want +got):\n%s", diff)
	}
}

func TestGateway_HTTPRoutes(t *testing.T) {
	_, board, server := newTestGateway(t)
	board.AppendRoom(rooms.RoomEntry{Code: "H668Q6", Usernames: []string{"Sydnec"}})

	resp, err := http.Get(server.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("GET /api/rooms: %v", err)
	}
	var got []rooms.RoomEntry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	resp.Body.Close()
	if diff := cmp.Diff([]rooms.RoomEntry{{Code: "H668Q6", Usernames: []string{"Sydnec"}}}, got); diff != "" {
		t.Fatalf("rooms (-want +got):\n%s", diff)
	}

	resp, err = http.Get(server.URL + "/rooms")
	if err != nil {
		t.Fatalf("GET /rooms: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `action="/room/H668Q6/"`) {
		t.Fatalf("expected join form in markup, got:\n%s", body)
	}

	resp, err = http.Get(server.URL + "/info")
	if err != nil {
		t.Fatalf("GET /info: %v", err)
	}
	var info map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	resp.Body.Close()
	if info["service"] != "lobby_gateway" || info["events_processed"] != float64(3) {
		t.Fatalf("unexpected info %v", info)
	}

	resp, err = http.Post(server.URL+"/api/rooms", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/rooms: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func drainSend(t *testing.T, conn *Connection) (frames []wireFrame, closed bool) {
	t.Helper()
	for {
		select {
		case data, ok := <-conn.Send:
			if !ok {
				return frames, true
			}
			var f wireFrame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("decode frame %s: %v", data, err)
			}
			frames = append(frames, f)
		default:
			return frames, false
		}
	}
}

func TestConnectionManager_OverflowResetsClients(t *testing.T) {
	board := view.NewBoard()
	config := DefaultConnectionConfig()
	config.BroadcastBufferSize = 2
	cm := NewConnectionManager(config, board)

	client := &Connection{ID: "c1", Send: make(chan []byte, 16), Manager: cm}
	cm.handleRegister(client)

	// Two frames fit; the remove_room frame is the one that overflows
	cm.AppendRoom(rooms.RoomEntry{Code: "AAAAAA"})
	cm.AppendRoom(rooms.RoomEntry{Code: "BBBBBB"})
	cm.RemoveRoom("AAAAAA")

	cm.handleBroadcast(<-cm.broadcastCh)

	if got := cm.GetConnectionStats()["total_connections"]; got != 0 {
		t.Fatalf("total_connections = %v, want 0", got)
	}
	if n := len(cm.broadcastCh); n != 0 {
		t.Fatalf("%d stale frames still queued", n)
	}

	frames, closed := drainSend(t, client)
	if !closed {
		t.Fatalf("client was not disconnected after overflow")
	}
	if len(frames) != 1 || frames[0].Op != FrameSnapshot {
		t.Fatalf("client received %+v, want only its snapshot", frames)
	}

	// A client connecting afterwards gets a snapshot and the live stream again
	board.AppendRoom(rooms.RoomEntry{Code: "BBBBBB", Usernames: []string{"Sydnec"}})
	next := &Connection{ID: "c2", Send: make(chan []byte, 16), Manager: cm}
	cm.handleRegister(next)
	cm.UpdateMembership("BBBBBB", []string{"Sydnec", "Player1"})
	cm.handleBroadcast(<-cm.broadcastCh)

	frames, closed = drainSend(t, next)
	if closed {
		t.Fatalf("client disconnected without overflow")
	}
	want := []wireFrame{
		{Op: FrameSnapshot, Rooms: []rooms.RoomEntry{{Code: "BBBBBB", Usernames: []string{"Sydnec"}}}},
		{Op: FrameUpdateMembership, Code: "BBBBBB", Usernames: []string{"Sydnec", "Player1"}},
	}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Fatalf("frames (-want +got):\n%s", diff)
	}
}
