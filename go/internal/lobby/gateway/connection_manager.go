package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sydnec/skullking/go/internal/lobby/rooms"
)

// StateProvider supplies the current room list for newly connected clients
type StateProvider interface {
	Rooms() []rooms.RoomEntry
}

// ConnectionManager manages browser WebSocket connections and pushes
// presentation ops to them. It implements rooms.Renderer.
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	state    StateProvider

	broadcastCh chan []byte
	registerCh  chan *Connection

	// set when a frame could not be queued; the loop then resets every client
	overflowed atomic.Bool
}

// Connection represents a WebSocket connection to a browser client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time

	sendMu sync.Mutex
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	PingInterval        time.Duration
	MaxMessageSize      int64
	ReadBufferSize      int
	WriteBufferSize     int
	SendBufferSize      int
	BroadcastBufferSize int // frames queued between the pipeline and the loop
	CheckOrigin         func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:        10 * time.Second,
		ReadTimeout:         60 * time.Second,
		PingInterval:        30 * time.Second,
		MaxMessageSize:      1024,
		ReadBufferSize:      1024,
		WriteBufferSize:     1024,
		SendBufferSize:      256,
		BroadcastBufferSize: 1000,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, state StateProvider) *ConnectionManager {
	if config.BroadcastBufferSize <= 0 {
		config.BroadcastBufferSize = DefaultConnectionConfig().BroadcastBufferSize
	}
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		state:       state,
		broadcastCh: make(chan []byte, config.BroadcastBufferSize),
		registerCh:  make(chan *Connection, 64),
	}
}

// Start processes registrations and broadcasts until ctx is done.
// Both go through this loop so a client never sees an op before its snapshot.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			cm.closeAll()
			log.Info().Msg("connection manager shutting down")
			return
		case conn := <-cm.registerCh:
			cm.handleRegister(conn)
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	go connection.writePump()
	go connection.readPump()

	select {
	case cm.registerCh <- connection:
	default:
		log.Warn().Str("connection_id", connection.ID).Msg("register channel full, closing connection")
		connection.close()
		return nil
	}

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

// handleRegister sends the current snapshot and adds the connection to the pool
func (cm *ConnectionManager) handleRegister(conn *Connection) {
	var entries []rooms.RoomEntry
	if cm.state != nil {
		entries = cm.state.Rooms()
	}
	snapshot, err := EncodeSnapshot(entries)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode snapshot")
		conn.close()
		return
	}

	if !conn.trySend(snapshot) {
		conn.close()
		return
	}

	cm.mu.Lock()
	cm.connections[conn] = true
	total := len(cm.connections)
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Int("rooms", len(entries)).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn]
	delete(cm.connections, conn)
	cm.mu.Unlock()

	if exists {
		log.Info().Str("connection_id", conn.ID).Msg("connection unregistered")
	}
	conn.close()
}

// Broadcast queues an encoded frame for every connection. A frame that does not
// fit marks the stream as broken; clients are then disconnected so they reconnect
// and start over from a fresh snapshot.
func (cm *ConnectionManager) Broadcast(frame []byte) {
	select {
	case cm.broadcastCh <- frame:
	default:
		if !cm.overflowed.Swap(true) {
			log.Warn().Msg("broadcast channel full, resetting all connections")
		}
	}
}

func (cm *ConnectionManager) broadcastOp(op rooms.Op) {
	frame, err := EncodeOp(op)
	if err != nil {
		log.Error().Err(err).Str("code", op.RoomCode()).Msg("failed to encode presentation op")
		return
	}
	cm.Broadcast(frame)
}

// AppendRoom pushes an append_room frame
func (cm *ConnectionManager) AppendRoom(entry rooms.RoomEntry) {
	cm.broadcastOp(rooms.AppendRoom{Entry: entry})
}

// UpdateMembership pushes an update_membership frame
func (cm *ConnectionManager) UpdateMembership(code string, usernames []string) {
	cm.broadcastOp(rooms.UpdateMembership{Code: code, Usernames: usernames})
}

// RemoveRoom pushes a remove_room frame
func (cm *ConnectionManager) RemoveRoom(code string) {
	cm.broadcastOp(rooms.RemoveRoom{Code: code})
}

// handleBroadcast sends a frame to every registered connection
func (cm *ConnectionManager) handleBroadcast(frame []byte) {
	if cm.overflowed.Load() {
		cm.resetAfterOverflow()
		return
	}

	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if !conn.trySend(frame) {
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
		}
	}

	log.Debug().Int("connections", len(targets)).Msg("frame broadcasted")
}

// resetAfterOverflow discards queued frames and closes every connection.
// Frames queued before the reset describe ops some clients already missed.
func (cm *ConnectionManager) resetAfterOverflow() {
	cm.overflowed.Store(false)

	dropped := 0
	for drained := false; !drained; {
		select {
		case <-cm.broadcastCh:
			dropped++
		default:
			drained = true
		}
	}

	cm.mu.RLock()
	total := len(cm.connections)
	cm.mu.RUnlock()
	cm.closeAll()

	log.Warn().
		Int("dropped_frames", dropped).
		Int("connections", total).
		Msg("connections reset after broadcast overflow")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	conns := cm.connections
	cm.connections = make(map[*Connection]bool)
	cm.mu.Unlock()

	for conn := range conns {
		conn.close()
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return map[string]interface{}{
		"total_connections": len(cm.connections),
	}
}

// trySend queues a frame without blocking; false means the connection is closed or slow
func (c *Connection) trySend(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

// close stops the write pump, which closes the socket
func (c *Connection) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// writePump handles sending frames to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				c.Manager.unregisterConnection(c)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				c.Manager.unregisterConnection(c)
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed
func (c *Connection) readPump() {
	defer c.Manager.unregisterConnection(c)

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		log.Debug().
			Str("connection_id", c.ID).
			Int("size", len(message)).
			Msg("ignoring client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
