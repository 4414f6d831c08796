package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"facedetect/internal/config"
	"facedetect/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	// BroadcastBuffer is how many messages may wait for the hub before new ones are dropped.
	BroadcastBuffer = 8
	// ClientBuffer is how many messages may wait for one viewer before that viewer misses frames.
	ClientBuffer = 4
	// WriteTimeout bounds a write to one viewer.
	WriteTimeout = 2 * time.Second
)

// viewer is a connection with its own outgoing queue, drained by writePump.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// HubService fans preview messages out to the connected viewers.
// The viewer map is owned by Run; socket writes happen in one goroutine per viewer.
type HubService struct {
	clients    map[*websocket.Conn]*viewer
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	count      atomic.Int32
	dropped    atomic.Int64
	logger     *logger.Logger
}

// NewHubService creates a hub. Call Run to start delivering messages.
func NewHubService(config *config.Config, logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]*viewer),
		broadcast:  make(chan []byte, BroadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run delivers messages until ctx is done, then closes every viewer.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for conn, v := range h.clients {
				close(v.send)
				delete(h.clients, conn)
			}
			h.count.Store(0)
			return

		case conn := <-h.register:
			v := &viewer{conn: conn, send: make(chan []byte, ClientBuffer)}
			h.clients[conn] = v
			go h.writePump(v)
			h.count.Store(int32(len(h.clients)))
			h.logger.Info("Viewer connected. Total: %d", len(h.clients))

		case conn := <-h.unregister:
			if v, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(v.send)
			}
			h.count.Store(int32(len(h.clients)))
			h.logger.Info("Viewer disconnected. Total: %d", len(h.clients))

		case message := <-h.broadcast:
			for _, v := range h.clients {
				select {
				case v.send <- message:
				default:
					// This viewer is behind; it misses the frame.
					h.dropped.Add(1)
				}
			}
		}
	}
}

// writePump writes queued messages to one viewer and closes the connection when its queue closes.
// After a failed write the queue is drained until the viewer is unregistered.
func (h *HubService) writePump(v *viewer) {
	defer v.conn.Close()

	for message := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message: %v", err)
			v.conn.Close()
			for range v.send {
			}
			return
		}
	}
}

// Register adds a viewer. It returns false when the hub has stopped.
func (h *HubService) Register(client *websocket.Conn) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a viewer and closes its connection.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for every viewer. When the queue is full the message
// is dropped so the caller never waits on slow viewers.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Dropped is the number of messages discarded because the hub queue or a viewer queue was full.
func (h *HubService) Dropped() int {
	return int(h.dropped.Load())
}

// GetClientCount returns the number of connected viewers.
func (h *HubService) GetClientCount() int {
	return int(h.count.Load())
}
