package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calafate/loom/internal/bus"
	"github.com/calafate/loom/internal/log"
)

// writeTimeout bounds a single websocket write; a client that cannot keep up
// is dropped rather than allowed to stall the fan-out goroutine.
const writeTimeout = 5 * time.Second

// socketManager fans execution events out to websocket clients. Each
// connection holds its own bus subscription, so a slow client only loses its
// own events.
type socketManager struct {
	bus *bus.Bus

	mu    sync.Mutex
	conns map[*websocket.Conn]context.CancelFunc
}

func newSocketManager(b *bus.Bus) *socketManager {
	return &socketManager{
		bus:   b,
		conns: make(map[*websocket.Conn]context.CancelFunc),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the cors middleware in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) executionSocket(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathID(r, "workflowID")
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.ErrorErr(log.CatAPI, "websocket upgrade", err, "workflowID", workflowID)
		return
	}
	s.ws.serve(conn, workflowID)
}

// serve pumps execution events to one connection until the client goes away
// or the manager shuts down.
func (m *socketManager) serve(conn *websocket.Conn, workflowID int64) {
	ctx, cancel := context.WithCancel(context.Background())
	m.track(conn, cancel)

	events := m.bus.SubscribeExecution(ctx, workflowID)

	go func() {
		defer m.drop(conn)
		for ev := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev.Payload); err != nil {
				log.Debug(log.CatAPI, "dropping websocket client", "workflowID", workflowID, "error", err.Error())
				return
			}
		}
	}()

	// Read loop: clients send nothing meaningful, but reading is how we
	// notice the connection closing.
	go func() {
		defer m.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *socketManager) track(conn *websocket.Conn, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn] = cancel
}

// drop cancels the connection's subscription and closes it. Safe to call
// from both pump goroutines; the second call is a no-op.
func (m *socketManager) drop(conn *websocket.Conn) {
	m.mu.Lock()
	cancel, ok := m.conns[conn]
	delete(m.conns, conn)
	m.mu.Unlock()

	if ok {
		cancel()
		_ = conn.Close()
	}
}

// closeAll drops every connection; used on server shutdown.
func (m *socketManager) closeAll() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.conns))
	for conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		m.drop(conn)
	}
}

// activeConnections reports the number of connected clients.
func (m *socketManager) activeConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
