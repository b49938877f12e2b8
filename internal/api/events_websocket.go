package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/emberhost/panel/internal/events"
	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/repository"
	"github.com/emberhost/panel/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ActivityWebSocket streams a server's activity events to connected clients.
// Each connection is scoped to one server; events for other servers are
// never delivered to it.
type ActivityWebSocket struct {
	servers *repository.ServerRepository
	bus     *events.Bus

	mu      sync.RWMutex
	clients map[uint]map[*websocket.Conn]bool
}

// NewActivityWebSocket creates the stream handler and subscribes it to the bus
func NewActivityWebSocket(servers *repository.ServerRepository, bus *events.Bus) *ActivityWebSocket {
	ws := &ActivityWebSocket{
		servers: servers,
		bus:     bus,
		clients: make(map[uint]map[*websocket.Conn]bool),
	}
	bus.Subscribe(ws.dispatch)
	return ws
}

// HandleWebSocket handles GET /api/servers/:server/events
func (ws *ActivityWebSocket) HandleWebSocket(c *gin.Context) {
	server, err := loadServer(c, ws.servers)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("EVENTS: WebSocket upgrade failed", map[string]interface{}{
			"server_uuid": server.UUID,
			"error":       err.Error(),
		})
		return
	}

	ws.register(server.ID, conn)

	// Drain control frames until the client goes away
	go func() {
		defer ws.unregister(server.ID, conn)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ListActivity handles GET /api/servers/:server/activity
func (ws *ActivityWebSocket) ListActivity(c *gin.Context) {
	server, err := loadServer(c, ws.servers)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := ws.bus.Query(events.Filters{
		ServerID: server.ID,
		Limit:    limit,
	})
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": records})
}

func (ws *ActivityWebSocket) register(serverID uint, conn *websocket.Conn) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.clients[serverID] == nil {
		ws.clients[serverID] = make(map[*websocket.Conn]bool)
	}
	ws.clients[serverID][conn] = true
}

func (ws *ActivityWebSocket) unregister(serverID uint, conn *websocket.Conn) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if conns, ok := ws.clients[serverID]; ok {
		if conns[conn] {
			delete(conns, conn)
			conn.Close()
		}
		if len(conns) == 0 {
			delete(ws.clients, serverID)
		}
	}
}

// dispatch delivers a published event to every client watching its server
func (ws *ActivityWebSocket) dispatch(event events.Event) {
	if event.ServerID == 0 {
		return
	}

	ws.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(ws.clients[event.ServerID]))
	for conn := range ws.clients[event.ServerID] {
		conns = append(conns, conn)
	}
	ws.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			ws.unregister(event.ServerID, conn)
		}
	}
}
