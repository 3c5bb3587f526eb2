// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Corphon/BugReportConstructor/internal/events"
	"github.com/Corphon/BugReportConstructor/internal/utils"
)

const (
	wsPingInterval = 54 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the widget is embedded in the host page; origin is checked upstream
		return true
	},
}

// WebSocketConnection is the part of *websocket.Conn the hub uses.
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient is one connected document feed.
type WebSocketClient struct {
	conn      WebSocketConnection
	userID    string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastPing  atomic.Int64 // unix nanos
	createdAt time.Time
}

func newWebSocketClient(conn WebSocketConnection, userID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:      conn,
		userID:    userID,
		send:      make(chan []byte, wsSendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close closes the connection once.
func (client *WebSocketClient) Close() {
	client.closeOnce.Do(func() {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	})
}

// IsClosed reports whether Close was called.
func (client *WebSocketClient) IsClosed() bool {
	select {
	case <-client.done:
		return true
	default:
		return false
	}
}

// UpdatePing records client activity.
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired reports whether the client has been silent longer than timeout.
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue queues message without blocking. It returns false when the queue is full.
func (client *WebSocketClient) enqueue(message []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// DocumentHub fans document events out to the feeds of the owning user.
type DocumentHub struct {
	connections map[string]map[*WebSocketClient]struct{} // userID -> clients
	register    chan *WebSocketClient
	unregister  chan *WebSocketClient
	mutex       sync.RWMutex
	pingTimeout time.Duration

	logger  *zap.Logger
	metrics *utils.Metrics
}

// NewDocumentHub creates a hub. Call Run to start it.
func NewDocumentHub(logger *zap.Logger, metrics *utils.Metrics) *DocumentHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHub{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		register:    make(chan *WebSocketClient, 64),
		unregister:  make(chan *WebSocketClient, 64),
		pingTimeout: 2 * wsReadTimeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run processes registrations until ctx is done, then closes every client.
func (hub *DocumentHub) Run(ctx context.Context) {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-hub.register:
			hub.registerClient(client)
		case client := <-hub.unregister:
			hub.unregisterClient(client)
		case <-cleanupTicker.C:
			hub.cleanupExpiredConnections()
		case <-ctx.Done():
			hub.shutdown()
			return
		}
	}
}

func (hub *DocumentHub) registerClient(client *WebSocketClient) {
	if client == nil {
		return
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	if hub.connections[client.userID] == nil {
		hub.connections[client.userID] = make(map[*WebSocketClient]struct{})
	}
	hub.connections[client.userID][client] = struct{}{}
	hub.metrics.WebSocketConnected(1)
	hub.logger.Debug("document feed connected", zap.String("user_id", client.userID))
}

func (hub *DocumentHub) unregisterClient(client *WebSocketClient) {
	if client == nil {
		return
	}
	hub.mutex.Lock()
	hub.removeLocked(client)
	hub.mutex.Unlock()
	client.Close()
}

// removeLocked drops client from the table. hub.mutex must be held.
func (hub *DocumentHub) removeLocked(client *WebSocketClient) {
	clients, ok := hub.connections[client.userID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(hub.connections, client.userID)
	}
	hub.metrics.WebSocketConnected(-1)
	hub.logger.Debug("document feed disconnected", zap.String("user_id", client.userID))
}

func (hub *DocumentHub) cleanupExpiredConnections() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for _, clients := range hub.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
				hub.removeLocked(client)
				client.Close()
			}
		}
	}
}

func (hub *DocumentHub) shutdown() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for _, clients := range hub.connections {
		for client := range clients {
			client.Close()
		}
	}
	hub.metrics.WebSocketConnected(-hub.countLocked())
	hub.connections = make(map[string]map[*WebSocketClient]struct{})
}

func (hub *DocumentHub) countLocked() int {
	total := 0
	for _, clients := range hub.connections {
		total += len(clients)
	}
	return total
}

// Publish implements events.Publisher. Clients whose queue is full are dropped.
func (hub *DocumentHub) Publish(_ context.Context, event events.DocumentEvent) error {
	message, err := json.Marshal(event)
	if err != nil {
		return err
	}

	hub.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(hub.connections[event.UserID]))
	for client := range hub.connections[event.UserID] {
		clients = append(clients, client)
	}
	hub.mutex.RUnlock()

	for _, client := range clients {
		if !client.enqueue(message) {
			hub.logger.Warn("document feed queue full, dropping client", zap.String("user_id", client.userID))
			client.Close()
			select {
			case hub.unregister <- client:
			default:
				// the cleanup ticker will collect it
			}
		}
	}
	return nil
}

// ClientCount returns the number of connected feeds for userID.
func (hub *DocumentHub) ClientCount(userID string) int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.connections[userID])
}

// Status summarizes connected clients.
func (hub *DocumentHub) Status() map[string]interface{} {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	users := make(map[string]int, len(hub.connections))
	for userID, clients := range hub.connections {
		users[userID] = len(clients)
	}
	return map[string]interface{}{
		"total_users":       len(hub.connections),
		"total_connections": hub.countLocked(),
		"users":             users,
	}
}
