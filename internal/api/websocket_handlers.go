// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DocumentsWebSocket streams document_saved events for the scoped user.
func (h *Handler) DocumentsWebSocket(c *gin.Context) {
	userID := CurrentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWebSocketClient(conn, userID)
	select {
	case h.hub.register <- client:
	case <-time.After(time.Second):
		h.logger.Warn("websocket register queue full", zap.String("user_id", userID))
		client.Close()
		return
	}

	welcome, _ := json.Marshal(map[string]interface{}{
		"type":      "connected",
		"user_id":   userID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	client.enqueue(welcome)

	go h.writePump(client)
	h.readPump(client)
}

// readPump only tracks liveness; the feed is server to client.
func (h *Handler) readPump(client *WebSocketClient) {
	defer func() {
		select {
		case h.hub.unregister <- client:
		case <-time.After(time.Second):
			client.Close()
		}
	}()

	client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("user_id", client.userID), zap.Error(err))
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

func (h *Handler) writePump(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			return
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WebSocketStatus reports connected feeds.
func (h *Handler) WebSocketStatus(c *gin.Context) {
	h.response.Success(c, h.hub.Status())
}
