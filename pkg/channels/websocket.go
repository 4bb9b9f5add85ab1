package channels

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/logger"
)

const wsWriteTimeout = 10 * time.Second

// wsFrame is the JSON frame exchanged with websocket clients.
type wsFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
	SenderID string `json:"sender_id,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(frame)
}

// WebSocketChannel serves browser and script clients. Each connection is
// its own chat, identified by a generated id.
type WebSocketChannel struct {
	*BaseChannel
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
}

func NewWebSocketChannel(cfg config.WebSocketConfig, msgBus *bus.MessageBus) *WebSocketChannel {
	c := &WebSocketChannel{
		BaseChannel: NewBaseChannel("websocket", msgBus, cfg.AllowFrom),
		clients:     make(map[string]*wsClient),
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return c
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		logger.WarnCF("channels", "WebSocket origin rejected", map[string]interface{}{"origin": origin})
		return false
	}
}

func (c *WebSocketChannel) Start(_ context.Context) error {
	c.setRunning(true)
	return nil
}

func (c *WebSocketChannel) Stop(_ context.Context) error {
	c.setRunning(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, client := range c.clients {
		client.conn.Close()
		delete(c.clients, id)
	}
	return nil
}

// ServeHTTP upgrades the request and reads frames until the client leaves.
func (c *WebSocketChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !c.IsRunning() {
		http.Error(w, "websocket channel not running", http.StatusServiceUnavailable)
		return
	}
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("channels", "WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	chatID := uuid.NewString()
	client := &wsClient{conn: conn}
	c.mu.Lock()
	c.clients[chatID] = client
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.clients, chatID)
		c.mu.Unlock()
		conn.Close()
	}()

	logger.InfoCF("channels", "WebSocket client connected", map[string]interface{}{
		"chat_id": chatID,
		"remote":  r.RemoteAddr,
	})
	if err := client.write(wsFrame{Type: "connected", ChatID: chatID}); err != nil {
		return
	}

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnCF("channels", "WebSocket read error", map[string]interface{}{
					"chat_id": chatID,
					"error":   err.Error(),
				})
			}
			return
		}

		switch frame.Type {
		case "message":
			sender := frame.SenderID
			if sender == "" {
				sender = chatID
			}
			c.HandleMessage(sender, chatID, frame.Content, nil, nil, "")
		case "ping":
			client.write(wsFrame{Type: "pong"})
		default:
			client.write(wsFrame{Type: "error", Content: fmt.Sprintf("unknown frame type %q", frame.Type)})
		}
	}
}

func (c *WebSocketChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.RLock()
	client, ok := c.clients[msg.ChatID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChat, msg.ChatID)
	}
	frameType := "message"
	if msg.IsProgress() {
		frameType = "progress"
	}
	return client.write(wsFrame{Type: frameType, Content: msg.Content, ChatID: msg.ChatID})
}

// Clients returns the number of connected clients.
func (c *WebSocketChannel) Clients() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}
