package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wordchat/internal/domain"
)

// WSConfig configures the WebSocket channel.
type WSConfig struct {
	Path   string // endpoint path on the web server (default: /ws)
	Logger *slog.Logger
}

// WebSocketChannel is a bidirectional chat endpoint. It has no listener of its
// own; Handler is mounted on the web server.
type WebSocketChannel struct {
	path   string
	logger *slog.Logger

	busMu sync.RWMutex
	bus   domain.MessageBus

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// wsClient tracks a connected WebSocket client.
type wsClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

// WSMessage is the JSON protocol for WebSocket communication.
type WSMessage struct {
	Type        string   `json:"type"` // message | typing | done | reminder | status
	Label       string   `json:"label,omitempty"`
	Title       string   `json:"title,omitempty"`
	Content     string   `json:"content,omitempty"`
	Format      string   `json:"format,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	ChatID      string   `json:"chat_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local assistant; the web server binds to loopback by default
	},
}

func NewWebSocketChannel(cfg WSConfig) *WebSocketChannel {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebSocketChannel{
		path:    cfg.Path,
		logger:  cfg.Logger,
		clients: make(map[string]*wsClient),
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Path is where Handler should be mounted.
func (ws *WebSocketChannel) Path() string { return ws.path }

// Start registers the outbound handler and blocks until ctx is cancelled.
func (ws *WebSocketChannel) Start(ctx context.Context, bus domain.MessageBus) error {
	ws.busMu.Lock()
	ws.bus = bus
	ws.busMu.Unlock()

	bus.OnOutbound("websocket", ws.deliver)
	ws.logger.Info("websocket channel ready", "path", ws.path)

	<-ctx.Done()
	ws.closeAllClients()
	return nil
}

func (ws *WebSocketChannel) Stop() error {
	ws.closeAllClients()
	return nil
}

func (ws *WebSocketChannel) Send(_ context.Context, chatID string, content string) error {
	ws.broadcastToChat(chatID, WSMessage{Type: "message", Content: content, ChatID: chatID, Format: "text"})
	return nil
}

// Handler upgrades requests to WebSocket connections.
func (ws *WebSocketChannel) Handler() http.Handler {
	return http.HandlerFunc(ws.handleUpgrade)
}

// deliver maps an outbound bus message onto the WebSocket protocol.
func (ws *WebSocketChannel) deliver(msg domain.OutboundMessage) {
	out := WSMessage{
		Type:        "message",
		Label:       msg.Label,
		Title:       msg.Title,
		Content:     msg.Content,
		Format:      msg.Format,
		Attachments: msg.Attachments,
		ChatID:      msg.ChatID,
	}
	if msg.StreamEvent != nil {
		switch msg.StreamEvent.Type {
		case domain.StreamThinking:
			out.Type = "typing"
		case domain.StreamDone:
			out.Type = "done"
		case domain.StreamError:
			out.Type = "error"
		}
	} else if msg.Title != "" {
		out.Type = "reminder"
	}
	ws.broadcastToChat(msg.ChatID, out)
}

func (ws *WebSocketChannel) publish(msg domain.InboundMessage) bool {
	ws.busMu.RLock()
	bus := ws.bus
	ws.busMu.RUnlock()
	if bus == nil {
		return false
	}
	bus.Publish(msg)
	return true
}

func (ws *WebSocketChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = "ws-" + uuid.NewString()
	}

	client := &wsClient{conn: conn, chatID: chatID}
	clientID := uuid.NewString()
	ws.mu.Lock()
	ws.clients[clientID] = client
	ws.mu.Unlock()

	ws.logger.Info("websocket client connected", "client_id", clientID, "chat_id", chatID)
	client.send(WSMessage{Type: "status", Content: "connected", ChatID: chatID})

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, clientID)
		ws.mu.Unlock()
		conn.Close()
		ws.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var in WSMessage
		if err := json.Unmarshal(data, &in); err != nil {
			ws.logger.Warn("invalid websocket message", "err", err)
			client.send(WSMessage{Type: "error", Content: "invalid JSON", ChatID: chatID})
			continue
		}
		if in.Type != "message" {
			continue
		}
		if !ws.publish(domain.InboundMessage{
			Channel:   "websocket",
			ChatID:    chatID,
			SenderID:  in.UserID,
			Content:   in.Content,
			Timestamp: time.Now(),
		}) {
			client.send(WSMessage{Type: "error", Content: "not ready", ChatID: chatID})
		}
	}
}

func (ws *WebSocketChannel) broadcastToChat(chatID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for _, client := range ws.clients {
		if client.chatID != chatID {
			continue
		}
		if err := client.write(data); err != nil {
			ws.logger.Debug("websocket write failed", "chat_id", chatID, "err", err)
		}
	}
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) send(msg WSMessage) {
	data, _ := json.Marshal(msg)
	_ = c.write(data)
}

func (ws *WebSocketChannel) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, client := range ws.clients {
		client.conn.Close()
		delete(ws.clients, id)
	}
}
