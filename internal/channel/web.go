package channel

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"wordchat/internal/config"
	"wordchat/internal/domain"
	"wordchat/internal/memory"
	"wordchat/internal/metrics"
)

const (
	maxFormSize       = 1 << 20 // 1MB
	maxImportSize     = 16 << 20
	sessionCookieName = "wordchat_session"
	sessionMaxAge     = 86400 * 30 // 30 days
	sseBuffer         = 32
	exportFilename    = "pli7data_backup.json"
)

//go:embed web_templates/*.html
var templateFS embed.FS

// Web implements domain.Channel for the browser chat page.
type Web struct {
	host        string
	port        int
	bus         domain.MessageBus
	memory      *memory.Manager
	metrics     *metrics.Metrics
	metricsPath string
	logger      *slog.Logger
	server      *http.Server
	tmpl        *htmltemplate.Template
	version     string
	mounts      map[string]http.Handler

	// Config reference for the settings API (protected by cfgMu)
	cfg     *config.Config
	cfgPath string
	cfgMu   sync.RWMutex

	// SSE clients keyed by session ID for targeted delivery
	sseClients   map[string]chan sseEvent
	sseClientsMu sync.RWMutex
}

type WebConfig struct {
	Host        string
	Port        int
	Memory      *memory.Manager
	Metrics     *metrics.Metrics        // optional: exposition endpoint and counters in /status
	MetricsPath string                  // default /metrics
	Config      *config.Config          // optional: settings API
	ConfigPath  string                  // where settings API changes are saved
	Mounts      map[string]http.Handler // extra handlers by path, e.g. the WebSocket endpoint
	Logger      *slog.Logger
	Version     string
}

// sseEvent is the JSON payload of one server-sent event.
type sseEvent struct {
	Type        string   `json:"type"` // thinking | message | done | reminder
	Label       string   `json:"label,omitempty"`
	Content     string   `json:"content,omitempty"`
	Format      string   `json:"format,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	Title       string   `json:"title,omitempty"`
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	return &Web{
		host:        cfg.Host,
		port:        cfg.Port,
		memory:      cfg.Memory,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsPath,
		logger:      cfg.Logger,
		tmpl:        htmltemplate.Must(htmltemplate.ParseFS(templateFS, "web_templates/*.html")),
		version:     cfg.Version,
		mounts:      cfg.Mounts,
		cfg:         cfg.Config,
		cfgPath:     cfg.ConfigPath,
		sseClients:  make(map[string]chan sseEvent),
	}
}

func (w *Web) Name() string { return "web" }

// SetBus sets the bus used by /chat/send without starting the server.
func (w *Web) SetBus(bus domain.MessageBus) { w.bus = bus }

// Start registers the outbound handler and serves until ctx is cancelled.
func (w *Web) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus
	bus.OnOutbound("web", w.deliver)

	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.logger.Info("web UI started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the router. Exposed for tests.
func (w *Web) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", w.handleChat)
	r.Post("/chat/send", w.handleSend)
	r.Get("/chat/stream", w.handleSSE)
	r.Get("/status", w.handleStatus)

	r.Route("/api", func(r chi.Router) {
		r.Get("/conversations", w.handleListConversations)
		r.Post("/conversations", w.handleNewConversation)
		r.Get("/conversations/active", w.handleActiveConversation)
		r.Get("/conversations/{id}", w.handleGetConversation)
		r.Put("/conversations/{id}/active", w.handleSwitchConversation)
		r.Delete("/conversations/{id}", w.handleDeleteConversation)
		r.Get("/export", w.handleExport)
		r.Post("/import", w.handleImport)
		r.Get("/config", w.handleGetConfig)
		r.Put("/config", w.handleUpdateConfig)
	})

	if w.metrics != nil {
		r.Method(http.MethodGet, w.metricsPath, w.metrics.Handler())
	}
	for path, h := range w.mounts {
		r.Handle(path, h)
	}
	return r
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

func (w *Web) Send(_ context.Context, chatID string, content string) error {
	w.sendSSE(chatID, sseEvent{Type: "message", Content: content, Format: "text"})
	return nil
}

// deliver maps an outbound bus message to an SSE event for its session.
func (w *Web) deliver(msg domain.OutboundMessage) {
	ev := sseEvent{
		Type:        "message",
		Label:       msg.Label,
		Content:     msg.Content,
		Format:      msg.Format,
		Attachments: msg.Attachments,
		Title:       msg.Title,
	}
	switch {
	case msg.StreamEvent != nil && msg.StreamEvent.Type != domain.StreamMessage:
		ev.Type = string(msg.StreamEvent.Type)
	case msg.StreamEvent == nil && msg.Title != "":
		ev.Type = "reminder"
	}
	w.sendSSE(msg.ChatID, ev)
}

// getOrCreateSession returns a persistent session ID from cookies.
// If no session exists, creates a new one and sets the cookie.
func (w *Web) getOrCreateSession(r *http.Request, rw http.ResponseWriter) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	sessionID := uuid.NewString()
	http.SetCookie(rw, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.logger.Info("new web session created", "session", sessionID)
	return sessionID
}

// store returns the conversation store of the requesting browser session.
func (w *Web) store(rw http.ResponseWriter, r *http.Request) (*memory.Store, bool) {
	if w.memory == nil {
		writeError(rw, http.StatusServiceUnavailable, "conversation storage not configured")
		return nil, false
	}
	sessionID := w.getOrCreateSession(r, rw)
	s, err := w.memory.For(r.Context(), "web:"+sessionID)
	if err != nil {
		w.logger.Error("conversation store unavailable", "session", sessionID, "err", err)
		writeError(rw, http.StatusInternalServerError, "conversation storage unavailable")
		return nil, false
	}
	return s, true
}

func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	w.getOrCreateSession(r, rw)
	if err := w.tmpl.ExecuteTemplate(rw, "chat.html", map[string]any{
		"Title":   "wordchat",
		"Version": w.version,
	}); err != nil {
		w.logger.Error("template error", "template", "chat", "err", err)
	}
}

// handleSend queues the message; replies arrive over the SSE stream.
func (w *Web) handleSend(rw http.ResponseWriter, r *http.Request) {
	// Support both application/x-www-form-urlencoded and multipart/form-data
	_ = r.ParseMultipartForm(maxFormSize)
	message := r.FormValue("message")
	if message == "" {
		writeError(rw, http.StatusBadRequest, "empty message")
		return
	}
	sessionID := w.getOrCreateSession(r, rw)

	w.bus.Publish(domain.InboundMessage{
		Channel:   "web",
		ChatID:    sessionID,
		SenderID:  "web_user",
		Content:   message,
		Timestamp: time.Now(),
	})
	writeJSON(rw, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (w *Web) handleSSE(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Use session ID to filter SSE messages: only receive your own responses
	sessionID := w.getOrCreateSession(r, rw)

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan sseEvent, sseBuffer)
	w.sseClientsMu.Lock()
	w.sseClients[sessionID] = ch
	w.sseClientsMu.Unlock()

	defer func() {
		w.sseClientsMu.Lock()
		if existing, ok := w.sseClients[sessionID]; ok && existing == ch {
			delete(w.sseClients, sessionID)
		}
		w.sseClientsMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			data, _ := json.Marshal(ev)
			fmt.Fprintf(rw, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (w *Web) handleStatus(rw http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": w.version,
		"time":    time.Now().Format(time.RFC3339),
	}
	if w.metrics != nil {
		body["metrics"] = w.metrics.Snapshot()
	}
	writeJSON(rw, http.StatusOK, body)
}

// sendSSE delivers an event to the SSE client that owns the given session ID.
// Events for a session without a listener, or with a full buffer, are dropped.
func (w *Web) sendSSE(sessionID string, ev sseEvent) {
	w.sseClientsMu.RLock()
	ch, ok := w.sseClients[sessionID]
	w.sseClientsMu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		w.logger.Warn("sse buffer full, event dropped", "session", sessionID, "type", ev.Type)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
