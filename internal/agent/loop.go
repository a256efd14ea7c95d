package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wordchat/internal/arbiter"
	"wordchat/internal/dispatch"
	"wordchat/internal/domain"
	"wordchat/internal/memory"
	"wordchat/internal/metrics"
	"wordchat/internal/reminder"
)

const (
	defaultConcurrency     = 5
	defaultContextMessages = 10
	defaultRateBurst       = 5
	defaultRatePerMinute   = 30.0

	// LocalLabel marks replies produced by command handlers.
	LocalLabel = "Local Command"
	// SystemLabel marks replies produced by the agent itself.
	SystemLabel = "System"

	emptyMessageReply = "Please type a message."
)

// Observer receives per-message measurements.
type Observer interface {
	MessageReceived(channel string)
	DispatchObserved(elapsed time.Duration)
}

// Loop drives every inbound message through the pipeline: slash commands,
// word dispatch, then response arbitration, persisting each rendered message.
type Loop struct {
	dispatcher      *dispatch.Loop
	registry        *dispatch.Registry
	catalog         *dispatch.Catalog
	arbiter         *arbiter.Arbitrator
	memory          *memory.Manager
	bus             domain.MessageBus
	metrics         *metrics.Metrics
	reminders       *reminder.Scheduler
	observer        Observer
	logger          *slog.Logger
	now             func() time.Time
	concurrency     int
	contextMessages int
	ratePerMinute   float64
	rateBurst       int

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState serialises the messages of one chat. A new message cancels
// the one in flight and waits for it to finish before starting.
type sessionState struct {
	session *domain.Session
	limiter *rate.Limiter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{} // closed when the latest message finishes
}

// LoopConfig holds all dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Dispatcher      *dispatch.Loop
	Registry        *dispatch.Registry // optional: for /commands
	Catalog         *dispatch.Catalog  // optional: for /commands
	Arbiter         *arbiter.Arbitrator
	Memory          *memory.Manager
	Bus             domain.MessageBus
	Metrics         *metrics.Metrics    // optional: observer and /status source
	Reminders       *reminder.Scheduler // optional: for /reminders
	Logger          *slog.Logger
	Now             func() time.Time
	Concurrency     int // max parallel messages
	ContextMessages int // messages in the arbitrator's context window
	RatePerMinute   float64
	RateBurst       int
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = defaultContextMessages
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = defaultRatePerMinute
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.NewLoop(dispatch.LoopConfig{Logger: cfg.Logger})
	}
	if cfg.Arbiter == nil {
		cfg.Arbiter = arbiter.New(arbiter.Config{Logger: cfg.Logger})
	}
	l := &Loop{
		dispatcher:      cfg.Dispatcher,
		registry:        cfg.Registry,
		catalog:         cfg.Catalog,
		arbiter:         cfg.Arbiter,
		memory:          cfg.Memory,
		bus:             cfg.Bus,
		metrics:         cfg.Metrics,
		reminders:       cfg.Reminders,
		logger:          cfg.Logger,
		now:             cfg.Now,
		concurrency:     cfg.Concurrency,
		contextMessages: cfg.ContextMessages,
		ratePerMinute:   cfg.RatePerMinute,
		rateBurst:       cfg.RateBurst,
		sessions:        make(map[string]*sessionState),
	}
	if cfg.Metrics != nil {
		l.observer = cfg.Metrics
	}
	return l
}

// Run consumes inbound messages and processes them with bounded concurrency.
// It returns when ctx is done or the bus closes, after in-flight messages finish.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, agent loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(m domain.InboundMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				l.Handle(ctx, m, l.bus.SendOutbound)
			}(msg)
		}
	}
}

// ProcessDirect handles a message synchronously and returns what would have
// been sent to the channel, stream events excluded. Used by the CLI channel
// and tests.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) []domain.OutboundMessage {
	var out []domain.OutboundMessage
	l.Handle(ctx, domain.InboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  "user",
		Content:   content,
		Timestamp: l.now(),
	}, func(m domain.OutboundMessage) {
		if m.StreamEvent == nil || m.StreamEvent.Type == domain.StreamMessage {
			out = append(out, m)
		}
	})
	return out
}

// Session returns the shared state of a chat, creating it on first use.
func (l *Loop) Session(channel, chatID string) *domain.Session {
	return l.state(channel, chatID).session
}

func (l *Loop) state(channel, chatID string) *sessionState {
	key := channel + ":" + chatID
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.sessions[key]
	if !ok {
		st = &sessionState{
			session: domain.NewSession(channel, chatID),
			limiter: rate.NewLimiter(rate.Limit(l.ratePerMinute/60.0), l.rateBurst),
		}
		l.sessions[key] = st
	}
	return st
}

// begin cancels the session's in-flight message and returns a context for
// the new one plus a release func. The caller must wait on prev first.
func (st *sessionState) begin(ctx context.Context) (context.Context, <-chan struct{}, func()) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cancel != nil {
		st.cancel()
	}
	prev := st.done
	done := make(chan struct{})
	mctx, cancel := context.WithCancel(ctx)
	st.cancel, st.done = cancel, done

	release := func() {
		cancel()
		close(done)
	}
	return mctx, prev, release
}

// Handle runs one message through the pipeline, handing every outbound
// message to emit.
func (l *Loop) Handle(ctx context.Context, msg domain.InboundMessage, emit func(domain.OutboundMessage)) {
	st := l.state(msg.Channel, msg.ChatID)
	mctx, prev, release := st.begin(ctx)
	defer release()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	r := &reply{channel: msg.Channel, chatID: msg.ChatID, emit: emit}
	text := strings.TrimSpace(msg.Content)
	l.logger.Info("processing message", "channel", msg.Channel, "chat", msg.ChatID, "content_len", len(text))
	if l.observer != nil {
		l.observer.MessageReceived(msg.Channel)
	}

	if text == "" {
		r.send(SystemLabel, emptyMessageReply, nil, "text")
		r.event(domain.StreamDone)
		return
	}

	// Storage calls survive supersession so the user entry is always kept.
	sctx := context.WithoutCancel(mctx)
	store, err := l.memory.For(sctx, msg.SessionKey())
	if err != nil {
		l.logger.Error("conversation store unavailable", "session", msg.SessionKey(), "error", err)
		r.send(SystemLabel, "Sorry, I could not open this conversation.", nil, "text")
		r.event(domain.StreamDone)
		return
	}

	if cmd := ParseCommand(text); cmd != nil {
		cmd.Session = msg.SessionKey()
		res := l.HandleCommand(sctx, cmd, store)
		r.send(SystemLabel, res.Response, nil, "markdown")
		r.event(domain.StreamDone)
		return
	}

	r.event(domain.StreamThinking)
	l.logger.Debug("message state", "state", "dispatching", "session", st.session.Key)

	window, err := store.ContextWindow(sctx, l.contextMessages)
	if err != nil {
		l.logger.Warn("context window unavailable", "error", err)
	}
	// Replies follow the conversation the question went into, even if the
	// session switches conversations while this message is in flight.
	convID, err := store.AppendActive(sctx, domain.NewMessage(domain.SenderUser, "", text, msg.Media, l.now()))
	if err != nil {
		l.logger.Warn("failed to save message", "sender", domain.SenderUser, "error", err)
	}

	start := time.Now()
	results := l.dispatcher.Dispatch(mctx, dispatch.Split(text), st.session)
	if l.observer != nil {
		l.observer.DispatchObserved(time.Since(start))
	}
	if l.cancelled(mctx, msg) {
		return
	}

	outputs := dispatch.Outputs(results)
	local := make([]string, 0, len(outputs))
	for _, out := range outputs {
		local = append(local, out.Text)
		m := domain.NewMessage(domain.SenderLocalCommand, LocalLabel, out.Text, out.Attachments, l.now())
		l.appendTo(mctx, store, convID, m)
		r.send(LocalLabel, out.Text, m.Attachments, "html")
	}
	if len(local) > 0 {
		l.logger.Debug("message state", "state", "local_handled", "outputs", len(local))
	} else {
		l.logger.Debug("message state", "state", "arbitrating")
	}

	if err := st.limiter.Wait(mctx); err != nil {
		l.logger.Info("message dropped before arbitration", "chat", msg.ChatID, "error", err)
		return
	}
	resp := l.arbiter.Arbitrate(mctx, arbiter.Request{Message: text, Context: window, LocalOutputs: local})
	if l.cancelled(mctx, msg) {
		return
	}

	if resp.Text != "" {
		sender := domain.SenderAssistant
		if resp.Kind == arbiter.KindOffline {
			sender = domain.SenderSystem
		}
		l.appendTo(mctx, store, convID, domain.NewMessage(sender, resp.Source, resp.Text, nil, l.now()))
		r.send(resp.Source, resp.Text, nil, "markdown")
	}
	l.logger.Debug("message state", "state", "rendered", "kind", resp.Kind)
	r.event(domain.StreamDone)
}

// cancelled reports whether a newer message (or shutdown) superseded this one.
// Nothing more is rendered for a cancelled message.
func (l *Loop) cancelled(ctx context.Context, msg domain.InboundMessage) bool {
	if ctx.Err() == nil {
		return false
	}
	l.logger.Info("message cancelled", "channel", msg.Channel, "chat", msg.ChatID)
	return true
}

func (l *Loop) appendMessage(ctx context.Context, store *memory.Store, m domain.Message) {
	if err := store.Append(context.WithoutCancel(ctx), m); err != nil {
		l.logger.Warn("failed to save message", "sender", m.Sender, "error", err)
	}
}

// appendTo saves a reply into the conversation of its question. Without a
// known conversation it falls back to the active one.
func (l *Loop) appendTo(ctx context.Context, store *memory.Store, convID string, m domain.Message) {
	if convID == "" {
		l.appendMessage(ctx, store, m)
		return
	}
	if err := store.AppendTo(context.WithoutCancel(ctx), convID, m); err != nil {
		l.logger.Warn("failed to save message", "sender", m.Sender, "conversation", convID, "error", err)
	}
}

// ReminderFired records a delivered reminder in the active conversation of
// the chat that created it.
func (l *Loop) ReminderFired(ctx context.Context, r reminder.Reminder) {
	session := r.Session
	if session == "" {
		session = r.Channel + ":" + r.ChatID
	}
	store, err := l.memory.For(ctx, session)
	if err != nil {
		l.logger.Warn("reminder not recorded", "session", session, "error", err)
		return
	}
	l.appendMessage(ctx, store, domain.NewMessage(domain.SenderSystem, reminder.Label, r.Message(), nil, l.now()))
}

// reply addresses every outbound message of one inbound message.
type reply struct {
	channel string
	chatID  string
	emit    func(domain.OutboundMessage)
}

func (r *reply) send(label, text string, attachments []string, format string) {
	r.emit(domain.OutboundMessage{
		Channel:     r.channel,
		ChatID:      r.chatID,
		Label:       label,
		Content:     text,
		Attachments: attachments,
		Format:      format,
		StreamEvent: &domain.StreamEvent{Type: domain.StreamMessage},
	})
}

func (r *reply) event(t domain.StreamEventType) {
	r.emit(domain.OutboundMessage{
		Channel:     r.channel,
		ChatID:      r.chatID,
		StreamEvent: &domain.StreamEvent{Type: t},
	})
}
