package bus

import (
	"log/slog"
	"sync"
	"time"

	"wordchat/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus carries inbound messages from channels to the agent loop and
// routes outbound messages back to the channel they name.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	handlers map[string]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish blocks up to publishTimeout when the buffer is full, then drops.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", msg.Channel)
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "chat", msg.ChatID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
		case <-timer.C:
			b.logger.Error("message dropped: bus full", "channel", msg.Channel, "chat", msg.ChatID)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound hands msg to the handler of its channel. Messages for a
// channel that is not running are dropped.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Debug("no handler registered for channel", "channel", msg.Channel)
		return
	}
	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Close stops inbound delivery. Safe to call more than once.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
