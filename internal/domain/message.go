package domain

import "time"

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Media     []string
	Timestamp time.Time
}

// SessionKey identifies the chat an inbound message belongs to.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel     string
	ChatID      string
	Title       string   // notification title, set for reminder deliveries
	Label       string   // who produced the content: "PLI 7", "Gemini", "Local Command", ...
	Content     string
	Attachments []string
	Format      string       // text | markdown | html
	StreamEvent *StreamEvent // optional: pending indicator and end-of-reply marker
}

// StreamEventType classifies a delivery event.
type StreamEventType string

const (
	StreamThinking StreamEventType = "thinking"
	StreamMessage  StreamEventType = "message"
	StreamDone     StreamEventType = "done"
	StreamError    StreamEventType = "error"
)

// StreamEvent marks the phases of one reply so channels can show a typing
// indicator and know when every message for an input has been sent.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
}
