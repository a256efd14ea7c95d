package domain

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrBlobNotFound is returned by BlobStore.Get when the key has never been written.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is an opaque key-value store holding serialized state.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Sender classifies who produced a message.
type Sender string

const (
	SenderUser         Sender = "user"
	SenderAssistant    Sender = "assistant"
	SenderSystem       Sender = "system"
	SenderLocalCommand Sender = "local-command"
)

// MaxAttachments caps the attachment list of a single message.
const MaxAttachments = 3

// Message is one entry of a conversation. It is never modified after it has
// been appended.
type Message struct {
	Sender      Sender   `json:"sender"`
	Label       string   `json:"label,omitempty"`
	Text        string   `json:"text"`
	Attachments []string `json:"images,omitempty"`
	Timestamp   int64    `json:"timestamp"` // unix milliseconds
}

// NewMessage builds a message stamped with now, normalizing attachments.
func NewMessage(sender Sender, label, text string, attachments []string, now time.Time) Message {
	return Message{
		Sender:      sender,
		Label:       label,
		Text:        text,
		Attachments: NormalizeAttachments(attachments),
		Timestamp:   now.UnixMilli(),
	}
}

// NormalizeAttachments drops empty and repeated URLs, keeping first occurrences,
// and keeps at most MaxAttachments of them.
func NormalizeAttachments(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || slices.Contains(out, u) {
			continue
		}
		out = append(out, u)
	}
	if len(out) > MaxAttachments {
		out = out[:MaxAttachments]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Conversation is a titled, ordered sequence of messages. The ID is the key
// under which the conversation is stored and is not part of its JSON record.
type Conversation struct {
	ID        string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt int64     `json:"timestamp"` // unix milliseconds
	Messages  []Message `json:"messages"`
}
