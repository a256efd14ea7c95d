package domain

import (
	"context"
	"sync"
)

// Handler is a unit of logic bound to a trigger word. It receives the rest of
// the sentence and returns text or HTML to render, or an empty Reply when it
// has nothing to say.
type Handler interface {
	Name() string
	Invoke(ctx context.Context, args Arguments) (Reply, error)
}

// RemainderConsumer is implemented by handlers that treat every word after
// their trigger as their own argument. When such a handler produces output the
// dispatch loop does not look at the remaining words.
type RemainderConsumer interface {
	ConsumesRemainder() bool
}

// Arguments is the single input shape every handler receives.
type Arguments struct {
	Trigger string   // the token that selected the handler
	Tokens  []string // normalized tokens after the trigger
	Raw     string   // raw text after the trigger, original casing
	Number  *float64 // set when the handler was selected as the unit of "<number> <unit>"
	Session *Session
}

// HasNumber reports whether the handler was invoked through a number+unit pair.
func (a Arguments) HasNumber() bool { return a.Number != nil }

type Reply struct {
	Text        string
	Attachments []string
}

// Empty reports whether the handler had nothing to say.
func (r Reply) Empty() bool { return r.Text == "" }

// DispatchStatus tells apart the ways a token can fail to produce output.
type DispatchStatus string

const (
	StatusMatched  DispatchStatus = "matched"
	StatusNotFound DispatchStatus = "not_found"
	StatusFailed   DispatchStatus = "failed"
)

// DispatchResult is produced once per token consumed as primary. It is not persisted.
type DispatchResult struct {
	Token   string
	Handler string // empty when no handler resolved
	Output  Reply
	Status  DispatchStatus
	Err     error // reason, set when Status is StatusFailed
}

// Session carries per-chat state through the dispatch chain. It is shared by
// concurrent goroutines (handlers, reminder scheduler) and guards its fields.
type Session struct {
	Key     string
	Channel string
	ChatID  string

	mu            sync.RWMutex
	lastKnownCity string
	lastLookup    int64 // unix milliseconds of the last encyclopedic lookup
}

func NewSession(channel, chatID string) *Session {
	return &Session{Key: channel + ":" + chatID, Channel: channel, ChatID: chatID}
}

func (s *Session) LastKnownCity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastKnownCity
}

func (s *Session) SetLastKnownCity(city string) {
	s.mu.Lock()
	s.lastKnownCity = city
	s.mu.Unlock()
}

// TryLookup records a lookup at nowMs unless the previous one happened less
// than cooldownMs ago, in which case it reports false.
func (s *Session) TryLookup(nowMs, cooldownMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastLookup != 0 && nowMs-s.lastLookup < cooldownMs {
		return false
	}
	s.lastLookup = nowMs
	return true
}
