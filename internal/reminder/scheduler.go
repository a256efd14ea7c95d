// Package reminder schedules one-shot reminders and timers and delivers them
// through the message bus when they come due.
package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"wordchat/internal/domain"
)

// DefaultKey is the blob key the pending list is stored under.
const DefaultKey = "chatReminders"

// Label marks delivered reminders in conversations and notifications.
const Label = "Reminder"

type Kind string

const (
	KindReminder Kind = "reminder"
	KindTimer    Kind = "timer"
)

// Reminder is one pending notification.
type Reminder struct {
	ID        string  `json:"id"`
	Kind      Kind    `json:"kind"`
	Session   string  `json:"session"`
	Channel   string  `json:"channel"`
	ChatID    string  `json:"chatId"`
	Text      string  `json:"text"`
	TriggerAt int64   `json:"triggerTime"` // unix millis
	Amount    float64 `json:"amount,omitempty"`
	Unit      string  `json:"unit,omitempty"`
}

// Due reports whether the reminder should fire at now.
func (r Reminder) Due(now time.Time) bool {
	return now.UnixMilli() >= r.TriggerAt
}

// Message is the text delivered when the reminder fires.
func (r Reminder) Message() string {
	if r.Kind == KindTimer {
		return fmt.Sprintf("Your timer for **%s %s(s)** has finished.", formatAmount(r.Amount), r.Unit)
	}
	return fmt.Sprintf("Here is your reminder: **\"%s\"**", r.Text)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FireFunc is called for each delivered reminder, after the bus send.
type FireFunc func(ctx context.Context, r Reminder)

// Observer counts deliveries.
type Observer interface {
	ReminderFired(kind string)
}

type Config struct {
	Blobs        domain.BlobStore
	Bus          domain.MessageBus
	Key          string
	PollInterval time.Duration
	OnFire       FireFunc
	Observer     Observer
	Logger       *slog.Logger
	Now          func() time.Time
}

// Scheduler keeps the pending list in memory, mirrors it to the blob store
// and polls it on a ticker.
type Scheduler struct {
	blobs    domain.BlobStore
	bus      domain.MessageBus
	key      string
	interval time.Duration
	onFire   FireFunc
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	pending  map[string]Reminder
	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(cfg Config) *Scheduler {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		blobs:    cfg.Blobs,
		bus:      cfg.Bus,
		key:      cfg.Key,
		interval: cfg.PollInterval,
		onFire:   cfg.OnFire,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      cfg.Now,
		pending:  make(map[string]Reminder),
		stopCh:   make(chan struct{}),
	}
}

// SetOnFire installs the delivery callback. Call before Start.
func (s *Scheduler) SetOnFire(fn FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFire = fn
}

// Load replaces the pending list with the persisted one. A corrupt list is
// discarded.
func (s *Scheduler) Load(ctx context.Context) error {
	data, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, domain.ErrBlobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}

	var list []Reminder
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn("corrupt reminder list discarded", "key", s.key, "error", err)
		list = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]Reminder, len(list))
	for _, r := range list {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.pending[r.ID] = r
	}
	return nil
}

// Add schedules r, assigning an ID when empty, and persists the list.
func (s *Scheduler) Add(ctx context.Context, r Reminder) (Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Kind == "" {
		r.Kind = KindReminder
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[r.ID] = r
	if err := s.persistLocked(ctx); err != nil {
		delete(s.pending, r.ID)
		return Reminder{}, err
	}
	s.logger.Info("reminder scheduled", "id", r.ID, "kind", r.Kind, "session", r.Session,
		"at", time.UnixMilli(r.TriggerAt).UTC().Format(time.RFC3339))
	return r, nil
}

// Cancel removes a pending reminder. It reports whether one was removed.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false, nil
	}
	delete(s.pending, id)
	return true, s.persistLocked(ctx)
}

// List returns pending reminders ordered by trigger time. An empty session
// lists all of them.
func (s *Scheduler) List(session string) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, 0, len(s.pending))
	for _, r := range s.pending {
		if session == "" || r.Session == session {
			out = append(out, r)
		}
	}
	sortByTrigger(out)
	return out
}

func sortByTrigger(list []Reminder) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].TriggerAt != list[j].TriggerAt {
			return list[i].TriggerAt < list[j].TriggerAt
		}
		return list[i].ID < list[j].ID
	})
}

func (s *Scheduler) persistLocked(ctx context.Context) error {
	list := make([]Reminder, 0, len(s.pending))
	for _, r := range s.pending {
		list = append(list, r)
	}
	sortByTrigger(list)
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode reminders: %w", err)
	}
	if err := s.blobs.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("persist reminders: %w", err)
	}
	return nil
}

// Start polls until ctx is cancelled or Stop is called. Reminders that came
// due while the process was down fire on the first check.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("reminder scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopping")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Check fires every due reminder once and removes it from the list.
func (s *Scheduler) Check(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []Reminder
	for id, r := range s.pending {
		if r.Due(now) {
			due = append(due, r)
			delete(s.pending, id)
		}
	}
	onFire := s.onFire
	if len(due) > 0 {
		if err := s.persistLocked(ctx); err != nil {
			s.logger.Warn("could not persist reminder list", "error", err)
		}
	}
	s.mu.Unlock()

	sortByTrigger(due)
	for _, r := range due {
		s.fire(ctx, r, onFire)
	}
}

func (s *Scheduler) fire(ctx context.Context, r Reminder, onFire FireFunc) {
	s.logger.Info("reminder due", "id", r.ID, "kind", r.Kind, "session", r.Session)
	if s.bus != nil && r.Channel != "" {
		s.bus.SendOutbound(domain.OutboundMessage{
			Channel: r.Channel,
			ChatID:  r.ChatID,
			Title:   Label,
			Label:   Label,
			Content: r.Message(),
			Format:  "markdown",
		})
	}
	if onFire != nil {
		onFire(ctx, r)
	}
	if s.observer != nil {
		s.observer.ReminderFired(string(r.Kind))
	}
}
