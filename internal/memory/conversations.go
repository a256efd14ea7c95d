package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"wordchat/internal/domain"
)

const (
	// DefaultTitle names a conversation until its first user message arrives.
	DefaultTitle = "New Chat"

	titleLimit = 25
)

// ErrNotFound is returned when a conversation id (or prefix) matches nothing.
var ErrNotFound = errors.New("conversation not found")

// Summary describes a conversation for listings.
type Summary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"timestamp"`
	Messages  int    `json:"messages"`
	Active    bool   `json:"active"`
}

// Store holds every conversation of one session and keeps exactly one of them
// active. Each mutation rewrites the whole map to the blob store before it
// returns.
type Store struct {
	blobs  domain.BlobStore
	key    string
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	convs    map[string]*domain.Conversation
	activeID string
	loaded   bool
}

type StoreConfig struct {
	Blobs  domain.BlobStore
	Key    string // blob key, e.g. "pli7data"
	Logger *slog.Logger
	Now    func() time.Time // optional, for tests
	NewID  func() string    // optional, for tests
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return &Store{
		blobs:  cfg.Blobs,
		key:    cfg.Key,
		logger: cfg.Logger,
		now:    cfg.Now,
		newID:  cfg.NewID,
		convs:  make(map[string]*domain.Conversation),
	}
}

// Key is the blob key this store persists under.
func (s *Store) Key() string { return s.key }

// Load reads the persisted map. A missing blob starts empty; a corrupted one
// is discarded and logged. When nothing survives, a default conversation is
// created. Only blob store read failures are returned.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.blobs.Get(ctx, s.key)
	switch {
	case errors.Is(err, domain.ErrBlobNotFound):
		s.convs = make(map[string]*domain.Conversation)
	case err != nil:
		return fmt.Errorf("load conversations: %w", err)
	default:
		convs, decodeErr := decode(data)
		if decodeErr != nil {
			s.logger.Warn("corrupt conversation data discarded", "key", s.key, "error", decodeErr)
			convs = make(map[string]*domain.Conversation)
		}
		s.convs = convs
	}

	s.loaded = true
	s.activeID = s.newestID()
	if s.activeID == "" {
		s.createLocked()
		if err := s.persistLocked(ctx); err != nil {
			s.logger.Warn("could not persist default conversation", "key", s.key, "error", err)
		}
	}
	return nil
}

func decode(data []byte) (map[string]*domain.Conversation, error) {
	var raw map[string]*domain.Conversation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	convs := make(map[string]*domain.Conversation, len(raw))
	for id, c := range raw {
		if c == nil {
			continue
		}
		c.ID = id
		if c.Messages == nil {
			c.Messages = []domain.Message{}
		}
		convs[id] = c
	}
	return convs, nil
}

// newestID picks the most recently created conversation, ties broken by id.
func (s *Store) newestID() string {
	var best *domain.Conversation
	for _, c := range s.convs {
		if best == nil || c.CreatedAt > best.CreatedAt || (c.CreatedAt == best.CreatedAt && c.ID > best.ID) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	s.mu.Unlock()
	err := s.Load(ctx)
	s.mu.Lock()
	return err
}

func (s *Store) createLocked() *domain.Conversation {
	c := &domain.Conversation{
		ID:        s.newID(),
		Title:     DefaultTitle,
		CreatedAt: s.now().UnixMilli(),
		Messages:  []domain.Message{},
	}
	s.convs[c.ID] = c
	s.activeID = c.ID
	return c
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := s.exportLocked()
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("persist conversations: %w", err)
	}
	return nil
}

// Active returns a copy of the active conversation.
func (s *Store) Active(ctx context.Context) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return domain.Conversation{}, err
	}
	c, ok := s.convs[s.activeID]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	return clone(c), nil
}

// Get returns a copy of the conversation with the given id.
func (s *Store) Get(ctx context.Context, id string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return domain.Conversation{}, err
	}
	c, ok := s.convs[id]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	return clone(c), nil
}

func clone(c *domain.Conversation) domain.Conversation {
	out := *c
	out.Messages = slices.Clone(c.Messages)
	return out
}

// List returns every conversation, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, Summary{
			ID:        c.ID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			Messages:  len(c.Messages),
			Active:    c.ID == s.activeID,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// New creates an empty conversation and makes it active.
func (s *Store) New(ctx context.Context) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return domain.Conversation{}, err
	}
	c := s.createLocked()
	return clone(c), s.persistLocked(ctx)
}

// Switch activates the conversation whose id equals or starts with ref.
// Other conversations are not touched.
func (s *Store) Switch(ctx context.Context, ref string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return domain.Conversation{}, err
	}
	id, err := s.matchLocked(ref)
	if err != nil {
		return domain.Conversation{}, err
	}
	s.activeID = id
	return clone(s.convs[id]), nil
}

// Delete removes the conversation whose id equals or starts with ref. When
// the active one goes, the newest remaining conversation becomes active, or a
// fresh one is created if none remain.
func (s *Store) Delete(ctx context.Context, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return "", err
	}
	id, err := s.matchLocked(ref)
	if err != nil {
		return "", err
	}
	delete(s.convs, id)
	if id == s.activeID {
		s.activeID = s.newestID()
		if s.activeID == "" {
			s.createLocked()
		}
	}
	return id, s.persistLocked(ctx)
}

func (s *Store) matchLocked(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrNotFound
	}
	if _, ok := s.convs[ref]; ok {
		return ref, nil
	}
	var match string
	for id := range s.convs {
		if strings.HasPrefix(id, ref) {
			if match != "" {
				return "", fmt.Errorf("%q matches more than one conversation", ref)
			}
			match = id
		}
	}
	if match == "" {
		return "", ErrNotFound
	}
	return match, nil
}

// Append adds msg to the active conversation. The first user message also
// becomes the conversation title.
func (s *Store) Append(ctx context.Context, msg domain.Message) error {
	_, err := s.AppendActive(ctx, msg)
	return err
}

// AppendActive appends msg to the active conversation and returns that
// conversation's id, so later replies can follow it with AppendTo.
func (s *Store) AppendActive(ctx context.Context, msg domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return "", err
	}
	c, ok := s.convs[s.activeID]
	if !ok {
		c = s.createLocked()
	}
	return c.ID, s.appendLocked(ctx, c, msg)
}

// AppendTo appends msg to the conversation with the given id whether or not
// it is active. It returns ErrNotFound when the conversation was deleted.
func (s *Store) AppendTo(ctx context.Context, id string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("append to %s: %w", id, ErrNotFound)
	}
	return s.appendLocked(ctx, c, msg)
}

func (s *Store) appendLocked(ctx context.Context, c *domain.Conversation, msg domain.Message) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = s.now().UnixMilli()
	}
	msg.Attachments = domain.NormalizeAttachments(msg.Attachments)

	if msg.Sender == domain.SenderUser && !hasUserMessage(c) {
		c.Title = Title(msg.Text)
	}
	c.Messages = append(c.Messages, msg)
	return s.persistLocked(ctx)
}

func hasUserMessage(c *domain.Conversation) bool {
	for _, m := range c.Messages {
		if m.Sender == domain.SenderUser {
			return true
		}
	}
	return false
}

// Title truncates text to 25 characters, marking the cut with "...".
func Title(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= titleLimit {
		return text
	}
	return string([]rune(text)[:titleLimit]) + "..."
}

// ContextWindow formats the last n messages of the active conversation for a
// completion provider. It is empty when there is nothing to show.
func (s *Store) ContextWindow(ctx context.Context, n int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return "", err
	}
	c, ok := s.convs[s.activeID]
	if !ok || n <= 0 {
		return "", nil
	}
	return FormatContext(c.Messages, n), nil
}

// FormatContext renders the last n of msgs as the PREVIOUS CONTEXT block.
func FormatContext(msgs []domain.Message, n int) string {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	if len(msgs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("PREVIOUS CONTEXT:\n")
	for _, m := range msgs {
		role := "AI"
		if m.Sender == domain.SenderUser {
			role = "User"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, m.Text)
	}
	sb.WriteString("\nCURRENT REQUEST:\n")
	return sb.String()
}

// Export serializes every conversation as indented JSON keyed by id.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.exportLocked()
}

func (s *Store) exportLocked() ([]byte, error) {
	data, err := json.MarshalIndent(s.convs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode conversations: %w", err)
	}
	return data, nil
}

// Import replaces every conversation with the content of an export. Invalid
// documents are rejected and leave the store unchanged.
func (s *Store) Import(ctx context.Context, data []byte) error {
	convs, err := decode(data)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = convs
	s.loaded = true
	s.activeID = s.newestID()
	if s.activeID == "" {
		s.createLocked()
	}
	return s.persistLocked(ctx)
}
