package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"wordchat/internal/domain"
)

type clock struct{ ms int64 }

func (c *clock) now() time.Time {
	c.ms += 1000
	return time.UnixMilli(c.ms)
}

func newTestStore(t *testing.T, blobs domain.BlobStore) *Store {
	t.Helper()
	c := &clock{ms: 1_700_000_000_000}
	n := 0
	s := NewStore(StoreConfig{
		Blobs:  blobs,
		Key:    "pli7data",
		Logger: testLogger(),
		Now:    c.now,
		NewID: func() string {
			n++
			return fmt.Sprintf("c%03d", n)
		},
	})
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func TestStore_LoadEmptyCreatesDefault(t *testing.T) {
	blobs := NewMemBlobs()
	s := newTestStore(t, blobs)

	active, err := s.Active(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if active.Title != DefaultTitle || len(active.Messages) != 0 {
		t.Fatalf("unexpected default conversation %+v", active)
	}
	if _, err := blobs.Get(context.Background(), "pli7data"); err != nil {
		t.Fatalf("default conversation should be persisted: %v", err)
	}
}

func TestStore_LoadCorruptResets(t *testing.T) {
	blobs := NewMemBlobs()
	blobs.Put(context.Background(), "pli7data", []byte("{broken"))

	s := newTestStore(t, blobs)
	list, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != DefaultTitle {
		t.Fatalf("expected a single default conversation, got %+v", list)
	}
}

func TestStore_LoadPicksNewest(t *testing.T) {
	blobs := NewMemBlobs()
	blobs.Put(context.Background(), "pli7data", []byte(`{
  "old": {"title": "Old", "timestamp": 100, "messages": []},
  "new": {"title": "New", "timestamp": 200, "messages": null}
}`))

	s := newTestStore(t, blobs)
	active, _ := s.Active(context.Background())
	if active.ID != "new" {
		t.Fatalf("expected newest conversation active, got %q", active.ID)
	}
	if active.Messages == nil {
		t.Fatal("messages should never be nil")
	}
}

func TestStore_AppendSetsTitleFromFirstUserMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())

	s.Append(ctx, domain.Message{Sender: domain.SenderSystem, Label: "Reminder", Text: "ding"})
	s.Append(ctx, domain.Message{Sender: domain.SenderUser, Text: "what is the weather in Paris tomorrow?"})
	s.Append(ctx, domain.Message{Sender: domain.SenderUser, Text: "second"})

	active, _ := s.Active(ctx)
	if active.Title != "what is the weather in Pa..." {
		t.Fatalf("unexpected title %q", active.Title)
	}
	if len(active.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(active.Messages))
	}
	if active.Messages[0].Timestamp == 0 {
		t.Fatal("timestamp should be filled in")
	}
}

func TestTitle(t *testing.T) {
	cases := map[string]string{
		"short":                          "short",
		"exactly twenty-five chars":      "exactly twenty-five chars",
		"exactly twenty-five chars!":     "exactly twenty-five chars...",
		"  padded  ":                     "padded",
		"ééééééééééééééééééééééééééé": "ééééééééééééééééééééééééé...",
	}
	for in, want := range cases {
		if got := Title(in); got != want {
			t.Errorf("Title(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStore_AppendNormalizesAttachments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())
	s.Append(ctx, domain.Message{
		Sender:      domain.SenderAssistant,
		Text:        "pics",
		Attachments: []string{"a", "a", "", "b", "c", "d"},
	})
	active, _ := s.Active(ctx)
	got := active.Messages[0].Attachments
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected attachments %v", got)
	}
}

func TestStore_NewSwitchList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())
	first, _ := s.Active(ctx)

	second, err := s.New(ctx)
	if err != nil {
		t.Fatal(err)
	}
	list, _ := s.List(ctx)
	if len(list) != 2 || list[0].ID != second.ID || !list[0].Active {
		t.Fatalf("newest should be first and active: %+v", list)
	}

	if _, err := s.Switch(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	s.Append(ctx, domain.Message{Sender: domain.SenderUser, Text: "hello"})

	got, _ := s.Get(ctx, second.ID)
	if len(got.Messages) != 0 {
		t.Fatal("switch must not touch other conversations")
	}
	if _, err := s.Switch(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SwitchByPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())
	s.New(ctx)
	if _, err := s.Switch(ctx, "c0"); err == nil {
		t.Fatal("ambiguous prefix should fail")
	}
	c, err := s.Switch(ctx, "c001")
	if err != nil || c.ID != "c001" {
		t.Fatalf("exact id should match, got %v %v", c.ID, err)
	}
}

func TestStore_DeleteActiveFallsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())
	s.New(ctx) // c002
	s.New(ctx) // c003
	s.Switch(ctx, "c002")

	if _, err := s.Delete(ctx, "c002"); err != nil {
		t.Fatal(err)
	}
	active, _ := s.Active(ctx)
	if active.ID != "c003" {
		t.Fatalf("expected newest remaining conversation, got %q", active.ID)
	}

	s.Delete(ctx, "c003")
	s.Delete(ctx, "c001")
	active, _ = s.Active(ctx)
	if active.ID != "c004" || active.Title != DefaultTitle {
		t.Fatalf("deleting the last conversation should create a fresh one, got %+v", active)
	}
}

func TestStore_DeleteInactiveKeepsActive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())
	s.New(ctx)
	s.Delete(ctx, "c001")
	active, _ := s.Active(ctx)
	if active.ID != "c002" {
		t.Fatalf("active should stay c002, got %q", active.ID)
	}
}

func TestStore_ContextWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())

	if got, _ := s.ContextWindow(ctx, 10); got != "" {
		t.Fatalf("empty conversation should give empty context, got %q", got)
	}
	for i := 0; i < 6; i++ {
		s.Append(ctx, domain.Message{Sender: domain.SenderUser, Text: fmt.Sprintf("q%d", i)})
		s.Append(ctx, domain.Message{Sender: domain.SenderAssistant, Label: "PLI 7", Text: fmt.Sprintf("a%d", i)})
	}
	got, err := s.ContextWindow(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := "PREVIOUS CONTEXT:\nAI: a4\nUser: q5\nAI: a5\n\nCURRENT REQUEST:\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())
	s.Append(ctx, domain.Message{Sender: domain.SenderUser, Text: "weather Oslo"})
	s.Append(ctx, domain.Message{Sender: domain.SenderLocalCommand, Label: "weather", Text: "3°C", Attachments: []string{"https://cdn/icon.png"}})
	s.New(ctx)

	first, err := s.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}

	other := newTestStore(t, NewMemBlobs())
	if err := other.Import(ctx, first); err != nil {
		t.Fatalf("import: %v", err)
	}
	second, err := other.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("export differs after import:\n%s\n---\n%s", first, second)
	}
	if !strings.Contains(string(first), `"images": [`) {
		t.Fatalf("attachments should be exported as images: %s", first)
	}
}

func TestStore_ImportRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())
	s.Append(ctx, domain.Message{Sender: domain.SenderUser, Text: "keep me"})

	if err := s.Import(ctx, []byte("[1,2")); err == nil {
		t.Fatal("expected import error")
	}
	active, _ := s.Active(ctx)
	if len(active.Messages) != 1 {
		t.Fatal("failed import must leave the store unchanged")
	}
}

func TestStore_AppendToTargetsConversation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemBlobs())

	first, err := s.AppendActive(ctx, domain.Message{Sender: domain.SenderUser, Text: "question"})
	if err != nil {
		t.Fatal(err)
	}
	second, _ := s.New(ctx)

	if err := s.AppendTo(ctx, first, domain.Message{Sender: domain.SenderAssistant, Label: "PLI 7", Text: "answer"}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, first)
	if len(got.Messages) != 2 || got.Messages[1].Text != "answer" {
		t.Fatalf("expected answer in the first conversation, got %+v", got.Messages)
	}
	active, _ := s.Active(ctx)
	if active.ID != second.ID || len(active.Messages) != 0 {
		t.Fatalf("active conversation should be untouched, got %+v", active)
	}

	if _, err := s.Delete(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTo(ctx, first, domain.Message{Sender: domain.SenderAssistant, Text: "late"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a deleted conversation, got %v", err)
	}
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemBlobs()
	s := newTestStore(t, blobs)
	s.Append(ctx, domain.Message{Sender: domain.SenderUser, Text: "remember this"})

	reopened := newTestStore(t, blobs)
	active, _ := reopened.Active(ctx)
	if len(active.Messages) != 1 || active.Messages[0].Text != "remember this" {
		t.Fatalf("expected persisted message, got %+v", active.Messages)
	}
}

func TestManager_KeysPerSession(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemBlobs()
	m := NewManager(blobs, "pli7data", testLogger())

	if got := m.KeyFor(DefaultSession); got != "pli7data" {
		t.Fatalf("default session key = %q", got)
	}
	if got := m.KeyFor("web:abc"); got != "pli7data:web:abc" {
		t.Fatalf("web session key = %q", got)
	}

	a, err := m.For(ctx, "web:abc")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.For(ctx, "web:abc")
	if a != b {
		t.Fatal("manager should reuse stores")
	}
	if _, err := blobs.Get(ctx, "pli7data:web:abc"); err != nil {
		t.Fatalf("session blob not written: %v", err)
	}
}
