package arbiter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"wordchat/internal/domain"
)

// mockProvider implements domain.Completer for testing.
type mockProvider struct {
	name   string
	answer string
	err    error

	mu    sync.Mutex
	calls []domain.CompletionRequest
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newArbitrator(primary, secondary *mockProvider) *Arbitrator {
	return New(Config{
		Primary:            primary,
		Secondary:          secondary,
		UnhelpfulPrefixes:  []string{"I'm not sure about", "I couldn't solve", "That's a great question"},
		OfflineMessage:     "Offline.",
		SystemInstructions: "Answer shortly.",
		Logger:             testLogger(),
	})
}

var errDown = errors.New("connection refused")

func TestArbitrate_PrimaryAnswerWins(t *testing.T) {
	primary := &mockProvider{name: "PLI 7", answer: "42"}
	secondary := &mockProvider{name: "Gemini", answer: "forty-two"}
	a := newArbitrator(primary, secondary)

	resp := a.Arbitrate(context.Background(), Request{Message: "meaning of life", Context: "PREVIOUS CONTEXT:\nUser: hi\n"})
	if resp.Text != "42" || resp.Source != "PLI 7" || resp.Kind != KindPrimary {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if secondary.callCount() != 0 {
		t.Fatal("secondary must not be called when primary answers")
	}
	if primary.calls[0].Context != "" || primary.calls[0].System != "" {
		t.Fatalf("primary must not receive context: %+v", primary.calls[0])
	}
	if primary.calls[0].Prompt != "meaning of life" {
		t.Fatalf("primary should get the bare message, got %q", primary.calls[0].Prompt)
	}
}

func TestArbitrate_UnhelpfulPrefixCallsSecondaryOnce(t *testing.T) {
	for _, answer := range []string{
		"I'm not sure about that one.",
		"I couldn't solve this equation",
		"That's a great question! Let me think",
		"  that's A GREAT question, honestly",
	} {
		primary := &mockProvider{name: "PLI 7", answer: answer}
		secondary := &mockProvider{name: "Gemini", answer: "Here is the real answer."}
		a := newArbitrator(primary, secondary)

		resp := a.Arbitrate(context.Background(), Request{Message: "explain", Context: "CTX\n"})
		if secondary.callCount() != 1 {
			t.Fatalf("%q: expected exactly one secondary call, got %d", answer, secondary.callCount())
		}
		if resp.Text != "Here is the real answer." || resp.Source != "Gemini" || resp.Kind != KindFallback {
			t.Fatalf("%q: unexpected response %+v", answer, resp)
		}
	}
}

func TestArbitrate_NullPrimaryUsesContextOnSecondary(t *testing.T) {
	primary := &mockProvider{name: "PLI 7", err: errDown}
	secondary := &mockProvider{name: "Gemini", answer: "fallback"}
	a := newArbitrator(primary, secondary)

	ctxWindow := "PREVIOUS CONTEXT:\nUser: a\nAI: b\n\nCURRENT REQUEST:\n"
	resp := a.Arbitrate(context.Background(), Request{Message: "tell me more", Context: ctxWindow})
	if resp.Source != "Gemini" || resp.Text != "fallback" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	got := secondary.calls[0]
	if got.Context != ctxWindow {
		t.Fatalf("secondary should receive the context window, got %q", got.Context)
	}
	if got.Prompt != "User Question: tell me more" || got.System != "Answer shortly." {
		t.Fatalf("unexpected secondary request: %+v", got)
	}
}

func TestArbitrate_BlankPrimaryCountsAsNull(t *testing.T) {
	primary := &mockProvider{name: "PLI 7", answer: "   "}
	secondary := &mockProvider{name: "Gemini", answer: "ok"}
	resp := newArbitrator(primary, secondary).Arbitrate(context.Background(), Request{Message: "x"})
	if resp.Kind != KindFallback {
		t.Fatalf("expected fallback, got %+v", resp)
	}
}

func TestArbitrate_BothFailGivesOffline(t *testing.T) {
	primary := &mockProvider{name: "PLI 7", err: errDown}
	secondary := &mockProvider{name: "Gemini", err: errDown}
	resp := newArbitrator(primary, secondary).Arbitrate(context.Background(), Request{Message: "x"})
	if resp.Text != "Offline." || resp.Source != SystemLabel || resp.Kind != KindOffline {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if secondary.callCount() != 1 {
		t.Fatalf("secondary should be tried once, got %d", secondary.callCount())
	}
}

func TestArbitrate_UnhelpfulPrimaryAndFailedSecondaryGivesOffline(t *testing.T) {
	primary := &mockProvider{name: "PLI 7", answer: "I couldn't solve it"}
	secondary := &mockProvider{name: "Gemini", err: errDown}
	resp := newArbitrator(primary, secondary).Arbitrate(context.Background(), Request{Message: "x"})
	if resp.Kind != KindOffline {
		t.Fatalf("expected offline, got %+v", resp)
	}
}

func TestArbitrate_MissingProviders(t *testing.T) {
	a := New(Config{Logger: testLogger()})
	resp := a.Arbitrate(context.Background(), Request{Message: "x"})
	if resp.Kind != KindOffline || resp.Text != "Offline." {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestArbitrate_LocalOutputsAskForSummary(t *testing.T) {
	primary := &mockProvider{name: "PLI 7", answer: "should not be used"}
	secondary := &mockProvider{name: "Gemini", answer: "It is sunny in Paris."}
	a := newArbitrator(primary, secondary)

	resp := a.Arbitrate(context.Background(), Request{
		Message:      "weather Paris",
		Context:      "CTX\n",
		LocalOutputs: []string{"<img> The current weather in **Paris** is **Sunny**"},
	})
	if resp.Kind != KindSummary || resp.Text != "It is sunny in Paris." {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if primary.callCount() != 0 {
		t.Fatal("primary is not consulted for summaries")
	}
	want := "User ran command: weather Paris. Answer shortly about it. Don't use emoji."
	if secondary.calls[0].Prompt != want || secondary.calls[0].Context != "CTX\n" {
		t.Fatalf("unexpected summary request: %+v", secondary.calls[0])
	}
}

func TestArbitrate_SummaryFailureIsSilent(t *testing.T) {
	secondary := &mockProvider{name: "Gemini", err: errDown}
	resp := newArbitrator(&mockProvider{name: "PLI 7"}, secondary).Arbitrate(context.Background(), Request{
		Message:      "remind me",
		LocalOutputs: []string{"Reminder set"},
	})
	if resp.Kind != KindNone || resp.Text != "" {
		t.Fatalf("expected empty response, got %+v", resp)
	}
}

func TestArbitrate_CancelledContextSkipsProviders(t *testing.T) {
	primary := &mockProvider{name: "PLI 7", answer: "hi"}
	secondary := &mockProvider{name: "Gemini", answer: "hi"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := newArbitrator(primary, secondary).Arbitrate(ctx, Request{Message: "x"})
	if resp.Kind != KindOffline {
		t.Fatalf("expected offline, got %+v", resp)
	}
	if primary.callCount()+secondary.callCount() != 0 {
		t.Fatal("no provider should be called after cancellation")
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	results map[string][]bool
}

func (o *recordingObserver) ProviderRequest(provider string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string][]bool)
	}
	o.results[provider] = append(o.results[provider], ok)
}

func TestArbitrate_ReportsProviderOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	a := New(Config{
		Primary:   &mockProvider{name: "PLI 7", err: errDown},
		Secondary: &mockProvider{name: "Gemini", answer: "ok"},
		Observer:  obs,
		Logger:    testLogger(),
	})
	a.Arbitrate(context.Background(), Request{Message: "x"})
	if len(obs.results["PLI 7"]) != 1 || obs.results["PLI 7"][0] {
		t.Fatalf("primary should be recorded as failed: %v", obs.results)
	}
	if len(obs.results["Gemini"]) != 1 || !obs.results["Gemini"][0] {
		t.Fatalf("secondary should be recorded as ok: %v", obs.results)
	}
}
