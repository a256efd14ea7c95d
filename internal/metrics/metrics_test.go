package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordchat/internal/domain"
)

func TestSnapshotCounts(t *testing.T) {
	m := New()
	m.MessageReceived("web")
	m.MessageReceived("cli")
	m.HandlerInvoked("weather", domain.StatusMatched, 20*time.Millisecond)
	m.HandlerInvoked("the", domain.StatusFailed, time.Second)
	m.ProviderRequest("PLI 7", false)
	m.ProviderRequest("Gemini", true)
	m.ReminderFired("timer")

	s := m.Snapshot()
	assert.EqualValues(t, 2, s.Messages)
	assert.EqualValues(t, 2, s.HandlerInvocations)
	assert.EqualValues(t, 1, s.HandlerFailures)
	assert.EqualValues(t, 2, s.ProviderRequests)
	assert.EqualValues(t, 1, s.ProviderNoAnswer)
	assert.EqualValues(t, 1, s.RemindersFired)
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.HandlerInvoked("weather", domain.StatusMatched, time.Millisecond)
	m.ProviderRequest("Gemini", true)
	m.DispatchObserved(5 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `wordchat_handler_invocations_total{handler="weather",status="matched"} 1`), text)
	assert.Contains(t, text, `wordchat_provider_requests_total{outcome="answer",provider="Gemini"} 1`)
	assert.Contains(t, text, "wordchat_dispatch_duration_seconds_count 1")
}
