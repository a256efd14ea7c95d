// Package metrics exposes wordchat's Prometheus collectors on a private
// registry and keeps a small in-process snapshot for the /status command.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wordchat/internal/domain"
)

// Metrics implements the observer hooks of the dispatch loop, the
// arbitrator and the reminder scheduler.
type Metrics struct {
	registry *prometheus.Registry
	start    time.Time

	messages        *prometheus.CounterVec
	handlerCalls    *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	dispatchSeconds prometheus.Histogram
	handlerSeconds  *prometheus.HistogramVec
	remindersFired  *prometheus.CounterVec

	nMessages        atomic.Int64
	nHandlerCalls    atomic.Int64
	nHandlerFailures atomic.Int64
	nProviderCalls   atomic.Int64
	nProviderMisses  atomic.Int64
	nReminders       atomic.Int64
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wordchat_messages_total",
			Help: "Inbound user messages by channel.",
		}, []string{"channel"}),
		handlerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wordchat_handler_invocations_total",
			Help: "Command handler invocations by handler and outcome.",
		}, []string{"handler", "status"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wordchat_provider_requests_total",
			Help: "Completion provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		dispatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wordchat_dispatch_duration_seconds",
			Help:    "Time to dispatch one message through the command handlers.",
			Buckets: prometheus.DefBuckets,
		}),
		handlerSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wordchat_handler_duration_seconds",
			Help:    "Duration of single handler invocations.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"handler"}),
		remindersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wordchat_reminders_fired_total",
			Help: "Delivered reminders and timers.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.messages,
		m.handlerCalls,
		m.providerCalls,
		m.dispatchSeconds,
		m.handlerSeconds,
		m.remindersFired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is exposed for tests and for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MessageReceived(channel string) {
	m.messages.WithLabelValues(channel).Inc()
	m.nMessages.Add(1)
}

func (m *Metrics) DispatchObserved(elapsed time.Duration) {
	m.dispatchSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) HandlerInvoked(handler string, status domain.DispatchStatus, elapsed time.Duration) {
	m.handlerCalls.WithLabelValues(handler, string(status)).Inc()
	m.handlerSeconds.WithLabelValues(handler).Observe(elapsed.Seconds())
	m.nHandlerCalls.Add(1)
	if status == domain.StatusFailed {
		m.nHandlerFailures.Add(1)
	}
}

func (m *Metrics) ProviderRequest(provider string, ok bool) {
	outcome := "answer"
	if !ok {
		outcome = "no_answer"
		m.nProviderMisses.Add(1)
	}
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
	m.nProviderCalls.Add(1)
}

func (m *Metrics) ReminderFired(kind string) {
	m.remindersFired.WithLabelValues(kind).Inc()
	m.nReminders.Add(1)
}

// Snapshot is a point-in-time summary for humans.
type Snapshot struct {
	Uptime             time.Duration `json:"uptime"`
	Messages           int64         `json:"messages"`
	HandlerInvocations int64         `json:"handlerInvocations"`
	HandlerFailures    int64         `json:"handlerFailures"`
	ProviderRequests   int64         `json:"providerRequests"`
	ProviderNoAnswer   int64         `json:"providerNoAnswer"`
	RemindersFired     int64         `json:"remindersFired"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Uptime:             time.Since(m.start).Truncate(time.Second),
		Messages:           m.nMessages.Load(),
		HandlerInvocations: m.nHandlerCalls.Load(),
		HandlerFailures:    m.nHandlerFailures.Load(),
		ProviderRequests:   m.nProviderCalls.Load(),
		ProviderNoAnswer:   m.nProviderMisses.Load(),
		RemindersFired:     m.nReminders.Load(),
	}
}
