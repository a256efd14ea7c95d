package bus

import (
	"io"
	"log/slog"
	"testing"

	"wordchat/internal/domain"
)

func testBus() *InMemoryBus {
	return New(2, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishSubscribe(t *testing.T) {
	b := testBus()
	b.Publish(domain.InboundMessage{Channel: "cli", ChatID: "direct", Content: "hi"})

	msg := <-b.Subscribe()
	if msg.Content != "hi" || msg.SessionKey() != "cli:direct" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestOutboundRouting(t *testing.T) {
	b := testBus()
	var got []string
	b.OnOutbound("web", func(m domain.OutboundMessage) { got = append(got, m.Content) })

	b.SendOutbound(domain.OutboundMessage{Channel: "web", Content: "a"})
	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Content: "dropped"})

	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := testBus()
	b.Close()
	b.Close()
	b.Publish(domain.InboundMessage{Content: "late"})

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("subscription should be closed")
	}
}
