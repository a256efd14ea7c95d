// Package arbiter decides which completion provider answers a message.
package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"wordchat/internal/domain"
)

// SystemLabel marks replies that no provider produced.
const SystemLabel = "System"

// Kind records which branch of the policy produced a response.
type Kind string

const (
	KindSummary  Kind = "summary"
	KindPrimary  Kind = "primary"
	KindFallback Kind = "fallback"
	KindOffline  Kind = "offline"
	KindNone     Kind = "none"
)

type Request struct {
	Message      string
	Context      string   // formatted window of recent messages
	LocalOutputs []string // replies already produced by command handlers
}

type Response struct {
	Text   string
	Source string // label of whoever produced Text
	Kind   Kind
}

// Observer receives one call per provider request.
type Observer interface {
	ProviderRequest(provider string, ok bool)
}

// Arbitrator asks the primary provider first and falls back to the secondary
// once. Nothing is retried and no error escapes: every path ends in a
// renderable response.
type Arbitrator struct {
	primary   domain.Completer
	secondary domain.Completer
	unhelpful []string
	offline   string
	system    string
	observer  Observer
	logger    *slog.Logger
}

type Config struct {
	Primary            domain.Completer // optional
	Secondary          domain.Completer // optional
	UnhelpfulPrefixes  []string
	OfflineMessage     string
	SystemInstructions string
	Observer           Observer
	Logger             *slog.Logger
}

func New(cfg Config) *Arbitrator {
	if cfg.OfflineMessage == "" {
		cfg.OfflineMessage = "Offline."
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	prefixes := make([]string, 0, len(cfg.UnhelpfulPrefixes))
	for _, p := range cfg.UnhelpfulPrefixes {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Arbitrator{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		unhelpful: prefixes,
		offline:   cfg.OfflineMessage,
		system:    cfg.SystemInstructions,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
	}
}

// Arbitrate produces the assistant reply for req.
//
// With local outputs it only asks for a short summary, and an empty Text
// means the summary failed. Without them the primary provider gets the bare
// message; a missing or unhelpful answer sends the message, with context, to
// the secondary provider exactly once; when that fails too the offline
// message is returned.
func (a *Arbitrator) Arbitrate(ctx context.Context, req Request) Response {
	if len(req.LocalOutputs) > 0 {
		return a.summarize(ctx, req)
	}

	answer, ok := a.ask(ctx, a.primary, domain.CompletionRequest{Prompt: req.Message})
	if ok && !a.IsUnhelpful(answer) {
		return Response{Text: answer, Source: a.primary.Name(), Kind: KindPrimary}
	}
	if ok {
		a.logger.Info("primary answer unhelpful, falling back", "provider", a.primary.Name())
	}

	answer, ok = a.ask(ctx, a.secondary, domain.CompletionRequest{
		System:  a.system,
		Context: req.Context,
		Prompt:  "User Question: " + req.Message,
	})
	if ok {
		return Response{Text: answer, Source: a.secondary.Name(), Kind: KindFallback}
	}

	a.logger.Warn("no provider answered, replying offline")
	return Response{Text: a.offline, Source: SystemLabel, Kind: KindOffline}
}

func (a *Arbitrator) summarize(ctx context.Context, req Request) Response {
	prompt := fmt.Sprintf("User ran command: %s. Answer shortly about it. Don't use emoji.", req.Message)
	answer, ok := a.ask(ctx, a.secondary, domain.CompletionRequest{Context: req.Context, Prompt: prompt})
	if !ok {
		return Response{Kind: KindNone}
	}
	return Response{Text: answer, Source: a.secondary.Name(), Kind: KindSummary}
}

// IsUnhelpful reports whether answer opens with one of the configured
// non-answer phrases. Matching ignores case and leading whitespace.
func (a *Arbitrator) IsUnhelpful(answer string) bool {
	lower := strings.ToLower(strings.TrimSpace(answer))
	for _, p := range a.unhelpful {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func (a *Arbitrator) ask(ctx context.Context, c domain.Completer, req domain.CompletionRequest) (string, bool) {
	if c == nil || ctx.Err() != nil {
		return "", false
	}
	answer, err := c.Complete(ctx, req)
	ok := err == nil && strings.TrimSpace(answer) != ""
	if err != nil {
		a.logger.Warn("provider gave no answer", "provider", c.Name(), "error", err)
	}
	if a.observer != nil {
		a.observer.ProviderRequest(c.Name(), ok)
	}
	return answer, ok
}
