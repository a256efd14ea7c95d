package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"wordchat/internal/domain"
)

const defaultHandlerTimeout = 15 * time.Second

// ErrHandlerTimeout is the failure reason recorded when a handler overruns.
var ErrHandlerTimeout = errors.New("handler timed out")

// Observer receives one call per handler invocation.
type Observer interface {
	HandlerInvoked(handler string, status domain.DispatchStatus, elapsed time.Duration)
}

// Loop walks the tokens of a message and invokes the handler each one
// resolves to, in order, one at a time.
type Loop struct {
	resolver *Resolver
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger
}

type LoopConfig struct {
	Resolver *Resolver
	Timeout  time.Duration // per handler invocation
	Observer Observer      // optional
	Logger   *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHandlerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver(ResolverConfig{Logger: cfg.Logger})
	}
	return &Loop{
		resolver: cfg.Resolver,
		timeout:  cfg.Timeout,
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}
}

// Dispatch returns one result per token consumed as primary. A "<number>
// <unit>" pair whose unit resolves to a handler is consumed together and
// yields a single result attributed to the unit. The loop stops early when ctx
// is cancelled or when a RemainderConsumer produced output.
func (l *Loop) Dispatch(ctx context.Context, in Input, session *domain.Session) []domain.DispatchResult {
	tokens := in.Tokens
	results := make([]domain.DispatchResult, 0, len(tokens))

	for i := 0; i < len(tokens); i++ {
		if ctx.Err() != nil {
			l.logger.Debug("dispatch cancelled", "consumed", i, "tokens", len(tokens))
			break
		}

		if n, ok := parseNumber(tokens[i]); ok && i+1 < len(tokens) {
			if unit, status := l.resolve(ctx, tokens[i+1]); status == Resolved {
				args := domain.Arguments{
					Trigger: tokens[i+1],
					Tokens:  tokens[i+2:],
					Raw:     in.Remainder(i + 1),
					Number:  &n,
					Session: session,
				}
				res := l.invoke(ctx, tokens[i+1], unit, args)
				results = append(results, res)
				i++
				if stops(unit, res) {
					break
				}
				continue
			}
		}

		h, status := l.resolve(ctx, tokens[i])
		if status != Resolved {
			results = append(results, domain.DispatchResult{Token: tokens[i], Status: domain.StatusNotFound})
			continue
		}

		args := domain.Arguments{
			Trigger: tokens[i],
			Tokens:  tokens[i+1:],
			Raw:     in.Remainder(i),
			Session: session,
		}
		res := l.invoke(ctx, tokens[i], h, args)
		results = append(results, res)
		if stops(h, res) {
			break
		}
	}
	return results
}

// resolve bounds handler construction by the same timeout as invocation.
func (l *Loop) resolve(ctx context.Context, token string) (domain.Handler, ResolveStatus) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.resolver.Resolve(ctx, token)
}

// Outputs collects the non-empty replies of results, in order.
func Outputs(results []domain.DispatchResult) []domain.Reply {
	var out []domain.Reply
	for _, r := range results {
		if r.Status == domain.StatusMatched && !r.Output.Empty() {
			out = append(out, r.Output)
		}
	}
	return out
}

func stops(h domain.Handler, res domain.DispatchResult) bool {
	rc, ok := h.(domain.RemainderConsumer)
	return ok && rc.ConsumesRemainder() && res.Status == domain.StatusMatched && !res.Output.Empty()
}

type invocation struct {
	reply domain.Reply
	err   error
}

// invoke runs h under the per-handler timeout. A handler that ignores its
// context is abandoned once the deadline passes; its goroutine finishes on its
// own and the late reply is discarded.
func (l *Loop) invoke(ctx context.Context, token string, h domain.Handler, args domain.Arguments) domain.DispatchResult {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invocation{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		reply, err := h.Invoke(ctx, args)
		done <- invocation{reply: reply, err: err}
	}()

	res := domain.DispatchResult{Token: token, Handler: h.Name()}
	select {
	case inv := <-done:
		if inv.err != nil {
			res.Status = domain.StatusFailed
			res.Err = inv.err
		} else {
			res.Status = domain.StatusMatched
			res.Output = domain.Reply{Text: inv.reply.Text, Attachments: domain.NormalizeAttachments(inv.reply.Attachments)}
		}
	case <-ctx.Done():
		res.Status = domain.StatusFailed
		res.Err = ErrHandlerTimeout
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Err = ctx.Err()
		}
	}

	elapsed := time.Since(start)
	if res.Status == domain.StatusFailed {
		l.logger.Warn("handler failed", "handler", res.Handler, "token", token, "error", res.Err, "elapsed", elapsed)
	} else {
		l.logger.Debug("handler done", "handler", res.Handler, "token", token, "output_len", len(res.Output.Text), "elapsed", elapsed)
	}
	if l.observer != nil {
		l.observer.HandlerInvoked(res.Handler, res.Status, elapsed)
	}
	return res
}

// parseNumber accepts finite decimal numbers only.
func parseNumber(tok string) (float64, bool) {
	n, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
