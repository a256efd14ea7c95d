package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"wordchat/internal/domain"
)

// Factory builds a handler on first use.
type Factory func(ctx context.Context) (domain.Handler, error)

// Catalog is the by-name handler registry consulted for both static triggers
// and words that name a handler directly.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds (or replaces) the factory for name.
func (c *Catalog) Register(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = f
}

// RegisterHandler registers an already-built handler under its own name.
func (c *Catalog) RegisterHandler(h domain.Handler) {
	c.Register(h.Name(), func(context.Context) (domain.Handler, error) { return h, nil })
}

// Alias makes alias resolve to the same factory as name.
func (c *Catalog) Alias(alias, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.factories[name]
	if !ok {
		return fmt.Errorf("alias %s: unknown handler %s", alias, name)
	}
	c.factories[alias] = f
	return nil
}

func (c *Catalog) lookup(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}

// Names lists every registered handler name, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for n := range c.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveStatus explains a resolution outcome.
type ResolveStatus int

const (
	Resolved ResolveStatus = iota
	NotFound
	Failed
)

func (s ResolveStatus) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case NotFound:
		return "not_found"
	default:
		return "failed"
	}
}

var errNoHandler = errors.New("no handler")

type resolution struct {
	handler domain.Handler
	status  ResolveStatus
}

// Resolver turns a token into a handler: the static registry first, then a
// catalog entry named exactly like the token. Outcomes are cached for the
// lifetime of the resolver, so each factory runs at most once.
type Resolver struct {
	registry *Registry
	catalog  *Catalog
	logger   *slog.Logger

	mu     sync.RWMutex
	cache  map[string]resolution
	builds singleflight.Group
}

type ResolverConfig struct {
	Registry *Registry
	Catalog  *Catalog
	Logger   *slog.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(nil)
	}
	if cfg.Catalog == nil {
		cfg.Catalog = NewCatalog()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		logger:   cfg.Logger,
		cache:    make(map[string]resolution),
	}
}

// Registry exposes the static table, for listing.
func (r *Resolver) Registry() *Registry { return r.registry }

// Resolve never fails loudly: construction errors and panics are logged and
// reported as Failed with a nil handler.
func (r *Resolver) Resolve(ctx context.Context, token string) (domain.Handler, ResolveStatus) {
	name, ok := r.registry.Lookup(token)
	if !ok {
		name = token
	}

	r.mu.RLock()
	res, cached := r.cache[name]
	r.mu.RUnlock()
	if cached {
		return res.handler, res.status
	}

	// Misses are not cached: most words never name a handler.
	factory, ok := r.catalog.lookup(name)
	if !ok {
		return nil, NotFound
	}

	// One build per name; other names resolve while it runs. Callers stop
	// waiting when ctx ends, and the build still completes and is cached.
	ch := r.builds.DoChan(name, func() (any, error) {
		r.mu.RLock()
		res, cached := r.cache[name]
		r.mu.RUnlock()
		if cached {
			return res, nil
		}
		res = r.build(context.WithoutCancel(ctx), token, name, factory)
		r.mu.Lock()
		r.cache[name] = res
		r.mu.Unlock()
		return res, nil
	})
	select {
	case out := <-ch:
		res := out.Val.(resolution)
		return res.handler, res.status
	case <-ctx.Done():
		r.logger.Warn("handler resolution abandoned", "token", token, "handler", name, "error", ctx.Err())
		return nil, Failed
	}
}

func (r *Resolver) build(ctx context.Context, token, name string, factory Factory) resolution {
	h, err := safeBuild(ctx, factory)
	if err == nil && h == nil {
		err = errNoHandler
	}
	if err != nil {
		r.logger.Warn("handler resolution failed", "token", token, "handler", name, "error", err)
		return resolution{status: Failed}
	}
	r.logger.Debug("handler resolved", "token", token, "handler", name)
	return resolution{handler: h, status: Resolved}
}

func safeBuild(ctx context.Context, f Factory) (h domain.Handler, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("factory panic: %v", p)
		}
	}()
	return f(ctx)
}
