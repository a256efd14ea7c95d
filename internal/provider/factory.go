package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"wordchat/internal/config"
	"wordchat/internal/domain"
)

const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

// Constructor builds a completer from the providers section of the config.
type Constructor func(ctx context.Context, pc config.ProvidersConfig, logger *slog.Logger) (domain.Completer, error)

// Factory creates and caches completers by role.
type Factory struct {
	cfg          config.ProvidersConfig
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Completer
	mu           sync.RWMutex
}

// NewFactory creates a factory with the primary and secondary constructors registered.
func NewFactory(cfg config.ProvidersConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Completer),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) the constructor for a role.
func (f *Factory) RegisterConstructor(role string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[role] = ctor
	delete(f.cache, role)
}

func (f *Factory) registerDefaults() {
	f.constructors[RolePrimary] = func(_ context.Context, pc config.ProvidersConfig, logger *slog.Logger) (domain.Completer, error) {
		if !pc.Primary.Enabled {
			return nil, fmt.Errorf("primary provider is disabled")
		}
		return NewPLI(PLIConfig{
			Label:   pc.Primary.Label,
			URL:     pc.Primary.APIBase,
			Timeout: config.Seconds(pc.Primary.TimeoutSeconds, 0),
			Logger:  logger,
		}), nil
	}
	f.constructors[RoleSecondary] = func(ctx context.Context, pc config.ProvidersConfig, logger *slog.Logger) (domain.Completer, error) {
		if !pc.Secondary.Enabled {
			return nil, fmt.Errorf("secondary provider is disabled")
		}
		return NewGemini(ctx, GeminiConfig{
			Label:   pc.Secondary.Label,
			APIKey:  pc.Secondary.APIKey,
			BaseURL: pc.Secondary.APIBase,
			Model:   pc.Secondary.Model,
			Timeout: config.Seconds(pc.Secondary.TimeoutSeconds, 0),
			Logger:  logger,
		})
	}
}

// Get returns the completer for role, building it on first use.
func (f *Factory) Get(ctx context.Context, role string) (domain.Completer, error) {
	f.mu.RLock()
	if cached, ok := f.cache[role]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.cache[role]; ok {
		return cached, nil
	}

	ctor, ok := f.constructors[role]
	if !ok {
		return nil, fmt.Errorf("unknown provider role: %s", role)
	}
	c, err := ctor(ctx, f.cfg, f.logger)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", role, err)
	}
	f.cache[role] = c
	return c, nil
}

// Roles lists the registered roles, sorted.
func (f *Factory) Roles() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	roles := make([]string, 0, len(f.constructors))
	for r := range f.constructors {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}
