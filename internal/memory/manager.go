package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wordchat/internal/config"
	"wordchat/internal/domain"
)

// DefaultSession is the session whose conversations live directly under the
// namespace key. Every other session gets "<namespace>:<session>".
const DefaultSession = "cli:direct"

// Manager hands out one loaded Store per session.
type Manager struct {
	blobs     domain.BlobStore
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	stores map[string]*Store
}

func NewManager(blobs domain.BlobStore, namespace string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		blobs:     blobs,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
		stores:    make(map[string]*Store),
	}
}

// KeyFor returns the blob key a session's conversations are stored under.
func (m *Manager) KeyFor(session string) string {
	if session == "" || session == DefaultSession {
		return m.namespace
	}
	return m.namespace + ":" + session
}

// For returns the session's store, loading it on first use.
func (m *Manager) For(ctx context.Context, session string) (*Store, error) {
	key := m.KeyFor(session)

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[key]; ok {
		return s, nil
	}
	s := NewStore(StoreConfig{Blobs: m.blobs, Key: key, Logger: m.logger, Now: m.now})
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	m.stores[key] = s
	return s, nil
}

// Blobs exposes the backing store, shared with the reminder scheduler.
func (m *Manager) Blobs() domain.BlobStore { return m.blobs }

// OpenBlobs builds the blob store named by cfg.Backend.
func OpenBlobs(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (domain.BlobStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteBlobs(cfg.DBPath, logger)
	case "redis":
		r := NewRedisBlobs(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, WithRedisPrefix(cfg.Redis.Prefix))
		if err := r.Ping(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		return r, nil
	case "file":
		return NewFileBlobs(cfg.FileDir), nil
	case "memory":
		return NewMemBlobs(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
