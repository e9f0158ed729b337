package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry errors.
var (
	ErrAlreadyExists = errors.New("session: already exists")
	ErrCapacity      = errors.New("session: capacity reached")
	ErrNotFound      = errors.New("session: not found")
)

// Registry tracks all live sessions in the process. Lookups on the audio hot
// path are lock-free; session creation and teardown are serialized behind a
// mutex so capacity accounting stays exact.
type Registry struct {
	mu       sync.Mutex
	sessions sync.Map // session ID -> *Orchestrator
	count    int

	maxSessions int
	idleTTL     time.Duration
	logger      *slog.Logger
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	// IdleTTL is the inactivity window after which Sweep expires a session.
	IdleTTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		maxSessions: cfg.MaxSessions,
		idleTTL:     cfg.IdleTTL,
		logger:      cfg.Logger,
	}
}

// Start registers and launches a new session. The create callback builds the
// Orchestrator only after the ID and capacity checks pass, so rejected starts
// allocate nothing.
func (r *Registry) Start(id string, create func() (*Orchestrator, error)) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions.Load(id); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	if r.maxSessions > 0 && r.count >= r.maxSessions {
		return nil, fmt.Errorf("%w: %d sessions", ErrCapacity, r.count)
	}

	orch, err := create()
	if err != nil {
		return nil, err
	}

	r.sessions.Store(id, orch)
	r.count++
	orch.Start()
	r.logger.Info("session started", "session_id", id, "active", r.count)
	return orch, nil
}

// Get returns the session with the given ID. Lock-free.
func (r *Registry) Get(id string) (*Orchestrator, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Orchestrator), true
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// AtCapacity reports whether new sessions would currently be rejected.
func (r *Registry) AtCapacity() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSessions > 0 && r.count >= r.maxSessions
}

// End removes the session and shuts it down, waiting until its event queue
// has drained to the client or ctx expires. The registry slot is released
// immediately; the drain happens outside the lock.
func (r *Registry) End(ctx context.Context, id string) error {
	r.mu.Lock()
	v, ok := r.sessions.LoadAndDelete(id)
	if ok {
		r.count--
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	orch := v.(*Orchestrator)
	orch.Close()
	select {
	case <-orch.Done():
		r.logger.Info("session ended", "session_id", id)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: waiting for %s to drain: %w", id, ctx.Err())
	}
}

// Sweep expires every session idle longer than the configured TTL, measured
// against now. Returns the number of sessions expired.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}

	var expired []string
	r.sessions.Range(func(key, value any) bool {
		orch := value.(*Orchestrator)
		if now.Sub(orch.LastActivity()) >= r.idleTTL {
			expired = append(expired, key.(string))
		}
		return true
	})

	for _, id := range expired {
		r.logger.Info("expiring idle session", "session_id", id)
		if err := r.End(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Warn("expire session", "session_id", id, "error", err)
		}
	}
	return len(expired)
}

// EndAll shuts down every session, draining each within ctx. Used during
// graceful server shutdown.
func (r *Registry) EndAll(ctx context.Context) {
	var ids []string
	r.sessions.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	for _, id := range ids {
		if err := r.End(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Warn("end session during shutdown", "session_id", id, "error", err)
		}
	}
}
