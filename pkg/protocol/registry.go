package protocol

import (
	"errors"
	"log/slog"
	"sync"
)

// Registry errors.
var (
	ErrRegistryFull   = errors.New("protocol: registry full")
	ErrRegistryClosed = errors.New("protocol: registry closed")
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// MaxProtocols caps concurrently tracked connections; 0 means
	// unlimited. Add returns ErrRegistryFull at the cap.
	MaxProtocols int

	// OnAdd runs after a Protocol is registered.
	OnAdd func(*Protocol)

	// OnRemove runs after a Protocol is removed.
	OnRemove func(*Protocol)

	// Logger receives registry logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Registry tracks live Protocol instances so an embedding server can
// enumerate, introspect, and shut them down. There is deliberately no
// package-level instance; whoever needs one creates and passes it.
type Registry struct {
	mu     sync.RWMutex
	m      map[string]*Protocol
	cfg    RegistryConfig
	log    *slog.Logger
	closed bool
}

// NewRegistry returns an empty registry. cfg may be nil.
func NewRegistry(cfg *RegistryConfig) *Registry {
	if cfg == nil {
		cfg = &RegistryConfig{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		m:   make(map[string]*Protocol),
		cfg: *cfg,
		log: log.With("component", "registry"),
	}
}

// Add registers p and removes it automatically once it reaches CLOSED.
func (r *Registry) Add(p *Protocol) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if r.cfg.MaxProtocols > 0 && len(r.m) >= r.cfg.MaxProtocols {
		r.mu.Unlock()
		return ErrRegistryFull
	}
	r.m[p.ID()] = p
	count := len(r.m)
	r.mu.Unlock()

	r.log.Debug("connection registered", "id", p.ID(), "count", count)
	if r.cfg.OnAdd != nil {
		r.cfg.OnAdd(p)
	}
	go func() {
		<-p.Done()
		r.Remove(p.ID())
	}()
	return nil
}

// Remove drops the protocol with the given id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	p, ok := r.m[id]
	if ok {
		delete(r.m, id)
	}
	count := len(r.m)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.log.Debug("connection removed", "id", id, "count", count)
	if r.cfg.OnRemove != nil {
		r.cfg.OnRemove(p)
	}
}

// Get returns the protocol with the given id.
func (r *Registry) Get(id string) (*Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[id]
	return p, ok
}

// Count returns the number of tracked protocols.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Each calls fn for every tracked protocol. fn runs outside the
// registry lock and may call back into the registry.
func (r *Registry) Each(fn func(*Protocol)) {
	r.mu.RLock()
	snapshot := make([]*Protocol, 0, len(r.m))
	for _, p := range r.m {
		snapshot = append(snapshot, p)
	}
	r.mu.RUnlock()

	for _, p := range snapshot {
		fn(p)
	}
}

// CloseAll closes every tracked protocol with the given reason.
func (r *Registry) CloseAll(reason string) {
	r.Each(func(p *Protocol) { p.Close(reason) })
}

// Info snapshots the registry for introspection.
func (r *Registry) Info() map[string]any {
	r.mu.RLock()
	ids := make([]string, 0, len(r.m))
	for id := range r.m {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	return map[string]any{
		"connections": len(ids),
		"max":         r.cfg.MaxProtocols,
		"ids":         ids,
	}
}

// Close rejects further Adds and closes every tracked protocol. Used
// for graceful server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.CloseAll("registry shutdown")
}
