// Package registry maintains the mutable mapping from service names to
// compiled capabilities and publishes immutable, versioned snapshots of the
// union. Readers get a consistent snapshot with one atomic load; writers
// serialize on a mutex and swap in a freshly built snapshot after every
// mutation.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"goa.design/capgate/runtime/capability"
	"goa.design/capgate/runtime/telemetry"
)

// ErrNotFound is returned when deregistering a service that is not
// registered.
var ErrNotFound = errors.New("registry: service not found")

type (
	// ServiceRegistration records one registered service and the
	// capabilities compiled from its description.
	ServiceRegistration struct {
		// Name identifies the service within the registry.
		Name string

		// BaseURL is the root the service capabilities resolve against.
		BaseURL string

		// Capabilities are the compiled descriptors, in compilation order.
		Capabilities []capability.Capability

		// RegisteredAt is when this registration (or its latest replacement)
		// happened.
		RegisteredAt time.Time
	}

	// Snapshot is an immutable view of every capability known at one
	// registry version. Snapshots are never mutated after publication;
	// callers may hold them across a full conversation.
	Snapshot struct {
		// Version increases by one on every registry mutation.
		Version uint64

		// Capabilities is the deduplicated union across services, ordered by
		// service name then compilation order. A name claimed by several
		// services resolves to the latest-sorted occurrence.
		Capabilities []capability.Capability

		index map[string]capability.Capability
	}

	// Registry is the mutable service store. Safe for concurrent use.
	Registry struct {
		mu       sync.Mutex
		services map[string]*ServiceRegistration
		version  uint64
		active   atomic.Pointer[Snapshot]

		logger telemetry.Logger
		now    func() time.Time
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithLogger sets the structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New constructs an empty registry. The initial active snapshot is version 0
// with no capabilities.
func New(opts ...Option) *Registry {
	r := &Registry{
		services: make(map[string]*ServiceRegistration),
		logger:   telemetry.NewNoopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.active.Store(&Snapshot{index: map[string]capability.Capability{}})
	return r
}

// Register binds name to the given capabilities, replacing any previous
// registration under the same name, and publishes a new snapshot. Returns
// true when an existing registration was replaced.
func (r *Registry) Register(ctx context.Context, name, baseURL string, caps []capability.Capability) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.services[name]
	r.services[name] = &ServiceRegistration{
		Name:         name,
		BaseURL:      baseURL,
		Capabilities: caps,
		RegisteredAt: r.now(),
	}
	snap := r.rebuild()

	if replaced {
		r.logger.Warn(ctx, "service registration replaced",
			"service", name, "capabilities", len(caps), "version", snap.Version)
	} else {
		r.logger.Info(ctx, "service registered",
			"service", name, "capabilities", len(caps), "version", snap.Version)
	}
	return replaced
}

// Deregister removes the named service and publishes a new snapshot. Returns
// ErrNotFound when no such service is registered.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[name]; !ok {
		return ErrNotFound
	}
	delete(r.services, name)
	snap := r.rebuild()

	r.logger.Info(ctx, "service deregistered", "service", name, "version", snap.Version)
	return nil
}

// Services returns the current registrations sorted by name. The returned
// slice is a copy; the registrations it points to must not be mutated.
func (r *Registry) Services() []*ServiceRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ServiceRegistration, 0, len(r.services))
	for _, reg := range r.services {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Active returns the currently published snapshot.
func (r *Registry) Active() *Snapshot {
	return r.active.Load()
}

// rebuild assembles and publishes a new snapshot from the current service
// map. Callers must hold r.mu.
func (r *Registry) rebuild() *Snapshot {
	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	sort.Strings(names)

	snap := &Snapshot{
		Version: r.version + 1,
		index:   make(map[string]capability.Capability),
	}
	var order []string
	for _, n := range names {
		for _, c := range r.services[n].Capabilities {
			if _, seen := snap.index[c.Name]; !seen {
				order = append(order, c.Name)
			}
			snap.index[c.Name] = c
		}
	}
	snap.Capabilities = make([]capability.Capability, 0, len(order))
	for _, n := range order {
		snap.Capabilities = append(snap.Capabilities, snap.index[n])
	}

	r.version = snap.Version
	r.active.Store(snap)
	return snap
}

// Lookup resolves a capability by name.
func (s *Snapshot) Lookup(name string) (capability.Capability, bool) {
	c, ok := s.index[name]
	return c, ok
}

// Empty reports whether the snapshot exposes no capabilities.
func (s *Snapshot) Empty() bool {
	return len(s.Capabilities) == 0
}
