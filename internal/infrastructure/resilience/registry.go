package resilience

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Well-known resource families guarded by the service.
const (
	Database       = "database"
	Redis          = "redis"
	Authentication = "authentication"
	ExternalAPI    = "external_api"
	Upstream       = "upstream"
)

// DefaultSettings returns the built-in settings per resource family.
func DefaultSettings() map[string]Settings {
	return map[string]Settings{
		Database:       {FailureThreshold: 5, ResetTimeout: 60 * time.Second},
		Redis:          {FailureThreshold: 5, ResetTimeout: 60 * time.Second},
		Authentication: {FailureThreshold: 3, ResetTimeout: 45 * time.Second},
		ExternalAPI:    {FailureThreshold: 5, ResetTimeout: 60 * time.Second},
	}
}

// Registry owns every named breaker of the process. Breakers with known
// settings exist from construction; other names are created on first use.
// Breakers are never removed and each one has its own lock.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	settings  map[string]Settings
	fallback  Settings
	observers []Observer
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithSettings overrides the settings for one breaker name.
func WithSettings(name string, s Settings) Option {
	return func(r *Registry) {
		r.settings[name] = s
	}
}

// WithDefaults sets the settings used for names without explicit settings.
func WithDefaults(s Settings) Option {
	return func(r *Registry) {
		r.fallback = s
	}
}

// WithObserver adds a transition observer shared by all breakers.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observers = append(r.observers, o)
	}
}

// NewRegistry creates a registry holding a closed breaker for every name in
// DefaultSettings and every name given WithSettings.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		breakers: make(map[string]*Breaker),
		settings: DefaultSettings(),
		fallback: Settings{FailureThreshold: 5, ResetTimeout: 60 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for name := range r.settings {
		r.Get(name)
	}
	return r
}

// Get returns the named breaker, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	s, ok := r.settings[name]
	if !ok {
		s = r.fallback
	}
	s.OnStateChange = r.notify
	b = New(name, s)
	b.now = r.now
	r.breakers[name] = b
	return b
}

// Call runs op through the named breaker. Calls can be nested: an open inner
// breaker surfaces as ErrOpen and is not held against the outer one.
func (r *Registry) Call(ctx context.Context, name string, op func(ctx context.Context) error) error {
	return r.Get(name).Execute(ctx, op)
}

// Guard binds a breaker name to op, returning a function with the same shape
// so guards compose.
func (r *Registry) Guard(name string, op func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return r.Call(ctx, name, op)
	}
}

// Do runs op through the named breaker and returns its result.
func Do[T any](ctx context.Context, r *Registry, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Call(ctx, name, func(ctx context.Context) error {
		var err error
		result, err = op(ctx)
		return err
	})
	return result, err
}

// Names returns the names of all existing breakers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the status of every existing breaker. It has no side
// effects on any breaker.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	out := make(map[string]Status, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.Status()
	}
	return out
}

// notify fans a transition out to the registered observers.
func (r *Registry) notify(name string, from, to State, failures int) {
	for _, o := range r.observers {
		o(name, from, to, failures)
	}
}
