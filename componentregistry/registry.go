package componentregistry

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/runtimeworker/errors"
)

// BuildContext is handed to every factory
type BuildContext struct {
	Context context.Context
	Logger  *slog.Logger
	// Container holds the components built so far, in registration order
	Container *Container
}

// Factory builds one component instance
type Factory func(bc BuildContext) (any, error)

// Registration describes a component the process knows how to build
type Registration struct {
	Name        string
	Description string
	// Flags contributes the component's command-line flags. Optional.
	Flags   func(fs *flag.FlagSet)
	Factory Factory
}

// Registry manages component factories. Components are built in the order
// they were registered, so later factories may inject earlier components.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]*Registration
	order         []string
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		registrations: make(map[string]*Registration),
	}
}

// RegisterFactory adds a registration. Names must be unique.
func (r *Registry) RegisterFactory(reg Registration) error {
	if reg.Name == "" || reg.Factory == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: name and factory are required", errors.ErrInvalidConfig),
			"Registry", "RegisterFactory", "registration validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registrations[reg.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: component %q already registered", errors.ErrInvalidConfig, reg.Name),
			"Registry", "RegisterFactory", "duplicate check")
	}

	copied := reg
	r.registrations[reg.Name] = &copied
	r.order = append(r.order, reg.Name)
	return nil
}

// Names returns registered component names in build order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Lookup returns the registration for name
func (r *Registry) Lookup(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[name]
	return reg, ok
}

// RegisterFlags lets every component contribute its flags to fs
func (r *Registry) RegisterFlags(fs *flag.FlagSet) {
	for _, name := range r.Names() {
		reg, _ := r.Lookup(name)
		if reg.Flags != nil {
			reg.Flags(fs)
		}
	}
}

// Build runs every factory and returns the populated container. The first
// factory error aborts the build.
func (r *Registry) Build(ctx context.Context, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := newContainer()
	for _, name := range r.Names() {
		reg, _ := r.Lookup(name)

		instance, err := reg.Factory(BuildContext{
			Context:   ctx,
			Logger:    logger.With("component", name),
			Container: c,
		})
		if err != nil {
			return nil, errors.WrapFatal(err, "Registry", "Build", "build component "+name)
		}
		if instance == nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: factory returned nil", errors.ErrComponentNotFound),
				"Registry", "Build", "build component "+name)
		}

		c.add(name, instance)
		logger.Debug("Component built", "component", name, "type", fmt.Sprintf("%T", instance))
	}
	return c, nil
}
