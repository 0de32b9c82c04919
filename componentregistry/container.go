package componentregistry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/c360/runtimeworker/errors"
)

type entry struct {
	name     string
	instance any
	taken    bool
}

// Container holds built components. Inject shares a component; InjectOwned
// hands it to exactly one caller and removes it from further injection.
type Container struct {
	mu      sync.Mutex
	entries []*entry
}

func newContainer() *Container {
	return &Container{}
}

func (c *Container) add(name string, instance any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, &entry{name: name, instance: instance})
}

// Names returns the names of components still available for injection
func (c *Container) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.entries {
		if !e.taken {
			out = append(out, e.name)
		}
	}
	return out
}

func (c *Container) find(target reflect.Type) (*entry, error) {
	taken := false
	for _, e := range c.entries {
		if !reflect.TypeOf(e.instance).AssignableTo(target) {
			continue
		}
		if e.taken {
			taken = true
			continue
		}
		return e, nil
	}
	if taken {
		return nil, errors.ErrAlreadyTaken
	}
	return nil, errors.ErrComponentNotFound
}

// Inject returns the first component assignable to T
func Inject[T any](c *Container) (T, error) {
	var zero T
	target := reflect.TypeOf((*T)(nil)).Elem()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.find(target)
	if err != nil {
		return zero, errors.WrapInvalid(fmt.Errorf("%w: %s", err, target), "Container", "Inject", "find component")
	}
	return e.instance.(T), nil
}

// InjectOwned returns the first component assignable to T and marks it
// taken. A later Inject or InjectOwned for the same component fails with
// ErrAlreadyTaken.
func InjectOwned[T any](c *Container) (T, error) {
	var zero T
	target := reflect.TypeOf((*T)(nil)).Elem()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.find(target)
	if err != nil {
		return zero, errors.WrapInvalid(fmt.Errorf("%w: %s", err, target), "Container", "InjectOwned", "find component")
	}
	e.taken = true
	return e.instance.(T), nil
}
