package codec

import (
	"fmt"
	"sort"
	"sync"
)

// Factory allocates a zero instance of a registered type. The reader fills
// its fields through MarshalState.
type Factory func() Marshaler

// Registry maps type tags to factories.
type Registry struct {
	// mu protects factories.
	mu sync.RWMutex

	// factories maps a type tag to the function that allocates it.
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for tag. Registering the same tag twice is an
// error so that two packages cannot silently shadow each other.
func (r *Registry) Register(tag string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tag == "" {
		return fmt.Errorf("type tag cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for %s cannot be nil", tag)
	}
	if _, exists := r.factories[tag]; exists {
		return fmt.Errorf("type %s already registered", tag)
	}

	r.factories[tag] = factory
	return nil
}

// MustRegister is like Register but panics on error. It is meant for
// package-level registration functions.
func (r *Registry) MustRegister(tag string, factory Factory) {
	if err := r.Register(tag, factory); err != nil {
		panic(err)
	}
}

// New allocates an instance for tag.
func (r *Registry) New(tag string) (Marshaler, error) {
	r.mu.RLock()
	factory, ok := r.factories[tag]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}

	m := factory()
	if m.TypeTag() != tag {
		return nil, fmt.Errorf("factory for %s produced %s", tag, m.TypeTag())
	}
	return m, nil
}

// Has reports whether tag is registered.
func (r *Registry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[tag]
	return ok
}

// Tags lists the registered tags in lexical order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
