package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/spinup/pkg/codec"
)

// Constructor builds a resource of one type at path with every variable
// and reference allocated.
type Constructor func(path []string) Resource

// Catalog knows every resource type of a program. It feeds the codec
// registry, so a type added here can be read back from a state document,
// and it builds new roots by tag.
type Catalog struct {
	mu           sync.RWMutex
	registry     *codec.Registry
	constructors map[string]Constructor
}

// NewCatalog creates a catalog with the engine's own types registered.
func NewCatalog() *Catalog {
	reg := codec.NewRegistry()
	Register(reg)
	return &Catalog{
		registry:     reg,
		constructors: make(map[string]Constructor),
	}
}

// Register adds the engine's own types to reg. Variables need no factory
// since they are allocated from the type of the field that holds them.
func Register(reg *codec.Registry) {
	reg.MustRegister(RefTag, func() codec.Marshaler { return NewRef(nil) })
}

// Add registers a resource type. Adding the same tag twice panics.
func (c *Catalog) Add(tag string, ctor Constructor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registry.MustRegister(tag, func() codec.Marshaler { return ctor(nil) })
	c.constructors[tag] = ctor
}

// New builds a resource of type tag at path.
func (c *Catalog) New(tag string, path []string) (Resource, error) {
	c.mu.RLock()
	ctor, ok := c.constructors[tag]
	c.mu.RUnlock()

	if !ok {
		return nil, NewConfigurationError("cannot create resource", fmt.Errorf("%w: %s", codec.ErrUnknownTag, tag)).
			WithCode(ErrCodeNotFound)
	}
	return ctor(path), nil
}

// Registry returns the codec registry fed by the catalog.
func (c *Catalog) Registry() *codec.Registry { return c.registry }

// Tags lists the resource types in lexical order.
func (c *Catalog) Tags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tags := make([]string, 0, len(c.constructors))
	for tag := range c.constructors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
