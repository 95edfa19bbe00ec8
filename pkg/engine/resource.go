package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/spinup/pkg/codec"
)

// Resource is a node of the deployment graph. Concrete types embed Base
// and list their fields in Schema.
type Resource interface {
	codec.Marshaler

	// Path returns the hierarchical address of the resource.
	Path() []string

	// Name returns the dot-joined path.
	Name() string

	// Schema returns the fields of the resource in declaration order.
	Schema() []Field

	base() *Base
}

// Elaborator is implemented by resources that replace the default
// elaboration walk.
type Elaborator interface {
	Elaborate(ctx context.Context, phase *Phase) error
}

// Upper is implemented by resources that have an effect when brought up.
type Upper interface {
	Up(ctx context.Context, phase *Phase) error
}

// Downer is implemented by resources that have an effect when torn down.
type Downer interface {
	Down(ctx context.Context, phase *Phase) error
}

// Base carries the identity shared by every resource.
type Base struct {
	tag  string
	path []string
}

// NewBase creates the identity for a resource of type tag at path.
func NewBase(tag string, path []string) Base {
	return Base{tag: tag, path: clonePath(path)}
}

func (b *Base) base() *Base { return b }

// TypeTag implements codec.Marshaler.
func (b *Base) TypeTag() string { return b.tag }

// Path returns the hierarchical address of the resource.
func (b *Base) Path() []string { return b.path }

// Name returns the dot-joined path.
func (b *Base) Name() string { return strings.Join(b.path, ".") }

// String implements fmt.Stringer.
func (b *Base) String() string {
	return fmt.Sprintf("%s:%q", b.tag, b.Name())
}

// Child returns the path of a field or child named segment.
func (b *Base) Child(segment string) []string {
	out := make([]string, 0, len(b.path)+1)
	out = append(out, b.path...)
	return append(out, segment)
}

// Describe formats a resource the way log lines and phase names do.
func Describe(r Resource) string {
	return fmt.Sprintf("%s:%q", r.TypeTag(), r.Name())
}

// Elaborate runs the elaboration pass for r.
func Elaborate(ctx context.Context, phase *Phase, r Resource) error {
	if e, ok := r.(Elaborator); ok {
		return e.Elaborate(ctx, phase)
	}
	return ElaborateFields(ctx, phase, r)
}

// Up brings r up.
func Up(ctx context.Context, phase *Phase, r Resource) error {
	if u, ok := r.(Upper); ok {
		return u.Up(ctx, phase)
	}
	return UpChildren(ctx, phase, r)
}

// Down tears r down.
func Down(ctx context.Context, phase *Phase, r Resource) error {
	if d, ok := r.(Downer); ok {
		return d.Down(ctx, phase)
	}
	return DownChildren(ctx, phase, r)
}

// MarshalFields writes the resource name followed by every schema field.
// Concrete resources implement MarshalState by calling it.
func MarshalFields(v codec.Visitor, r Resource) error {
	b := r.base()
	if err := v.Inline("name", codec.Joined(&b.path, ".")); err != nil {
		return err
	}

	for _, f := range r.Schema() {
		slot := f.slot()
		if slot == nil {
			continue
		}
		var err error
		if f.offline {
			err = v.Offline(f.Name, slot)
		} else {
			err = v.Inline(f.Name, slot)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
