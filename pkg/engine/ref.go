package engine

import (
	"fmt"
	"strings"

	"github.com/openfroyo/spinup/pkg/codec"
)

// RefTag is the type tag of references in state documents.
const RefTag = "Ref"

// Factory creates the resource a reference owns once it is resolved. It
// receives the reference's path, which becomes the path of the new
// resource.
type Factory func(path []string) (Resource, error)

// Ref is a lazy reference to a resource. It is in one of three states:
// unbound, owning a target, or aliasing another reference. Dereferencing
// an alias follows the chain to the reference that finally owns a target.
type Ref struct {
	path   []string
	target Resource
	alias  *Ref
}

// NewRef creates an unbound reference.
func NewRef(path []string) *Ref {
	return &Ref{path: clonePath(path)}
}

// TypeTag implements codec.Marshaler.
func (r *Ref) TypeTag() string { return RefTag }

// MarshalState implements codec.Marshaler.
func (r *Ref) MarshalState(v codec.Visitor) error {
	if err := v.Inline("name", codec.Joined(&r.path, ".")); err != nil {
		return err
	}
	if err := v.Inline("resource", codec.Object(&r.target)); err != nil {
		return err
	}
	return v.Inline("alias", codec.Object(&r.alias))
}

// Path returns the address of the reference.
func (r *Ref) Path() []string { return r.path }

// Name returns the dot-joined path.
func (r *Ref) Name() string { return strings.Join(r.path, ".") }

// String implements fmt.Stringer.
func (r *Ref) String() string {
	return fmt.Sprintf("%s:%q", RefTag, r.Name())
}

// Own binds the reference to res and makes it the owner.
func (r *Ref) Own(res Resource) {
	r.target = res
	r.alias = nil
}

// Borrow turns the reference into an alias of other.
func (r *Ref) Borrow(other *Ref) {
	r.target = nil
	r.alias = other
}

// Resolve creates the target through factory when the reference is
// neither bound nor aliased. A nil factory leaves the reference as is.
func (r *Ref) Resolve(factory Factory) error {
	if r.target != nil || r.alias != nil || factory == nil {
		return nil
	}

	res, err := factory(r.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", r.Name(), err)
	}
	r.target = res
	return nil
}

// Owned returns the target when this reference owns it, nil otherwise.
func (r *Ref) Owned() Resource { return r.target }

// IsAlias reports whether the reference aliases another one.
func (r *Ref) IsAlias() bool { return r.alias != nil }

// Aliased returns the reference this one borrows from.
func (r *Ref) Aliased() *Ref { return r.alias }

// Get follows the alias chain and returns the owned target.
func (r *Ref) Get() (Resource, error) {
	owner, err := r.owner()
	if err != nil {
		return nil, err
	}
	if owner.target == nil {
		return nil, NewConfigurationError("cannot dereference", ErrNotConnected).
			WithResource(r.Name()).
			WithCode(ErrCodeNotConnected)
	}
	return owner.target, nil
}

// Bound reports whether dereferencing would succeed.
func (r *Ref) Bound() bool {
	owner, err := r.owner()
	return err == nil && owner.target != nil
}

// owner walks the alias chain to its last link.
func (r *Ref) owner() (*Ref, error) {
	seen := map[*Ref]bool{}
	cur := r
	for cur.alias != nil {
		if seen[cur] {
			return nil, NewConfigurationError("cannot dereference", ErrAliasCycle).
				WithResource(r.Name()).
				WithCode(ErrCodeNotConnected)
		}
		seen[cur] = true
		cur = cur.alias
	}
	return cur, nil
}

// As dereferences r and asserts the target type.
func As[T Resource](r *Ref) (T, error) {
	var zero T
	if r == nil {
		return zero, NewConfigurationError("cannot dereference a nil reference", ErrNotConnected)
	}

	res, err := r.Get()
	if err != nil {
		return zero, err
	}
	t, ok := res.(T)
	if !ok {
		return zero, NewPermanentError("unexpected resource type",
			fmt.Errorf("reference points to %s, wanted %T", res.TypeTag(), zero)).
			WithResource(r.Name()).
			WithCode(ErrCodeInvalidValue)
	}
	return t, nil
}
