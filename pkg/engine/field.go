package engine

import (
	"fmt"

	"github.com/openfroyo/spinup/pkg/codec"
)

// FieldKind identifies what a schema field holds.
type FieldKind int

const (
	// FieldVar is a configuration variable.
	FieldVar FieldKind = iota

	// FieldRef is a single reference.
	FieldRef

	// FieldRefList is an ordered list of references.
	FieldRefList

	// FieldState is internal state written to the state document but not
	// exposed as configuration.
	FieldState
)

// String implements fmt.Stringer.
func (k FieldKind) String() string {
	switch k {
	case FieldVar:
		return "var"
	case FieldRef:
		return "ref"
	case FieldRefList:
		return "ref-list"
	case FieldState:
		return "state"
	default:
		return "unknown"
	}
}

// Field is one entry of a resource schema. Build fields with VarField,
// RefField, RefListField and StateField.
type Field struct {
	// Name is the key of the field in the state document.
	Name string

	// Kind says what the field holds.
	Kind FieldKind

	offline  bool
	optional bool
	factory  Factory

	variable func() Variable
	ref      **Ref
	refs     *[]*Ref
	state    any
	bind     func(value any) error
}

// VarField declares a configuration variable.
func VarField[T any](name string, p **Var[T]) Field {
	return Field{
		Name:  name,
		Kind:  FieldVar,
		state: codec.Object(p),
		variable: func() Variable {
			if *p == nil {
				return nil
			}
			return *p
		},
		bind: func(value any) error {
			switch x := value.(type) {
			case *Var[T]:
				if x == nil {
					return fmt.Errorf("cannot alias %s to a nil variable", name)
				}
				*p = x
			case T:
				var path []string
				if *p != nil {
					path = (*p).Path()
				}
				*p = Const(path, x)
			default:
				return fmt.Errorf("cannot bind %T to variable %s of type %T", value, name, *new(T))
			}
			return nil
		},
	}
}

// RefField declares a single reference.
func RefField(name string, p **Ref) Field {
	return Field{
		Name: name,
		Kind: FieldRef,
		ref:  p,
		bind: func(value any) error {
			if *p == nil {
				*p = NewRef(nil)
			}
			switch x := value.(type) {
			case *Ref:
				if x == nil {
					return fmt.Errorf("cannot alias %s to a nil reference", name)
				}
				(*p).Borrow(x)
			case Resource:
				(*p).Own(x)
			default:
				return fmt.Errorf("cannot bind %T to reference %s", value, name)
			}
			return nil
		},
	}
}

// RefListField declares an ordered list of references.
func RefListField(name string, p *[]*Ref) Field {
	return Field{
		Name: name,
		Kind: FieldRefList,
		refs: p,
		bind: func(value any) error {
			switch x := value.(type) {
			case []*Ref:
				*p = x
			case []Resource:
				refs := make([]*Ref, len(x))
				for i, res := range x {
					refs[i] = NewRef(res.Path())
					refs[i].Own(res)
				}
				*p = refs
			default:
				return fmt.Errorf("cannot bind %T to reference list %s", value, name)
			}
			return nil
		},
	}
}

// StateField declares internal state. slot is any value accepted by
// codec.Visitor.
func StateField(name string, slot any) Field {
	return Field{
		Name:  name,
		Kind:  FieldState,
		state: slot,
	}
}

// Factory sets the function that creates the target of a reference field
// during elaboration.
func (f Field) Factory(factory Factory) Field {
	f.factory = factory
	return f
}

// Optional marks a reference field that may stay unbound without being
// reported as missing configuration.
func (f Field) Optional() Field {
	f.optional = true
	return f
}

// Offline marks a field the codec should prefer storing out of band.
func (f Field) Offline() Field {
	f.offline = true
	return f
}

// IsOptional reports whether the field may stay unbound.
func (f Field) IsOptional() bool { return f.optional }

// Variable returns the variable held by a FieldVar field.
func (f Field) Variable() Variable {
	if f.variable == nil {
		return nil
	}
	return f.variable()
}

// Ref returns the reference held by a FieldRef field.
func (f Field) Ref() *Ref {
	if f.ref == nil {
		return nil
	}
	return *f.ref
}

// Refs returns the references held by a FieldRefList field.
func (f Field) Refs() []*Ref {
	if f.refs == nil {
		return nil
	}
	return *f.refs
}

func (f Field) slot() any {
	switch f.Kind {
	case FieldRef:
		return codec.Object(f.ref)
	case FieldRefList:
		return codec.List(f.refs)
	default:
		return f.state
	}
}

// Binding pairs a field name with the value Alias assigns to it.
type Binding struct {
	Field string
	Value any
}

// To creates a Binding.
func To(field string, value any) Binding {
	return Binding{Field: field, Value: value}
}

// Alias binds fields of r by name. For a variable field the value is
// either a *Var of the same type, which is then shared, or a plain value,
// which becomes a constant. For a reference field the value is either a
// *Ref, which is borrowed, or a Resource, which becomes owned.
func Alias(r Resource, bindings ...Binding) error {
	fields := r.Schema()
	for _, b := range bindings {
		found := false
		for _, f := range fields {
			if f.Name != b.Field {
				continue
			}
			found = true
			if f.bind == nil {
				return NewPermanentError("field cannot be aliased", fmt.Errorf("%s is %s", f.Name, f.Kind)).
					WithResource(r.Name()).
					WithCode(ErrCodeUnknownField)
			}
			if err := f.bind(b.Value); err != nil {
				return NewPermanentError("cannot alias field", err).
					WithResource(r.Name()).
					WithCode(ErrCodeInvalidValue)
			}
			break
		}
		if !found {
			return NewPermanentError("unknown field", fmt.Errorf("%s has no field %s", r.TypeTag(), b.Field)).
				WithResource(r.Name()).
				WithCode(ErrCodeUnknownField)
		}
	}
	return nil
}

// MustAlias is like Alias but panics on error. It is meant for wiring that
// is fixed at compile time.
func MustAlias(r Resource, bindings ...Binding) {
	if err := Alias(r, bindings...); err != nil {
		panic(err)
	}
}
