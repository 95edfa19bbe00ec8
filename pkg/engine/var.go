package engine

import (
	"fmt"
	"strings"

	"github.com/openfroyo/spinup/pkg/codec"
	"gopkg.in/yaml.v3"
)

// VarTag is the type tag of configuration variables in state documents.
const VarTag = "Var"

// Variable is the type-erased view of a Var used when walking the graph and
// building the command-line surface.
type Variable interface {
	codec.Marshaler

	// Path returns the address of the variable.
	Path() []string

	// Name returns the dot-joined path.
	Name() string

	// FlagName returns the command-line flag name for the variable.
	FlagName() string

	// IsSet reports whether a value was selected or read.
	IsSet() bool

	// HasDefault reports whether a default is available.
	HasDefault() bool

	// Configure realizes the default when there is one and reports IsSet.
	Configure() bool

	// Clear removes the selection.
	Clear()

	// SelectText parses s and selects the result.
	SelectText(s string) error

	// Current returns the selected value, or the default, without
	// realizing it.
	Current() (any, bool)
}

// Var is a configuration variable. It holds an optional default and an
// optional selected value. Reading a variable that has no selection adopts
// the default as the selection, so the value read once stays fixed even if
// the default changes later.
type Var[T any] struct {
	path []string

	def        T
	hasDefault bool

	value    T
	selected bool
}

// NewVar creates a variable without a default.
func NewVar[T any](path []string) *Var[T] {
	return &Var[T]{path: clonePath(path)}
}

// NewVarDefault creates a variable with a default.
func NewVarDefault[T any](path []string, def T) *Var[T] {
	return &Var[T]{path: clonePath(path), def: def, hasDefault: true}
}

// Const creates a variable whose value is already selected.
func Const[T any](path []string, value T) *Var[T] {
	return &Var[T]{
		path:       clonePath(path),
		def:        value,
		hasDefault: true,
		value:      value,
		selected:   true,
	}
}

// TypeTag implements codec.Marshaler.
func (v *Var[T]) TypeTag() string { return VarTag }

// MarshalState implements codec.Marshaler.
func (v *Var[T]) MarshalState(vis codec.Visitor) error {
	if err := vis.Inline("name", codec.Joined(&v.path, ".")); err != nil {
		return err
	}
	if err := vis.Inline("default", codec.Nullable(&v.def, &v.hasDefault)); err != nil {
		return err
	}
	return vis.Inline("value", codec.Nullable(&v.value, &v.selected))
}

// Path returns the address of the variable.
func (v *Var[T]) Path() []string { return v.path }

// Name returns the dot-joined path.
func (v *Var[T]) Name() string { return strings.Join(v.path, ".") }

// FlagName joins the path with dashes, leaving out the root segment.
func (v *Var[T]) FlagName() string {
	if len(v.path) <= 1 {
		return strings.Join(v.path, "-")
	}
	return strings.Join(v.path[1:], "-")
}

// String implements fmt.Stringer.
func (v *Var[T]) String() string {
	return fmt.Sprintf("%s:%q", VarTag, v.Name())
}

// Get returns the selected value. Without a selection the default is
// adopted as the selection and returned. Without either it fails with
// ErrReadBeforeSelection.
func (v *Var[T]) Get() (T, error) {
	if v.selected {
		return v.value, nil
	}
	if v.hasDefault {
		v.value = v.def
		v.selected = true
		return v.value, nil
	}

	var zero T
	return zero, NewConfigurationError("variable has no value", ErrReadBeforeSelection).
		WithResource(v.Name()).
		WithCode(ErrCodeMissingConfig)
}

// Value returns the selected value without touching the default.
func (v *Var[T]) Value() (T, bool) {
	return v.value, v.selected
}

// Default returns the default value.
func (v *Var[T]) Default() (T, bool) {
	return v.def, v.hasDefault
}

// SetDefault replaces the default. An existing selection is kept.
func (v *Var[T]) SetDefault(def T) {
	v.def = def
	v.hasDefault = true
}

// HasDefault reports whether a default is available.
func (v *Var[T]) HasDefault() bool { return v.hasDefault }

// IsSet reports whether a value was selected or read at least once. It
// never realizes the default.
func (v *Var[T]) IsSet() bool { return v.selected }

// Configure adopts the default when there is one and reports IsSet.
func (v *Var[T]) Configure() bool {
	if !v.selected && v.hasDefault {
		v.value = v.def
		v.selected = true
	}
	return v.selected
}

// Select sets the value explicitly.
func (v *Var[T]) Select(value T) {
	v.value = value
	v.selected = true
}

// Clear removes the selection. The default is kept.
func (v *Var[T]) Clear() {
	var zero T
	v.value = zero
	v.selected = false
}

// Current returns the selected value or the default without realizing it.
func (v *Var[T]) Current() (any, bool) {
	if v.selected {
		return v.value, true
	}
	if v.hasDefault {
		return v.def, true
	}
	return nil, false
}

// SelectText parses s and selects the result. Strings are taken verbatim;
// every other type is parsed as YAML, so "3", "true", "[a, b]" and
// "{k: v}" all work.
func (v *Var[T]) SelectText(s string) error {
	var out T
	switch p := any(&out).(type) {
	case *string:
		*p = s
	default:
		if err := yaml.Unmarshal([]byte(s), &out); err != nil {
			return NewConfigurationError(fmt.Sprintf("cannot parse %q", s), err).
				WithResource(v.Name()).
				WithCode(ErrCodeInvalidValue)
		}
	}
	v.Select(out)
	return nil
}

func clonePath(path []string) []string {
	if path == nil {
		return nil
	}
	return append([]string(nil), path...)
}
