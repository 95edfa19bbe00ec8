package codec

import (
	"fmt"
	"reflect"
	"strings"
)

// Object wraps a field holding a Marshaler. T may be a concrete pointer type
// or an interface. When the document names a tag the registry does not know
// and T is a concrete pointer type with that tag, a zero T is allocated.
func Object[T Marshaler](p *T) Slot {
	return objectSlot[T]{p: p}
}

type objectSlot[T Marshaler] struct {
	p *T
}

func (s objectSlot[T]) encode(w *Writer) (any, error) {
	m := Marshaler(*s.p)
	if isNil(m) {
		return nil, nil
	}
	return w.encodeObject(m)
}

func (s objectSlot[T]) decode(r *Reader, raw any) error {
	var current Marshaler
	if m := Marshaler(*s.p); !isNil(m) {
		current = m
	}

	m, err := r.decodeObjectWith(raw, current, allocate[T])
	if err != nil {
		return err
	}
	return store(s.p, m)
}

// List wraps a slice of Marshalers, encoded as a JSON array. Elements that
// already exist at the same index are hydrated in place.
func List[T Marshaler](p *[]T) Slot {
	return listSlot[T]{p: p}
}

type listSlot[T Marshaler] struct {
	p *[]T
}

func (s listSlot[T]) encode(w *Writer) (any, error) {
	if *s.p == nil {
		return []any{}, nil
	}
	out := make([]any, len(*s.p))
	for i, item := range *s.p {
		m := Marshaler(item)
		if isNil(m) {
			continue
		}
		enc, err := w.encodeObject(m)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

func (s listSlot[T]) decode(r *Reader, raw any) error {
	if raw == nil {
		*s.p = nil
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("expected a list, got %T", raw)
	}

	old := *s.p
	out := make([]T, len(items))
	for i, item := range items {
		var current Marshaler
		if i < len(old) {
			if m := Marshaler(old[i]); !isNil(m) {
				current = m
			}
		}
		m, err := r.decodeObjectWith(item, current, allocate[T])
		if err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
		if err := store(&out[i], m); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	*s.p = out
	return nil
}

// Nullable wraps a value whose presence is tracked separately. An absent
// value is written as null and reading null clears present.
func Nullable[T any](p *T, present *bool) Slot {
	return nullableSlot[T]{p: p, present: present}
}

type nullableSlot[T any] struct {
	p       *T
	present *bool
}

func (s nullableSlot[T]) encode(w *Writer) (any, error) {
	if !*s.present {
		return nil, nil
	}
	return w.encodeValue(any(s.p))
}

func (s nullableSlot[T]) decode(r *Reader, raw any) error {
	if raw == nil {
		var zero T
		*s.p = zero
		*s.present = false
		return nil
	}
	if err := r.decodeValue(any(s.p), raw); err != nil {
		return err
	}
	*s.present = true
	return nil
}

// Joined stores a list of segments as a single string joined by sep.
func Joined(p *[]string, sep string) Slot {
	return joinedSlot{p: p, sep: sep}
}

type joinedSlot struct {
	p   *[]string
	sep string
}

func (s joinedSlot) encode(*Writer) (any, error) {
	return strings.Join(*s.p, s.sep), nil
}

func (s joinedSlot) decode(_ *Reader, raw any) error {
	switch x := raw.(type) {
	case nil:
		*s.p = nil
	case string:
		if x == "" {
			*s.p = nil
			return nil
		}
		*s.p = strings.Split(x, s.sep)
	case []any:
		segments := make([]string, 0, len(x))
		for _, item := range x {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("path segment must be a string, got %T", item)
			}
			segments = append(segments, str)
		}
		*s.p = segments
	default:
		return fmt.Errorf("expected a string, got %T", raw)
	}
	return nil
}

// allocate creates a zero T when T is a pointer to a struct whose TypeTag
// matches tag.
func allocate[T Marshaler](tag string) (Marshaler, bool) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, false
	}
	m, ok := reflect.New(typ.Elem()).Interface().(Marshaler)
	if !ok || m.TypeTag() != tag {
		return nil, false
	}
	return m, true
}

func store[T Marshaler](p *T, m Marshaler) error {
	if m == nil {
		var zero T
		*p = zero
		return nil
	}
	v, ok := m.(T)
	if !ok {
		return fmt.Errorf("%s object cannot be stored in a %s field", m.TypeTag(), reflect.TypeFor[T]())
	}
	*p = v
	return nil
}
