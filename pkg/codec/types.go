package codec

import (
	"errors"
	"sort"
)

// Bookkeeping keys written into every encoded object.
const (
	ClassKey = "__class__"
	IDKey    = "__id__"

	bytesKey    = "_bytes_object"
	encodingKey = "_encoding"
	setKey      = "_set_object"

	base64Encoding = "base64"
)

var (
	// ErrUnknownTag is returned when a document names a type tag that has
	// no factory in the registry.
	ErrUnknownTag = errors.New("unknown type tag")

	// ErrUnsupportedSlot is returned for slots the codec cannot encode.
	ErrUnsupportedSlot = errors.New("unsupported slot type")
)

// Marshaler is implemented by every type that takes part in a state graph.
// Implementations must be pointer types since identity is tracked by
// comparing the Marshaler values themselves.
type Marshaler interface {
	// TypeTag returns the stable name used to find the type's factory when
	// the document is read back.
	TypeTag() string

	// MarshalState visits every persistent field in a fixed order. The same
	// method drives both encoding and decoding.
	MarshalState(v Visitor) error
}

// Visitor receives the fields of an object during MarshalState.
type Visitor interface {
	// Inline visits a field stored within the parent object.
	Inline(name string, slot any) error

	// Offline visits a field the type would prefer stored out of band,
	// such as a large payload.
	Offline(name string, slot any) error
}

// Slot is a codec-managed adapter around a field that is not a plain
// pointer to a primitive value. Build them with Object, List, Nullable
// and Joined.
type Slot interface {
	encode(w *Writer) (any, error)
	decode(r *Reader, raw any) error
}

// Set is an unordered collection of strings encoded as a "_set_object".
type Set map[string]struct{}

// NewSet returns a set holding items.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// Add inserts item into the set.
func (s Set) Add(item string) {
	s[item] = struct{}{}
}

// Remove deletes item from the set.
func (s Set) Remove(item string) {
	delete(s, item)
}

// Has reports whether item is a member.
func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
