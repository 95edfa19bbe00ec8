package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Writer encodes a graph of Marshalers into a JSON document. A Writer keeps
// its identity tables for its whole lifetime, so use a fresh one per
// document.
type Writer struct {
	// refs maps a type tag to the identifiers allocated for that tag.
	refs map[string]map[Marshaler]string

	// indent is the indentation used for the encoded document.
	indent string
}

// NewWriter creates a Writer producing four-space indented output.
func NewWriter() *Writer {
	return &Writer{
		refs:   make(map[string]map[Marshaler]string),
		indent: "    ",
	}
}

// Marshal encodes root with a fresh Writer.
func Marshal(root Marshaler) ([]byte, error) {
	return NewWriter().Encode(root)
}

// Encode writes root and everything reachable from it.
func (w *Writer) Encode(root Marshaler) ([]byte, error) {
	if isNil(root) {
		return nil, fmt.Errorf("cannot encode a nil root")
	}

	doc, err := w.encodeObject(root)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(doc, "", w.indent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return append(data, '\n'), nil
}

// encodeObject allocates an identifier for m or emits a back-reference when
// m was already written.
func (w *Writer) encodeObject(m Marshaler) (any, error) {
	tag := m.TypeTag()
	table, ok := w.refs[tag]
	if !ok {
		table = make(map[Marshaler]string)
		w.refs[tag] = table
	}

	obj := &orderedObject{}
	if id, seen := table[m]; seen {
		obj.set(ClassKey, tag)
		obj.set(IDKey, id)
		return obj, nil
	}

	id := strconv.Itoa(len(table))
	table[m] = id
	obj.set(ClassKey, tag)
	obj.set(IDKey, id)

	if err := m.MarshalState(&objectEncoder{w: w, obj: obj}); err != nil {
		return nil, fmt.Errorf("failed to encode %s #%s: %w", tag, id, err)
	}
	return obj, nil
}

// encodeValue converts a slot into a JSON-ready value.
func (w *Writer) encodeValue(slot any) (any, error) {
	switch p := slot.(type) {
	case nil:
		return nil, nil
	case Slot:
		return p.encode(w)
	case *string:
		return *p, nil
	case *bool:
		return *p, nil
	case *int:
		return *p, nil
	case *int64:
		return *p, nil
	case *float64:
		return *p, nil
	case *[]string:
		if *p == nil {
			return nil, nil
		}
		return append([]string{}, (*p)...), nil
	case *map[string]string:
		if *p == nil {
			return nil, nil
		}
		return *p, nil
	case *[]byte:
		return encodeBytes(*p), nil
	case *Set:
		return encodeSet(*p), nil
	case *any:
		return w.encodeDynamic(*p)
	case *map[string]any:
		if *p == nil {
			return nil, nil
		}
		return w.encodeDynamic(*p)
	case Marshaler:
		return nil, fmt.Errorf("%w: %T must be wrapped with codec.Object", ErrUnsupportedSlot, slot)
	}

	rv := reflect.ValueOf(slot)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedSlot, slot)
	}
	return encodeGeneric(rv.Elem().Interface())
}

// encodeDynamic handles values held in interface-typed fields.
func (w *Writer) encodeDynamic(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case Marshaler:
		if isNil(x) {
			return nil, nil
		}
		return w.encodeObject(x)
	case []byte:
		return encodeBytes(x), nil
	case Set:
		return encodeSet(x), nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			enc, err := w.encodeDynamic(item)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			enc, err := w.encodeDynamic(item)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	default:
		return encodeGeneric(x)
	}
}

func encodeBytes(b []byte) any {
	if b == nil {
		return nil
	}
	obj := &orderedObject{}
	obj.set(bytesKey, base64.StdEncoding.EncodeToString(b))
	obj.set(encodingKey, base64Encoding)
	return obj
}

func encodeSet(s Set) any {
	if s == nil {
		return nil
	}
	obj := &orderedObject{}
	obj.set(setKey, s.Sorted())
	return obj
}

// encodeGeneric passes values of any other type through encoding/json so
// that named scalars and plain structs keep their natural shape.
func encodeGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T: %v", ErrUnsupportedSlot, v, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %T: %v", ErrUnsupportedSlot, v, err)
	}
	return out, nil
}

// objectEncoder collects the fields of one object.
type objectEncoder struct {
	w   *Writer
	obj *orderedObject
}

func (e *objectEncoder) Inline(name string, slot any) error {
	return e.visit(name, slot)
}

func (e *objectEncoder) Offline(name string, slot any) error {
	return e.visit(name, slot)
}

func (e *objectEncoder) visit(name string, slot any) error {
	if name == ClassKey || name == IDKey {
		return fmt.Errorf("field name %s is reserved", name)
	}

	v, err := e.w.encodeValue(slot)
	if err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	e.obj.set(name, v)
	return nil
}

// orderedObject is a JSON object that keeps keys in insertion order.
type orderedObject struct {
	keys   []string
	values map[string]any
}

func (o *orderedObject) set(key string, value any) {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// MarshalJSON implements json.Marshaler.
func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
