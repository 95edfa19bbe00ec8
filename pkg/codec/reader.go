package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reader decodes documents produced by Writer. Like Writer it keeps its
// identity tables for its whole lifetime.
type Reader struct {
	// registry resolves type tags to factories.
	registry *Registry

	// refs maps a type tag and identifier to the materialized instance.
	refs map[string]map[string]Marshaler

	// hydrated holds the live objects already bound to a document
	// identifier. Such an object is never hydrated a second time.
	hydrated map[Marshaler]bool

	// logger receives schema-evolution warnings.
	logger zerolog.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithLogger sets the logger used for missing-field warnings.
func WithLogger(logger zerolog.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

// NewReader creates a Reader resolving tags through registry.
func NewReader(registry *Registry, opts ...ReaderOption) *Reader {
	if registry == nil {
		registry = NewRegistry()
	}
	r := &Reader{
		registry: registry,
		refs:     make(map[string]map[string]Marshaler),
		hydrated: make(map[Marshaler]bool),
		logger:   log.Logger.With().Str("component", "codec").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Unmarshal decodes data and instantiates the root through registry.
func Unmarshal(data []byte, registry *Registry) (Marshaler, error) {
	return NewReader(registry).Decode(data)
}

// Decode instantiates the root object described by data.
func (r *Reader) Decode(data []byte) (Marshaler, error) {
	raw, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	return r.decodeObject(raw, nil)
}

// DecodeInto hydrates root in place. The document's root must carry the
// same type tag as root.
func (r *Reader) DecodeInto(data []byte, root Marshaler) error {
	if isNil(root) {
		return fmt.Errorf("cannot decode into a nil root")
	}

	raw, err := parseDocument(data)
	if err != nil {
		return err
	}

	fields, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("document root is not an object")
	}
	if tag, _ := fields[ClassKey].(string); tag != root.TypeTag() {
		return fmt.Errorf("document root is %q, expected %q", tag, root.TypeTag())
	}

	_, err = r.decodeObject(raw, root)
	return err
}

func parseDocument(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return raw, nil
}

// decodeObject materializes the object described by raw. A previously seen
// identifier yields the existing instance. Otherwise current is hydrated in
// place when it carries the same tag and is not already bound to another
// identifier, and a new instance is allocated when it is.
func (r *Reader) decodeObject(raw any, current Marshaler) (Marshaler, error) {
	return r.decodeObjectWith(raw, current, nil)
}

func (r *Reader) decodeObjectWith(raw any, current Marshaler, alloc func(tag string) (Marshaler, bool)) (Marshaler, error) {
	if raw == nil {
		return nil, nil
	}

	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", raw)
	}

	tag, ok := fields[ClassKey].(string)
	if !ok || tag == "" {
		return nil, fmt.Errorf("object is missing %s", ClassKey)
	}
	id, ok := fields[IDKey].(string)
	if !ok {
		return nil, fmt.Errorf("%s object is missing %s", tag, IDKey)
	}

	table, ok := r.refs[tag]
	if !ok {
		table = make(map[string]Marshaler)
		r.refs[tag] = table
	}
	if existing, seen := table[id]; seen {
		return existing, nil
	}

	target, err := r.instantiate(tag, current, alloc)
	if err != nil {
		return nil, err
	}

	// Registered before the body so that cycles back to this object resolve.
	table[id] = target
	if isPointer(target) {
		r.hydrated[target] = true
	}

	dec := &objectDecoder{r: r, tag: tag, id: id, fields: fields}
	if err := target.MarshalState(dec); err != nil {
		return nil, fmt.Errorf("failed to decode %s #%s: %w", tag, id, err)
	}
	return target, nil
}

func (r *Reader) instantiate(tag string, current Marshaler, alloc func(tag string) (Marshaler, bool)) (Marshaler, error) {
	if !isNil(current) && current.TypeTag() == tag && !(isPointer(current) && r.hydrated[current]) {
		return current, nil
	}
	if r.registry.Has(tag) {
		return r.registry.New(tag)
	}
	if alloc != nil {
		if m, ok := alloc(tag); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
}

// isPointer reports whether m can key the hydrated set.
func isPointer(m Marshaler) bool {
	return reflect.ValueOf(m).Kind() == reflect.Pointer
}

// decodeValue stores raw into slot.
func (r *Reader) decodeValue(slot any, raw any) error {
	switch p := slot.(type) {
	case nil:
		return nil
	case Slot:
		return p.decode(r, raw)
	case *string:
		if raw == nil {
			*p = ""
			return nil
		}
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected a string, got %T", raw)
		}
		*p = s
		return nil
	case *bool:
		if raw == nil {
			*p = false
			return nil
		}
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("expected a boolean, got %T", raw)
		}
		*p = b
		return nil
	case *int:
		n, err := decodeInt(raw)
		*p = int(n)
		return err
	case *int64:
		n, err := decodeInt(raw)
		*p = n
		return err
	case *float64:
		if raw == nil {
			*p = 0
			return nil
		}
		num, ok := raw.(json.Number)
		if !ok {
			return fmt.Errorf("expected a number, got %T", raw)
		}
		f, err := num.Float64()
		*p = f
		return err
	case *[]byte:
		b, err := decodeBytes(raw)
		*p = b
		return err
	case *Set:
		s, err := decodeSet(raw)
		*p = s
		return err
	case *any:
		v, err := r.decodeDynamic(raw)
		*p = v
		return err
	case *map[string]any:
		if raw == nil {
			*p = nil
			return nil
		}
		v, err := r.decodeDynamic(raw)
		if err != nil {
			return err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected an object, got %T", v)
		}
		*p = m
		return nil
	}

	rv := reflect.ValueOf(slot)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: %T", ErrUnsupportedSlot, slot)
	}
	return decodeGeneric(slot, raw)
}

// decodeDynamic rebuilds a value held in an interface-typed field.
func (r *Reader) decodeDynamic(raw any) (any, error) {
	switch x := raw.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			v, err := r.decodeDynamic(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		if _, ok := x[ClassKey]; ok {
			return r.decodeObject(x, nil)
		}
		if _, ok := x[bytesKey]; ok {
			return decodeBytes(x)
		}
		if _, ok := x[setKey]; ok {
			return decodeSet(x)
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			v, err := r.decodeDynamic(item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return x, nil
	}
}

func decodeInt(raw any) (int64, error) {
	if raw == nil {
		return 0, nil
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
	return num.Int64()
}

// decodeBytes decodes a byte payload. Only a payload marked with
// "_encoding": "base64" is decoded; an unmarked one predates the marker
// and holds raw text, which is taken verbatim even when it happens to be
// valid base64.
func decodeBytes(raw any) ([]byte, error) {
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(x), nil
	case map[string]any:
		s, ok := x[bytesKey].(string)
		if !ok {
			return nil, fmt.Errorf("expected %s to hold a string", bytesKey)
		}
		switch enc, _ := x[encodingKey].(string); enc {
		case "":
			return []byte(s), nil
		case base64Encoding:
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 payload: %w", err)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("unknown payload encoding %q", enc)
		}
	default:
		return nil, fmt.Errorf("expected a byte payload, got %T", raw)
	}
}

func decodeSet(raw any) (Set, error) {
	var items []any
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		items = x
	case map[string]any:
		list, ok := x[setKey].([]any)
		if !ok {
			return nil, fmt.Errorf("expected %s to hold a list", setKey)
		}
		items = list
	default:
		return nil, fmt.Errorf("expected a set, got %T", raw)
	}

	s := make(Set, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("set member must be a string, got %T", item)
		}
		s.Add(str)
	}
	return s, nil
}

// decodeGeneric routes other slot types through encoding/json.
func decodeGeneric(slot any, raw any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %T: %v", ErrUnsupportedSlot, slot, err)
	}
	if err := json.Unmarshal(data, slot); err != nil {
		return fmt.Errorf("failed to decode into %T: %w", slot, err)
	}
	return nil
}

// objectDecoder feeds the stored fields of one object to MarshalState.
type objectDecoder struct {
	r      *Reader
	tag    string
	id     string
	fields map[string]any
}

func (d *objectDecoder) Inline(name string, slot any) error {
	return d.visit(name, slot)
}

func (d *objectDecoder) Offline(name string, slot any) error {
	return d.visit(name, slot)
}

func (d *objectDecoder) visit(name string, slot any) error {
	raw, ok := d.fields[name]
	if !ok {
		d.r.logger.Warn().
			Str("class", d.tag).
			Str("id", d.id).
			Str("field", name).
			Msg("field missing from state, keeping default")
		return nil
	}

	if err := d.r.decodeValue(slot, raw); err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	return nil
}

// Peek returns the type tag and the raw fields of a document's root object
// without materializing anything.
func Peek(data []byte) (string, map[string]any, error) {
	raw, err := parseDocument(data)
	if err != nil {
		return "", nil, err
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("document root is not an object")
	}
	tag, ok := fields[ClassKey].(string)
	if !ok || tag == "" {
		return "", nil, fmt.Errorf("document root is missing %s", ClassKey)
	}
	return tag, fields, nil
}
