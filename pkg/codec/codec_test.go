package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

type testNode struct {
	name     string
	port     int
	enabled  bool
	tags     []string
	labels   map[string]string
	payload  []byte
	members  Set
	peer     *testNode
	children []*testNode
	note     string
}

func newTestNode(name string) *testNode {
	return &testNode{name: name, note: "default"}
}

func (n *testNode) TypeTag() string { return "Node" }

func (n *testNode) MarshalState(v Visitor) error {
	if err := v.Inline("name", &n.name); err != nil {
		return err
	}
	if err := v.Inline("port", &n.port); err != nil {
		return err
	}
	if err := v.Inline("enabled", &n.enabled); err != nil {
		return err
	}
	if err := v.Inline("tags", &n.tags); err != nil {
		return err
	}
	if err := v.Inline("labels", &n.labels); err != nil {
		return err
	}
	if err := v.Offline("payload", &n.payload); err != nil {
		return err
	}
	if err := v.Inline("members", &n.members); err != nil {
		return err
	}
	if err := v.Inline("peer", Object(&n.peer)); err != nil {
		return err
	}
	if err := v.Inline("children", List(&n.children)); err != nil {
		return err
	}
	return v.Inline("note", &n.note)
}

type testLeaf struct {
	value string
}

func (l *testLeaf) TypeTag() string { return "Leaf" }

func (l *testLeaf) MarshalState(v Visitor) error {
	return v.Inline("value", &l.value)
}

type testHolder struct {
	items []Marshaler
}

func (h *testHolder) TypeTag() string { return "Holder" }

func (h *testHolder) MarshalState(v Visitor) error {
	return v.Inline("items", List(&h.items))
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister("Node", func() Marshaler { return newTestNode("") })
	reg.MustRegister("Leaf", func() Marshaler { return &testLeaf{} })
	reg.MustRegister("Holder", func() Marshaler { return &testHolder{} })
	return reg
}

func quietReader(reg *Registry) *Reader {
	return NewReader(reg, WithLogger(zerolog.New(nil).Level(zerolog.Disabled)))
}

func TestRoundTripPreservesSharing(t *testing.T) {
	shared := newTestNode("shared")
	root := newTestNode("root")
	a := newTestNode("a")
	b := newTestNode("b")
	a.peer = shared
	b.peer = shared
	root.children = []*testNode{a, b}

	data, err := Marshal(root)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	out, err := quietReader(testRegistry(t)).Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got := out.(*testNode)
	if len(got.children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(got.children))
	}
	if got.children[0].peer == nil || got.children[0].peer != got.children[1].peer {
		t.Error("expected both children to share the same peer instance")
	}
	if got.children[0].peer.name != "shared" {
		t.Errorf("expected peer name shared, got %s", got.children[0].peer.name)
	}
}

func TestBackReferenceCarriesOnlyIdentity(t *testing.T) {
	shared := &testLeaf{value: "x"}
	holder := &testHolder{items: []Marshaler{shared, shared}}

	data, err := Marshal(holder)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	items := doc["items"].([]any)
	first := items[0].(map[string]any)
	second := items[1].(map[string]any)

	if first["value"] != "x" {
		t.Errorf("expected first occurrence to carry fields, got %v", first)
	}

	want := map[string]any{ClassKey: "Leaf", IDKey: "0"}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("back-reference mismatch (-want +got):\n%s", diff)
	}
}

func TestIdentifiersArePerTag(t *testing.T) {
	root := newTestNode("root")
	root.children = []*testNode{newTestNode("a"), newTestNode("b")}

	holder := &testHolder{items: []Marshaler{&testLeaf{value: "1"}, root, &testLeaf{value: "2"}}}

	data, err := Marshal(holder)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var doc struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	tests := []struct {
		index int
		class string
		id    string
	}{
		{0, "Leaf", "0"},
		{1, "Node", "0"},
		{2, "Leaf", "1"},
	}
	for _, tt := range tests {
		item := doc.Items[tt.index]
		if item[ClassKey] != tt.class || item[IDKey] != tt.id {
			t.Errorf("item %d: expected %s #%s, got %v #%v", tt.index, tt.class, tt.id, item[ClassKey], item[IDKey])
		}
	}

	children := doc.Items[1]["children"].([]any)
	if id := children[1].(map[string]any)[IDKey]; id != "2" {
		t.Errorf("expected second child id 2, got %v", id)
	}
}

func TestCycleRoundTrip(t *testing.T) {
	a := newTestNode("a")
	b := newTestNode("b")
	a.peer = b
	b.peer = a

	data, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	out, err := quietReader(testRegistry(t)).Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got := out.(*testNode)
	if got.peer.peer != got {
		t.Error("expected cycle to resolve back to the root instance")
	}
}

func TestScalarFieldsRoundTrip(t *testing.T) {
	root := newTestNode("root")
	root.port = 3001
	root.enabled = true
	root.tags = []string{"web", "api"}
	root.labels = map[string]string{"env": "dev"}
	root.payload = []byte{0x00, 0xff, 'a'}
	root.members = NewSet("zeta", "alpha")
	root.note = "custom"

	data, err := Marshal(root)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"_set_object": [`) {
		t.Errorf("expected set encoding in %s", data)
	}
	if !strings.Contains(string(data), `"_bytes_object": "AP9h",`) || !strings.Contains(string(data), `"_encoding": "base64"`) {
		t.Errorf("expected base64 byte encoding in %s", data)
	}

	out, err := quietReader(testRegistry(t)).Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got := out.(*testNode)

	if got.port != 3001 || !got.enabled || got.note != "custom" {
		t.Errorf("scalar mismatch: port=%d enabled=%v note=%s", got.port, got.enabled, got.note)
	}
	if diff := cmp.Diff(root.tags, got.tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(root.labels, got.labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(root.payload, got.payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"alpha", "zeta"}, got.members.Sorted()); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestBytesPayloadEncoding(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{
			name:    "legacy text",
			payload: `{"_bytes_object": "-----BEGIN KEY-----"}`,
			want:    "-----BEGIN KEY-----",
		},
		{
			name:    "legacy text that is valid base64",
			payload: `{"_bytes_object": "abcd"}`,
			want:    "abcd",
		},
		{
			name:    "marked base64",
			payload: `{"_bytes_object": "YWJjZA==", "_encoding": "base64"}`,
			want:    "abcd",
		},
		{
			name:    "marked but invalid",
			payload: `{"_bytes_object": "-----", "_encoding": "base64"}`,
			wantErr: true,
		},
		{
			name:    "unknown encoding",
			payload: `{"_bytes_object": "abcd", "_encoding": "rot13"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"__class__": "Node", "__id__": "0", "name": "n", "payload": ` + tt.payload + `}`
			out, err := quietReader(testRegistry(t)).Decode([]byte(doc))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got := string(out.(*testNode).payload); got != tt.want {
				t.Errorf("payload = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchemaEvolution(t *testing.T) {
	doc := `{"__class__": "Node", "__id__": "0", "name": "n", "port": 22, "retired_field": true}`

	out, err := quietReader(testRegistry(t)).Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got := out.(*testNode)
	if got.port != 22 {
		t.Errorf("expected port 22, got %d", got.port)
	}
	if got.note != "default" {
		t.Errorf("expected missing field to keep constructor default, got %q", got.note)
	}
}

func TestUnknownTagIsAnError(t *testing.T) {
	doc := `{"__class__": "Mystery", "__id__": "0"}`

	_, err := quietReader(testRegistry(t)).Decode([]byte(doc))
	if !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestDecodeIntoHydratesInPlace(t *testing.T) {
	src := newTestNode("root")
	src.port = 8080
	src.peer = newTestNode("peer")

	data, err := Marshal(src)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	dst := newTestNode("fresh")
	existingPeer := newTestNode("")
	dst.peer = existingPeer

	if err := quietReader(testRegistry(t)).DecodeInto(data, dst); err != nil {
		t.Fatalf("DecodeInto failed: %v", err)
	}

	if dst.name != "root" || dst.port != 8080 {
		t.Errorf("expected root hydrated in place, got name=%s port=%d", dst.name, dst.port)
	}
	if dst.peer != existingPeer {
		t.Error("expected existing peer to be hydrated in place")
	}
	if existingPeer.name != "peer" {
		t.Errorf("expected peer name peer, got %s", existingPeer.name)
	}
}

func TestDecodeIntoSplitsSharedObject(t *testing.T) {
	web := newTestNode("web")
	web.peer = newTestNode("web.port")
	web.peer.port = 80
	db := newTestNode("db")
	db.peer = newTestNode("db.port")
	db.peer.port = 5432
	src := newTestNode("root")
	src.children = []*testNode{web, db}

	data, err := Marshal(src)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	shared := newTestNode("")
	dst := newTestNode("")
	dst.children = []*testNode{{peer: shared}, {peer: shared}}

	if err := quietReader(testRegistry(t)).DecodeInto(data, dst); err != nil {
		t.Fatalf("DecodeInto failed: %v", err)
	}

	gotWeb, gotDB := dst.children[0].peer, dst.children[1].peer
	if gotWeb != shared {
		t.Error("expected the first occurrence to be hydrated in place")
	}
	if gotWeb == gotDB {
		t.Fatal("expected two objects in the document to stay two objects")
	}
	if gotWeb.port != 80 || gotDB.port != 5432 {
		t.Errorf("ports = %d, %d; want 80, 5432", gotWeb.port, gotDB.port)
	}
}

func TestDecodeIntoRejectsOtherRoot(t *testing.T) {
	data, err := Marshal(&testLeaf{value: "x"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if err := quietReader(testRegistry(t)).DecodeInto(data, newTestNode("n")); err == nil {
		t.Error("expected an error for mismatched root tag")
	}
}

func TestReservedFieldNames(t *testing.T) {
	bad := &reservedField{}
	if _, err := Marshal(bad); err == nil {
		t.Error("expected an error for a reserved field name")
	}
}

type reservedField struct{}

func (r *reservedField) TypeTag() string { return "Reserved" }

func (r *reservedField) MarshalState(v Visitor) error {
	var s string
	return v.Inline(IDKey, &s)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("Leaf", func() Marshaler { return &testLeaf{} }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register("Leaf", func() Marshaler { return &testLeaf{} }); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := reg.Register("Wrong", func() Marshaler { return &testLeaf{} }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := reg.New("Wrong"); err == nil {
		t.Error("expected factory tag mismatch to fail")
	}
	if diff := cmp.Diff([]string{"Leaf", "Wrong"}, reg.Tags()); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

type namedPort uint16

type genericHolder struct {
	port  namedPort
	value string
	set   bool
}

func (g *genericHolder) TypeTag() string { return "Generic" }

func (g *genericHolder) MarshalState(v Visitor) error {
	if err := v.Inline("port", &g.port); err != nil {
		return err
	}
	return v.Inline("value", Nullable(&g.value, &g.set))
}

func TestGenericAndNullableSlots(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("Generic", func() Marshaler { return &genericHolder{} })

	tests := []struct {
		name string
		in   *genericHolder
	}{
		{"present", &genericHolder{port: 443, value: "", set: true}},
		{"absent", &genericHolder{port: 80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			out, err := quietReader(reg).Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			got := out.(*genericHolder)
			if got.port != tt.in.port || got.set != tt.in.set || got.value != tt.in.value {
				t.Errorf("expected %+v, got %+v", *tt.in, *got)
			}
		})
	}
}
