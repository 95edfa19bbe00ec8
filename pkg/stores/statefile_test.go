package stores

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/rs/zerolog"
)

// testBox is a small resource used to exercise persistence.
type testBox struct {
	engine.Base
	Size  *engine.Var[int]
	Label *engine.Var[string]
	Inner *engine.Ref

	opened bool
}

func newTestBox(path []string) engine.Resource {
	r := &testBox{Base: engine.NewBase("Box", path)}
	r.Size = engine.NewVarDefault(r.Child("size"), 1)
	r.Label = engine.NewVar[string](r.Child("label"))
	r.Inner = engine.NewRef(r.Child("inner"))
	return r
}

func (r *testBox) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("size", &r.Size),
		engine.VarField("label", &r.Label),
		engine.RefField("inner", &r.Inner).Optional(),
		engine.StateField("opened", &r.opened),
	}
}

func (r *testBox) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

func testCatalog() *engine.Catalog {
	c := engine.NewCatalog()
	c.Add("Box", newTestBox)
	return c
}

var quiet = zerolog.New(nil).Level(zerolog.Disabled)

type memoryJournal struct {
	checkpoints []*Checkpoint
}

func (j *memoryJournal) RecordCheckpoint(_ context.Context, cp *Checkpoint) error {
	j.checkpoints = append(j.checkpoints, cp)
	return nil
}

func TestStateFileSaveAndOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "box.json")
	catalog := testCatalog()

	root := newTestBox([]string{"box"}).(*testBox)
	inner := newTestBox(root.Child("inner")).(*testBox)
	root.Inner.Own(inner)
	root.Label.Select("outer")
	inner.Size.Select(5)
	inner.opened = true

	file := NewStateFile(path, root, catalog.Registry(), WithStateLogger(quiet))
	if file.Exists() {
		t.Fatal("expected no state file before the first save")
	}
	if err := file.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !file.Exists() {
		t.Fatal("expected the state file to exist after save")
	}
	if _, err := os.Stat(path + ".next"); !IsNotExist(err) {
		t.Errorf("expected the temporary file to be renamed away, got %v", err)
	}

	opened, err := OpenStateFile(ctx, path, catalog, WithStateLogger(quiet))
	if err != nil {
		t.Fatalf("OpenStateFile failed: %v", err)
	}

	got := opened.Root().(*testBox)
	if got.Name() != "box" {
		t.Errorf("expected root box, got %s", got.Name())
	}
	if label, _ := got.Label.Value(); label != "outer" {
		t.Errorf("expected label outer, got %q", label)
	}
	gotInner, err := engine.As[*testBox](got.Inner)
	if err != nil {
		t.Fatalf("inner not restored: %v", err)
	}
	if size, _ := gotInner.Size.Get(); size != 5 || !gotInner.opened {
		t.Errorf("expected inner size 5 and opened, got %d %v", size, gotInner.opened)
	}
}

func TestStateFileInterruptedSaveKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "box.json")
	journal := &memoryJournal{}

	root := newTestBox([]string{"box"}).(*testBox)
	root.Size.Select(1)
	file := NewStateFile(path, root, testCatalog().Registry(), WithJournal(journal), WithStateLogger(quiet))
	if err := file.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	previous, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	errCrash := errors.New("crashed before rename")
	rename = func(string, string) error { return errCrash }
	t.Cleanup(func() { rename = os.Rename })

	root.Size.Select(2)
	if err := file.Save(ctx); !errors.Is(err, errCrash) {
		t.Fatalf("Save error = %v, want the rename failure", err)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(previous, current) {
		t.Errorf("interrupted save changed %s:\n%s", path, current)
	}
	staged, err := os.ReadFile(path + ".next")
	if err != nil {
		t.Fatalf("expected the staged file to remain: %v", err)
	}
	if bytes.Equal(staged, previous) {
		t.Error("expected the staged file to hold the new state")
	}
	if len(journal.checkpoints) != 1 {
		t.Errorf("expected only the first save to be journaled, got %d", len(journal.checkpoints))
	}

	rename = os.Rename
	if err := file.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	current, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(staged, current) {
		t.Errorf("state file does not match the staged bytes:\nstaged: %s\ngot:    %s", staged, current)
	}
	if _, err := os.Stat(path + ".next"); !IsNotExist(err) {
		t.Errorf("expected the staged file to be renamed away, got %v", err)
	}
}

func TestStateFileLoadInPlace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "box.json")
	catalog := testCatalog()

	src := newTestBox([]string{"box"}).(*testBox)
	src.Size.Select(9)
	if err := NewStateFile(path, src, catalog.Registry()).Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	dst := newTestBox([]string{"box"}).(*testBox)
	size := dst.Size
	if err := NewStateFile(path, dst, catalog.Registry(), WithStateLogger(quiet)).Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if dst.Size != size {
		t.Error("expected the existing variable to be hydrated in place")
	}
	if v, _ := dst.Size.Value(); v != 9 {
		t.Errorf("expected 9, got %d", v)
	}
}

func TestStateFileSaveReplacesPreviousCheckpoint(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "box.json")
	root := newTestBox([]string{"box"}).(*testBox)
	journal := &memoryJournal{}
	file := NewStateFile(path, root, testCatalog().Registry(), WithJournal(journal), WithStateLogger(quiet))

	if err := file.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	first, _ := os.ReadFile(path)

	root.Label.Select("changed")
	if err := file.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, _ := os.ReadFile(path)

	if string(first) == string(second) {
		t.Error("expected the second checkpoint to replace the first")
	}
	if len(journal.checkpoints) != 2 {
		t.Fatalf("expected 2 journaled checkpoints, got %d", len(journal.checkpoints))
	}
	last := journal.checkpoints[1]
	if last.Seq != 2 || last.Hash != Hash(second) || string(last.Document) != string(second) {
		t.Errorf("unexpected journaled checkpoint: seq=%d hash=%s", last.Seq, last.Hash)
	}
}

func TestOpenStateFileErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"unknown type", `{"__class__": "Mystery", "__id__": "0", "name": "m"}`},
		{"no name", `{"__class__": "Box", "__id__": "0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatalf("failed to write fixture: %v", err)
			}
			if _, err := OpenStateFile(ctx, path, testCatalog(), WithStateLogger(quiet)); err == nil {
				t.Error("expected an error")
			}
		})
	}

	_, err := OpenStateFile(ctx, filepath.Join(dir, "absent.json"), testCatalog())
	if !IsNotExist(err) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}

func TestPhaseCheckpointsThroughStateFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "box.json")
	root := newTestBox([]string{"box"}).(*testBox)
	file := NewStateFile(path, root, testCatalog().Registry(), WithStateLogger(quiet))

	boom := errors.New("boom")
	phase := engine.NewPhase("UP", file, root).WithLogger(quiet)
	err := phase.Run(ctx, func(ctx context.Context) error {
		root.opened = true
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	reopened, err := OpenStateFile(ctx, path, testCatalog(), WithStateLogger(quiet))
	if err != nil {
		t.Fatalf("OpenStateFile failed: %v", err)
	}
	if !reopened.Root().(*testBox).opened {
		t.Error("expected the failing phase to have checkpointed its progress")
	}
}
