package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StateFile persists one root resource graph to a JSON document.
type StateFile struct {
	// path is the location of the state document.
	path string

	// root is the graph written on every checkpoint.
	root engine.Resource

	// registry resolves type tags when the document is read back.
	registry *codec.Registry

	// journal, when set, receives a copy of every checkpoint.
	journal Journal

	// seq counts the checkpoints written by this instance.
	seq int

	logger zerolog.Logger
}

// StateFileOption configures a StateFile.
type StateFileOption func(*StateFile)

// WithJournal sends a copy of every checkpoint to j.
func WithJournal(j Journal) StateFileOption {
	return func(f *StateFile) {
		f.journal = j
	}
}

// WithStateLogger sets the logger of the state file.
func WithStateLogger(logger zerolog.Logger) StateFileOption {
	return func(f *StateFile) {
		f.logger = logger
	}
}

// NewStateFile creates a persistor for root at path. Nothing is read or
// written until Load or Save is called.
func NewStateFile(path string, root engine.Resource, registry *codec.Registry, opts ...StateFileOption) *StateFile {
	f := &StateFile{
		path:     path,
		root:     root,
		registry: registry,
		logger:   log.Logger.With().Str("component", "state").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OpenStateFile reads the document at path, builds a root of the type it
// names through catalog and hydrates it.
func OpenStateFile(ctx context.Context, path string, catalog *engine.Catalog, opts ...StateFileOption) (*StateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	tag, fields, err := codec.Peek(data)
	if err != nil {
		return nil, fmt.Errorf("invalid state file %s: %w", path, err)
	}
	name, _ := fields["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("invalid state file %s: root has no name", path)
	}

	root, err := catalog.New(tag, strings.Split(name, "."))
	if err != nil {
		return nil, err
	}

	f := NewStateFile(path, root, catalog.Registry(), opts...)
	if err := f.decode(data); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the location of the state document.
func (f *StateFile) Path() string { return f.path }

// Root returns the persisted graph.
func (f *StateFile) Root() engine.Resource { return f.root }

// SetJournal replaces the checkpoint journal.
func (f *StateFile) SetJournal(j Journal) { f.journal = j }

// Exists reports whether a state document is present.
func (f *StateFile) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Load hydrates the root in place from the state document.
func (f *StateFile) Load(_ context.Context) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}
	return f.decode(data)
}

func (f *StateFile) decode(data []byte) error {
	reader := codec.NewReader(f.registry, codec.WithLogger(f.logger))
	if err := reader.DecodeInto(data, f.root); err != nil {
		return fmt.Errorf("failed to load state file %s: %w", f.path, err)
	}
	return nil
}

// Save implements engine.Persistor. The document is written next to the
// state file and renamed over it, so readers see either the previous or
// the new checkpoint.
func (f *StateFile) Save(ctx context.Context) error {
	data, err := codec.Marshal(f.root)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := WriteAtomic(f.path, data); err != nil {
		return err
	}
	f.seq++

	f.logger.Debug().
		Str("path", f.path).
		Int("seq", f.seq).
		Int("bytes", len(data)).
		Msg("Checkpoint written")

	if f.journal == nil {
		return nil
	}

	cp := &Checkpoint{
		Seq:       f.seq,
		Hash:      Hash(data),
		Document:  data,
		CreatedAt: time.Now(),
	}
	if err := f.journal.RecordCheckpoint(ctx, cp); err != nil {
		// The state file is authoritative; a journal failure is not fatal.
		f.logger.Warn().Err(err).Int("seq", f.seq).Msg("Failed to journal checkpoint")
	}
	return nil
}

// rename is replaced in tests to interrupt a write before it lands.
var rename = os.Rename

// WriteAtomic writes data to "<path>.next", flushes it and renames it over
// path. Until the rename, path keeps its previous content.
func WriteAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	next := path + ".next"
	file, err := os.OpenFile(next, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", next, err)
	}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write %s: %w", next, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync %s: %w", next, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", next, err)
	}

	if err := rename(next, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Hash returns the hex SHA-256 of a document.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsNotExist reports whether err means the state file is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
