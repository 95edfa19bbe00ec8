package file

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
)

// WebResource is a document served over HTTP.
type WebResource struct {
	engine.Base
	URL *engine.Var[string]
}

// NewWebResource creates a web resource at path.
func NewWebResource(path []string) *WebResource {
	r := &WebResource{Base: engine.NewBase(TagWebResource, path)}
	r.URL = engine.NewVar[string](r.Child("url"))
	return r
}

// Schema implements engine.Resource.
func (r *WebResource) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("url", &r.URL),
	}
}

// MarshalState implements codec.Marshaler.
func (r *WebResource) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// LocalFile is a file on the operator's machine.
type LocalFile struct {
	engine.Base
	LocalPath *engine.Var[string]
}

// NewLocalFile creates a local file at path.
func NewLocalFile(path []string) *LocalFile {
	r := &LocalFile{Base: engine.NewBase(TagLocalFile, path)}
	r.LocalPath = engine.NewVar[string](r.Child("local_path"))
	return r
}

// Schema implements engine.Resource.
func (r *LocalFile) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("local_path", &r.LocalPath),
	}
}

// MarshalState implements codec.Marshaler.
func (r *LocalFile) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Exists reports whether the local path is selected and present.
func (r *LocalFile) Exists() bool {
	path, ok := r.LocalPath.Value()
	if !ok {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes the local file. A missing file is not an error.
func (r *LocalFile) Remove() error {
	path, err := r.LocalPath.Get()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return engine.NewPermanentError("failed to remove local file", err).WithResource(r.Name())
	}
	return nil
}

// RemoteFile is a file on a host. Its instance reference is usually an
// alias of the reference that owns the host.
type RemoteFile struct {
	engine.Base
	RemotePath *engine.Var[string]
	Sudo       *engine.Var[bool]
	Mode       *engine.Var[string]
	Instance   *engine.Ref
}

// NewRemoteFile creates a remote file at path.
func NewRemoteFile(path []string) *RemoteFile {
	r := &RemoteFile{Base: engine.NewBase(TagRemoteFile, path)}
	r.RemotePath = engine.NewVar[string](r.Child("remote_path"))
	r.Sudo = engine.NewVarDefault(r.Child("sudo"), false)
	r.Mode = engine.NewVar[string](r.Child("mode"))
	r.Instance = engine.NewRef(r.Child("instance"))
	return r
}

// Schema implements engine.Resource.
func (r *RemoteFile) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("remote_path", &r.RemotePath),
		engine.VarField("sudo", &r.Sudo),
		engine.VarField("mode", &r.Mode),
		engine.RefField("instance", &r.Instance),
	}
}

// MarshalState implements codec.Marshaler.
func (r *RemoteFile) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Host dereferences the instance the file lives on.
func (r *RemoteFile) Host() (Host, error) {
	return engine.As[Host](r.Instance)
}

// FileMode parses the octal mode. It is zero when no mode is selected.
func (r *RemoteFile) FileMode() (fs.FileMode, error) {
	mode, ok := r.Mode.Current()
	if !ok || mode.(string) == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(mode.(string), 8, 32)
	if err != nil {
		return 0, engine.NewConfigurationError("invalid file mode", err).
			WithResource(r.Mode.Name()).
			WithCode(engine.ErrCodeInvalidValue)
	}
	return fs.FileMode(n), nil
}
