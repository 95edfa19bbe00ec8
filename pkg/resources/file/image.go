package file

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/stores"
	"github.com/rs/zerolog/log"
)

// Image is an in-memory copy of a file or web resource. Its contents are
// stored in the state document as a byte payload.
type Image struct {
	engine.Base
	Contents *engine.Var[[]byte]
}

// NewImage creates an empty image at path.
func NewImage(path []string) *Image {
	r := &Image{Base: engine.NewBase(TagImage, path)}
	r.Contents = engine.NewVar[[]byte](r.Child("contents"))
	return r
}

// ImageFactory creates the image a reference resolves to.
func ImageFactory(path []string) (engine.Resource, error) { return NewImage(path), nil }

// Schema implements engine.Resource.
func (r *Image) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("contents", &r.Contents).Offline(),
	}
}

// MarshalState implements codec.Marshaler.
func (r *Image) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Load replaces the contents.
func (r *Image) Load(contents []byte) *Image {
	r.Contents.Select(contents)
	return r
}

// LoadString replaces the contents with the UTF-8 bytes of s.
func (r *Image) LoadString(s string) *Image {
	return r.Load([]byte(s))
}

// Loaded reports whether contents were selected.
func (r *Image) Loaded() bool { return r.Contents.IsSet() }

// Bytes returns the contents.
func (r *Image) Bytes() ([]byte, error) { return r.Contents.Get() }

// Text returns the contents as a string.
func (r *Image) Text() (string, error) {
	b, err := r.Bytes()
	return string(b), err
}

// Clear drops the contents.
func (r *Image) Clear() { r.Contents.Clear() }

// Fetch downloads web into the image unless it is already loaded.
func (r *Image) Fetch(ctx context.Context, web *WebResource) error {
	if r.Loaded() {
		log.Debug().Str("resource", r.Name()).Msg("contents are already loaded")
		return nil
	}
	url, err := web.URL.Get()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return engine.NewConfigurationError("invalid url", err).
			WithResource(web.Name()).
			WithCode(engine.ErrCodeInvalidValue)
	}
	resp, err := HTTPClientFromContext(ctx).Do(req)
	if err != nil {
		return engine.NewTransientError("failed to fetch "+url, err).WithResource(web.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return engine.NewPermanentError("failed to fetch "+url, fmt.Errorf("unexpected status %s", resp.Status)).
			WithResource(web.Name()).
			WithCode(engine.ErrCodeProviderFailed).
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.NewTransientError("failed to read "+url, err).WithResource(web.Name())
	}
	r.Load(body)
	return nil
}

// ReadLocal loads a local file into the image unless it is already loaded.
func (r *Image) ReadLocal(local *LocalFile) error {
	if r.Loaded() {
		log.Debug().Str("resource", r.Name()).Msg("contents are already loaded")
		return nil
	}
	path, err := local.LocalPath.Get()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return engine.NewPermanentError("failed to read local file", err).
			WithResource(local.Name()).
			WithCode(engine.ErrCodeNotFound)
	}
	log.Info().Str("resource", r.Name()).Str("path", path).Msg("Read local file")
	r.Load(data)
	return nil
}

// WriteLocal stores the contents in a local file readable by the owner
// only. An existing file is kept unless overwrite is set.
func (r *Image) WriteLocal(local *LocalFile, overwrite bool) error {
	data, err := r.Bytes()
	if err != nil {
		return err
	}
	path, err := local.LocalPath.Get()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !overwrite {
		log.Info().Str("resource", r.Name()).Str("path", path).Msg("local file exists, keeping it")
		return nil
	}
	if err := stores.WriteAtomic(path, data); err != nil {
		return engine.NewPermanentError("failed to write local file", err).WithResource(local.Name())
	}
	return nil
}

// Pull copies a remote file into the image unless it is already loaded.
func (r *Image) Pull(ctx context.Context, remote *RemoteFile) error {
	if r.Loaded() {
		return nil
	}
	host, err := remote.Host()
	if err != nil {
		return err
	}
	data, err := host.Get(ctx, remote)
	if err != nil {
		return err
	}
	r.Load(data)
	return nil
}

// Push copies the contents to a remote file.
func (r *Image) Push(ctx context.Context, remote *RemoteFile) error {
	data, err := r.Bytes()
	if err != nil {
		return err
	}
	host, err := remote.Host()
	if err != nil {
		return err
	}
	return host.Put(ctx, data, remote)
}
