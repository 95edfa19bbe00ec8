package file

import (
	"context"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
)

// Transfer copies a file between the operator's machine and a host. The
// image holds the payload in the state document; the local file, when
// present, is its source on put and its destination on get.
type Transfer struct {
	engine.Base
	Local  *engine.Ref
	Remote *engine.Ref
	Image  *engine.Ref

	transferred bool
}

// NewTransfer creates a transfer at path.
func NewTransfer(path []string) *Transfer {
	r := &Transfer{Base: engine.NewBase(TagTransfer, path)}
	r.Local = engine.NewRef(r.Child("local"))
	r.Remote = engine.NewRef(r.Child("remote"))
	r.Image = engine.NewRef(r.Child("image"))
	return r
}

// TransferFactory creates the transfer a reference resolves to.
func TransferFactory(path []string) (engine.Resource, error) { return NewTransfer(path), nil }

// Schema implements engine.Resource.
func (r *Transfer) Schema() []engine.Field {
	return []engine.Field{
		engine.RefField("local", &r.Local).Optional(),
		engine.RefField("remote", &r.Remote),
		engine.RefField("image", &r.Image).Factory(ImageFactory),
		engine.StateField("transferred", &r.transferred),
	}
}

// MarshalState implements codec.Marshaler.
func (r *Transfer) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Transferred reports whether the payload is on the host.
func (r *Transfer) Transferred() bool { return r.transferred }

// Ready reports whether a put can proceed: the destination is known and
// there is a payload, either loaded or readable from the local file.
func (r *Transfer) Ready() bool {
	if !r.Remote.Bound() || !r.Image.Bound() {
		return false
	}
	if image, err := engine.As[*Image](r.Image); err == nil && image.Loaded() {
		return true
	}
	local, err := engine.As[*LocalFile](r.Local)
	return err == nil && local.Exists()
}

// Up copies the payload to the host once.
func (r *Transfer) Up(ctx context.Context, phase *engine.Phase) error {
	logger := phase.Logger()
	switch {
	case r.transferred:
		logger.Info().Str("resource", r.Name()).Msg("already transferred")
		return nil
	case !r.Ready():
		logger.Info().Str("resource", r.Name()).Msg("no payload to transfer yet")
		return nil
	}
	return r.Put(ctx)
}

// Down removes the copy from the host.
func (r *Transfer) Down(ctx context.Context, phase *engine.Phase) error {
	if !r.transferred {
		return nil
	}
	return r.Delete(ctx)
}

// Put copies the payload to the host, reading the local file first when
// the image is empty.
func (r *Transfer) Put(ctx context.Context) error {
	remote, image, err := r.endpoints()
	if err != nil {
		return err
	}
	if r.Local.Bound() {
		local, err := engine.As[*LocalFile](r.Local)
		if err != nil {
			return err
		}
		if err := image.ReadLocal(local); err != nil {
			return err
		}
	}
	if err := image.Push(ctx, remote); err != nil {
		return err
	}
	r.transferred = true
	return nil
}

// Get copies the remote file into the image and, when a local file is
// configured, onto the operator's machine.
func (r *Transfer) Get(ctx context.Context) error {
	remote, image, err := r.endpoints()
	if err != nil {
		return err
	}
	host, err := remote.Host()
	if err != nil {
		return err
	}
	data, err := host.Get(ctx, remote)
	if err != nil {
		return err
	}
	image.Load(data)

	if !r.Local.Bound() {
		return nil
	}
	local, err := engine.As[*LocalFile](r.Local)
	if err != nil {
		return err
	}
	return image.WriteLocal(local, true)
}

// Delete removes the remote file.
func (r *Transfer) Delete(ctx context.Context) error {
	remote, err := engine.As[*RemoteFile](r.Remote)
	if err != nil {
		return err
	}
	host, err := remote.Host()
	if err != nil {
		return err
	}
	if err := host.Delete(ctx, remote); err != nil {
		return err
	}
	r.transferred = false
	return nil
}

func (r *Transfer) endpoints() (*RemoteFile, *Image, error) {
	remote, err := engine.As[*RemoteFile](r.Remote)
	if err != nil {
		return nil, nil, err
	}
	image, err := engine.As[*Image](r.Image)
	if err != nil {
		return nil, nil, err
	}
	return remote, image, nil
}
