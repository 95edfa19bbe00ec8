package cloud

import (
	"context"
	"strings"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/file"
)

// KeyPair is a cloud key pair. The cloud generates it and hands out the
// private half once, so it is kept in an image.
type KeyPair struct {
	engine.Base
	EC2Name *engine.Var[string]
	Private *engine.Ref
}

// NewKeyPair creates a key pair at path.
func NewKeyPair(path []string) *KeyPair {
	r := &KeyPair{Base: engine.NewBase(TagKeyPair, path)}
	r.EC2Name = engine.NewVarDefault(r.Child("ec2_name"), defaultName(path, "cluster-keypair"))
	r.Private = engine.NewRef(r.Child("private"))
	return r
}

// KeyPairFactory creates the key pair a reference resolves to.
func KeyPairFactory(path []string) (engine.Resource, error) { return NewKeyPair(path), nil }

// Schema implements engine.Resource.
func (r *KeyPair) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("ec2_name", &r.EC2Name),
		engine.RefField("private", &r.Private).Factory(file.ImageFactory),
	}
}

// MarshalState implements codec.Marshaler.
func (r *KeyPair) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Up creates the key pair unless its private half is already known.
func (r *KeyPair) Up(ctx context.Context, phase *engine.Phase) error {
	private, err := engine.As[*file.Image](r.Private)
	if err != nil {
		return err
	}
	if private.Loaded() {
		phase.Logger().Info().Str("resource", r.Name()).Msg("key pair already created")
		return nil
	}
	name, err := r.EC2Name.Get()
	if err != nil {
		return err
	}
	compute, err := EnvFromContext(ctx).compute(r.Name())
	if err != nil {
		return err
	}

	material, err := compute.CreateKeyPair(ctx, name)
	if err != nil {
		return err
	}
	private.Load(material)
	phase.Logger().Info().Str("resource", r.Name()).Str("key_name", name).Msg("created key pair")
	return nil
}

// Down deletes the key pair and forgets the private half.
func (r *KeyPair) Down(ctx context.Context, phase *engine.Phase) error {
	private, err := engine.As[*file.Image](r.Private)
	if err != nil {
		return err
	}
	if !private.Loaded() {
		return nil
	}
	name, err := r.EC2Name.Get()
	if err != nil {
		return err
	}
	compute, err := EnvFromContext(ctx).compute(r.Name())
	if err != nil {
		return err
	}
	if err := compute.DeleteKeyPair(ctx, name); err != nil {
		return err
	}
	private.Clear()
	return nil
}

// KeyName returns the cloud name of the key pair.
func (r *KeyPair) KeyName() (string, error) { return r.EC2Name.Get() }

// PrivatePEM returns the private half.
func (r *KeyPair) PrivatePEM() ([]byte, error) {
	private, err := engine.As[*file.Image](r.Private)
	if err != nil {
		return nil, err
	}
	return private.Bytes()
}

// defaultName derives a cloud object name from a resource path.
func defaultName(path []string, fallback string) string {
	if len(path) == 0 {
		return fallback
	}
	return strings.Join(path, "-")
}
