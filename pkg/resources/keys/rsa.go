package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/file"
	"golang.org/x/crypto/ssh"
)

// DefaultBits is the size of generated RSA keys.
const DefaultBits = 2048

// RSAKey is a locally generated RSA key pair. The private half is kept as
// a PEM block and the public half as an authorized_keys line.
type RSAKey struct {
	engine.Base
	Bits    *engine.Var[int]
	Private *engine.Ref
	Public  *engine.Ref
}

// NewRSAKey creates a key at path.
func NewRSAKey(path []string) *RSAKey {
	r := &RSAKey{Base: engine.NewBase(TagRSAKey, path)}
	r.Bits = engine.NewVarDefault(r.Child("bits"), DefaultBits)
	r.Private = engine.NewRef(r.Child("private"))
	r.Public = engine.NewRef(r.Child("public"))
	return r
}

// RSAKeyFactory creates the key a reference resolves to.
func RSAKeyFactory(path []string) (engine.Resource, error) { return NewRSAKey(path), nil }

// Schema implements engine.Resource.
func (r *RSAKey) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("bits", &r.Bits),
		engine.RefField("private", &r.Private).Factory(file.ImageFactory),
		engine.RefField("public", &r.Public).Factory(file.ImageFactory),
	}
}

// MarshalState implements codec.Marshaler.
func (r *RSAKey) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Up generates the key pair once.
func (r *RSAKey) Up(ctx context.Context, phase *engine.Phase) error {
	if err := engine.UpChildren(ctx, phase, r); err != nil {
		return err
	}
	private, public, err := r.images()
	if err != nil {
		return err
	}
	if public.Loaded() && private.Loaded() {
		phase.Logger().Info().Str("resource", r.Name()).Msg("RSA key already generated")
		return nil
	}

	bits, err := r.Bits.Get()
	if err != nil {
		return err
	}
	sub := phase.Sub(fmt.Sprintf("GENERATE %d-bit RSA key %s", bits, r.Name()))
	return sub.Run(ctx, func(context.Context) error {
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return engine.NewPermanentError("failed to generate RSA key", err).
				WithResource(r.Name()).
				WithCode(engine.ErrCodeInvalidValue)
		}
		pub, err := ssh.NewPublicKey(&key.PublicKey)
		if err != nil {
			return engine.NewPermanentError("failed to encode public key", err).WithResource(r.Name())
		}

		private.Load(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
		public.LoadString(strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))))
		return nil
	})
}

// PrivateKey parses the private half.
func (r *RSAKey) PrivateKey() (*rsa.PrivateKey, error) {
	private, _, err := r.images()
	if err != nil {
		return nil, err
	}
	data, err := private.Bytes()
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(data)
}

// PrivatePEM returns the PEM encoded private half.
func (r *RSAKey) PrivatePEM() ([]byte, error) {
	private, _, err := r.images()
	if err != nil {
		return nil, err
	}
	return private.Bytes()
}

// AuthorizedKey returns the public half in authorized_keys format.
func (r *RSAKey) AuthorizedKey() (string, error) {
	_, public, err := r.images()
	if err != nil {
		return "", err
	}
	return public.Text()
}

// Signer returns an SSH signer for the private half.
func (r *RSAKey) Signer() (ssh.Signer, error) {
	data, err := r.PrivatePEM()
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, engine.NewPermanentError("failed to parse private key", err).WithResource(r.Name())
	}
	return signer, nil
}

func (r *RSAKey) images() (*file.Image, *file.Image, error) {
	private, err := engine.As[*file.Image](r.Private)
	if err != nil {
		return nil, nil, err
	}
	public, err := engine.As[*file.Image](r.Public)
	if err != nil {
		return nil, nil, err
	}
	return private, public, nil
}

// ParsePrivateKey decodes a PEM encoded RSA private key in PKCS#1 or
// PKCS#8 form.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, engine.NewPermanentError("failed to parse private key", errors.New("no PEM block found")).
			WithCode(engine.ErrCodeInvalidValue)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, engine.NewPermanentError("failed to parse private key", err).
			WithCode(engine.ErrCodeInvalidValue)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, engine.NewPermanentError("failed to parse private key",
			fmt.Errorf("expected an RSA key, got %T", parsed)).
			WithCode(engine.ErrCodeInvalidValue)
	}
	return key, nil
}
