package keys

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/file"
)

// DefaultValidDays is the lifetime of issued certificates.
const DefaultValidDays = 365

// RootCA is a self-signed certificate authority.
type RootCA struct {
	engine.Base
	CommonName *engine.Var[string]
	Country    *engine.Var[string]
	State      *engine.Var[string]
	City       *engine.Var[string]
	Org        *engine.Var[string]
	Division   *engine.Var[string]
	Serial     *engine.Var[int64]
	ValidDays  *engine.Var[int]

	Key  *engine.Ref
	Cert *engine.Ref
}

// NewRootCA creates a certificate authority at path.
func NewRootCA(path []string) *RootCA {
	r := &RootCA{Base: engine.NewBase(TagRootCA, path)}
	r.CommonName = engine.NewVar[string](r.Child("common_name"))
	r.Country = engine.NewVar[string](r.Child("country"))
	r.State = engine.NewVar[string](r.Child("state"))
	r.City = engine.NewVar[string](r.Child("city"))
	r.Org = engine.NewVar[string](r.Child("org"))
	r.Division = engine.NewVar[string](r.Child("division"))
	r.Serial = engine.NewVar[int64](r.Child("serial"))
	r.ValidDays = engine.NewVarDefault(r.Child("valid_days"), DefaultValidDays)
	r.Key = engine.NewRef(r.Child("key"))
	r.Cert = engine.NewRef(r.Child("cert"))
	return r
}

// Schema implements engine.Resource.
func (r *RootCA) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("common_name", &r.CommonName),
		engine.VarField("country", &r.Country),
		engine.VarField("state", &r.State),
		engine.VarField("city", &r.City),
		engine.VarField("org", &r.Org),
		engine.VarField("division", &r.Division),
		engine.VarField("serial", &r.Serial),
		engine.VarField("valid_days", &r.ValidDays),
		engine.RefField("key", &r.Key).Factory(RSAKeyFactory),
		engine.RefField("cert", &r.Cert).Factory(file.ImageFactory),
	}
}

// MarshalState implements codec.Marshaler.
func (r *RootCA) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Up issues the CA certificate once its key exists.
func (r *RootCA) Up(ctx context.Context, phase *engine.Phase) error {
	if err := engine.UpChildren(ctx, phase, r); err != nil {
		return err
	}
	cert, err := engine.As[*file.Image](r.Cert)
	if err != nil {
		return err
	}
	if cert.Loaded() {
		phase.Logger().Info().Str("resource", r.Name()).Msg("reusing existing root CA")
		return nil
	}
	if !phase.Require(r.CommonName, r.Org) {
		return nil
	}

	sub := phase.Sub("ISSUE root CA " + r.Name())
	return sub.Run(ctx, func(context.Context) error {
		key, err := engine.As[*RSAKey](r.Key)
		if err != nil {
			return err
		}
		private, err := key.PrivateKey()
		if err != nil {
			return err
		}
		serial, err := selectSerial(r.Serial)
		if err != nil {
			return err
		}
		days, err := r.ValidDays.Get()
		if err != nil {
			return err
		}

		now := time.Now()
		template := &x509.Certificate{
			SerialNumber:          big.NewInt(serial),
			Subject:               r.subject(),
			NotBefore:             now,
			NotAfter:              now.AddDate(0, 0, days),
			IsCA:                  true,
			BasicConstraintsValid: true,
			KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		}
		der, err := x509.CreateCertificate(rand.Reader, template, template, &private.PublicKey, private)
		if err != nil {
			return engine.NewPermanentError("failed to sign root CA", err).WithResource(r.Name())
		}
		cert.Load(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
		return nil
	})
}

// Certificate parses the CA certificate.
func (r *RootCA) Certificate() (*x509.Certificate, error) {
	cert, err := engine.As[*file.Image](r.Cert)
	if err != nil {
		return nil, err
	}
	data, err := cert.Bytes()
	if err != nil {
		return nil, err
	}
	return ParseCertificate(data)
}

func (r *RootCA) subject() pkix.Name {
	name, _ := r.CommonName.Get()
	return pkix.Name{
		CommonName:         name,
		Country:            optional(r.Country),
		Province:           optional(r.State),
		Locality:           optional(r.City),
		Organization:       optional(r.Org),
		OrganizationalUnit: optional(r.Division),
	}
}

// ServerCredentials is a server key and a certificate for one DNS name,
// signed by a RootCA.
type ServerCredentials struct {
	engine.Base
	DNSName   *engine.Var[string]
	Serial    *engine.Var[int64]
	ValidDays *engine.Var[int]

	Authority *engine.Ref
	Key       *engine.Ref
	Cert      *engine.Ref
}

// NewServerCredentials creates server credentials at path.
func NewServerCredentials(path []string) *ServerCredentials {
	r := &ServerCredentials{Base: engine.NewBase(TagServerCredentials, path)}
	r.DNSName = engine.NewVar[string](r.Child("dns_name"))
	r.Serial = engine.NewVar[int64](r.Child("serial"))
	r.ValidDays = engine.NewVarDefault(r.Child("valid_days"), DefaultValidDays)
	r.Authority = engine.NewRef(r.Child("authority"))
	r.Key = engine.NewRef(r.Child("key"))
	r.Cert = engine.NewRef(r.Child("cert"))
	return r
}

// Schema implements engine.Resource.
func (r *ServerCredentials) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("dns_name", &r.DNSName),
		engine.VarField("serial", &r.Serial),
		engine.VarField("valid_days", &r.ValidDays),
		engine.RefField("authority", &r.Authority),
		engine.RefField("key", &r.Key).Factory(RSAKeyFactory),
		engine.RefField("cert", &r.Cert).Factory(file.ImageFactory),
	}
}

// MarshalState implements codec.Marshaler.
func (r *ServerCredentials) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Up issues the server certificate once the authority and the key exist.
func (r *ServerCredentials) Up(ctx context.Context, phase *engine.Phase) error {
	if err := engine.UpChildren(ctx, phase, r); err != nil {
		return err
	}
	cert, err := engine.As[*file.Image](r.Cert)
	if err != nil {
		return err
	}
	if cert.Loaded() {
		phase.Logger().Info().Str("resource", r.Name()).Msg("reusing server credentials")
		return nil
	}
	if !phase.Require(r.DNSName) {
		return nil
	}

	sub := phase.Sub("ISSUE server certificate " + r.Name())
	return sub.Run(ctx, func(context.Context) error {
		authority, err := engine.As[*RootCA](r.Authority)
		if err != nil {
			return err
		}
		caCert, err := authority.Certificate()
		if err != nil {
			return err
		}
		caKeyRes, err := engine.As[*RSAKey](authority.Key)
		if err != nil {
			return err
		}
		caKey, err := caKeyRes.PrivateKey()
		if err != nil {
			return err
		}
		key, err := engine.As[*RSAKey](r.Key)
		if err != nil {
			return err
		}
		private, err := key.PrivateKey()
		if err != nil {
			return err
		}
		serial, err := selectSerial(r.Serial)
		if err != nil {
			return err
		}
		days, err := r.ValidDays.Get()
		if err != nil {
			return err
		}
		dns, _ := r.DNSName.Get()

		subject := caCert.Subject
		subject.CommonName = dns
		subject.Names = nil

		now := time.Now()
		template := &x509.Certificate{
			SerialNumber:          big.NewInt(serial),
			Subject:               subject,
			DNSNames:              []string{dns},
			NotBefore:             now,
			NotAfter:              now.AddDate(0, 0, days),
			BasicConstraintsValid: true,
			KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment |
				x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment,
			ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		}
		der, err := x509.CreateCertificate(rand.Reader, template, caCert, &private.PublicKey, caKey)
		if err != nil {
			return engine.NewPermanentError("failed to sign server certificate", err).WithResource(r.Name())
		}
		cert.Load(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
		return nil
	})
}

// Certificate parses the server certificate.
func (r *ServerCredentials) Certificate() (*x509.Certificate, error) {
	cert, err := engine.As[*file.Image](r.Cert)
	if err != nil {
		return nil, err
	}
	data, err := cert.Bytes()
	if err != nil {
		return nil, err
	}
	return ParseCertificate(data)
}

// ParseCertificate decodes a PEM encoded certificate.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, engine.NewPermanentError("failed to parse certificate", errors.New("no PEM block found")).
			WithCode(engine.ErrCodeInvalidValue)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, engine.NewPermanentError("failed to parse certificate", err).
			WithCode(engine.ErrCodeInvalidValue)
	}
	return cert, nil
}

// selectSerial returns the selected serial number, choosing a random
// positive one first when none is set.
func selectSerial(v *engine.Var[int64]) (int64, error) {
	if serial, ok := v.Value(); ok {
		return serial, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return 0, engine.NewTransientError("failed to pick a serial number", err)
	}
	serial := n.Int64() + 1
	v.Select(serial)
	return serial, nil
}

func optional(v *engine.Var[string]) []string {
	if s, ok := v.Current(); ok && s.(string) != "" {
		return []string{s.(string)}
	}
	return nil
}
