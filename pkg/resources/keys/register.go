// Package keys provides locally generated key material: RSA key pairs, a
// self-signed certificate authority and server certificates it signs.
package keys

import "github.com/openfroyo/spinup/pkg/engine"

// Type tags of the key resources.
const (
	TagRSAKey            = "RSAKey"
	TagRootCA            = "RootCA"
	TagServerCredentials = "ServerCredentials"
)

// Register adds the key resources to c.
func Register(c *engine.Catalog) {
	c.Add(TagRSAKey, func(path []string) engine.Resource { return NewRSAKey(path) })
	c.Add(TagRootCA, func(path []string) engine.Resource { return NewRootCA(path) })
	c.Add(TagServerCredentials, func(path []string) engine.Resource { return NewServerCredentials(path) })
}
