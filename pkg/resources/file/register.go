// Package file provides resources that move payloads between the
// operator's machine, the web and remote hosts.
package file

import "github.com/openfroyo/spinup/pkg/engine"

// Type tags of the file resources.
const (
	TagImage       = "Image"
	TagWebResource = "WebResource"
	TagLocalFile   = "LocalFile"
	TagRemoteFile  = "RemoteFile"
	TagTransfer    = "Transfer"
)

// Register adds the file resources to c.
func Register(c *engine.Catalog) {
	c.Add(TagImage, func(path []string) engine.Resource { return NewImage(path) })
	c.Add(TagWebResource, func(path []string) engine.Resource { return NewWebResource(path) })
	c.Add(TagLocalFile, func(path []string) engine.Resource { return NewLocalFile(path) })
	c.Add(TagRemoteFile, func(path []string) engine.Resource { return NewRemoteFile(path) })
	c.Add(TagTransfer, func(path []string) engine.Resource { return NewTransfer(path) })
}
