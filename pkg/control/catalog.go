// Package control runs lifecycle verbs against a persisted resource graph.
//
// A Controller opens the state file named on the command line, applies
// variable overrides, runs the verb inside a root phase that checkpoints
// to the state file, and journals the run when a journal is configured:
//
//	c := control.New(settings, "site.json")
//	if err := c.Up(ctx); err != nil {
//		...
//	}
package control

import (
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/cloud"
	"github.com/openfroyo/spinup/pkg/resources/cluster"
	"github.com/openfroyo/spinup/pkg/resources/file"
	"github.com/openfroyo/spinup/pkg/resources/keys"
	"github.com/openfroyo/spinup/pkg/resources/pkgmgr"
	"github.com/openfroyo/spinup/pkg/resources/repo"
)

// NewCatalog returns a catalog holding every resource type spinup knows.
func NewCatalog() *engine.Catalog {
	c := engine.NewCatalog()
	file.Register(c)
	keys.Register(c)
	cloud.Register(c)
	repo.Register(c)
	pkgmgr.Register(c)
	cluster.Register(c)
	return c
}
