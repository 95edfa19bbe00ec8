// Package repo deploys source code from a hosted git repository: a
// read-only deploy key registered with the host and clones fetched with it.
package repo

import "github.com/openfroyo/spinup/pkg/engine"

// Type tags of the repository resources.
const (
	TagDeployKey = "DeployKey"
	TagGitDeploy = "GitDeploy"
)

// Register adds the repository resources to c.
func Register(c *engine.Catalog) {
	c.Add(TagDeployKey, func(path []string) engine.Resource { return NewDeployKey(path) })
	c.Add(TagGitDeploy, func(path []string) engine.Resource { return NewGitDeploy(path) })
}
