package cluster

import "github.com/openfroyo/spinup/pkg/engine"

// Type tags of the deployment resources.
const (
	TagManageCluster  = "ManageCluster"
	TagManageInstance = "ManageInstance"
)

// Register adds the deployment resources to c.
func Register(c *engine.Catalog) {
	c.Add(TagManageCluster, func(path []string) engine.Resource { return NewManageCluster(path) })
	c.Add(TagManageInstance, func(path []string) engine.Resource { return NewManageInstance(path) })
}
