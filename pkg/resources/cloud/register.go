// Package cloud provides virtual machines and the network objects around
// them: key pairs, security groups, public addresses, clusters of
// instances and systemd services running on them.
//
// Resources reach the cloud through the Compute interface found in the
// lifecycle context (see WithEnv). EC2 implements it on Amazon EC2.
package cloud

import "github.com/openfroyo/spinup/pkg/engine"

// Type tags of the cloud resources.
const (
	TagKeyPair       = "KeyPair"
	TagSecurityGroup = "SecurityGroup"
	TagPublicIP      = "PublicIP"
	TagInstance      = "Instance"
	TagCluster       = "Cluster"
	TagService       = "Service"
)

// Register adds the cloud resources to c.
func Register(c *engine.Catalog) {
	c.Add(TagKeyPair, func(path []string) engine.Resource { return NewKeyPair(path) })
	c.Add(TagSecurityGroup, func(path []string) engine.Resource { return NewSecurityGroup(path) })
	c.Add(TagPublicIP, func(path []string) engine.Resource { return NewPublicIP(path) })
	c.Add(TagInstance, func(path []string) engine.Resource { return NewInstance(path) })
	c.Add(TagCluster, func(path []string) engine.Resource { return NewCluster(path) })
	c.Add(TagService, func(path []string) engine.Resource { return NewService(path) })
}
