// Package cluster assembles the cloud, repository and package resources
// into a deployment of an Express API service on a cluster of EC2
// instances.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/cloud"
	"github.com/openfroyo/spinup/pkg/resources/repo"
)

// Defaults of ManageCluster.
const (
	DefaultInstanceType = "t2.micro"
	DefaultImage        = "ami-02354e95b39ca8dec"
)

// ManageCluster is the root of a deployment: the shared deploy key and
// network resources, the cluster of instances, and one ManageInstance
// per cluster member.
type ManageCluster struct {
	engine.Base
	RepoOwner       *engine.Var[string]
	RepoName        *engine.Var[string]
	EC2InstanceType *engine.Var[string]
	InstanceCount   *engine.Var[int]
	ServerCertsPath *engine.Var[string]
	Image           *engine.Var[string]

	DeployKey     *engine.Ref
	KeyPair       *engine.Ref
	SecurityGroup *engine.Ref
	PublicIP      *engine.Ref
	Cluster       *engine.Ref
	Instances     []*engine.Ref
}

// NewManageCluster creates a deployment at path.
func NewManageCluster(path []string) *ManageCluster {
	r := &ManageCluster{Base: engine.NewBase(TagManageCluster, path)}
	r.RepoOwner = engine.NewVar[string](r.Child("repo_owner"))
	r.RepoName = engine.NewVar[string](r.Child("repo_name"))
	r.EC2InstanceType = engine.NewVarDefault(r.Child("ec2_instance_type"), DefaultInstanceType)
	r.InstanceCount = engine.NewVarDefault(r.Child("instance_count"), 1)
	r.ServerCertsPath = engine.NewVar[string](r.Child("server_certs_path"))
	r.Image = engine.NewVarDefault(r.Child("image"), DefaultImage)
	r.DeployKey = engine.NewRef(r.Child("deploy_key"))
	r.KeyPair = engine.NewRef(r.Child("key_pair"))
	r.SecurityGroup = engine.NewRef(r.Child("security_group"))
	r.PublicIP = engine.NewRef(r.Child("public_ip"))
	r.Cluster = engine.NewRef(r.Child("cluster"))
	return r
}

// Schema implements engine.Resource.
func (r *ManageCluster) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("repo_owner", &r.RepoOwner),
		engine.VarField("repo_name", &r.RepoName),
		engine.VarField("ec2_instance_type", &r.EC2InstanceType),
		engine.VarField("instance_count", &r.InstanceCount),
		engine.VarField("server_certs_path", &r.ServerCertsPath),
		engine.VarField("image", &r.Image),
		engine.RefField("deploy_key", &r.DeployKey).Factory(repo.DeployKeyFactory),
		engine.RefField("key_pair", &r.KeyPair).Factory(cloud.KeyPairFactory),
		engine.RefField("security_group", &r.SecurityGroup).Factory(cloud.SecurityGroupFactory),
		engine.RefField("public_ip", &r.PublicIP).Factory(cloud.PublicIPFactory),
		engine.RefField("cluster", &r.Cluster).Factory(cloud.ClusterFactory),
		engine.RefListField("instances", &r.Instances),
	}
}

// MarshalState implements codec.Marshaler.
func (r *ManageCluster) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Elaborate wires the shared resources into the cluster, elaborates the
// tree and then adds a ManageInstance for every cluster member that does
// not have one yet.
func (r *ManageCluster) Elaborate(ctx context.Context, phase *engine.Phase) error {
	err := resolve(r.DeployKey, repo.DeployKeyFactory,
		engine.To("owner", r.RepoOwner),
		engine.To("repo", r.RepoName),
	)
	if err != nil {
		return err
	}
	if err := r.KeyPair.Resolve(cloud.KeyPairFactory); err != nil {
		return err
	}
	if err := resolve(r.SecurityGroup, cloud.SecurityGroupFactory, engine.To("description", r.Name()+"-sg")); err != nil {
		return err
	}
	if err := r.PublicIP.Resolve(cloud.PublicIPFactory); err != nil {
		return err
	}
	err = resolve(r.Cluster, cloud.ClusterFactory,
		engine.To("count", r.InstanceCount),
		engine.To("instance_type", r.EC2InstanceType),
		engine.To("image", r.Image),
		engine.To("key_pair", r.KeyPair),
		engine.To("security_group", r.SecurityGroup),
		engine.To("public_ip", r.PublicIP),
	)
	if err != nil {
		return err
	}

	if err := engine.ElaborateFields(ctx, phase, r); err != nil {
		return err
	}

	cluster, err := engine.As[*cloud.Cluster](r.Cluster)
	if err != nil {
		return err
	}
	var added []*engine.Ref
	for i := len(r.Instances); i < len(cluster.Instances); i++ {
		ref := engine.NewRef(r.Child(strconv.Itoa(i)))
		err := resolve(ref, ManageInstanceFactory,
			engine.To("repo_owner", r.RepoOwner),
			engine.To("repo_name", r.RepoName),
			engine.To("server_certs_path", r.ServerCertsPath),
			engine.To("instance", cluster.Instances[i]),
			engine.To("deploy_key", r.DeployKey),
		)
		if err != nil {
			return err
		}
		r.Instances = append(r.Instances, ref)
		added = append(added, ref)
	}
	for _, ref := range added {
		if err := engine.ElaborateRef(ctx, phase, ref, nil, false); err != nil {
			return err
		}
	}
	return nil
}

// Members returns the instance deployments in cluster order.
func (r *ManageCluster) Members() ([]*ManageInstance, error) {
	out := make([]*ManageInstance, 0, len(r.Instances))
	for _, ref := range r.Instances {
		m, err := engine.As[*ManageInstance](ref)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Shell opens a shell on the first instance of the cluster.
func (r *ManageCluster) Shell(ctx context.Context) error {
	cluster, err := engine.As[*cloud.Cluster](r.Cluster)
	if err != nil {
		return err
	}
	return cluster.Shell(ctx)
}

// Watch follows the service journal of the first instance.
func (r *ManageCluster) Watch(ctx context.Context) error {
	members, err := r.Members()
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return engine.NewConfigurationError("cluster has no instances", errors.New("run elaborate first")).
			WithResource(r.Name()).
			WithCode(engine.ErrCodeNotFound)
	}
	return members[0].Watch(ctx)
}

// Pull updates the service repository on every instance.
func (r *ManageCluster) Pull(ctx context.Context, phase *engine.Phase) error {
	members, err := r.Members()
	if err != nil {
		return err
	}
	for _, m := range members {
		sub := phase.Sub(fmt.Sprintf("PULL %s", engine.Describe(m)))
		err := sub.Run(ctx, func(ctx context.Context) error {
			return m.Pull(ctx, sub)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
