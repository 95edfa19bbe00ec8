package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
)

// Cluster is a group of identical instances sharing a key pair and a
// security group. The first instance gets the public address.
type Cluster struct {
	engine.Base
	InstanceType *engine.Var[string]
	Image        *engine.Var[string]
	RootUserName *engine.Var[string]
	Count        *engine.Var[int]

	KeyPair       *engine.Ref
	SecurityGroup *engine.Ref
	PublicIP      *engine.Ref
	Instances     []*engine.Ref
}

// NewCluster creates a cluster at path.
func NewCluster(path []string) *Cluster {
	r := &Cluster{Base: engine.NewBase(TagCluster, path)}
	r.InstanceType = engine.NewVar[string](r.Child("instance_type"))
	r.Image = engine.NewVar[string](r.Child("image"))
	r.RootUserName = engine.NewVarDefault(r.Child("root_user_name"), DefaultRootUser)
	r.Count = engine.NewVarDefault(r.Child("count"), 1)
	r.KeyPair = engine.NewRef(r.Child("key_pair"))
	r.SecurityGroup = engine.NewRef(r.Child("security_group"))
	r.PublicIP = engine.NewRef(r.Child("public_ip"))
	return r
}

// ClusterFactory creates the cluster a reference resolves to.
func ClusterFactory(path []string) (engine.Resource, error) { return NewCluster(path), nil }

// Schema implements engine.Resource.
func (r *Cluster) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("instance_type", &r.InstanceType),
		engine.VarField("image", &r.Image),
		engine.VarField("root_user_name", &r.RootUserName),
		engine.VarField("count", &r.Count),
		engine.RefField("key_pair", &r.KeyPair).Factory(KeyPairFactory),
		engine.RefField("security_group", &r.SecurityGroup).Factory(SecurityGroupFactory),
		engine.RefField("public_ip", &r.PublicIP).Factory(PublicIPFactory),
		engine.RefListField("instances", &r.Instances),
	}
}

// MarshalState implements codec.Marshaler.
func (r *Cluster) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Elaborate creates the shared resources and grows the instance list to
// the configured count. Existing instances are never removed.
func (r *Cluster) Elaborate(ctx context.Context, phase *engine.Phase) error {
	if err := r.KeyPair.Resolve(KeyPairFactory); err != nil {
		return err
	}
	fresh := !r.SecurityGroup.Bound()
	if err := r.SecurityGroup.Resolve(SecurityGroupFactory); err != nil {
		return err
	}
	if fresh {
		group, err := engine.As[*SecurityGroup](r.SecurityGroup)
		if err != nil {
			return err
		}
		if err := engine.Alias(group, engine.To("description", r.Name()+"-sg")); err != nil {
			return err
		}
	}
	if err := r.PublicIP.Resolve(PublicIPFactory); err != nil {
		return err
	}

	count, err := r.Count.Get()
	if err != nil {
		return err
	}
	switch existing := len(r.Instances); {
	case existing < count:
		sub := phase.Sub(fmt.Sprintf("CREATE %d instances in %s", count-existing, engine.Describe(r)))
		err := sub.Run(ctx, func(context.Context) error {
			for i := existing; i < count; i++ {
				if err := r.addInstance(i); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	case existing > count:
		phase.Logger().Warn().
			Str("resource", r.Name()).
			Int("count", count).
			Int("existing", existing).
			Msg("cluster is larger than its count; instances are not removed")
	}

	return engine.ElaborateFields(ctx, phase, r)
}

func (r *Cluster) addInstance(i int) error {
	path := r.Child(fmt.Sprintf("instance-%d", i))
	instance := NewInstance(path)
	bindings := []engine.Binding{
		engine.To("instance_type", r.InstanceType),
		engine.To("image", r.Image),
		engine.To("root_user_name", r.RootUserName),
		engine.To("key_pair", r.KeyPair),
		engine.To("security_group", r.SecurityGroup),
	}
	if i == 0 {
		bindings = append(bindings, engine.To("public_ip", r.PublicIP))
	}
	if err := engine.Alias(instance, bindings...); err != nil {
		return err
	}

	ref := engine.NewRef(path)
	ref.Own(instance)
	r.Instances = append(r.Instances, ref)
	return nil
}

// Members returns the instances of the cluster in order.
func (r *Cluster) Members() ([]*Instance, error) {
	out := make([]*Instance, 0, len(r.Instances))
	for _, ref := range r.Instances {
		instance, err := engine.As[*Instance](ref)
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	return out, nil
}

// Shell opens a shell on the first instance.
func (r *Cluster) Shell(ctx context.Context) error {
	if len(r.Instances) == 0 {
		return engine.NewConfigurationError("cluster has no instances", errors.New("run up first")).
			WithResource(r.Name()).
			WithCode(engine.ErrCodeNotFound)
	}
	instance, err := engine.As[*Instance](r.Instances[0])
	if err != nil {
		return err
	}
	return instance.Shell(ctx)
}
