package cloud

import (
	"context"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
)

// DefaultPorts are opened by a security group unless configured otherwise.
var DefaultPorts = []int{22, 3001}

// SecurityGroup is a firewall opening TCP ports to a CIDR block.
type SecurityGroup struct {
	engine.Base
	Description *engine.Var[string]
	EC2Name     *engine.Var[string]
	GroupID     *engine.Var[string]
	CIDR        *engine.Var[string]
	Ports       *engine.Var[[]int]
}

// NewSecurityGroup creates a security group at path.
func NewSecurityGroup(path []string) *SecurityGroup {
	r := &SecurityGroup{Base: engine.NewBase(TagSecurityGroup, path)}
	r.Description = engine.NewVar[string](r.Child("description"))
	r.EC2Name = engine.NewVarDefault(r.Child("ec2_name"), defaultName(path, "cluster-sg"))
	r.GroupID = engine.NewVar[string](r.Child("ec2_security_group_id"))
	r.CIDR = engine.NewVarDefault(r.Child("cidr"), "0.0.0.0/0")
	r.Ports = engine.NewVarDefault(r.Child("ports"), append([]int(nil), DefaultPorts...))
	return r
}

// SecurityGroupFactory creates the security group a reference resolves to.
func SecurityGroupFactory(path []string) (engine.Resource, error) { return NewSecurityGroup(path), nil }

// Schema implements engine.Resource.
func (r *SecurityGroup) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("description", &r.Description),
		engine.VarField("ec2_name", &r.EC2Name),
		engine.VarField("ec2_security_group_id", &r.GroupID),
		engine.VarField("cidr", &r.CIDR),
		engine.VarField("ports", &r.Ports),
	}
}

// MarshalState implements codec.Marshaler.
func (r *SecurityGroup) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Up creates the group and opens its ports.
func (r *SecurityGroup) Up(ctx context.Context, phase *engine.Phase) error {
	if r.GroupID.IsSet() {
		phase.Logger().Info().Str("resource", r.Name()).Msg("security group already created")
		return nil
	}
	if !phase.Require(r.Description) {
		return nil
	}
	compute, err := EnvFromContext(ctx).compute(r.Name())
	if err != nil {
		return err
	}
	name, err := r.EC2Name.Get()
	if err != nil {
		return err
	}
	description, _ := r.Description.Get()
	cidr, err := r.CIDR.Get()
	if err != nil {
		return err
	}
	ports, err := r.Ports.Get()
	if err != nil {
		return err
	}

	id, err := compute.CreateSecurityGroup(ctx, name, description)
	if err != nil {
		return err
	}
	r.GroupID.Select(id)

	rules := make([]IngressRule, 0, len(ports))
	for _, port := range ports {
		rules = append(rules, IngressRule{Protocol: "tcp", FromPort: port, ToPort: port, CIDR: cidr})
	}
	if len(rules) == 0 {
		return nil
	}
	return compute.AuthorizeIngress(ctx, id, rules)
}

// Down deletes the group.
func (r *SecurityGroup) Down(ctx context.Context, phase *engine.Phase) error {
	id, ok := r.GroupID.Value()
	if !ok {
		return nil
	}
	compute, err := EnvFromContext(ctx).compute(r.Name())
	if err != nil {
		return err
	}
	if err := compute.DeleteSecurityGroup(ctx, id); err != nil {
		return err
	}
	r.GroupID.Clear()
	return nil
}

// PublicIP is an elastic IP address.
type PublicIP struct {
	engine.Base
	EC2Name      *engine.Var[string]
	AllocationID *engine.Var[string]
	Address      *engine.Var[string]
}

// NewPublicIP creates an address at path.
func NewPublicIP(path []string) *PublicIP {
	r := &PublicIP{Base: engine.NewBase(TagPublicIP, path)}
	r.EC2Name = engine.NewVarDefault(r.Child("ec2_name"), defaultName(path, "cluster-ip"))
	r.AllocationID = engine.NewVar[string](r.Child("ec2_allocation_id"))
	r.Address = engine.NewVar[string](r.Child("ip_address"))
	return r
}

// PublicIPFactory creates the address a reference resolves to.
func PublicIPFactory(path []string) (engine.Resource, error) { return NewPublicIP(path), nil }

// Schema implements engine.Resource.
func (r *PublicIP) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("ec2_name", &r.EC2Name),
		engine.VarField("ec2_allocation_id", &r.AllocationID),
		engine.VarField("ip_address", &r.Address),
	}
}

// MarshalState implements codec.Marshaler.
func (r *PublicIP) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Up allocates the address.
func (r *PublicIP) Up(ctx context.Context, phase *engine.Phase) error {
	if r.AllocationID.IsSet() && r.Address.IsSet() {
		phase.Logger().Info().Str("resource", r.Name()).Msg("address already allocated")
		return nil
	}
	compute, err := EnvFromContext(ctx).compute(r.Name())
	if err != nil {
		return err
	}
	addr, err := compute.AllocateAddress(ctx)
	if err != nil {
		return err
	}
	r.AllocationID.Select(addr.AllocationID)
	r.Address.Select(addr.PublicIP)
	phase.Logger().Info().Str("resource", r.Name()).Str("address", addr.PublicIP).Msg("allocated address")
	return nil
}

// Down releases the address.
func (r *PublicIP) Down(ctx context.Context, phase *engine.Phase) error {
	id, ok := r.AllocationID.Value()
	if !ok {
		return nil
	}
	compute, err := EnvFromContext(ctx).compute(r.Name())
	if err != nil {
		return err
	}
	if err := compute.ReleaseAddress(ctx, id); err != nil {
		return err
	}
	r.AllocationID.Clear()
	r.Address.Clear()
	return nil
}
