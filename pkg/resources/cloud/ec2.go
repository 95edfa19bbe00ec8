package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/openfroyo/spinup/pkg/engine"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// EC2API is the subset of the EC2 client used by EC2.
type EC2API interface {
	CreateKeyPair(ctx context.Context, in *ec2.CreateKeyPairInput, opts ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
	DeleteKeyPair(ctx context.Context, in *ec2.DeleteKeyPairInput, opts ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error)
	CreateSecurityGroup(ctx context.Context, in *ec2.CreateSecurityGroupInput, opts ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, opts ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	DeleteSecurityGroup(ctx context.Context, in *ec2.DeleteSecurityGroupInput, opts ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	AllocateAddress(ctx context.Context, in *ec2.AllocateAddressInput, opts ...func(*ec2.Options)) (*ec2.AllocateAddressOutput, error)
	AssociateAddress(ctx context.Context, in *ec2.AssociateAddressInput, opts ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error)
	ReleaseAddress(ctx context.Context, in *ec2.ReleaseAddressInput, opts ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error)
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, opts ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, opts ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// EC2 implements Compute on Amazon EC2. The client is created on first
// use from the default credential chain.
type EC2 struct {
	region string

	mu     sync.Mutex
	client EC2API
}

var _ Compute = (*EC2)(nil)

// NewEC2 creates an EC2 compute API for region.
func NewEC2(region string) *EC2 {
	if region == "" {
		region = DefaultRegion
	}
	return &EC2{region: region}
}

// NewEC2WithClient creates an EC2 compute API over an existing client.
func NewEC2WithClient(client EC2API) *EC2 {
	return &EC2{region: DefaultRegion, client: client}
}

// Region returns the configured region.
func (c *EC2) Region() string { return c.region }

// service returns the EC2 client. If client was set, it is returned.
func (c *EC2) service(ctx context.Context) (EC2API, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(c.region))
	if err != nil {
		return nil, engine.NewConfigurationError("failed to load AWS configuration", err).
			WithCode(engine.ErrCodeProviderFailed)
	}
	c.client = ec2.NewFromConfig(cfg)
	return c.client, nil
}

// CreateKeyPair creates a key pair and returns the private key material.
func (c *EC2) CreateKeyPair(ctx context.Context, name string) ([]byte, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	out, err := svc.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{KeyName: aws.String(name)})
	if err != nil {
		return nil, classify("create key pair", name, err)
	}
	return []byte(aws.ToString(out.KeyMaterial)), nil
}

// DeleteKeyPair deletes a key pair by name.
func (c *EC2) DeleteKeyPair(ctx context.Context, name string) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	if _, err := svc.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: aws.String(name)}); err != nil {
		return classify("delete key pair", name, err)
	}
	return nil
}

// CreateSecurityGroup creates a security group and returns its id.
func (c *EC2) CreateSecurityGroup(ctx context.Context, name, description string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	out, err := svc.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String(description),
	})
	if err != nil {
		return "", classify("create security group", name, err)
	}
	return aws.ToString(out.GroupId), nil
}

// AuthorizeIngress opens rules on a security group.
func (c *EC2) AuthorizeIngress(ctx context.Context, groupID string, rules []IngressRule) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	perms := make([]types.IpPermission, 0, len(rules))
	for _, rule := range rules {
		perms = append(perms, types.IpPermission{
			IpProtocol: aws.String(rule.Protocol),
			FromPort:   aws.Int32(int32(rule.FromPort)),
			ToPort:     aws.Int32(int32(rule.ToPort)),
			IpRanges:   []types.IpRange{{CidrIp: aws.String(rule.CIDR)}},
		})
	}
	_, err = svc.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: perms,
	})
	if err != nil {
		return classify("authorize ingress", groupID, err)
	}
	return nil
}

// DeleteSecurityGroup deletes a security group by id.
func (c *EC2) DeleteSecurityGroup(ctx context.Context, groupID string) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	if _, err := svc.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(groupID)}); err != nil {
		return classify("delete security group", groupID, err)
	}
	return nil
}

// AllocateAddress allocates an elastic IP address.
func (c *EC2) AllocateAddress(ctx context.Context) (*Address, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	out, err := svc.AllocateAddress(ctx, &ec2.AllocateAddressInput{Domain: types.DomainTypeVpc})
	if err != nil {
		return nil, classify("allocate address", "", err)
	}
	return &Address{
		AllocationID: aws.ToString(out.AllocationId),
		PublicIP:     aws.ToString(out.PublicIp),
	}, nil
}

// AssociateAddress attaches an elastic IP address to an instance.
func (c *EC2) AssociateAddress(ctx context.Context, allocationID, instanceID string) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	_, err = svc.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		AllocationId: aws.String(allocationID),
		InstanceId:   aws.String(instanceID),
	})
	if err != nil {
		return classify("associate address", allocationID, err)
	}
	return nil
}

// ReleaseAddress releases an elastic IP address.
func (c *EC2) ReleaseAddress(ctx context.Context, allocationID string) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	if _, err := svc.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: aws.String(allocationID)}); err != nil {
		return classify("release address", allocationID, err)
	}
	return nil
}

// RunInstance launches one instance tagged with its name.
func (c *EC2) RunInstance(ctx context.Context, spec InstanceSpec) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	in := &ec2.RunInstancesInput{
		ImageId:          aws.String(spec.ImageID),
		InstanceType:     types.InstanceType(spec.InstanceType),
		KeyName:          aws.String(spec.KeyName),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		SecurityGroupIds: spec.SecurityGroupIDs,
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         []types.Tag{{Key: aws.String("Name"), Value: aws.String(spec.Name)}},
		}},
	}
	if spec.SubnetID != "" {
		in.SubnetId = aws.String(spec.SubnetID)
	}

	out, err := svc.RunInstances(ctx, in)
	if err != nil {
		return "", classify("run instance", spec.Name, err)
	}
	if len(out.Instances) == 0 {
		return "", engine.NewPermanentError("run instance", errors.New("no instance was launched")).
			WithResource(spec.Name).
			WithCode(engine.ErrCodeProviderFailed)
	}
	return aws.ToString(out.Instances[0].InstanceId), nil
}

// DescribeInstance reports the state and addresses of an instance.
func (c *EC2) DescribeInstance(ctx context.Context, instanceID string) (*InstanceStatus, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	out, err := svc.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
	if err != nil {
		return nil, classify("describe instance", instanceID, err)
	}
	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if aws.ToString(inst.InstanceId) != instanceID {
				continue
			}
			status := &InstanceStatus{
				ID:        instanceID,
				PublicIP:  aws.ToString(inst.PublicIpAddress),
				PrivateIP: aws.ToString(inst.PrivateIpAddress),
			}
			if inst.State != nil {
				status.State = string(inst.State.Name)
			}
			return status, nil
		}
	}
	return nil, engine.NewTransientError("describe instance", fmt.Errorf("instance %s not visible yet", instanceID)).
		WithResource(instanceID).
		WithCode(engine.ErrCodeNotFound)
}

// TerminateInstance terminates an instance.
func (c *EC2) TerminateInstance(ctx context.Context, instanceID string) error {
	svc, err := c.service(ctx)
	if err != nil {
		return err
	}
	if _, err := svc.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{instanceID}}); err != nil {
		return classify("terminate instance", instanceID, err)
	}
	return nil
}

// classify turns an API failure into an engine error. Lookups of objects
// that were just created fail until EC2 catches up, so not-found codes are
// transient; throttling is transient as well.
func classify(op, subject string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case strings.HasSuffix(code, ".NotFound"):
			return engine.NewTransientError("failed to "+op, err).
				WithResource(subject).
				WithCode(engine.ErrCodeNotFound).
				WithDetail("aws_code", code)
		case code == "RequestLimitExceeded" || code == "Throttling":
			return engine.NewTransientError("failed to "+op, err).
				WithResource(subject).
				WithCode(engine.ErrCodeProviderFailed).
				WithDetail("aws_code", code)
		default:
			return engine.NewPermanentError("failed to "+op, err).
				WithResource(subject).
				WithCode(engine.ErrCodeProviderFailed).
				WithDetail("aws_code", code)
		}
	}
	return engine.NewPermanentError("failed to "+op, err).
		WithResource(subject).
		WithCode(engine.ErrCodeProviderFailed)
}
