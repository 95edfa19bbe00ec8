package cloud

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/transports/ssh"
)

// Instance states reported by the compute API.
const (
	StatePending    = "pending"
	StateRunning    = "running"
	StateTerminated = "terminated"
)

// Compute is the slice of a cloud API the resources of this package use.
type Compute interface {
	CreateKeyPair(ctx context.Context, name string) ([]byte, error)
	DeleteKeyPair(ctx context.Context, name string) error

	CreateSecurityGroup(ctx context.Context, name, description string) (string, error)
	AuthorizeIngress(ctx context.Context, groupID string, rules []IngressRule) error
	DeleteSecurityGroup(ctx context.Context, groupID string) error

	AllocateAddress(ctx context.Context) (*Address, error)
	AssociateAddress(ctx context.Context, allocationID, instanceID string) error
	ReleaseAddress(ctx context.Context, allocationID string) error

	RunInstance(ctx context.Context, spec InstanceSpec) (string, error)
	DescribeInstance(ctx context.Context, instanceID string) (*InstanceStatus, error)
	TerminateInstance(ctx context.Context, instanceID string) error
}

// IngressRule opens a port range to a CIDR block.
type IngressRule struct {
	Protocol string
	FromPort int
	ToPort   int
	CIDR     string
}

// Address is an allocated public IP address.
type Address struct {
	AllocationID string
	PublicIP     string
}

// InstanceSpec describes an instance to launch.
type InstanceSpec struct {
	Name             string
	ImageID          string
	InstanceType     string
	KeyName          string
	SubnetID         string
	SecurityGroupIDs []string
}

// InstanceStatus is the observed state of an instance.
type InstanceStatus struct {
	ID        string
	State     string
	PublicIP  string
	PrivateIP string
}

// Dialer opens a transport to a host.
type Dialer func(ctx context.Context, cfg *ssh.Config) (ssh.Transport, error)

// SSHOptions tune how instances are reached.
type SSHOptions struct {
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration

	// StrictHostKeyChecking verifies host keys against KnownHostsPath.
	StrictHostKeyChecking bool

	// KnownHostsPath is the known_hosts file used for strict checking.
	KnownHostsPath string
}

// DefaultWaitAttempts and DefaultWaitInterval bound how long an instance
// may take to reach a state or to accept SSH connections.
const (
	DefaultWaitAttempts = 10
	DefaultWaitInterval = 10 * time.Second
)

// Env carries the collaborators cloud resources talk to. Resources find
// it in the context of the lifecycle call.
type Env struct {
	// Compute is the cloud API.
	Compute Compute

	// Dial opens SSH transports. Defaults to ssh.Dial.
	Dial Dialer

	// Backoff paces waits. Defaults to DefaultWaitAttempts tries spaced by
	// DefaultWaitInterval.
	Backoff func() backoff.BackOff

	// SSH tunes connections to instances.
	SSH SSHOptions

	// Stdin, Stdout and Stderr are attached to remote commands and shells.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type envKey struct{}

// WithEnv returns a context carrying env.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFromContext returns the environment of ctx with defaults filled in.
func EnvFromContext(ctx context.Context) *Env {
	var env Env
	if e, ok := ctx.Value(envKey{}).(*Env); ok && e != nil {
		env = *e
	}
	if env.Dial == nil {
		env.Dial = DialSSH
	}
	if env.Backoff == nil {
		env.Backoff = DefaultBackoff
	}
	if env.SSH.ConnectTimeout <= 0 {
		env.SSH.ConnectTimeout = 30 * time.Second
	}
	if env.Stdin == nil {
		env.Stdin = os.Stdin
	}
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.Stderr == nil {
		env.Stderr = os.Stderr
	}
	return &env
}

// compute returns the cloud API or a configuration error.
func (e *Env) compute(resource string) (Compute, error) {
	if e.Compute == nil {
		return nil, engine.NewConfigurationError("no compute API configured", engine.ErrNotConnected).
			WithResource(resource).
			WithCode(engine.ErrCodeNotConnected)
	}
	return e.Compute, nil
}

// DialSSH connects with the SSH transport.
func DialSSH(ctx context.Context, cfg *ssh.Config) (ssh.Transport, error) {
	client, err := ssh.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// DefaultBackoff allows DefaultWaitAttempts tries spaced by
// DefaultWaitInterval.
func DefaultBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(DefaultWaitInterval), DefaultWaitAttempts-1)
}
