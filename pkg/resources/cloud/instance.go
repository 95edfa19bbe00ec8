package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/file"
	"github.com/openfroyo/spinup/pkg/transports/ssh"
)

// DefaultRootUser is the login of stock Amazon Linux images.
const DefaultRootUser = "ec2-user"

// Instance is a virtual machine reached over SSH. It is a file.Host, so
// remote files and transfers can target it.
type Instance struct {
	engine.Base
	InstanceType *engine.Var[string]
	Image        *engine.Var[string]
	RootUserName *engine.Var[string]
	SubnetID     *engine.Var[string]
	InstanceID   *engine.Var[string]
	Address      *engine.Var[string]

	KeyPair       *engine.Ref
	SecurityGroup *engine.Ref
	PublicIP      *engine.Ref
}

var _ file.Host = (*Instance)(nil)

// NewInstance creates an instance at path.
func NewInstance(path []string) *Instance {
	r := &Instance{Base: engine.NewBase(TagInstance, path)}
	r.InstanceType = engine.NewVar[string](r.Child("instance_type"))
	r.Image = engine.NewVar[string](r.Child("image"))
	r.RootUserName = engine.NewVarDefault(r.Child("root_user_name"), DefaultRootUser)
	r.SubnetID = engine.NewVar[string](r.Child("subnet_id"))
	r.InstanceID = engine.NewVar[string](r.Child("ec2_instance_id"))
	r.Address = engine.NewVar[string](r.Child("address"))
	r.KeyPair = engine.NewRef(r.Child("key_pair"))
	r.SecurityGroup = engine.NewRef(r.Child("security_group"))
	r.PublicIP = engine.NewRef(r.Child("public_ip"))
	return r
}

// InstanceFactory creates the instance a reference resolves to.
func InstanceFactory(path []string) (engine.Resource, error) { return NewInstance(path), nil }

// Schema implements engine.Resource.
func (r *Instance) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("instance_type", &r.InstanceType),
		engine.VarField("image", &r.Image),
		engine.VarField("root_user_name", &r.RootUserName),
		engine.VarField("subnet_id", &r.SubnetID),
		engine.VarField("ec2_instance_id", &r.InstanceID),
		engine.VarField("address", &r.Address),
		engine.RefField("key_pair", &r.KeyPair).Factory(KeyPairFactory),
		engine.RefField("security_group", &r.SecurityGroup).Factory(SecurityGroupFactory),
		engine.RefField("public_ip", &r.PublicIP).Optional(),
	}
}

// MarshalState implements codec.Marshaler.
func (r *Instance) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Up launches the instance, waits for it to run, settles its address and
// waits until it accepts SSH connections.
func (r *Instance) Up(ctx context.Context, phase *engine.Phase) error {
	if err := engine.UpChildren(ctx, phase, r); err != nil {
		return err
	}
	env := EnvFromContext(ctx)
	compute, err := env.compute(r.Name())
	if err != nil {
		return err
	}

	if !r.InstanceID.IsSet() {
		if !phase.Require(r.InstanceType, r.Image) {
			return nil
		}
		sub := phase.Sub("CREATE " + engine.Describe(r))
		err := sub.Run(ctx, func(ctx context.Context) error {
			return r.create(ctx, compute)
		})
		if err != nil {
			return err
		}
	}

	id, _ := r.InstanceID.Value()
	status, err := r.waitForState(ctx, phase, env, compute, id, StateRunning)
	if err != nil {
		return err
	}
	if err := r.settleAddress(ctx, phase, compute, status); err != nil {
		return err
	}
	return r.retry(ctx, phase, env, "ssh", func() error {
		err := r.Ping(ctx)
		if engine.IsConfiguration(err) {
			return backoff.Permanent(err)
		}
		return err
	})
}

// Down terminates the instance, then tears down what it owns.
func (r *Instance) Down(ctx context.Context, phase *engine.Phase) error {
	if id, ok := r.InstanceID.Value(); ok {
		env := EnvFromContext(ctx)
		compute, err := env.compute(r.Name())
		if err != nil {
			return err
		}
		sub := phase.Sub("TERMINATE " + engine.Describe(r))
		err = sub.Run(ctx, func(ctx context.Context) error {
			if err := compute.TerminateInstance(ctx, id); err != nil {
				return err
			}
			if _, err := r.waitForState(ctx, sub, env, compute, id, StateTerminated); err != nil {
				return err
			}
			r.InstanceID.Clear()
			r.Address.Clear()
			return nil
		})
		if err != nil {
			return err
		}
	}
	return engine.DownChildren(ctx, phase, r)
}

func (r *Instance) create(ctx context.Context, compute Compute) error {
	keyPair, err := engine.As[*KeyPair](r.KeyPair)
	if err != nil {
		return err
	}
	keyName, err := keyPair.KeyName()
	if err != nil {
		return err
	}
	group, err := engine.As[*SecurityGroup](r.SecurityGroup)
	if err != nil {
		return err
	}
	groupID, err := group.GroupID.Get()
	if err != nil {
		return err
	}
	instanceType, _ := r.InstanceType.Get()
	image, _ := r.Image.Get()
	subnet, _ := r.SubnetID.Value()

	id, err := compute.RunInstance(ctx, InstanceSpec{
		Name:             r.Name(),
		ImageID:          image,
		InstanceType:     instanceType,
		KeyName:          keyName,
		SubnetID:         subnet,
		SecurityGroupIDs: []string{groupID},
	})
	if err != nil {
		return err
	}
	r.InstanceID.Select(id)
	return nil
}

func (r *Instance) waitForState(ctx context.Context, phase *engine.Phase, env *Env, compute Compute,
	id, want string) (*InstanceStatus, error) {
	var status *InstanceStatus
	err := r.retry(ctx, phase, env, "state "+want, func() error {
		s, err := compute.DescribeInstance(ctx, id)
		if err != nil {
			if engine.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if s.State != want {
			return fmt.Errorf("instance %s is %s", id, s.State)
		}
		status = s
		return nil
	})
	return status, err
}

// settleAddress picks the address the instance is reached at: the elastic
// address when one is attached, else the public one, else the private one.
func (r *Instance) settleAddress(ctx context.Context, phase *engine.Phase, compute Compute, status *InstanceStatus) error {
	if r.PublicIP.Bound() {
		ip, err := engine.As[*PublicIP](r.PublicIP)
		if err != nil {
			return err
		}
		addr, err := ip.Address.Get()
		if err != nil {
			return err
		}
		if current, ok := r.Address.Value(); ok && current == addr {
			return nil
		}
		allocation, err := ip.AllocationID.Get()
		if err != nil {
			return err
		}
		sub := phase.Sub("ASSOCIATE " + addr + " with " + engine.Describe(r))
		return sub.Run(ctx, func(ctx context.Context) error {
			if err := compute.AssociateAddress(ctx, allocation, status.ID); err != nil {
				return err
			}
			r.Address.Select(addr)
			return nil
		})
	}

	switch {
	case status.PublicIP != "":
		r.Address.Select(status.PublicIP)
	case status.PrivateIP != "":
		r.Address.Select(status.PrivateIP)
	default:
		return engine.NewTransientError("instance has no address", fmt.Errorf("instance %s", status.ID)).
			WithResource(r.Name()).
			WithCode(engine.ErrCodeNotFound)
	}
	return nil
}

// retry runs op until it succeeds or the wait budget of env runs out.
func (r *Instance) retry(ctx context.Context, phase *engine.Phase, env *Env, what string, op func() error) error {
	logger := phase.Logger()
	notify := func(err error, next time.Duration) {
		logger.Info().
			Str("resource", r.Name()).
			Str("waiting_for", what).
			Dur("retry_in", next).
			AnErr("reason", err).
			Msg("not ready")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(env.Backoff(), ctx), notify)
	if err == nil || engine.IsConfiguration(err) || engine.IsPermanent(err) {
		return err
	}
	return engine.NewTransientError("timed out waiting for "+what, err).
		WithResource(r.Name()).
		WithCode(engine.ErrCodeTimeout)
}

// Ping runs a trivial command on the instance.
func (r *Instance) Ping(ctx context.Context) error {
	return r.withTransport(ctx, func(t ssh.Transport) error {
		_, err := t.Execute(ctx, "echo hello world")
		return r.remoteError("ping", err)
	})
}

// Execute runs cmd on the instance, streaming its output to the operator.
func (r *Instance) Execute(ctx context.Context, cmd file.Command) error {
	line := shellJoin(cmd.Args)
	if cmd.Dir != "" {
		line = "cd " + shellQuote(cmd.Dir) + " && " + line
	}
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = file.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	env := EnvFromContext(ctx)
	return r.withTransport(ctx, func(t ssh.Transport) error {
		var stdin io.Reader
		if cmd.Stdin != nil {
			stdin = bytes.NewReader(cmd.Stdin)
		}
		return r.remoteError(line, t.Stream(ctx, line, stdin, env.Stdout, env.Stderr))
	})
}

// Put stores contents at dst. Files owned by root are staged in /tmp and
// moved into place with sudo.
func (r *Instance) Put(ctx context.Context, contents []byte, dst *file.RemoteFile) error {
	target, err := dst.RemotePath.Get()
	if err != nil {
		return err
	}
	mode, err := dst.FileMode()
	if err != nil {
		return err
	}
	sudo, err := dst.Sudo.Get()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, file.DefaultTimeout)
	defer cancel()

	if !sudo {
		return r.withTransport(ctx, func(t ssh.Transport) error {
			_, err := t.Upload(ctx, bytes.NewReader(contents), target, mode)
			return r.remoteError("upload "+target, err)
		})
	}

	staging := path.Join("/tmp", "spinup-"+uuid.New().String())
	return r.withTransport(ctx, func(t ssh.Transport) error {
		if _, err := t.Upload(ctx, bytes.NewReader(contents), staging, 0o600); err != nil {
			return r.remoteError("upload "+staging, err)
		}
		script := []string{
			shellJoin([]string{"sudo", "mkdir", "-p", path.Dir(target)}),
			shellJoin([]string{"sudo", "mv", "-f", staging, target}),
		}
		if mode != 0 {
			script = append(script, shellJoin([]string{"sudo", "chmod", fmt.Sprintf("%o", mode), target}))
		}
		_, err := t.Execute(ctx, strings.Join(script, " && "))
		return r.remoteError("install "+target, err)
	})
}

// Get reads the file src describes.
func (r *Instance) Get(ctx context.Context, src *file.RemoteFile) ([]byte, error) {
	source, err := src.RemotePath.Get()
	if err != nil {
		return nil, err
	}
	sudo, err := src.Sudo.Get()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, file.DefaultTimeout)
	defer cancel()

	var buf bytes.Buffer
	err = r.withTransport(ctx, func(t ssh.Transport) error {
		if sudo {
			res, err := t.Execute(ctx, shellJoin([]string{"sudo", "cat", source}))
			if err != nil {
				return r.remoteError("read "+source, err)
			}
			buf.WriteString(res.Stdout)
			return nil
		}
		_, err := t.Download(ctx, source, &buf)
		return r.remoteError("download "+source, err)
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Delete removes the file target describes.
func (r *Instance) Delete(ctx context.Context, target *file.RemoteFile) error {
	location, err := target.RemotePath.Get()
	if err != nil {
		return err
	}
	sudo, err := target.Sudo.Get()
	if err != nil {
		return err
	}
	return r.withTransport(ctx, func(t ssh.Transport) error {
		if sudo {
			_, err := t.Execute(ctx, shellJoin([]string{"sudo", "rm", "-f", location}))
			return r.remoteError("remove "+location, err)
		}
		return r.remoteError("remove "+location, t.Remove(ctx, location))
	})
}

// Shell attaches an interactive shell to the operator's terminal.
func (r *Instance) Shell(ctx context.Context) error {
	env := EnvFromContext(ctx)
	return r.withTransport(ctx, func(t ssh.Transport) error {
		return r.remoteError("shell", t.Shell(ctx, env.Stdin, env.Stdout, env.Stderr))
	})
}

// SSHConfig returns the connection settings of the instance.
func (r *Instance) SSHConfig(ctx context.Context) (*ssh.Config, error) {
	addr, err := r.Address.Get()
	if err != nil {
		return nil, err
	}
	user, err := r.RootUserName.Get()
	if err != nil {
		return nil, err
	}
	keyPair, err := engine.As[*KeyPair](r.KeyPair)
	if err != nil {
		return nil, err
	}
	key, err := keyPair.PrivatePEM()
	if err != nil {
		return nil, err
	}

	opts := EnvFromContext(ctx).SSH
	cfg := ssh.NewConfig(addr, user, key)
	if opts.ConnectTimeout > 0 {
		cfg.ConnectTimeout = opts.ConnectTimeout
	}
	cfg.StrictHostKeyChecking = opts.StrictHostKeyChecking
	cfg.KnownHostsPath = opts.KnownHostsPath
	return cfg, nil
}

// withTransport opens a connection for the duration of fn.
func (r *Instance) withTransport(ctx context.Context, fn func(ssh.Transport) error) error {
	cfg, err := r.SSHConfig(ctx)
	if err != nil {
		return err
	}
	t, err := EnvFromContext(ctx).Dial(ctx, cfg)
	if err != nil {
		return r.remoteError("connect "+cfg.Address(), err)
	}
	defer t.Disconnect()
	return fn(t)
}

func (r *Instance) remoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if ssh.IsTemporary(err) {
		return engine.NewTransientError("remote operation failed", err).
			WithResource(r.Name()).
			WithOperation(op)
	}
	return engine.NewPermanentError("remote operation failed", err).
		WithResource(r.Name()).
		WithOperation(op).
		WithCode(engine.ErrCodeProviderFailed)
}

// shellJoin quotes args for a POSIX shell.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			strings.ContainsRune("-_./=:,+@%", c)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
