package repo

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/file"
	"github.com/openfroyo/spinup/pkg/resources/keys"
)

// DeployKey is an RSA key registered as a read-only deploy key of a
// repository.
type DeployKey struct {
	engine.Base
	Owner     *engine.Var[string]
	Repo      *engine.Var[string]
	RepoKeyID *engine.Var[int64]

	SSLKey *engine.Ref
}

// NewDeployKey creates a deploy key at path.
func NewDeployKey(path []string) *DeployKey {
	r := &DeployKey{Base: engine.NewBase(TagDeployKey, path)}
	r.Owner = engine.NewVar[string](r.Child("owner"))
	r.Repo = engine.NewVar[string](r.Child("repo"))
	r.RepoKeyID = engine.NewVar[int64](r.Child("repo_key_id"))
	r.SSLKey = engine.NewRef(r.Child("ssl_key"))
	return r
}

// DeployKeyFactory creates the deploy key a reference resolves to.
func DeployKeyFactory(path []string) (engine.Resource, error) { return NewDeployKey(path), nil }

// Schema implements engine.Resource.
func (r *DeployKey) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("owner", &r.Owner),
		engine.VarField("repo", &r.Repo),
		engine.VarField("repo_key_id", &r.RepoKeyID),
		engine.RefField("ssl_key", &r.SSLKey).Factory(keys.RSAKeyFactory),
	}
}

// MarshalState implements codec.Marshaler.
func (r *DeployKey) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Elaborate creates a 2048-bit key unless one is wired in.
func (r *DeployKey) Elaborate(ctx context.Context, phase *engine.Phase) error {
	if !r.SSLKey.Bound() {
		if err := r.SSLKey.Resolve(keys.RSAKeyFactory); err != nil {
			return err
		}
		key, err := engine.As[*keys.RSAKey](r.SSLKey)
		if err != nil {
			return err
		}
		if err := engine.Alias(key, engine.To("bits", keys.DefaultBits)); err != nil {
			return err
		}
	}
	return engine.ElaborateFields(ctx, phase, r)
}

// Up generates the key and registers it.
func (r *DeployKey) Up(ctx context.Context, phase *engine.Phase) error {
	if err := engine.UpChildren(ctx, phase, r); err != nil {
		return err
	}
	if r.RepoKeyID.IsSet() {
		phase.Logger().Info().Str("resource", r.Name()).Msg("deploy key already registered")
		return nil
	}
	if !phase.Require(r.Owner, r.Repo) {
		return nil
	}
	owner, _ := r.Owner.Get()
	repo, _ := r.Repo.Get()
	key, err := engine.As[*keys.RSAKey](r.SSLKey)
	if err != nil {
		return err
	}
	public, err := key.AuthorizedKey()
	if err != nil {
		return err
	}

	sub := phase.Sub(fmt.Sprintf("REGISTER deploy key for %s/%s", owner, repo))
	return sub.Run(ctx, func(ctx context.Context) error {
		id, err := APIFromContext(ctx).AddDeployKey(ctx, owner, repo, r.Name(), public, true)
		if err != nil {
			return err
		}
		r.RepoKeyID.Select(id)
		return nil
	})
}

// Down unregisters the key.
func (r *DeployKey) Down(ctx context.Context, phase *engine.Phase) error {
	id, ok := r.RepoKeyID.Value()
	if ok {
		owner, err := r.Owner.Get()
		if err != nil {
			return err
		}
		repo, err := r.Repo.Get()
		if err != nil {
			return err
		}
		sub := phase.Sub(fmt.Sprintf("UNREGISTER deploy key for %s/%s", owner, repo))
		err = sub.Run(ctx, func(ctx context.Context) error {
			if err := APIFromContext(ctx).RemoveDeployKey(ctx, owner, repo, id); err != nil {
				return err
			}
			r.RepoKeyID.Clear()
			return nil
		})
		if err != nil {
			return err
		}
	}
	return engine.DownChildren(ctx, phase, r)
}

// URL returns the SSH clone address of the repository.
func (r *DeployKey) URL() (string, error) {
	owner, err := r.Owner.Get()
	if err != nil {
		return "", err
	}
	repo, err := r.Repo.Get()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("git@github.com:%s/%s.git", owner, repo), nil
}

// GitDeploy is a clone of a repository on a host, fetched with a deploy
// key.
type GitDeploy struct {
	engine.Base
	Owner       *engine.Var[string]
	Repo        *engine.Var[string]
	IsInstalled *engine.Var[bool]

	Instance  *engine.Ref
	DeployKey *engine.Ref
}

// NewGitDeploy creates a deployment at path.
func NewGitDeploy(path []string) *GitDeploy {
	r := &GitDeploy{Base: engine.NewBase(TagGitDeploy, path)}
	r.Owner = engine.NewVar[string](r.Child("owner"))
	r.Repo = engine.NewVar[string](r.Child("repo"))
	r.IsInstalled = engine.NewVarDefault(r.Child("is_installed"), false)
	r.Instance = engine.NewRef(r.Child("instance"))
	r.DeployKey = engine.NewRef(r.Child("deploy_key"))
	return r
}

// GitDeployFactory creates the deployment a reference resolves to.
func GitDeployFactory(path []string) (engine.Resource, error) { return NewGitDeploy(path), nil }

// Schema implements engine.Resource.
func (r *GitDeploy) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("owner", &r.Owner),
		engine.VarField("repo", &r.Repo),
		engine.VarField("is_installed", &r.IsInstalled),
		engine.RefField("instance", &r.Instance),
		engine.RefField("deploy_key", &r.DeployKey).Factory(DeployKeyFactory),
	}
}

// MarshalState implements codec.Marshaler.
func (r *GitDeploy) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// keyFile is where the private deploy key is installed, relative to the
// login directory.
func (r *GitDeploy) keyFile() string {
	return strings.Join(r.Path(), "-") + ".pvt-repo-key.pem"
}

// Up clones the repository.
func (r *GitDeploy) Up(ctx context.Context, phase *engine.Phase) error {
	if err := engine.UpChildren(ctx, phase, r); err != nil {
		return err
	}
	if installed, _ := r.IsInstalled.Get(); installed {
		phase.Logger().Info().Str("resource", r.Name()).Msg("repository already cloned")
		return nil
	}
	if !phase.Require(r.Owner, r.Repo) {
		return nil
	}
	host, err := engine.As[file.Host](r.Instance)
	if err != nil {
		return err
	}
	if err := r.uploadKey(ctx, phase, host); err != nil {
		return err
	}
	owner, _ := r.Owner.Get()
	repo, _ := r.Repo.Get()

	sub := phase.Sub(fmt.Sprintf("CLONE %s/%s on %s", owner, repo, engine.Describe(host)))
	return sub.Run(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("git@github.com:%s/%s.git", owner, repo)
		commands := [][]string{
			{"rm", "-rf", repo},
			r.sshCommand(),
			{"git", "clone", url, repo},
		}
		for _, args := range commands {
			if err := host.Execute(ctx, file.Command{Args: args}); err != nil {
				return err
			}
		}
		r.IsInstalled.Select(true)
		return nil
	})
}

// Down deletes the clone.
func (r *GitDeploy) Down(ctx context.Context, phase *engine.Phase) error {
	if installed, _ := r.IsInstalled.Get(); installed {
		host, err := engine.As[file.Host](r.Instance)
		if err != nil {
			return err
		}
		repo, err := r.Repo.Get()
		if err != nil {
			return err
		}
		sub := phase.Sub(fmt.Sprintf("DELETE clone of %s on %s", repo, engine.Describe(host)))
		err = sub.Run(ctx, func(ctx context.Context) error {
			if err := host.Execute(ctx, file.Command{Args: []string{"sudo", "rm", "-rf", repo}}); err != nil {
				return err
			}
			r.IsInstalled.Select(false)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return engine.DownChildren(ctx, phase, r)
}

// Pull fetches the latest commits into the clone.
func (r *GitDeploy) Pull(ctx context.Context, phase *engine.Phase) error {
	if installed, _ := r.IsInstalled.Get(); !installed {
		phase.Logger().Info().Str("resource", r.Name()).Msg("repository is not cloned; nothing to pull")
		return nil
	}
	host, err := engine.As[file.Host](r.Instance)
	if err != nil {
		return err
	}
	repo, err := r.Repo.Get()
	if err != nil {
		return err
	}
	if err := r.uploadKey(ctx, phase, host); err != nil {
		return err
	}

	sub := phase.Sub(fmt.Sprintf("PULL %s on %s", repo, engine.Describe(host)))
	return sub.Run(ctx, func(ctx context.Context) error {
		commands := []file.Command{
			{Args: r.sshCommand()},
			{Args: []string{"git", "remote", "show", "origin"}, Dir: repo},
			{Args: []string{"git", "pull"}, Dir: repo},
		}
		for _, cmd := range commands {
			if err := host.Execute(ctx, cmd); err != nil {
				return err
			}
		}
		return nil
	})
}

// uploadKey installs the private deploy key on the host.
func (r *GitDeploy) uploadKey(ctx context.Context, phase *engine.Phase, host file.Host) error {
	deployKey, err := engine.As[*DeployKey](r.DeployKey)
	if err != nil {
		return err
	}
	key, err := engine.As[*keys.RSAKey](deployKey.SSLKey)
	if err != nil {
		return err
	}

	sub := phase.Sub(fmt.Sprintf("INSTALL deploy key on %s", engine.Describe(host)))
	return sub.Run(ctx, func(ctx context.Context) error {
		remote := file.NewRemoteFile(r.Child("deploy-key-remote"))
		err := engine.Alias(remote,
			engine.To("remote_path", r.keyFile()),
			engine.To("mode", "600"),
			engine.To("instance", r.Instance),
		)
		if err != nil {
			return err
		}
		transfer := file.NewTransfer(r.Child("deploy-key-install"))
		if err := engine.Alias(transfer, engine.To("remote", remote), engine.To("image", key.Private)); err != nil {
			return err
		}
		return transfer.Put(ctx)
	})
}

func (r *GitDeploy) sshCommand() []string {
	ssh := "ssh -o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no -i " + path.Join("~", r.keyFile())
	return []string{"git", "config", "--global", "core.sshCommand", ssh}
}
