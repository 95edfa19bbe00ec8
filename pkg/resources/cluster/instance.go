package cluster

import (
	"context"
	"path"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/cloud"
	"github.com/openfroyo/spinup/pkg/resources/file"
	"github.com/openfroyo/spinup/pkg/resources/pkgmgr"
	"github.com/openfroyo/spinup/pkg/resources/repo"
)

// NodeSetupURL is the script that registers the Node.js yum repository.
const NodeSetupURL = "https://rpm.nodesource.com/setup_14.x"

// ManageInstance deploys the API service onto one cluster instance:
// Node.js and git packages, a clone of the service repository, the TLS
// server credentials and the systemd unit running the service.
type ManageInstance struct {
	engine.Base
	RepoOwner       *engine.Var[string]
	RepoName        *engine.Var[string]
	ServerCertsPath *engine.Var[string]

	DeployKey           *engine.Ref
	Instance            *engine.Ref
	YumInstallNode      *engine.Ref
	YumInstallGit       *engine.Ref
	GitDeployCode       *engine.Ref
	InstallServerCert   *engine.Ref
	InstallServerKey    *engine.Ref
	SetupExpressService *engine.Ref
}

// NewManageInstance creates an instance deployment at path.
func NewManageInstance(path []string) *ManageInstance {
	r := &ManageInstance{Base: engine.NewBase(TagManageInstance, path)}
	r.RepoOwner = engine.NewVar[string](r.Child("repo_owner"))
	r.RepoName = engine.NewVar[string](r.Child("repo_name"))
	r.ServerCertsPath = engine.NewVar[string](r.Child("server_certs_path"))
	r.DeployKey = engine.NewRef(r.Child("deploy_key"))
	r.Instance = engine.NewRef(r.Child("instance"))
	r.YumInstallNode = engine.NewRef(r.Child("yum_install_node"))
	r.YumInstallGit = engine.NewRef(r.Child("yum_install_git"))
	r.GitDeployCode = engine.NewRef(r.Child("git_deploy_code"))
	r.InstallServerCert = engine.NewRef(r.Child("install_server_cert"))
	r.InstallServerKey = engine.NewRef(r.Child("install_server_key"))
	r.SetupExpressService = engine.NewRef(r.Child("setup_express_service"))
	return r
}

// ManageInstanceFactory creates the deployment a reference resolves to.
func ManageInstanceFactory(path []string) (engine.Resource, error) {
	return NewManageInstance(path), nil
}

// Schema implements engine.Resource.
func (r *ManageInstance) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("repo_owner", &r.RepoOwner),
		engine.VarField("repo_name", &r.RepoName),
		engine.VarField("server_certs_path", &r.ServerCertsPath),
		engine.RefField("deploy_key", &r.DeployKey).Factory(repo.DeployKeyFactory),
		engine.RefField("instance", &r.Instance).Factory(cloud.InstanceFactory),
		engine.RefField("yum_install_node", &r.YumInstallNode).Factory(pkgmgr.PackageLoaderFactory),
		engine.RefField("yum_install_git", &r.YumInstallGit).Factory(pkgmgr.PackageLoaderFactory),
		engine.RefField("git_deploy_code", &r.GitDeployCode).Factory(repo.GitDeployFactory),
		engine.RefField("install_server_cert", &r.InstallServerCert).Factory(file.TransferFactory),
		engine.RefField("install_server_key", &r.InstallServerKey).Factory(file.TransferFactory),
		engine.RefField("setup_express_service", &r.SetupExpressService).Factory(cloud.ServiceFactory),
	}
}

// MarshalState implements codec.Marshaler.
func (r *ManageInstance) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Elaborate creates the deployment steps. Paths derived from the
// repository name and the certificate directory are filled in once those
// are configured.
func (r *ManageInstance) Elaborate(ctx context.Context, phase *engine.Phase) error {
	err := resolve(r.DeployKey, repo.DeployKeyFactory,
		engine.To("owner", r.RepoOwner),
		engine.To("repo", r.RepoName),
	)
	if err != nil {
		return err
	}
	if err := r.Instance.Resolve(cloud.InstanceFactory); err != nil {
		return err
	}

	err = resolve(r.YumInstallNode, pkgmgr.PackageLoaderFactory,
		engine.To("instance", r.Instance),
		engine.To("yum_repos", map[string]string{"node14": NodeSetupURL}),
		engine.To("package_names", []string{"nodejs"}),
	)
	if err != nil {
		return err
	}
	err = resolve(r.YumInstallGit, pkgmgr.PackageLoaderFactory,
		engine.To("instance", r.Instance),
		engine.To("yum_repos", map[string]string{}),
		engine.To("package_names", []string{"git"}),
	)
	if err != nil {
		return err
	}
	err = resolve(r.GitDeployCode, repo.GitDeployFactory,
		engine.To("instance", r.Instance),
		engine.To("deploy_key", r.DeployKey),
		engine.To("owner", r.RepoOwner),
		engine.To("repo", r.RepoName),
	)
	if err != nil {
		return err
	}
	if err := r.wireTransfer(r.InstallServerCert, "server-cert"); err != nil {
		return err
	}
	if err := r.wireTransfer(r.InstallServerKey, "server-key"); err != nil {
		return err
	}
	if err := resolve(r.SetupExpressService, cloud.ServiceFactory, engine.To("instance", r.Instance)); err != nil {
		return err
	}

	if phase.Require(r.RepoName, r.ServerCertsPath) {
		if err := r.fill(); err != nil {
			return err
		}
	}
	return engine.ElaborateFields(ctx, phase, r)
}

// wireTransfer gives a fresh transfer a local source and a remote
// destination on the instance.
func (r *ManageInstance) wireTransfer(ref *engine.Ref, name string) error {
	if ref.Bound() {
		return nil
	}
	remote := file.NewRemoteFile(r.Child(name + "-dest"))
	if err := engine.Alias(remote, engine.To("instance", r.Instance)); err != nil {
		return err
	}
	return resolve(ref, file.TransferFactory,
		engine.To("local", file.NewLocalFile(r.Child(name+"-source"))),
		engine.To("remote", remote),
	)
}

// fill selects the paths and commands that depend on configuration,
// leaving values that were already chosen alone.
func (r *ManageInstance) fill() error {
	repoName, _ := r.RepoName.Get()
	certs, _ := r.ServerCertsPath.Get()

	for _, t := range []struct {
		ref    *engine.Ref
		local  string
		remote string
	}{
		{r.InstallServerCert, path.Join(certs, "cert", "ssl.cert"), path.Join(repoName, "express-api", "server.cert")},
		{r.InstallServerKey, path.Join(certs, "cert", "ssl.key"), path.Join(repoName, "express-api", "server.key")},
	} {
		transfer, err := engine.As[*file.Transfer](t.ref)
		if err != nil {
			return err
		}
		if local, err := engine.As[*file.LocalFile](transfer.Local); err == nil {
			selectUnset(local.LocalPath, t.local)
		}
		remote, err := engine.As[*file.RemoteFile](transfer.Remote)
		if err != nil {
			return err
		}
		selectUnset(remote.RemotePath, t.remote)
	}

	service, err := engine.As[*cloud.Service](r.SetupExpressService)
	if err != nil {
		return err
	}
	home, err := service.HomeDir.Get()
	if err != nil {
		return err
	}
	selectUnset(service.Description, "express services of "+repoName)
	if !service.Commands.IsSet() {
		service.Commands.Select([]string{
			"cd " + path.Join(home, repoName, "express-services"),
			"npm i",
			"npm start",
		})
	}
	return nil
}

// Pull updates the clone of the service repository.
func (r *ManageInstance) Pull(ctx context.Context, phase *engine.Phase) error {
	deploy, err := engine.As[*repo.GitDeploy](r.GitDeployCode)
	if err != nil {
		return err
	}
	return deploy.Pull(ctx, phase)
}

// Watch follows the journal of the service.
func (r *ManageInstance) Watch(ctx context.Context) error {
	service, err := engine.As[*cloud.Service](r.SetupExpressService)
	if err != nil {
		return err
	}
	return service.Watch(ctx)
}

// resolve creates the target of an unbound reference and binds its
// fields. Bound references are left untouched.
func resolve(ref *engine.Ref, factory engine.Factory, bindings ...engine.Binding) error {
	if ref.Bound() {
		return nil
	}
	if err := ref.Resolve(factory); err != nil {
		return err
	}
	target, err := ref.Get()
	if err != nil {
		return err
	}
	return engine.Alias(target, bindings...)
}

func selectUnset(v *engine.Var[string], value string) {
	if !v.IsSet() {
		v.Select(value)
	}
}
