package cluster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/cloud"
	"github.com/openfroyo/spinup/pkg/resources/file"
	"github.com/openfroyo/spinup/pkg/resources/keys"
	"github.com/openfroyo/spinup/pkg/resources/pkgmgr"
	"github.com/openfroyo/spinup/pkg/resources/repo"
	"github.com/rs/zerolog"
)

var quiet = zerolog.New(nil).Level(zerolog.Disabled)

type fakeAPI struct {
	added   int
	removed int
}

func (a *fakeAPI) AddDeployKey(context.Context, string, string, string, string, bool) (int64, error) {
	a.added++
	return int64(a.added), nil
}

func (a *fakeAPI) RemoveDeployKey(context.Context, string, string, int64) error {
	a.removed++
	return nil
}

type fakeHost struct {
	engine.Base
	commands []string
	files    map[string]string
}

func newFakeHost() *fakeHost {
	return &fakeHost{Base: engine.NewBase("FakeHost", []string{"host"}), files: map[string]string{}}
}

func (h *fakeHost) Schema() []engine.Field { return nil }

func (h *fakeHost) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, h) }

func (h *fakeHost) Execute(_ context.Context, cmd file.Command) error {
	line := strings.Join(cmd.Args, " ")
	if cmd.Dir != "" {
		line = "(" + cmd.Dir + ") " + line
	}
	h.commands = append(h.commands, line)
	return nil
}

func (h *fakeHost) Put(_ context.Context, contents []byte, dst *file.RemoteFile) error {
	path, err := dst.RemotePath.Get()
	if err != nil {
		return err
	}
	h.files[path] = string(contents)
	return nil
}

func (h *fakeHost) Get(_ context.Context, src *file.RemoteFile) ([]byte, error) {
	path, _ := src.RemotePath.Get()
	return []byte(h.files[path]), nil
}

func (h *fakeHost) Delete(_ context.Context, target *file.RemoteFile) error {
	path, _ := target.RemotePath.Get()
	delete(h.files, path)
	return nil
}

// scripts answers every request with a one-line script naming the URL.
type scripts struct{}

func (scripts) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	_, _ = rec.WriteString("echo " + req.URL.String())
	return rec.Result(), nil
}

func run(ctx context.Context, r engine.Resource, ops ...func(context.Context, *engine.Phase, engine.Resource) error) (*engine.Phase, error) {
	phase := engine.NewPhase("TEST "+r.Name(), nil, r).WithLogger(quiet)
	err := phase.Run(ctx, func(ctx context.Context) error {
		for _, op := range ops {
			if err := op(ctx, phase, r); err != nil {
				return err
			}
		}
		return nil
	})
	return phase, err
}

func newSite(t *testing.T, count int) *ManageCluster {
	t.Helper()
	site := NewManageCluster([]string{"site"})
	site.RepoOwner.Select("acme")
	site.RepoName.Select("app")
	site.ServerCertsPath.Select("/etc/certs")
	site.InstanceCount.Select(count)
	return site
}

func TestManageClusterElaborate(t *testing.T) {
	site := newSite(t, 2)
	if _, err := run(context.Background(), site, engine.Elaborate); err != nil {
		t.Fatalf("elaborate failed: %v", err)
	}

	cl, err := engine.As[*cloud.Cluster](site.Cluster)
	if err != nil {
		t.Fatalf("cluster not created: %v", err)
	}
	members, err := site.Members()
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 2 || len(cl.Instances) != 2 {
		t.Fatalf("expected 2 members and 2 instances, got %d and %d", len(members), len(cl.Instances))
	}

	var names []string
	for i, m := range members {
		names = append(names, m.Name())
		if m.Instance.Aliased() != cl.Instances[i] {
			t.Errorf("%s does not borrow cluster instance %d", m.Name(), i)
		}
		if m.RepoName != site.RepoName {
			t.Errorf("%s does not share repo_name", m.Name())
		}
	}
	if diff := cmp.Diff([]string{"site.0", "site.1"}, names); diff != "" {
		t.Errorf("member names mismatch (-want +got):\n%s", diff)
	}

	group, _ := engine.As[*cloud.SecurityGroup](site.SecurityGroup)
	if got, _ := group.Description.Get(); got != "site-sg" {
		t.Errorf("security group description = %q", got)
	}
	if got, _ := cl.InstanceType.Get(); got != DefaultInstanceType {
		t.Errorf("instance type = %q", got)
	}
	if got, _ := cl.Image.Get(); got != DefaultImage {
		t.Errorf("image = %q", got)
	}

	first := members[0]
	deploy, _ := engine.As[*repo.GitDeploy](first.GitDeployCode)
	key, _ := engine.As[*repo.DeployKey](deploy.DeployKey)
	shared, _ := engine.As[*repo.DeployKey](site.DeployKey)
	if key != shared {
		t.Error("git deployment does not use the shared deploy key")
	}

	cert, _ := engine.As[*file.Transfer](first.InstallServerCert)
	local, _ := engine.As[*file.LocalFile](cert.Local)
	remote, _ := engine.As[*file.RemoteFile](cert.Remote)
	if got, _ := local.LocalPath.Get(); got != "/etc/certs/cert/ssl.cert" {
		t.Errorf("certificate source = %q", got)
	}
	if got, _ := remote.RemotePath.Get(); got != "app/express-api/server.cert" {
		t.Errorf("certificate destination = %q", got)
	}

	service, _ := engine.As[*cloud.Service](first.SetupExpressService)
	want := []string{"cd /home/ec2-user/app/express-services", "npm i", "npm start"}
	if got, _ := service.Commands.Get(); !cmp.Equal(want, got) {
		t.Errorf("service commands mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}

	node, _ := engine.As[*pkgmgr.PackageLoader](first.YumInstallNode)
	if repos, _ := node.YumRepos.Get(); repos["node14"] != NodeSetupURL {
		t.Errorf("node repositories = %v", repos)
	}
}

func TestManageClusterMissingConfiguration(t *testing.T) {
	site := NewManageCluster([]string{"site"})
	phase, err := run(context.Background(), site, engine.Elaborate)
	if !errors.Is(err, engine.ErrMissingConfiguration) {
		t.Fatalf("expected missing configuration, got %v", err)
	}
	missing := strings.Join(phase.MissingItems(), " ")
	for _, item := range []string{"site.repo_name", "site.server_certs_path"} {
		if !strings.Contains(missing, item) {
			t.Errorf("expected %s to be reported, got %v", item, phase.MissingItems())
		}
	}

	// Configuration supplied later fills in the steps that were already
	// created.
	site.RepoOwner.Select("acme")
	site.RepoName.Select("app")
	site.ServerCertsPath.Select("/etc/certs")
	if _, err := run(context.Background(), site, engine.Elaborate); err != nil {
		t.Fatalf("second elaborate failed: %v", err)
	}
	members, _ := site.Members()
	if len(members) != 1 {
		t.Fatalf("expected a single member, got %d", len(members))
	}
	key, _ := engine.As[*file.Transfer](members[0].InstallServerKey)
	remote, _ := engine.As[*file.RemoteFile](key.Remote)
	if got, _ := remote.RemotePath.Get(); got != "app/express-api/server.key" {
		t.Errorf("key destination = %q", got)
	}
}

func TestManageClusterGrows(t *testing.T) {
	site := newSite(t, 1)
	if _, err := run(context.Background(), site, engine.Elaborate); err != nil {
		t.Fatalf("elaborate failed: %v", err)
	}
	first, _ := site.Members()

	site.InstanceCount.Select(3)
	if _, err := run(context.Background(), site, engine.Elaborate); err != nil {
		t.Fatalf("second elaborate failed: %v", err)
	}
	members, _ := site.Members()
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	if members[0] != first[0] {
		t.Error("existing member was replaced")
	}
}

func TestManageClusterRoundTrip(t *testing.T) {
	catalog := engine.NewCatalog()
	file.Register(catalog)
	keys.Register(catalog)
	cloud.Register(catalog)
	repo.Register(catalog)
	pkgmgr.Register(catalog)
	Register(catalog)

	site := newSite(t, 2)
	if _, err := run(context.Background(), site, engine.Elaborate); err != nil {
		t.Fatalf("elaborate failed: %v", err)
	}
	data, err := codec.Marshal(site)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := codec.Unmarshal(data, catalog.Registry())
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	got := decoded.(*ManageCluster)
	cl, err := engine.As[*cloud.Cluster](got.Cluster)
	if err != nil {
		t.Fatalf("cluster lost: %v", err)
	}
	members, err := got.Members()
	if err != nil || len(members) != 2 {
		t.Fatalf("members lost: %v", err)
	}
	for i, m := range members {
		instance, err := engine.As[*cloud.Instance](m.Instance)
		if err != nil {
			t.Fatalf("%s has no instance: %v", m.Name(), err)
		}
		owned, _ := engine.As[*cloud.Instance](cl.Instances[i])
		if instance != owned {
			t.Errorf("%s does not share cluster instance %d after decoding", m.Name(), i)
		}
		if m.RepoOwner != got.RepoOwner {
			t.Errorf("%s does not share repo_owner after decoding", m.Name())
		}
	}
}

func TestManageInstanceLifecycle(t *testing.T) {
	certs := t.TempDir()
	if err := os.MkdirAll(filepath.Join(certs, "cert"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"ssl.cert": "CERT", "ssl.key": "KEY"} {
		if err := os.WriteFile(filepath.Join(certs, "cert", name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	api := &fakeAPI{}
	ctx := repo.WithAPI(context.Background(), api)
	ctx = file.WithHTTPClient(ctx, &http.Client{Transport: scripts{}})

	host := newFakeHost()
	holder := engine.NewRef([]string{"holder"})
	holder.Own(host)

	m := NewManageInstance([]string{"node"})
	m.RepoOwner.Select("acme")
	m.RepoName.Select("app")
	m.ServerCertsPath.Select(certs)
	engine.MustAlias(m, engine.To("instance", holder))

	if _, err := run(ctx, m, engine.Elaborate, engine.Up); err != nil {
		t.Fatalf("up failed: %v", err)
	}
	want := []string{
		"sudo bash -",
		"sudo yum install -y nodejs",
		"sudo yum install -y git",
		"rm -rf app",
		"git config --global core.sshCommand ssh -o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no -i ~/node-git_deploy_code.pvt-repo-key.pem",
		"git clone git@github.com:acme/app.git app",
		"sudo systemctl daemon-reload",
		"sudo systemctl start node-setup_express_service.service",
	}
	if diff := cmp.Diff(want, host.commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if host.files["app/express-api/server.cert"] != "CERT" || host.files["app/express-api/server.key"] != "KEY" {
		t.Errorf("server credentials not installed: %v", host.files)
	}
	script := host.files["/home/ec2-user/node-setup_express_service.sh"]
	if !strings.Contains(script, "npm start") {
		t.Errorf("entry script = %q", script)
	}
	if api.added != 1 {
		t.Errorf("expected one deploy key registration, got %d", api.added)
	}

	host.commands = nil
	phase := engine.NewPhase("PULL", nil, m).WithLogger(quiet)
	if err := m.Pull(ctx, phase); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if n := len(host.commands); n == 0 || host.commands[n-1] != "(app) git pull" {
		t.Errorf("unexpected pull commands %v", host.commands)
	}

	host.commands = nil
	if _, err := run(ctx, m, engine.Down); err != nil {
		t.Fatalf("down failed: %v", err)
	}
	want = []string{
		"sudo systemctl stop node-setup_express_service.service",
		"sudo systemctl daemon-reload",
		"sudo rm -rf app",
		"sudo yum remove -y git",
		"sudo yum remove -y nodejs",
	}
	if diff := cmp.Diff(want, host.commands); diff != "" {
		t.Errorf("down commands mismatch (-want +got):\n%s", diff)
	}
	if _, ok := host.files["app/express-api/server.cert"]; ok {
		t.Error("certificate was not removed")
	}
	if api.removed != 1 {
		t.Errorf("expected the deploy key to be unregistered, got %d", api.removed)
	}
}

func TestManageClusterWatchWithoutMembers(t *testing.T) {
	site := NewManageCluster([]string{"site"})
	if err := site.Watch(context.Background()); !engine.IsConfiguration(err) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}
