package pkgmgr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/file"
	"github.com/rs/zerolog"
)

var quiet = zerolog.New(nil).Level(zerolog.Disabled)

type fakeHost struct {
	engine.Base
	commands []string
	stdin    map[string]string
	fail     string
}

func newFakeHost() *fakeHost {
	return &fakeHost{Base: engine.NewBase("FakeHost", []string{"host"}), stdin: map[string]string{}}
}

func (h *fakeHost) Schema() []engine.Field { return nil }

func (h *fakeHost) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, h) }

func (h *fakeHost) Execute(_ context.Context, cmd file.Command) error {
	line := strings.Join(cmd.Args, " ")
	if h.fail != "" && strings.Contains(line, h.fail) {
		return engine.NewPermanentError("command failed", fmt.Errorf("%s: exit status 1", line))
	}
	h.commands = append(h.commands, line)
	if cmd.Stdin != nil {
		h.stdin[line] += string(cmd.Stdin)
	}
	return nil
}

func (h *fakeHost) Put(context.Context, []byte, *file.RemoteFile) error { return nil }

func (h *fakeHost) Get(context.Context, *file.RemoteFile) ([]byte, error) { return nil, nil }

func (h *fakeHost) Delete(context.Context, *file.RemoteFile) error { return nil }

func newLoader(host *fakeHost, packages ...string) *PackageLoader {
	holder := engine.NewRef([]string{"holder"})
	holder.Own(host)
	l := NewPackageLoader([]string{"yum"})
	l.PackageNames.Select(packages)
	engine.MustAlias(l, engine.To("instance", holder))
	return l
}

func run(ctx context.Context, r engine.Resource, op func(context.Context, *engine.Phase, engine.Resource) error) error {
	phase := engine.NewPhase("TEST", nil, r).WithLogger(quiet)
	return phase.Run(ctx, func(ctx context.Context) error { return op(ctx, phase, r) })
}

func TestPackageLoaderLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "echo setting up %s\n", strings.TrimPrefix(r.URL.Path, "/"))
	}))
	defer srv.Close()
	ctx := file.WithHTTPClient(context.Background(), srv.Client())

	host := newFakeHost()
	loader := newLoader(host, "nodejs", "git")
	loader.YumRepos.Select(map[string]string{
		"node14": srv.URL + "/setup_14.x",
		"epel":   srv.URL + "/epel",
	})

	if err := run(ctx, loader, engine.Up); err != nil {
		t.Fatalf("up failed: %v", err)
	}
	want := []string{
		"sudo bash -",
		"sudo bash -",
		"sudo yum install -y nodejs",
		"sudo yum install -y git",
	}
	if diff := cmp.Diff(want, host.commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if got := host.stdin["sudo bash -"]; got != "echo setting up epel\necho setting up setup_14.x\n" {
		t.Errorf("repository scripts ran out of order: %q", got)
	}
	if diff := cmp.Diff([]string{"nodejs", "git"}, loader.Installed()); diff != "" {
		t.Errorf("installed mismatch (-want +got):\n%s", diff)
	}

	host.commands = nil
	if err := run(ctx, loader, engine.Up); err != nil {
		t.Fatalf("second up failed: %v", err)
	}
	if len(host.commands) != 0 {
		t.Errorf("expected nothing to run, got %v", host.commands)
	}

	if err := run(ctx, loader, engine.Down); err != nil {
		t.Fatalf("down failed: %v", err)
	}
	want = []string{"sudo yum remove -y git", "sudo yum remove -y nodejs"}
	if diff := cmp.Diff(want, host.commands); diff != "" {
		t.Errorf("down commands mismatch (-want +got):\n%s", diff)
	}
	if len(loader.Installed()) != 0 {
		t.Errorf("expected nothing installed, got %v", loader.Installed())
	}
}

func TestPackageLoaderPartialFailure(t *testing.T) {
	host := newFakeHost()
	host.fail = "install -y git"
	loader := newLoader(host, "nodejs", "git")

	if err := run(context.Background(), loader, engine.Up); !engine.IsPermanent(err) {
		t.Fatalf("expected the install failure, got %v", err)
	}
	if diff := cmp.Diff([]string{"nodejs"}, loader.Installed()); diff != "" {
		t.Errorf("installed mismatch (-want +got):\n%s", diff)
	}

	host.fail = ""
	host.commands = nil
	if err := run(context.Background(), loader, engine.Up); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if diff := cmp.Diff([]string{"sudo yum install -y git"}, host.commands); diff != "" {
		t.Errorf("retry should only install what is missing (-want +got):\n%s", diff)
	}
}

func TestPackageLoaderRoundTrip(t *testing.T) {
	catalog := engine.NewCatalog()
	Register(catalog)

	loader := NewPackageLoader([]string{"yum"})
	loader.PackageNames.Select([]string{"git"})
	loader.installed = []string{"git"}

	data, err := codec.Marshal(loader)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := codec.Unmarshal(data, catalog.Registry())
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff([]string{"git"}, decoded.(*PackageLoader).Installed()); diff != "" {
		t.Errorf("installed mismatch (-want +got):\n%s", diff)
	}
}
