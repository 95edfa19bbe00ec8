// Package pkgmgr installs system packages on hosts with yum, optionally
// registering extra repositories first.
package pkgmgr

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/file"
)

// TagPackageLoader is the type tag of PackageLoader.
const TagPackageLoader = "PackageLoader"

// PackageLoader installs packages on a host. Each repository maps a name
// to the URL of a setup script that is piped to a root shell before any
// package is installed.
type PackageLoader struct {
	engine.Base
	YumRepos     *engine.Var[map[string]string]
	PackageNames *engine.Var[[]string]
	Instance     *engine.Ref

	installed []string
}

// NewPackageLoader creates a loader at path.
func NewPackageLoader(path []string) *PackageLoader {
	r := &PackageLoader{Base: engine.NewBase(TagPackageLoader, path)}
	r.YumRepos = engine.NewVarDefault(r.Child("yum_repos"), map[string]string{})
	r.PackageNames = engine.NewVar[[]string](r.Child("package_names"))
	r.Instance = engine.NewRef(r.Child("instance"))
	return r
}

// PackageLoaderFactory creates the loader a reference resolves to.
func PackageLoaderFactory(path []string) (engine.Resource, error) { return NewPackageLoader(path), nil }

// Schema implements engine.Resource.
func (r *PackageLoader) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("yum_repos", &r.YumRepos),
		engine.VarField("package_names", &r.PackageNames),
		engine.RefField("instance", &r.Instance),
		engine.StateField("installed", &r.installed),
	}
}

// MarshalState implements codec.Marshaler.
func (r *PackageLoader) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Register adds PackageLoader to c.
func Register(c *engine.Catalog) {
	c.Add(TagPackageLoader, func(path []string) engine.Resource { return NewPackageLoader(path) })
}

// Installed returns the packages this loader installed, in order.
func (r *PackageLoader) Installed() []string { return append([]string(nil), r.installed...) }

// Up installs every package that is not installed yet.
func (r *PackageLoader) Up(ctx context.Context, phase *engine.Phase) error {
	if !phase.Require(r.PackageNames) {
		return nil
	}
	names, _ := r.PackageNames.Get()
	var pending []string
	for _, name := range names {
		if !r.isInstalled(name) {
			pending = append(pending, name)
		}
	}
	if len(pending) == 0 {
		phase.Logger().Info().Str("resource", r.Name()).Msg("packages already installed")
		return nil
	}

	host, err := engine.As[file.Host](r.Instance)
	if err != nil {
		return err
	}
	if err := r.loadRepos(ctx, phase, host); err != nil {
		return err
	}
	for _, name := range pending {
		name := name
		sub := phase.Sub(fmt.Sprintf("INSTALL %s on %s", name, engine.Describe(host)))
		err := sub.Run(ctx, func(ctx context.Context) error {
			if err := host.Execute(ctx, file.Command{Args: []string{"sudo", "yum", "install", "-y", name}}); err != nil {
				return err
			}
			r.installed = append(r.installed, name)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Down removes the installed packages in reverse order.
func (r *PackageLoader) Down(ctx context.Context, phase *engine.Phase) error {
	if len(r.installed) == 0 {
		return nil
	}
	host, err := engine.As[file.Host](r.Instance)
	if err != nil {
		return err
	}
	for i := len(r.installed) - 1; i >= 0; i-- {
		name := r.installed[i]
		sub := phase.Sub(fmt.Sprintf("REMOVE %s from %s", name, engine.Describe(host)))
		err := sub.Run(ctx, func(ctx context.Context) error {
			if err := host.Execute(ctx, file.Command{Args: []string{"sudo", "yum", "remove", "-y", name}}); err != nil {
				return err
			}
			r.installed = r.installed[:len(r.installed)-1]
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// loadRepos fetches each setup script and runs it as root, in name order.
func (r *PackageLoader) loadRepos(ctx context.Context, phase *engine.Phase, host file.Host) error {
	repos, err := r.YumRepos.Get()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(repos))
	for name := range repos {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		web := file.NewWebResource(r.Child(name))
		web.URL.Select(repos[name])
		image := file.NewImage(r.Child(name + "-script"))
		if err := image.Fetch(ctx, web); err != nil {
			return err
		}
		script, _ := image.Bytes()

		phase.Logger().Info().
			Str("resource", r.Name()).
			Str("repository", name).
			Str("host", host.Name()).
			Msg("loading yum repository")
		if err := host.Execute(ctx, file.Command{Args: []string{"sudo", "bash", "-"}, Stdin: script}); err != nil {
			return err
		}
	}
	return nil
}

func (r *PackageLoader) isInstalled(name string) bool {
	for _, n := range r.installed {
		if n == name {
			return true
		}
	}
	return false
}
