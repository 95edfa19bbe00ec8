package cloud

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/openfroyo/spinup/pkg/codec"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/file"
)

// DefaultHomeDir is where entry scripts are installed.
const DefaultHomeDir = "/home/" + DefaultRootUser

// Service is a systemd unit on a host whose entry script runs a list of
// shell commands.
type Service struct {
	engine.Base
	Description *engine.Var[string]
	Commands    *engine.Var[[]string]
	IsLoaded    *engine.Var[bool]
	Unit        *engine.Var[string]
	HomeDir     *engine.Var[string]

	Instance      *engine.Ref
	ServiceConfig *engine.Ref
	EntryScript   *engine.Ref
}

// NewService creates a service at path.
func NewService(path []string) *Service {
	r := &Service{Base: engine.NewBase(TagService, path)}
	r.Description = engine.NewVar[string](r.Child("description"))
	r.Commands = engine.NewVar[[]string](r.Child("commands"))
	r.IsLoaded = engine.NewVarDefault(r.Child("is_loaded"), false)
	r.Unit = engine.NewVarDefault(r.Child("unit"), defaultName(path, "spinup"))
	r.HomeDir = engine.NewVarDefault(r.Child("home_dir"), DefaultHomeDir)
	r.Instance = engine.NewRef(r.Child("instance"))
	r.ServiceConfig = engine.NewRef(r.Child("service_config"))
	r.EntryScript = engine.NewRef(r.Child("entry_script"))
	return r
}

// ServiceFactory creates the service a reference resolves to.
func ServiceFactory(path []string) (engine.Resource, error) { return NewService(path), nil }

// Schema implements engine.Resource.
func (r *Service) Schema() []engine.Field {
	return []engine.Field{
		engine.VarField("description", &r.Description),
		engine.VarField("commands", &r.Commands),
		engine.VarField("is_loaded", &r.IsLoaded),
		engine.VarField("unit", &r.Unit),
		engine.VarField("home_dir", &r.HomeDir),
		engine.RefField("instance", &r.Instance),
		engine.RefField("service_config", &r.ServiceConfig).Factory(file.TransferFactory),
		engine.RefField("entry_script", &r.EntryScript).Factory(file.TransferFactory),
	}
}

// MarshalState implements codec.Marshaler.
func (r *Service) MarshalState(v codec.Visitor) error { return engine.MarshalFields(v, r) }

// Elaborate points the unit file and the entry script at the instance.
func (r *Service) Elaborate(ctx context.Context, phase *engine.Phase) error {
	unit, err := r.Unit.Get()
	if err != nil {
		return err
	}
	home, err := r.HomeDir.Get()
	if err != nil {
		return err
	}
	if err := r.wire(r.ServiceConfig, "service-config-remote", r.unitPath(unit), "664"); err != nil {
		return err
	}
	if err := r.wire(r.EntryScript, "entry-script-remote", path.Join(home, unit+".sh"), "775"); err != nil {
		return err
	}
	return engine.ElaborateFields(ctx, phase, r)
}

func (r *Service) wire(ref *engine.Ref, segment, remotePath, mode string) error {
	if ref.Bound() {
		return nil
	}
	if err := ref.Resolve(file.TransferFactory); err != nil {
		return err
	}
	transfer, err := engine.As[*file.Transfer](ref)
	if err != nil {
		return err
	}
	remote := file.NewRemoteFile(r.Child(segment))
	err = engine.Alias(remote,
		engine.To("remote_path", remotePath),
		engine.To("sudo", true),
		engine.To("mode", mode),
		engine.To("instance", r.Instance),
	)
	if err != nil {
		return err
	}
	return engine.Alias(transfer, engine.To("remote", remote))
}

func (r *Service) unitPath(unit string) string {
	return "/etc/systemd/system/" + unit + ".service"
}

// Up installs the unit and its entry script and starts the service.
func (r *Service) Up(ctx context.Context, phase *engine.Phase) error {
	if err := engine.UpChildren(ctx, phase, r); err != nil {
		return err
	}
	if loaded, _ := r.IsLoaded.Get(); loaded {
		phase.Logger().Info().Str("resource", r.Name()).Msg("service is already registered")
		return nil
	}
	if !phase.Require(r.Description, r.Commands) {
		return nil
	}
	host, err := engine.As[file.Host](r.Instance)
	if err != nil {
		return err
	}
	unit, _ := r.Unit.Get()
	home, _ := r.HomeDir.Get()
	description, _ := r.Description.Get()
	commands, _ := r.Commands.Get()

	sub := phase.Sub(fmt.Sprintf("REGISTER %s.service on %s", unit, engine.Describe(host)))
	return sub.Run(ctx, func(ctx context.Context) error {
		config := strings.Join([]string{
			"[Unit]",
			"Description=" + description,
			"",
			"[Service]",
			"ExecStart=/usr/bin/bash -c " + path.Join(home, unit+".sh"),
			"",
			"[Install]",
			"WantedBy=default.target",
		}, "\n")
		if err := put(ctx, r.ServiceConfig, config); err != nil {
			return err
		}
		script := strings.Join(append([]string{"#!/usr/bin/env bash"}, commands...), "\n")
		if err := put(ctx, r.EntryScript, script); err != nil {
			return err
		}
		if err := systemctl(ctx, host, "daemon-reload"); err != nil {
			return err
		}
		if err := systemctl(ctx, host, "start", unit+".service"); err != nil {
			return err
		}
		r.IsLoaded.Select(true)
		return nil
	})
}

// Down stops the service and removes its files.
func (r *Service) Down(ctx context.Context, phase *engine.Phase) error {
	loaded, _ := r.IsLoaded.Get()
	if !loaded {
		return nil
	}
	host, err := engine.As[file.Host](r.Instance)
	if err != nil {
		return err
	}
	unit, _ := r.Unit.Get()
	if err := systemctl(ctx, host, "stop", unit+".service"); err != nil {
		return err
	}
	if err := engine.DownChildren(ctx, phase, r); err != nil {
		return err
	}
	if err := systemctl(ctx, host, "daemon-reload"); err != nil {
		return err
	}
	r.IsLoaded.Select(false)
	return nil
}

// Watch follows the service journal until ctx is cancelled.
func (r *Service) Watch(ctx context.Context) error {
	host, err := engine.As[file.Host](r.Instance)
	if err != nil {
		return err
	}
	unit, err := r.Unit.Get()
	if err != nil {
		return err
	}
	return host.Execute(ctx, file.Command{
		Args:    []string{"sudo", "journalctl", "-f", "-u", unit},
		Timeout: -1,
	})
}

// Start starts a registered service.
func (r *Service) Start(ctx context.Context) error { return r.control(ctx, "start") }

// Stop stops a registered service.
func (r *Service) Stop(ctx context.Context) error { return r.control(ctx, "stop") }

func (r *Service) control(ctx context.Context, verb string) error {
	if loaded, _ := r.IsLoaded.Get(); !loaded {
		return nil
	}
	host, err := engine.As[file.Host](r.Instance)
	if err != nil {
		return err
	}
	unit, err := r.Unit.Get()
	if err != nil {
		return err
	}
	return systemctl(ctx, host, verb, unit+".service")
}

func put(ctx context.Context, ref *engine.Ref, contents string) error {
	transfer, err := engine.As[*file.Transfer](ref)
	if err != nil {
		return err
	}
	image, err := engine.As[*file.Image](transfer.Image)
	if err != nil {
		return err
	}
	image.LoadString(contents)
	return transfer.Put(ctx)
}

func systemctl(ctx context.Context, host file.Host, args ...string) error {
	return host.Execute(ctx, file.Command{Args: append([]string{"sudo", "systemctl"}, args...)})
}
