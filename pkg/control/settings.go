package control

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/spinup/pkg/resources/cloud"
	"github.com/openfroyo/spinup/pkg/telemetry"
)

// Settings are the runtime options of the controller. They come from an
// optional YAML file and are overridden by global flags.
type Settings struct {
	// Environment is passed to policies ("development", "staging",
	// "production").
	Environment string `yaml:"environment" validate:"oneof=development staging production"`

	// Region is the EC2 region. Empty means the SDK default chain, then
	// cloud.DefaultRegion.
	Region string `yaml:"region"`

	// Journal is the SQLite database that records runs and checkpoints.
	// Empty disables the journal.
	Journal string `yaml:"journal"`

	// Policies are extra policy files or directories.
	Policies []string `yaml:"policies"`

	// DisabledPolicies are policy names to switch off.
	DisabledPolicies []string `yaml:"disabled_policies"`

	// GitHub configures the repository API.
	GitHub GitHubSettings `yaml:"github"`

	// SSH tunes connections to instances.
	SSH SSHSettings `yaml:"ssh"`

	// Wait bounds how long instances may take to come up.
	Wait WaitSettings `yaml:"wait"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`
}

// GitHubSettings configures the repository API.
type GitHubSettings struct {
	// BaseURL overrides the API endpoint, for GitHub Enterprise.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// SSHSettings tune connections to instances.
type SSHSettings struct {
	ConnectTimeout        time.Duration `yaml:"connect_timeout" validate:"gte=0"`
	StrictHostKeyChecking bool          `yaml:"strict_host_key_checking"`
	KnownHostsPath        string        `yaml:"known_hosts_path" validate:"required_if=StrictHostKeyChecking true"`
}

// WaitSettings bound the waits for instance state and SSH readiness.
type WaitSettings struct {
	Attempts int           `yaml:"attempts" validate:"gte=1"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() *Settings {
	return &Settings{
		Environment: "development",
		SSH: SSHSettings{
			ConnectTimeout: 30 * time.Second,
		},
		Wait: WaitSettings{
			Attempts: cloud.DefaultWaitAttempts,
			Interval: cloud.DefaultWaitInterval,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadSettings reads path over the defaults. An empty path returns the
// defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, s.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate checks the settings and the embedded telemetry configuration.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid settings: %s failed %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	return s.Telemetry.Validate()
}

// Backoff returns the wait policy described by the settings.
func (s *Settings) Backoff() func() backoff.BackOff {
	attempts, interval := s.Wait.Attempts, s.Wait.Interval
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1))
	}
}

// SSHOptions converts the SSH settings for cloud resources.
func (s *Settings) SSHOptions() cloud.SSHOptions {
	return cloud.SSHOptions{
		ConnectTimeout:        s.SSH.ConnectTimeout,
		StrictHostKeyChecking: s.SSH.StrictHostKeyChecking,
		KnownHostsPath:        s.SSH.KnownHostsPath,
	}
}
