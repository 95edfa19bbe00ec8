package control

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/spinup/pkg/engine"
)

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Settings) {},
		},
		{
			name:    "unknown environment",
			mutate:  func(s *Settings) { s.Environment = "qa" },
			wantErr: "Environment",
		},
		{
			name:    "strict host keys without known hosts",
			mutate:  func(s *Settings) { s.SSH.StrictHostKeyChecking = true },
			wantErr: "KnownHostsPath",
		},
		{
			name: "strict host keys with known hosts",
			mutate: func(s *Settings) {
				s.SSH.StrictHostKeyChecking = true
				s.SSH.KnownHostsPath = "/etc/ssh/ssh_known_hosts"
			},
		},
		{
			name:    "no wait attempts",
			mutate:  func(s *Settings) { s.Wait.Attempts = 0 },
			wantErr: "Attempts",
		},
		{
			name:    "bad github url",
			mutate:  func(s *Settings) { s.GitHub.BaseURL = "not a url" },
			wantErr: "BaseURL",
		},
		{
			name:    "no telemetry",
			mutate:  func(s *Settings) { s.Telemetry = nil },
			wantErr: "Telemetry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	data := `environment: staging
region: eu-west-1
journal: runs.db
policies:
  - policies/
disabled_policies:
  - ssh-ingress
github:
  base_url: https://github.example.com/api/v3
wait:
  attempts: 3
  interval: 2s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}

	want := DefaultSettings()
	want.Environment = "staging"
	want.Region = "eu-west-1"
	want.Journal = "runs.db"
	want.Policies = []string{"policies/"}
	want.DisabledPolicies = []string{"ssh-ingress"}
	want.GitHub.BaseURL = "https://github.example.com/api/v3"
	want.Wait = WaitSettings{Attempts: 3, Interval: 2 * time.Second}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("LoadSettings() mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadSettings() of a missing file should fail")
	}
}

func TestSettingsBackoff(t *testing.T) {
	s := DefaultSettings()
	s.Wait = WaitSettings{Attempts: 3, Interval: time.Millisecond}

	b := s.Backoff()()
	tries := 0
	for b.NextBackOff() != backoff.Stop {
		tries++
	}
	// Three attempts means two waits between them.
	if tries != 2 {
		t.Errorf("got %d waits, want 2", tries)
	}
}

func TestApplyVariableFlags(t *testing.T) {
	root := newGreeter([]string{"site"}).(*greeter)
	root.Note.Own(newNote(root.Child("note")))
	vars, _ := engine.Collect(root)

	args := []string{"up", "--config", "site.json", "--json", "--greeting", "hello world", "--note-text=bye", "--port", "9000"}
	applied, err := ApplyVariableFlags(args, vars)
	if err != nil {
		t.Fatalf("ApplyVariableFlags() error = %v", err)
	}
	if applied != 3 {
		t.Errorf("applied = %d, want 3", applied)
	}

	if got, _ := root.Greeting.Value(); got != "hello world" {
		t.Errorf("greeting = %q", got)
	}
	if got, _ := root.Port.Value(); got != 9000 {
		t.Errorf("port = %d", got)
	}
	n, _ := engine.As[*note](root.Note)
	if got, _ := n.Text.Value(); got != "bye" {
		t.Errorf("note text = %q", got)
	}

	if _, err := ApplyVariableFlags([]string{"--port", "many"}, vars); err == nil {
		t.Error("ApplyVariableFlags() should reject a non-integer port")
	}
}
