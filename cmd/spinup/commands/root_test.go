package commands

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openfroyo/spinup/pkg/control"
	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/cluster"
	"github.com/openfroyo/spinup/pkg/stores"
)

func TestCreateWithVariableFlags(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "site.json")

	args := []string{"create", "ManageCluster", "site", "-c", path, "--repo_owner", "acme", "--instance_count", "3"}
	if err := Execute(ctx, args, "test", "none", "today"); err != nil {
		t.Fatalf("create error = %v", err)
	}

	state, err := stores.OpenStateFile(ctx, path, control.NewCatalog())
	if err != nil {
		t.Fatalf("OpenStateFile() error = %v", err)
	}
	root, ok := state.Root().(*cluster.ManageCluster)
	if !ok {
		t.Fatalf("root is %T, want *cluster.ManageCluster", state.Root())
	}
	if owner, _ := root.RepoOwner.Value(); owner != "acme" {
		t.Errorf("repo_owner = %q, want acme", owner)
	}
	if count, _ := root.InstanceCount.Value(); count != 3 {
		t.Errorf("instance_count = %d, want 3", count)
	}

	if err := Execute(ctx, args, "test", "none", "today"); !engine.IsConfiguration(err) {
		t.Errorf("second create error = %v, want configuration error", err)
	}
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{name: "no state file", args: []string{"up"}},
		{name: "missing state file", args: []string{"down", "-c", filepath.Join(dir, "none.json")}},
		{name: "unknown type", args: []string{"create", "Nope", "x", "-c", filepath.Join(dir, "x.json")}},
		{name: "create needs a name", args: []string{"create", "ManageCluster", "-c", filepath.Join(dir, "y.json")}},
		{name: "bad sequence", args: []string{"restore", "run", "first", "-c", filepath.Join(dir, "z.json")}},
		{name: "history without journal", args: []string{"history", "-c", filepath.Join(dir, "z.json")}},
		{name: "bad environment", args: []string{"vars", "--environment", "qa", "-c", filepath.Join(dir, "z.json")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Execute(context.Background(), tt.args, "test", "none", "today"); err == nil {
				t.Errorf("Execute(%v) should fail", tt.args)
			}
		})
	}
}
