package engine

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/spinup/pkg/codec"
)

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	c.Add("TestService", func(path []string) Resource { return newTestService(path, nil) })

	r, err := c.New("TestService", []string{"svc"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if r.Name() != "svc" {
		t.Errorf("expected svc, got %s", r.Name())
	}

	if _, err := c.New("Nope", []string{"x"}); !errors.Is(err, codec.ErrUnknownTag) {
		t.Errorf("expected ErrUnknownTag, got %v", err)
	}

	if diff := cmp.Diff([]string{"TestService"}, c.Tags()); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if !c.Registry().Has(RefTag) || !c.Registry().Has("TestService") {
		t.Error("expected the registry to know Ref and TestService")
	}
}
