package engine

import (
	"errors"
	"testing"
)

func TestRefUnboundGet(t *testing.T) {
	ref := NewRef([]string{"root", "key"})

	if ref.Bound() {
		t.Error("expected an unbound reference to be false")
	}
	if _, err := ref.Get(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestRefResolveIsNoOpWhenBound(t *testing.T) {
	ref := NewRef([]string{"root", "svc"})
	calls := 0
	factory := func(path []string) (Resource, error) {
		calls++
		return newTestService(path, nil), nil
	}

	if err := ref.Resolve(factory); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	first := ref.Owned()
	if err := ref.Resolve(factory); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected factory to run once, ran %d times", calls)
	}
	if ref.Owned() != first {
		t.Error("expected the first target to be kept")
	}
	if first.Name() != "root.svc" {
		t.Errorf("expected target named root.svc, got %s", first.Name())
	}
}

func TestRefResolveSkipsAliases(t *testing.T) {
	owner := NewRef([]string{"a"})
	alias := NewRef([]string{"b"})
	alias.Borrow(owner)

	err := alias.Resolve(func(path []string) (Resource, error) {
		t.Fatal("factory must not run for an alias")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
}

func TestRefAliasFollowsOwner(t *testing.T) {
	a := NewRef([]string{"a"})
	b := NewRef([]string{"b"})
	c := NewRef([]string{"c"})
	b.Borrow(a)
	c.Borrow(b)

	if b.Bound() || c.Bound() {
		t.Fatal("expected aliases of an unbound owner to be false")
	}

	svc := newTestService([]string{"svc"}, nil)
	a.Own(svc)

	for _, ref := range []*Ref{a, b, c} {
		got, err := ref.Get()
		if err != nil {
			t.Fatalf("%s: Get failed: %v", ref.Name(), err)
		}
		if got != svc {
			t.Errorf("%s: expected the owner's target", ref.Name())
		}
	}

	if b.Owned() != nil {
		t.Error("expected an alias to own nothing")
	}
}

func TestRefAliasCycle(t *testing.T) {
	a := NewRef([]string{"a"})
	b := NewRef([]string{"b"})
	a.Borrow(b)
	b.Borrow(a)

	if _, err := a.Get(); !errors.Is(err, ErrAliasCycle) {
		t.Errorf("expected ErrAliasCycle, got %v", err)
	}
	if a.Bound() {
		t.Error("expected a cyclic alias to be false")
	}
}

func TestAsChecksType(t *testing.T) {
	ref := NewRef([]string{"r"})
	ref.Own(newTestService([]string{"svc"}, nil))

	svc, err := As[*testService](ref)
	if err != nil {
		t.Fatalf("As failed: %v", err)
	}
	if svc.Name() != "svc" {
		t.Errorf("expected svc, got %s", svc.Name())
	}

	if _, err := As[*testStack](ref); err == nil {
		t.Error("expected a type mismatch error")
	}
}
