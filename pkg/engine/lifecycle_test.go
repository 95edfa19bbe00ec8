package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func quietPhase(description string, persistor Persistor) *Phase {
	return NewPhase(description, persistor).WithLogger(zerolog.New(nil).Level(zerolog.Disabled))
}

func elaborated(t *testing.T, rec *recorder) *testStack {
	t.Helper()
	stack := newTestStack("stack", rec)
	stack.Cache.Own(newTestService(stack.Child("cache"), rec))

	phase := quietPhase("ELABORATE", nil)
	if err := phase.Run(context.Background(), func(ctx context.Context) error {
		return Elaborate(ctx, phase, stack)
	}); err != nil {
		t.Fatalf("elaborate failed: %v", err)
	}
	return stack
}

func TestElaborateResolvesFactories(t *testing.T) {
	stack := elaborated(t, &recorder{})

	for _, ref := range []*Ref{stack.DB, stack.Web} {
		if ref.Owned() == nil {
			t.Errorf("expected %s to be resolved", ref.Name())
		}
	}
	if got := stack.Web.Owned().Name(); got != "stack.web" {
		t.Errorf("expected stack.web, got %s", got)
	}
}

func TestElaborateFlagsMissingReference(t *testing.T) {
	stack := newTestStack("stack", nil)
	persistor := &memoryPersistor{}
	phase := quietPhase("ELABORATE", persistor)

	err := phase.Run(context.Background(), func(ctx context.Context) error {
		return Elaborate(ctx, phase, stack)
	})
	if !errors.Is(err, ErrMissingConfiguration) {
		t.Fatalf("expected ErrMissingConfiguration, got %v", err)
	}
	if diff := cmp.Diff([]string{"stack.cache"}, phase.MissingItems()); diff != "" {
		t.Errorf("missing items mismatch (-want +got):\n%s", diff)
	}
	if stack.DB.Owned() == nil || stack.Web.Owned() == nil {
		t.Error("expected the pass to continue past the missing item")
	}
	// db, db.key, web, web.key, cache and the root.
	if persistor.saves != 6 {
		t.Errorf("expected 6 checkpoints, got %d", persistor.saves)
	}
}

func TestElaborateAliases(t *testing.T) {
	tests := []struct {
		name    string
		target  func(*testStack) *Ref
		missing []string
	}{
		{
			name:    "unbound chain",
			target:  func(*testStack) *Ref { return NewRef([]string{"elsewhere"}) },
			missing: []string{"stack.cache"},
		},
		{
			name:   "bound by a sibling factory",
			target: func(s *testStack) *Ref { return s.DB },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := newTestStack("stack", nil)
			stack.Cache.Borrow(tt.target(stack))
			persistor := &memoryPersistor{}
			phase := quietPhase("ELABORATE", persistor)

			err := phase.Run(context.Background(), func(ctx context.Context) error {
				return Elaborate(ctx, phase, stack)
			})
			if tt.missing == nil {
				if err != nil {
					t.Fatalf("elaborate failed: %v", err)
				}
			} else if !errors.Is(err, ErrMissingConfiguration) {
				t.Fatalf("expected ErrMissingConfiguration, got %v", err)
			}
			if diff := cmp.Diff(tt.missing, phase.MissingItems()); diff != "" {
				t.Errorf("missing items mismatch (-want +got):\n%s", diff)
			}
			// db, db.key, web, web.key and the root; the alias adds none.
			if persistor.saves != 5 {
				t.Errorf("expected 5 checkpoints, got %d", persistor.saves)
			}
		})
	}
}

func TestUpAndDownOrder(t *testing.T) {
	rec := &recorder{}
	stack := elaborated(t, rec)

	phase := quietPhase("UP", nil)
	if err := phase.Run(context.Background(), func(ctx context.Context) error {
		return Up(ctx, phase, stack)
	}); err != nil {
		t.Fatalf("up failed: %v", err)
	}

	phase = quietPhase("DOWN", nil)
	if err := phase.Run(context.Background(), func(ctx context.Context) error {
		return Down(ctx, phase, stack)
	}); err != nil {
		t.Fatalf("down failed: %v", err)
	}

	want := []string{
		"up stack.db",
		"up stack.web",
		"up stack.cache",
		"down stack.cache",
		"down stack.web",
		"down stack.db",
	}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestUpIsIdempotent(t *testing.T) {
	rec := &recorder{}
	stack := elaborated(t, rec)

	for i := 0; i < 2; i++ {
		phase := quietPhase("UP", nil)
		if err := phase.Run(context.Background(), func(ctx context.Context) error {
			return Up(ctx, phase, stack)
		}); err != nil {
			t.Fatalf("up #%d failed: %v", i, err)
		}
	}

	if len(rec.events) != 3 {
		t.Errorf("expected 3 effects from two up passes, got %v", rec.events)
	}
}

func TestUpFailureCheckpointsEveryLevel(t *testing.T) {
	rec := &recorder{}
	stack := elaborated(t, rec)
	web, _ := As[*testService](stack.Web)
	web.failUp = true

	persistor := &memoryPersistor{}
	phase := quietPhase("UP", persistor)
	err := phase.Run(context.Background(), func(ctx context.Context) error {
		return Up(ctx, phase, stack)
	})
	if !IsPermanent(err) {
		t.Fatalf("expected a permanent error, got %v", err)
	}

	if diff := cmp.Diff([]string{"up stack.db"}, rec.events); diff != "" {
		t.Errorf("expected the walk to stop at the failure (-want +got):\n%s", diff)
	}
	// db sub-phase, web sub-phase and the root.
	if persistor.saves != 3 {
		t.Errorf("expected 3 checkpoints, got %d", persistor.saves)
	}
}

func TestOrderOfOperationsSkipsAliasesAndDuplicates(t *testing.T) {
	shared := newTestService([]string{"shared"}, nil)
	other := newTestService([]string{"other"}, nil)

	owner := newTestService([]string{"owner"}, nil)
	owner.Key.Own(other)

	svc := newTestService([]string{"svc"}, nil)
	svc.Key.Borrow(owner.Key)
	first := NewRef([]string{"svc", "deps", "0"})
	first.Own(shared)
	second := NewRef([]string{"svc", "deps", "1"})
	second.Own(shared)
	svc.Deps = []*Ref{first, second}

	got := OrderOfOperations(svc)
	if len(got) != 1 || got[0] != shared {
		t.Errorf("expected only the shared dependency, got %v", got)
	}
}

func TestAlias(t *testing.T) {
	a := newTestService([]string{"a"}, nil)
	b := newTestService([]string{"b"}, nil)
	key := newTestService([]string{"key"}, nil)
	a.Key.Own(key)

	if err := Alias(b,
		To("port", a.Port),
		To("host", "example.org"),
		To("key", a.Key),
	); err != nil {
		t.Fatalf("Alias failed: %v", err)
	}

	if b.Port != a.Port {
		t.Error("expected the port variable to be shared")
	}
	host, err := b.Host.Get()
	if err != nil || host != "example.org" {
		t.Errorf("expected constant host, got %q (%v)", host, err)
	}
	if b.Host.Name() != "b.host" {
		t.Errorf("expected constant addressed at b.host, got %s", b.Host.Name())
	}
	if got, _ := b.Key.Get(); got != key {
		t.Error("expected the key reference to follow a.key")
	}
	if b.Key.Owned() != nil {
		t.Error("expected b.key to be an alias")
	}

	a.Port.Select(9000)
	if port, _ := b.Port.Get(); port != 9000 {
		t.Errorf("expected shared selection 9000, got %d", port)
	}
}

func TestAliasErrors(t *testing.T) {
	svc := newTestService([]string{"svc"}, nil)

	tests := []struct {
		name    string
		binding Binding
	}{
		{"unknown field", To("nope", 1)},
		{"wrong variable type", To("port", "eighty")},
		{"wrong reference value", To("key", 42)},
		{"state field", To("created", true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Alias(svc, tt.binding); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestCollect(t *testing.T) {
	stack := elaborated(t, nil)
	web, _ := As[*testService](stack.Web)
	db, _ := As[*testService](stack.DB)
	MustAlias(web, To("port", db.Port))

	vars, resources := Collect(stack)

	var names []string
	for _, v := range vars {
		names = append(names, v.Name())
	}
	want := []string{
		"stack.region",
		"stack.db.port",
		"stack.db.host",
		"stack.web.host",
		"stack.cache.port",
		"stack.cache.host",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("variables mismatch (-want +got):\n%s", diff)
	}

	var resNames []string
	for _, r := range resources {
		resNames = append(resNames, r.Name())
	}
	if diff := cmp.Diff([]string{"stack", "stack.db", "stack.web", "stack.cache"}, resNames); diff != "" {
		t.Errorf("resources mismatch (-want +got):\n%s", diff)
	}

	if r, ok := Find(stack, "stack.web"); !ok || r != web {
		t.Error("expected Find to locate stack.web")
	}
	if got := FindAll[*testService](stack); len(got) != 3 {
		t.Errorf("expected 3 services, got %d", len(got))
	}
}
