package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/spinup/pkg/codec"
)

// recorder collects lifecycle events in the order they happen.
type recorder struct {
	events []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

// testService is a leaf resource with an observable effect.
type testService struct {
	Base
	Port *Var[int]
	Host *Var[string]
	Key  *Ref
	Deps []*Ref

	created bool
	rec     *recorder
	failUp  bool
}

func newTestService(path []string, rec *recorder) *testService {
	r := &testService{Base: NewBase("TestService", path), rec: rec}
	r.Port = NewVarDefault(r.Child("port"), 8080)
	r.Host = NewVar[string](r.Child("host"))
	r.Key = NewRef(r.Child("key"))
	return r
}

func (r *testService) Schema() []Field {
	return []Field{
		VarField("port", &r.Port),
		VarField("host", &r.Host),
		RefField("key", &r.Key).Optional(),
		RefListField("deps", &r.Deps),
		StateField("created", &r.created),
	}
}

func (r *testService) MarshalState(v codec.Visitor) error { return MarshalFields(v, r) }

func (r *testService) Up(ctx context.Context, phase *Phase) error {
	if err := UpChildren(ctx, phase, r); err != nil {
		return err
	}
	if r.failUp {
		return NewPermanentError("boom", fmt.Errorf("%s refused", r.Name()))
	}
	if r.created {
		return nil
	}
	r.created = true
	if r.rec != nil {
		r.rec.add("up %s", r.Name())
	}
	return nil
}

func (r *testService) Down(ctx context.Context, phase *Phase) error {
	if r.created {
		r.created = false
		if r.rec != nil {
			r.rec.add("down %s", r.Name())
		}
	}
	return DownChildren(ctx, phase, r)
}

// testStack is a root that creates its children lazily.
type testStack struct {
	Base
	Region *Var[string]
	Web    *Ref
	DB     *Ref
	Cache  *Ref

	rec *recorder
}

func newTestStack(name string, rec *recorder) *testStack {
	r := &testStack{Base: NewBase("TestStack", []string{name}), rec: rec}
	r.Region = NewVarDefault(r.Child("region"), "eu-west-1")
	r.Web = NewRef(r.Child("web"))
	r.DB = NewRef(r.Child("db"))
	r.Cache = NewRef(r.Child("cache"))
	return r
}

func (r *testStack) Schema() []Field {
	return []Field{
		VarField("region", &r.Region),
		RefField("db", &r.DB).Factory(r.newService),
		RefField("web", &r.Web).Factory(r.newService),
		RefField("cache", &r.Cache),
	}
}

func (r *testStack) MarshalState(v codec.Visitor) error { return MarshalFields(v, r) }

func (r *testStack) newService(path []string) (Resource, error) {
	return newTestService(path, r.rec), nil
}

func testRegistry(rec *recorder) *codec.Registry {
	reg := codec.NewRegistry()
	Register(reg)
	reg.MustRegister("TestService", func() codec.Marshaler { return newTestService(nil, rec) })
	reg.MustRegister("TestStack", func() codec.Marshaler { return newTestStack("", rec) })
	return reg
}

// memoryPersistor keeps every checkpoint in memory.
type memoryPersistor struct {
	root  Resource
	saves int
	last  []byte
	fail  error
}

func (m *memoryPersistor) Save(ctx context.Context) error {
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	if m.root == nil {
		return nil
	}
	data, err := codec.Marshal(m.root)
	if err != nil {
		return err
	}
	m.last = data
	return nil
}
