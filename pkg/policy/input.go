package policy

import (
	"time"

	"github.com/openfroyo/spinup/pkg/engine"
)

// BuildInput describes the graph under root for policy evaluation.
func BuildInput(root engine.Resource, ctx Context) *Input {
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}

	vars, resources := engine.Collect(root)
	in := &Input{
		Resources: make([]ResourceInput, 0, len(resources)),
		Variables: make(map[string]any, len(vars)),
		Context:   ctx,
	}
	for _, v := range vars {
		if value, ok := v.Current(); ok {
			in.Variables[v.Name()] = value
		}
	}
	for _, r := range resources {
		in.Resources = append(in.Resources, describe(r))
	}
	if len(in.Resources) > 0 {
		in.Root = in.Resources[0]
	}
	return in
}

func describe(r engine.Resource) ResourceInput {
	ri := ResourceInput{
		Type: r.TypeTag(),
		Name: r.Name(),
		Vars: map[string]any{},
		Refs: map[string]string{},
	}
	for _, f := range r.Schema() {
		switch f.Kind {
		case engine.FieldVar:
			if v := f.Variable(); v != nil {
				if value, ok := v.Current(); ok {
					ri.Vars[f.Name] = value
				}
			}
		case engine.FieldRef:
			if name, ok := target(f.Ref()); ok {
				ri.Refs[f.Name] = name
			}
		case engine.FieldRefList:
			var names []string
			for _, ref := range f.Refs() {
				if name, ok := target(ref); ok {
					names = append(names, name)
				}
			}
			if ri.Lists == nil {
				ri.Lists = map[string][]string{}
			}
			ri.Lists[f.Name] = names
		}
	}
	return ri
}

func target(ref *engine.Ref) (string, bool) {
	if ref == nil || !ref.Bound() {
		return "", false
	}
	res, err := ref.Get()
	if err != nil || res == nil {
		return "", false
	}
	return res.Name(), true
}
