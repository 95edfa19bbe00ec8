package engine

import (
	"context"
)

// ElaborateFields is the default elaboration walk. Every reference field
// is resolved through its factory inside its own sub-phase and the target
// is elaborated in turn. A reference that stays unbound is reported as
// missing configuration unless the field is optional. Aliases are skipped
// since their owner elaborates the target.
func ElaborateFields(ctx context.Context, phase *Phase, r Resource) error {
	for _, f := range r.Schema() {
		switch f.Kind {
		case FieldRef:
			if err := ElaborateRef(ctx, phase, f.Ref(), f.factory, f.optional); err != nil {
				return err
			}
		case FieldRefList:
			for _, ref := range f.Refs() {
				if err := ElaborateRef(ctx, phase, ref, nil, f.optional); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ElaborateRef resolves ref and elaborates what it owns. An alias is
// elaborated by its owner; it is only reported when its chain ends unbound.
func ElaborateRef(ctx context.Context, phase *Phase, ref *Ref, factory Factory, optional bool) error {
	if ref == nil {
		return nil
	}
	if ref.IsAlias() {
		if !optional && !ref.Bound() {
			phase.Missing(ref.Name())
		}
		return nil
	}

	sub := phase.Sub("ELABORATE " + ref.Name())
	return sub.Run(ctx, func(ctx context.Context) error {
		if err := ref.Resolve(factory); err != nil {
			return err
		}

		target := ref.Owned()
		if target == nil {
			if !optional {
				sub.Missing(ref.Name())
			}
			return nil
		}
		return Elaborate(ctx, sub, target)
	})
}

// OrderOfOperations lists the distinct resources r owns, in field
// declaration order. Aliased references are left out.
func OrderOfOperations(r Resource) []Resource {
	var out []Resource
	seen := map[Resource]bool{}

	add := func(ref *Ref) {
		if ref == nil {
			return
		}
		target := ref.Owned()
		if target == nil || seen[target] {
			return
		}
		seen[target] = true
		out = append(out, target)
	}

	for _, f := range r.Schema() {
		switch f.Kind {
		case FieldRef:
			add(f.Ref())
		case FieldRefList:
			for _, ref := range f.Refs() {
				add(ref)
			}
		}
	}
	return out
}

// UpChildren brings every owned child up in declaration order, each in a
// checkpointing sub-phase. The first failure aborts the walk.
func UpChildren(ctx context.Context, phase *Phase, r Resource) error {
	for _, child := range OrderOfOperations(r) {
		if err := runChild(ctx, phase, "UP", child, Up); err != nil {
			return err
		}
	}
	return nil
}

// DownChildren tears every owned child down in the reverse of the order
// UpChildren uses.
func DownChildren(ctx context.Context, phase *Phase, r Resource) error {
	children := OrderOfOperations(r)
	for i := len(children) - 1; i >= 0; i-- {
		if err := runChild(ctx, phase, "DOWN", children[i], Down); err != nil {
			return err
		}
	}
	return nil
}

func runChild(ctx context.Context, phase *Phase, verb string, child Resource,
	op func(context.Context, *Phase, Resource) error) error {
	sub := phase.Sub(verb + " " + Describe(child))
	return sub.Run(ctx, func(ctx context.Context) error {
		return op(ctx, sub, child)
	})
}
