package engine

// Collect walks the graph under root and returns every configuration
// variable and every owned resource, in discovery order. Shared variables
// are reported once and aliases are not followed.
func Collect(root Resource) ([]Variable, []Resource) {
	var (
		vars      []Variable
		resources []Resource
	)
	seenVars := map[Variable]bool{}
	seenResources := map[Resource]bool{}

	var walk func(r Resource)
	walk = func(r Resource) {
		if r == nil || seenResources[r] {
			return
		}
		seenResources[r] = true
		resources = append(resources, r)

		for _, f := range r.Schema() {
			switch f.Kind {
			case FieldVar:
				v := f.Variable()
				if v != nil && !seenVars[v] {
					seenVars[v] = true
					vars = append(vars, v)
				}
			case FieldRef:
				if ref := f.Ref(); ref != nil {
					walk(ref.Owned())
				}
			case FieldRefList:
				for _, ref := range f.Refs() {
					if ref != nil {
						walk(ref.Owned())
					}
				}
			}
		}
	}

	walk(root)
	return vars, resources
}

// Find returns the owned resource under root whose dot-joined name is name.
func Find(root Resource, name string) (Resource, bool) {
	_, resources := Collect(root)
	for _, r := range resources {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// FindAll returns the owned resources under root that are of type T.
func FindAll[T Resource](root Resource) []T {
	_, resources := Collect(root)
	var out []T
	for _, r := range resources {
		if t, ok := r.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
