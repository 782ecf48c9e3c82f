// Package vars resolves ${name} template placeholders from layered variable
// scopes.
package vars

import "strings"

// Resolver maps variable names to string values by consulting scopes in
// order: iteration, thread group, plan, global. First match wins.
//
// The plan, group and global layers are shared read-only between virtual
// users; the iteration layer is owned by one virtual user and discarded at
// the end of each loop iteration.
type Resolver struct {
	iteration map[string]string
	group     map[string]string
	plan      map[string]string
	global    map[string]string
}

// NewResolver builds a resolver over the shared outer layers. Any layer may
// be nil.
func NewResolver(group, plan, global map[string]string) *Resolver {
	return &Resolver{
		group:  group,
		plan:   plan,
		global: global,
	}
}

// BeginIteration replaces the iteration layer with the given bindings,
// discarding anything from the previous iteration. bindings may be nil.
func (r *Resolver) BeginIteration(bindings map[string]string) {
	if bindings == nil {
		r.iteration = nil
		return
	}
	// Copy so the caller's map stays independent of later Bind calls.
	layer := make(map[string]string, len(bindings))
	for k, v := range bindings {
		layer[k] = v
	}
	r.iteration = layer
}

// Bind adds one binding to the iteration layer, shadowing any same-named
// variable in the outer scopes for the rest of the iteration.
func (r *Resolver) Bind(name, value string) {
	if r.iteration == nil {
		r.iteration = make(map[string]string)
	}
	r.iteration[name] = value
}

// BindAll merges bindings into the iteration layer.
func (r *Resolver) BindAll(bindings map[string]string) {
	for k, v := range bindings {
		r.Bind(k, v)
	}
}

// Lookup returns the value of name and whether it is defined in any scope.
func (r *Resolver) Lookup(name string) (string, bool) {
	if v, ok := r.iteration[name]; ok {
		return v, true
	}
	if v, ok := r.group[name]; ok {
		return v, true
	}
	if v, ok := r.plan[name]; ok {
		return v, true
	}
	if v, ok := r.global[name]; ok {
		return v, true
	}
	return "", false
}

// Expand substitutes every ${name} occurrence in input with the resolved
// value. Undefined names are left literal so the failure is visible
// downstream. "$${name}" escapes to a literal "${name}".
//
// The scan is a single pass: substituted values are never re-expanded.
func (r *Resolver) Expand(input string) string {
	// Fast path: nothing to substitute.
	if !strings.Contains(input, "${") {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))

	for i := 0; i < len(input); {
		c := input[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}

		// "$${" — emit a literal "${...}" without substitution.
		if i+2 < len(input) && input[i+1] == '$' && input[i+2] == '{' {
			end := strings.IndexByte(input[i+2:], '}')
			if end >= 0 {
				b.WriteString(input[i+1 : i+2+end+1])
				i += 2 + end + 1
				continue
			}
			// Unclosed escape: keep the text as-is.
			b.WriteString(input[i:])
			return b.String()
		}

		// "${name}" — substitute if defined, otherwise leave literal.
		if i+1 < len(input) && input[i+1] == '{' {
			end := strings.IndexByte(input[i+1:], '}')
			if end >= 0 {
				name := input[i+2 : i+1+end]
				if value, ok := r.Lookup(name); ok {
					b.WriteString(value)
				} else {
					b.WriteString(input[i : i+1+end+1])
				}
				i += 1 + end + 1
				continue
			}
			// Unclosed placeholder: keep the text as-is.
			b.WriteString(input[i:])
			return b.String()
		}

		b.WriteByte(c)
		i++
	}

	return b.String()
}

// ExpandMap applies Expand to every key and value of a header-style map.
func (r *Resolver) ExpandMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[r.Expand(k)] = r.Expand(v)
	}
	return out
}
