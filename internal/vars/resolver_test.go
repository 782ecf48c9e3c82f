package vars

import "testing"

func newTestResolver() *Resolver {
	return NewResolver(
		map[string]string{"group_var": "from-group", "shadowed": "group"},
		map[string]string{"plan_var": "from-plan", "shadowed": "plan", "host": "example.com"},
		map[string]string{"global_var": "from-global", "shadowed": "global"},
	)
}

func TestExpand_SimpleSubstitution(t *testing.T) {
	r := newTestResolver()
	got := r.Expand("http://${host}/api")
	if got != "http://example.com/api" {
		t.Errorf("expected substituted URL, got %q", got)
	}
}

func TestExpand_MultiplePlaceholders(t *testing.T) {
	r := newTestResolver()
	got := r.Expand("${plan_var}/${group_var}/${global_var}")
	if got != "from-plan/from-group/from-global" {
		t.Errorf("unexpected expansion: %q", got)
	}
}

func TestExpand_UndefinedStaysLiteral(t *testing.T) {
	r := newTestResolver()
	got := r.Expand("http://${missing_host}/api")
	if got != "http://${missing_host}/api" {
		t.Errorf("undefined placeholder should stay literal, got %q", got)
	}
}

func TestExpand_NoPlaceholders(t *testing.T) {
	r := newTestResolver()
	input := "plain text with $ and { }"
	if got := r.Expand(input); got != input {
		t.Errorf("expected input unchanged, got %q", got)
	}
}

func TestExpand_EscapeProducesLiteralPlaceholder(t *testing.T) {
	r := newTestResolver()
	got := r.Expand("$${host}")
	if got != "${host}" {
		t.Errorf("expected literal placeholder from escape, got %q", got)
	}
}

func TestExpand_EscapeNextToSubstitution(t *testing.T) {
	r := newTestResolver()
	got := r.Expand("$${host}=${host}")
	if got != "${host}=example.com" {
		t.Errorf("unexpected mixed expansion: %q", got)
	}
}

func TestExpand_UnclosedPlaceholderKeptAsIs(t *testing.T) {
	r := newTestResolver()
	got := r.Expand("before ${unclosed")
	if got != "before ${unclosed" {
		t.Errorf("unclosed placeholder should be kept, got %q", got)
	}
}

func TestExpand_Idempotent(t *testing.T) {
	r := newTestResolver()
	inputs := []string{
		"http://${host}/api",
		"${missing}",
		"no placeholders",
		"${plan_var} and ${missing}",
	}
	for _, input := range inputs {
		once := r.Expand(input)
		twice := r.Expand(once)
		if once != twice {
			t.Errorf("expansion not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestLookup_ScopeOrder(t *testing.T) {
	r := newTestResolver()

	// Outer layers resolve group before plan before global.
	if v, _ := r.Lookup("shadowed"); v != "group" {
		t.Errorf("expected group layer to win, got %q", v)
	}

	// The iteration layer shadows everything.
	r.BeginIteration(map[string]string{"shadowed": "iteration"})
	if v, _ := r.Lookup("shadowed"); v != "iteration" {
		t.Errorf("expected iteration layer to win, got %q", v)
	}
}

func TestBeginIteration_ResetsPreviousBindings(t *testing.T) {
	r := newTestResolver()
	r.BeginIteration(map[string]string{"row": "1"})
	r.Bind("extracted", "token")

	r.BeginIteration(map[string]string{"row": "2"})
	if v, _ := r.Lookup("row"); v != "2" {
		t.Errorf("expected fresh CSV binding, got %q", v)
	}
	if _, ok := r.Lookup("extracted"); ok {
		t.Error("extracted binding must not survive into the next iteration")
	}
}

func TestBeginIteration_NilClearsLayer(t *testing.T) {
	r := newTestResolver()
	r.Bind("tmp", "x")
	r.BeginIteration(nil)
	if _, ok := r.Lookup("tmp"); ok {
		t.Error("iteration layer should be empty after BeginIteration(nil)")
	}
}

func TestBind_ShadowsOuterScope(t *testing.T) {
	r := newTestResolver()
	r.Bind("host", "overridden.test")
	if got := r.Expand("${host}"); got != "overridden.test" {
		t.Errorf("bound value should shadow plan layer, got %q", got)
	}
}

func TestBindAll_MergesIntoIteration(t *testing.T) {
	r := newTestResolver()
	r.BeginIteration(map[string]string{"a": "1"})
	r.BindAll(map[string]string{"b": "2", "c": "3"})
	for name, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		if v, _ := r.Lookup(name); v != want {
			t.Errorf("lookup(%q) = %q, want %q", name, v, want)
		}
	}
}

func TestBeginIteration_CopiesCallerMap(t *testing.T) {
	r := newTestResolver()
	src := map[string]string{"a": "1"}
	r.BeginIteration(src)
	r.Bind("b", "2")
	if _, ok := src["b"]; ok {
		t.Error("Bind must not mutate the caller's map")
	}
}

func TestExpandMap_KeysAndValues(t *testing.T) {
	r := newTestResolver()
	r.Bind("header_name", "X-Custom")
	out := r.ExpandMap(map[string]string{"${header_name}": "${host}"})
	if out["X-Custom"] != "example.com" {
		t.Errorf("unexpected expanded map: %v", out)
	}
}
