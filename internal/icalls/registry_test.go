package icalls

import "testing"

func TestExactLookup(t *testing.T) {
	r := New()
	sym, ok := r.Lookup("System.String", "get_Length", 0)
	if !ok || sym != "rt_string_length" {
		t.Errorf("got (%q, %v)", sym, ok)
	}
}

func TestArityDispatch(t *testing.T) {
	r := New()
	tests := []struct {
		arity int
		want  string
	}{
		{2, "rt_string_concat2"},
		{3, "rt_string_concat3"},
		{4, "rt_string_concat4"},
	}
	for _, tt := range tests {
		sym, ok := r.Lookup("System.String", "Concat", tt.arity)
		if !ok || sym != tt.want {
			t.Errorf("Concat/%d = (%q, %v), want %q", tt.arity, sym, ok, tt.want)
		}
	}
}

func TestWildcardLookup(t *testing.T) {
	r := New()
	sym, ok := r.Lookup("System.Console", "WriteLine", 1)
	if !ok || sym != "rt_console_WriteLine" {
		t.Errorf("got (%q, %v)", sym, ok)
	}
}

func TestTypedBeatsWildcard(t *testing.T) {
	r := New()
	r.RegisterWildcard("My.Type", "rt_my")
	r.Register("My.Type", "Special", "rt_special", 1)
	sym, _ := r.Lookup("My.Type", "Special", 1)
	if sym != "rt_special" {
		t.Errorf("typed entry should win over wildcard, got %q", sym)
	}
	sym, _ = r.Lookup("My.Type", "Other", 0)
	if sym != "rt_my_Other" {
		t.Errorf("wildcard fallback, got %q", sym)
	}
}

func TestGenericInstanceStripsToOpen(t *testing.T) {
	r := New()
	r.Register("System.Collections.Generic.List`1", "get_Count", "rt_list_count", 0)
	sym, ok := r.Lookup("System.Collections.Generic.List`1<System.Int32>", "get_Count", 0)
	if !ok || sym != "rt_list_count" {
		t.Errorf("got (%q, %v)", sym, ok)
	}
}

func TestTypeDispatchedSymbol(t *testing.T) {
	r := New()
	sym, ok := r.Lookup("System.Number", "ToString", 2)
	if !ok || sym != "rt_number_to_string_System_Number" {
		t.Errorf("got (%q, %v)", sym, ok)
	}
}

func TestMissReturnsFalse(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("My.Unknown.Type", "Nothing", 0); ok {
		t.Error("unknown type should miss")
	}
}
