package generics

import (
	"strings"
	"testing"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/diag"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

func testSet(types ...*cil.TypeDef) *cil.AssemblySet {
	asm := &cil.Assembly{Name: "Test", Types: types}
	return &cil.AssemblySet{
		Root:       "Test",
		Assemblies: map[string]*cil.Assembly{"Test": asm},
		Kinds:      map[string]cil.AssemblyKind{"Test": cil.AssemblyUser},
	}
}

func newTestEngine(t *testing.T, types ...*cil.TypeDef) *Engine {
	t.Helper()
	set := testSet(types...)
	mapper := names.New()
	module := ir.NewModule()
	diags := diag.NewCollector()
	diags.Out = nil
	e := NewEngine(set, mapper, module, diags)
	e.BuildShell = func(def *cil.MethodDef, owner *ir.Type, tpm *TypeParamMap, cppName string) *ir.Method {
		m := &ir.Method{Name: def.Name, CppName: cppName, Declaring: owner, VTableSlot: -1}
		ret := def.ReturnType
		if tpm != nil && !tpm.Empty() {
			ret = SubstituteName(ret, tpm)
		}
		m.ReturnType = mapper.CppTypeFor(ret)
		for i, p := range def.Params {
			il := p.TypeName
			if tpm != nil && !tpm.Empty() {
				il = SubstituteName(il, tpm)
			}
			m.Parameters = append(m.Parameters, &ir.Parameter{
				Index: i, CppName: "p_" + names.Mangle(p.Name), ILType: il,
				CppType: mapper.CppTypeFor(il),
			})
		}
		return m
	}
	return e
}

// ============================================================================
// Substitution
// ============================================================================

func TestSubstitution(t *testing.T) {
	tpm := NewTypeParamMap(
		[]cil.GenericParam{{Name: "TKey"}, {Name: "TValue"}},
		[]string{"System.String", "System.Int32"},
	)
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare param", "!TKey", "System.String"},
		{"param by name", "TValue", "System.Int32"},
		{"array of param", "!TValue[]", "System.Int32[]"},
		{"byref param", "!TKey&", "System.String&"},
		{"pointer param", "!TValue*", "System.Int32*"},
		{"generic instance", "System.Collections.Generic.List`1<!TKey>",
			"System.Collections.Generic.List`1<System.String>"},
		{"nested instance", "Outer`1<Inner`1<!TValue>>", "Outer`1<Inner`1<System.Int32>>"},
		{"unmatched passes through", "!TOther", "TOther"},
		{"closed unchanged", "System.Byte", "System.Byte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubstituteName(tt.input, tpm); got != tt.want {
				t.Errorf("SubstituteName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMethodParamsShadowTypeParams(t *testing.T) {
	base := NewTypeParamMap([]cil.GenericParam{{Name: "T"}}, []string{"System.String"})
	tpm := base.WithMethodParams([]cil.GenericParam{{Name: "T"}}, []string{"System.Int32"})
	if got, _ := tpm.Resolve("T"); got != "System.Int32" {
		t.Errorf("method-level binding should shadow, got %q", got)
	}
}

// ============================================================================
// Filters
// ============================================================================

func TestFilterRules(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		name   string
		sig    string
		accept bool
	}{
		{"plain generic", "System.Collections.Generic.List`1<System.Int32>", true},
		{"open arg rejected", "System.Collections.Generic.List`1<!T>", false},
		{"reflection namespace", "System.Reflection.TypedReference`1<System.Int32>", false},
		{"intrinsics rejected", "System.Runtime.Intrinsics.X86.Sse2`1<System.Byte>", false},
		{"vector fallback allowed", "System.Runtime.Intrinsics.Vector128`1<System.Byte>", true},
		{"clr internal arg", "System.Collections.Generic.List`1<System.RuntimeType>", false},
		{"filtered arg", "System.Collections.Generic.List`1<System.TimeZoneInfo>", false},
		{"nested filtered arg", "System.Collections.Generic.List`1<System.TimeZoneInfo/AdjustmentRule>", false},
		{"arg outer stripped", "System.Collections.Generic.List`1<Microsoft.Win32.RegistryKey/Kind>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := e.RegisterTypeSig(cil.ParseSig(tt.sig))
			if ok != tt.accept {
				t.Errorf("RegisterTypeSig(%q) accepted=%v, want %v", tt.sig, ok, tt.accept)
			}
		})
	}
}

// ============================================================================
// Keys
// ============================================================================

func TestMethodKeyIncludesParamSignature(t *testing.T) {
	mk := func(param string) *cil.MethodRef {
		return &cil.MethodRef{
			DeclaringType: cil.ParseSig("System.Runtime.InteropServices.MemoryMarshal"),
			Name:          "GetReference",
			GenericArgs:   []*cil.TypeSig{cil.ParseSig("System.Int32")},
			Params:        []*cil.TypeSig{cil.ParseSig(param)},
		}
	}
	a := MethodKey(mk("System.Span`1<System.Int32>"))
	b := MethodKey(mk("System.ReadOnlySpan`1<System.Int32>"))
	if a == b {
		t.Errorf("overloads must produce distinct keys, both %q", a)
	}
}

func TestRegisterMethodRefCollectsGenericArgs(t *testing.T) {
	e := newTestEngine(t)
	ref := &cil.MethodRef{
		DeclaringType: cil.ParseSig("System.MemoryExtensions"),
		Name:          "IndexOf",
		GenericArgs: []*cil.TypeSig{
			cil.ParseSig("System.Byte"),
			cil.ParseSig("System.SpanHelpers.DontNegate`1<System.Byte>"),
		},
		Params: []*cil.TypeSig{cil.ParseSig("System.Byte&")},
	}
	if _, ok := e.RegisterMethodRef(ref); !ok {
		t.Fatal("registration should succeed")
	}
	if _, ok := e.TypeInstByKey("System.SpanHelpers.DontNegate`1<System.Byte>"); !ok {
		t.Error("generic-instance generic arguments should be discovered as types")
	}
}

// ============================================================================
// Materialization
// ============================================================================

func genericListDef() *cil.TypeDef {
	return &cil.TypeDef{
		FullName: "App.MyList`1", Namespace: "App", Name: "MyList`1",
		GenericParams: []cil.GenericParam{{Name: "T"}},
		Fields: []*cil.FieldDef{
			{Name: "_items", TypeName: "!T[]"},
			{Name: "_size", TypeName: "System.Int32"},
		},
		Methods: []*cil.MethodDef{
			{Name: "Add", ReturnType: "System.Void",
				Params: []cil.ParamDef{{Name: "item", TypeName: "!T"}},
				Body:   &cil.MethodBody{}},
		},
	}
}

func TestCreateSpecializations(t *testing.T) {
	e := newTestEngine(t, genericListDef())
	e.RegisterTypeSig(cil.ParseSig("App.MyList`1<System.String>"))
	if n := e.CreateSpecializations(); n != 1 {
		t.Fatalf("created %d, want 1", n)
	}
	typ, ok := e.Module.TypeByIL("App.MyList`1<System.String>")
	if !ok {
		t.Fatal("specialized type missing from module")
	}
	if typ.CppName != "App_MyList_1_System_String" {
		t.Errorf("CppName = %q", typ.CppName)
	}
	if !typ.IsGenericInstance {
		t.Error("IsGenericInstance should be set")
	}
	if len(typ.Fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(typ.Fields))
	}
	if typ.Fields[0].TypeName != "System.String[]" {
		t.Errorf("substituted field type = %q", typ.Fields[0].TypeName)
	}
	if len(typ.Methods) != 1 || typ.Methods[0].Parameters[0].ILType != "System.String" {
		t.Error("method shell should carry substituted parameter types")
	}
	if len(e.Deferred) != 1 {
		t.Errorf("body should be deferred, queue has %d", len(e.Deferred))
	}
}

func TestValueTypeSpecializationRegisters(t *testing.T) {
	def := &cil.TypeDef{
		FullName: "App.Pair`1", Name: "Pair`1", IsValueType: true,
		GenericParams: []cil.GenericParam{{Name: "T"}},
	}
	e := newTestEngine(t, def)
	e.RegisterTypeSig(cil.ParseSig("App.Pair`1<System.Int32>"))
	e.CreateSpecializations()
	if !e.Mapper.IsValueType("App.Pair`1<System.Int32>") {
		t.Error("keyed name should be registered as value type")
	}
	if !e.Mapper.IsValueType("App_Pair_1_System_Int32") {
		t.Error("mangled name should be registered as value type")
	}
}

func TestExplicitSizeCarried(t *testing.T) {
	def := &cil.TypeDef{
		FullName: "System.Runtime.Intrinsics.Vector128`1", Name: "Vector128`1",
		Namespace: "System.Runtime.Intrinsics", IsValueType: true, ExplicitSize: 16,
		GenericParams: []cil.GenericParam{{Name: "T"}},
	}
	e := newTestEngine(t, def)
	if _, ok := e.RegisterTypeSig(cil.ParseSig("System.Runtime.Intrinsics.Vector128`1<System.Byte>")); !ok {
		t.Fatal("vector scalar fallback must pass the namespace filter")
	}
	e.CreateSpecializations()
	typ, ok := e.Module.TypeByIL("System.Runtime.Intrinsics.Vector128`1<System.Byte>")
	if !ok {
		t.Fatal("missing specialization")
	}
	if typ.ExplicitSize != 16 {
		t.Errorf("ExplicitSize = %d, want 16", typ.ExplicitSize)
	}
}

func TestNestedSpecializations(t *testing.T) {
	parent := &cil.TypeDef{
		FullName: "App.Dict`2", Name: "Dict`2",
		GenericParams: []cil.GenericParam{{Name: "K"}, {Name: "V"}},
	}
	entry := &cil.TypeDef{
		FullName: "App.Dict`2/Entry", Name: "Entry",
		GenericParams: []cil.GenericParam{{Name: "K"}, {Name: "V"}},
		Fields: []*cil.FieldDef{
			{Name: "key", TypeName: "!K"},
			{Name: "value", TypeName: "!V"},
		},
	}
	e := newTestEngine(t, parent, entry)
	e.RegisterTypeSig(cil.ParseSig("App.Dict`2<System.String,System.Int32>"))
	for {
		n := e.CreateSpecializations()
		n += e.CreateNestedSpecializations()
		if n == 0 {
			break
		}
	}
	nested, ok := e.Module.TypeByIL("App.Dict`2/Entry<System.String,System.Int32>")
	if !ok {
		t.Fatal("nested specialization missing")
	}
	if nested.Fields[0].TypeName != "System.String" || nested.Fields[1].TypeName != "System.Int32" {
		t.Errorf("nested fields not substituted: %q, %q",
			nested.Fields[0].TypeName, nested.Fields[1].TypeName)
	}
}

func TestTransitiveDiscovery(t *testing.T) {
	helper := &cil.TypeDef{
		FullName: "App.SortHelper`1", Name: "SortHelper`1",
		GenericParams: []cil.GenericParam{{Name: "T"}},
	}
	sorter := &cil.TypeDef{
		FullName: "App.Sorter`1", Name: "Sorter`1",
		GenericParams: []cil.GenericParam{{Name: "T"}},
		Methods: []*cil.MethodDef{{
			Name: "Sort", ReturnType: "System.Void",
			Body: &cil.MethodBody{Instructions: []cil.Instruction{{
				OpCode: cil.OpCall,
				Operand: &cil.MethodRef{
					DeclaringType: cil.ParseSig("App.SortHelper`1<!T>"),
					Name:          "Run",
				},
			}}},
		}},
	}
	e := newTestEngine(t, helper, sorter)
	e.RegisterTypeSig(cil.ParseSig("App.Sorter`1<System.String>"))
	for {
		n := e.CreateSpecializations()
		n += e.DiscoverTransitive()
		if n == 0 {
			break
		}
	}
	if _, ok := e.Module.TypeByIL("App.SortHelper`1<System.String>"); !ok {
		t.Error("transitive discovery should close App.SortHelper`1<!T> through the map")
	}
}

func TestGenericMethodOverloadDisambiguation(t *testing.T) {
	marshal := &cil.TypeDef{
		FullName: "App.Marshal", Name: "Marshal",
		Methods: []*cil.MethodDef{
			{Name: "GetReference", IsStatic: true, ReturnType: "!!T&",
				GenericParams: []cil.GenericParam{{Name: "T"}},
				Params:        []cil.ParamDef{{Name: "span", TypeName: "App.Span`1<!!T>"}},
				Body:          &cil.MethodBody{}},
			{Name: "GetReference", IsStatic: true, ReturnType: "!!T&",
				GenericParams: []cil.GenericParam{{Name: "T"}},
				Params:        []cil.ParamDef{{Name: "span", TypeName: "App.ROSpan`1<!!T>"}},
				Body:          &cil.MethodBody{}},
		},
	}
	e := newTestEngine(t, marshal)

	mk := func(param string) *cil.MethodRef {
		return &cil.MethodRef{
			DeclaringType: cil.ParseSig("App.Marshal"),
			Name:          "GetReference",
			ReturnType:    cil.ParseSig("!!T&"),
			GenericArgs:   []*cil.TypeSig{cil.ParseSig("System.Int32")},
			Params:        []*cil.TypeSig{cil.ParseSig(param)},
		}
	}
	spanRef := mk("App.Span`1<System.Int32>")
	roRef := mk("App.ROSpan`1<System.Int32>")
	e.RegisterMethodRef(spanRef)
	e.RegisterMethodRef(roRef)
	e.CreateMethodSpecializations()

	spanInst, ok1 := e.MethodInstByKey(MethodKey(spanRef))
	roInst, ok2 := e.MethodInstByKey(MethodKey(roRef))
	if !ok1 || !ok2 || spanInst.Method == nil || roInst.Method == nil {
		t.Fatal("both specializations should materialize")
	}
	if spanInst.CppName == roInst.CppName {
		t.Fatalf("specializations still collide on %q", spanInst.CppName)
	}
	if !strings.Contains(roInst.CppName, "__") {
		t.Errorf("second specialization should carry a param suffix, got %q", roInst.CppName)
	}
	base := MangleMethodInst(roRef)
	key := base + "|App.ROSpan`1<System.Int32>"
	if e.Module.Disambiguation[key] != roInst.CppName {
		t.Errorf("call sites cannot resolve: map[%s] = %q, want %q",
			key, e.Module.Disambiguation[key], roInst.CppName)
	}
}

func TestConstraintViolationWarnsButProceeds(t *testing.T) {
	def := &cil.TypeDef{
		FullName: "App.Holder`1", Name: "Holder`1",
		GenericParams: []cil.GenericParam{{Name: "T", HasStructConstraint: true}},
	}
	obj := &cil.TypeDef{FullName: "App.RefThing", Name: "RefThing"}
	e := newTestEngine(t, def, obj)
	e.RegisterTypeSig(cil.ParseSig("App.Holder`1<App.RefThing>"))
	if n := e.CreateSpecializations(); n != 1 {
		t.Fatalf("violation must not block instantiation, created %d", n)
	}
	found := false
	for _, msg := range e.Diags.Messages() {
		if len(msg) > 0 {
			found = true
		}
	}
	if !found {
		t.Error("a constraint warning should be recorded")
	}
}
