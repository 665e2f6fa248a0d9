package reach

import (
	"testing"

	"github.com/axiomates/cil2cpp/internal/cil"
)

// testSet builds an assembly set from one assembly's types.
func testSet(types ...*cil.TypeDef) *cil.AssemblySet {
	asm := &cil.Assembly{Name: "Test", Types: types}
	return &cil.AssemblySet{
		Root:       "Test",
		Assemblies: map[string]*cil.Assembly{"Test": asm},
		Kinds:      map[string]cil.AssemblyKind{"Test": cil.AssemblyUser},
	}
}

func callTo(decl, name string, params ...string) cil.Instruction {
	ref := &cil.MethodRef{
		DeclaringType: cil.ParseSig(decl),
		Name:          name,
	}
	for _, p := range params {
		ref.Params = append(ref.Params, cil.ParseSig(p))
	}
	return cil.Instruction{OpCode: cil.OpCall, Operand: ref}
}

func body(ins ...cil.Instruction) *cil.MethodBody {
	return &cil.MethodBody{Instructions: ins}
}

func TestEntryPointSeedsTransitively(t *testing.T) {
	helper := &cil.MethodDef{Name: "Helper", IsStatic: true, ReturnType: "System.Void"}
	b := &cil.TypeDef{FullName: "App.B", Name: "B", Methods: []*cil.MethodDef{helper}}

	main := &cil.MethodDef{
		Name: "Main", IsStatic: true, ReturnType: "System.Void",
		Body: body(callTo("App.B", "Helper")),
	}
	a := &cil.TypeDef{FullName: "App.A", Name: "A", Methods: []*cil.MethodDef{main}}

	set := testSet(a, b)
	res := New(set).Run(main, false, false)

	if _, ok := res.Types["App.A"]; !ok {
		t.Error("App.A should be reachable")
	}
	if _, ok := res.Types["App.B"]; !ok {
		t.Error("App.B should be reachable")
	}
	if _, ok := res.Methods[helper.Identity()]; !ok {
		t.Error("Helper should be reachable")
	}
}

func TestVirtualOverrideSweep(t *testing.T) {
	baseSpeak := &cil.MethodDef{Name: "Speak", IsVirtual: true, IsNewSlot: true, ReturnType: "System.Void"}
	base := &cil.TypeDef{FullName: "App.Animal", Name: "Animal", Methods: []*cil.MethodDef{baseSpeak}}

	dogSpeak := &cil.MethodDef{Name: "Speak", IsVirtual: true, ReturnType: "System.Void"}
	dogCtor := &cil.MethodDef{Name: ".ctor", IsConstructor: true, ReturnType: "System.Void"}
	dog := &cil.TypeDef{
		FullName: "App.Dog", Name: "Dog", BaseTypeName: "App.Animal",
		Methods: []*cil.MethodDef{dogSpeak, dogCtor},
	}

	main := &cil.MethodDef{
		Name: "Main", IsStatic: true, ReturnType: "System.Void",
		Body: body(
			callTo("App.Dog", ".ctor"),
			callTo("App.Animal", "Speak"),
		),
	}
	prog := &cil.TypeDef{FullName: "App.Program", Name: "Program", Methods: []*cil.MethodDef{main}}

	set := testSet(base, dog, prog)
	res := New(set).Run(main, false, false)

	if _, ok := res.Methods[dogSpeak.Identity()]; !ok {
		t.Error("Dog.Speak should be swept in as an override of a dispatched slot")
	}
}

func TestOverrideSweepOnLaterType(t *testing.T) {
	// The override's type becomes reachable only after the slot has been
	// dispatched; marking the type must still pick the override up.
	baseSpeak := &cil.MethodDef{Name: "Speak", IsVirtual: true, IsNewSlot: true, ReturnType: "System.Void"}
	base := &cil.TypeDef{FullName: "App.Animal", Name: "Animal", Methods: []*cil.MethodDef{baseSpeak}}

	catSpeak := &cil.MethodDef{Name: "Speak", IsVirtual: true, ReturnType: "System.Void"}
	cat := &cil.TypeDef{FullName: "App.Cat", Name: "Cat", BaseTypeName: "App.Animal",
		Methods: []*cil.MethodDef{catSpeak}}

	makeCat := &cil.MethodDef{
		Name: "MakeCat", IsStatic: true, ReturnType: "System.Void",
		Body: body(cil.Instruction{OpCode: cil.OpNewobj, Operand: &cil.MethodRef{
			DeclaringType: cil.ParseSig("App.Cat"), Name: ".ctor"}}),
	}
	main := &cil.MethodDef{
		Name: "Main", IsStatic: true, ReturnType: "System.Void",
		Body: body(
			callTo("App.Animal", "Speak"), // dispatch first
			callTo("App.Factory", "MakeCat"),
		),
	}
	prog := &cil.TypeDef{FullName: "App.Program", Name: "Program", Methods: []*cil.MethodDef{main}}
	factory := &cil.TypeDef{FullName: "App.Factory", Name: "Factory", Methods: []*cil.MethodDef{makeCat}}

	set := testSet(base, cat, prog, factory)
	res := New(set).Run(main, false, false)

	if _, ok := res.Methods[catSpeak.Identity()]; !ok {
		t.Error("Cat.Speak should be found when Cat becomes reachable after dispatch")
	}
}

func TestModuleTypeExcluded(t *testing.T) {
	mod := &cil.TypeDef{FullName: "<Module>", Name: "<Module>"}
	main := &cil.MethodDef{
		Name: "Main", IsStatic: true, ReturnType: "System.Void",
		Body: body(cil.Instruction{OpCode: cil.OpLdtoken,
			Operand: &cil.TokenOperand{Type: cil.ParseSig("<Module>")}}),
	}
	prog := &cil.TypeDef{FullName: "App.Program", Name: "Program", Methods: []*cil.MethodDef{main}}

	set := testSet(mod, prog)
	res := New(set).Run(main, false, false)
	if _, ok := res.Types["<Module>"]; ok {
		t.Error("<Module> must be filtered at the boundary")
	}
}

func TestConstrainedSeedsExplicitImpl(t *testing.T) {
	explicit := &cil.MethodDef{
		Name:       "System.IComparable<App.S>.CompareTo",
		ReturnType: "System.Int32",
		Params:     []cil.ParamDef{{Name: "other", TypeName: "App.S"}},
	}
	s := &cil.TypeDef{FullName: "App.S", Name: "S", IsValueType: true,
		Methods: []*cil.MethodDef{explicit}}

	main := &cil.MethodDef{
		Name: "Main", IsStatic: true, ReturnType: "System.Void",
		Body: body(
			cil.Instruction{OpCode: cil.OpConstrained,
				Operand: &cil.TypeRefOperand{Sig: cil.ParseSig("App.S")}},
			cil.Instruction{OpCode: cil.OpCallvirt, Operand: &cil.MethodRef{
				DeclaringType: cil.ParseSig("System.IComparable`1<App.S>"),
				Name:          "CompareTo",
				Params:        []*cil.TypeSig{cil.ParseSig("App.S")},
				HasThis:       true,
			}},
		),
	}
	prog := &cil.TypeDef{FullName: "App.Program", Name: "Program", Methods: []*cil.MethodDef{main}}

	set := testSet(s, prog)
	res := New(set).Run(main, false, false)

	if _, ok := res.Methods[explicit.Identity()]; !ok {
		t.Error("constrained call should seed the explicit interface implementation by suffix match")
	}
}

func TestLibraryModeSeedsPublicMethods(t *testing.T) {
	pub := &cil.MethodDef{Name: "PublicApi", IsStatic: true, IsPublic: true, ReturnType: "System.Void"}
	priv := &cil.MethodDef{Name: "internalHelper", IsStatic: true, ReturnType: "System.Void"}
	lib := &cil.TypeDef{FullName: "Lib.Api", Name: "Api", Methods: []*cil.MethodDef{pub, priv}}

	set := testSet(lib)
	res := New(set).Run(nil, true, false)

	if _, ok := res.Methods[pub.Identity()]; !ok {
		t.Error("library mode should seed public methods")
	}
	if _, ok := res.Methods[priv.Identity()]; ok {
		t.Error("library mode should not seed non-public methods")
	}

	res = New(set).Run(nil, false, true)
	if _, ok := res.Methods[priv.Identity()]; !ok {
		t.Error("forced library mode seeds every method")
	}
}

func TestReachabilityIdempotent(t *testing.T) {
	helper := &cil.MethodDef{Name: "Helper", IsStatic: true, ReturnType: "System.Void"}
	b := &cil.TypeDef{FullName: "App.B", Name: "B", Methods: []*cil.MethodDef{helper}}
	main := &cil.MethodDef{
		Name: "Main", IsStatic: true, ReturnType: "System.Void",
		Body: body(callTo("App.B", "Helper")),
	}
	a := &cil.TypeDef{FullName: "App.A", Name: "A", Methods: []*cil.MethodDef{main}}

	set := testSet(a, b)
	first := New(set).Run(main, false, false)
	second := New(set).Run(main, false, false)

	if len(first.Types) != len(second.Types) || len(first.Methods) != len(second.Methods) {
		t.Errorf("two runs differ: %d/%d types, %d/%d methods",
			len(first.Types), len(second.Types), len(first.Methods), len(second.Methods))
	}
	for id := range first.Methods {
		if _, ok := second.Methods[id]; !ok {
			t.Errorf("method %s missing from second run", id)
		}
	}
}

func TestFieldTypesMarked(t *testing.T) {
	widget := &cil.TypeDef{FullName: "App.Widget", Name: "Widget"}
	holder := &cil.TypeDef{
		FullName: "App.Holder", Name: "Holder",
		Fields: []*cil.FieldDef{{Name: "w", TypeName: "App.Widget"}},
	}
	main := &cil.MethodDef{
		Name: "Main", IsStatic: true, ReturnType: "System.Void",
		Body: body(cil.Instruction{OpCode: cil.OpLdsfld, Operand: &cil.FieldRef{
			DeclaringType: cil.ParseSig("App.Holder"), Name: "w",
			FieldType: cil.ParseSig("App.Widget")}}),
	}
	prog := &cil.TypeDef{FullName: "App.Program", Name: "Program", Methods: []*cil.MethodDef{main}}

	set := testSet(widget, holder, prog)
	res := New(set).Run(main, false, false)

	if _, ok := res.Types["App.Holder"]; !ok {
		t.Error("field declaring type should be reachable")
	}
	if _, ok := res.Types["App.Widget"]; !ok {
		t.Error("field type should be reachable")
	}
}
