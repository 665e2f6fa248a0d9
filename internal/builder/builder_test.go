package builder

import (
	"testing"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/config"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/gkampitakis/go-snaps/snaps"
)

const appSnapshot = `{
  "root": "App",
  "assemblies": {
    "App": {
      "kind": "user",
      "entryPoint": "App.Program::Main()",
      "types": [
        {
          "fullName": "App.Program", "namespace": "App", "name": "Program",
          "baseType": "System.Object",
          "methods": [
            { "name": "Main", "isStatic": true, "isPublic": true, "returnType": "System.Void",
              "body": { "instructions": [
                { "offset": 0, "op": "ldstr", "operand": { "kind": "string", "value": "hello" } },
                { "offset": 5, "op": "call", "operand": { "kind": "method",
                    "declaringType": "System.Console", "name": "WriteLine",
                    "returnType": "System.Void", "params": [ "System.String" ] } },
                { "offset": 10, "op": "newobj", "operand": { "kind": "method",
                    "declaringType": "App.Dog", "name": ".ctor",
                    "returnType": "System.Void", "hasThis": true } },
                { "offset": 15, "op": "callvirt", "operand": { "kind": "method",
                    "declaringType": "App.Animal", "name": "Speak",
                    "returnType": "System.Void", "hasThis": true } },
                { "offset": 20, "op": "newobj", "operand": { "kind": "method",
                    "declaringType": "App.Box` + "`" + `1<System.Int32>", "name": ".ctor",
                    "returnType": "System.Void", "hasThis": true } },
                { "offset": 25, "op": "pop" },
                { "offset": 26, "op": "ret" }
              ] } }
          ]
        },
        {
          "fullName": "App.Animal", "namespace": "App", "name": "Animal",
          "baseType": "System.Object",
          "methods": [
            { "name": "Speak", "isVirtual": true, "isNewSlot": true, "isPublic": true,
              "returnType": "System.Void",
              "body": { "instructions": [ { "offset": 0, "op": "ret" } ] } }
          ]
        },
        {
          "fullName": "App.Dog", "namespace": "App", "name": "Dog",
          "baseType": "App.Animal",
          "methods": [
            { "name": ".ctor", "isConstructor": true, "isPublic": true,
              "returnType": "System.Void",
              "body": { "instructions": [ { "offset": 0, "op": "ret" } ] } },
            { "name": "Speak", "isVirtual": true, "isPublic": true,
              "returnType": "System.Void",
              "body": { "instructions": [ { "offset": 0, "op": "ret" } ] } }
          ]
        },
        {
          "fullName": "App.Box` + "`" + `1", "namespace": "App", "name": "Box` + "`" + `1",
          "baseType": "System.Object",
          "genericParams": [ { "name": "T" } ],
          "fields": [ { "name": "value", "type": "!T" } ],
          "methods": [
            { "name": ".ctor", "isConstructor": true, "isPublic": true,
              "returnType": "System.Void",
              "body": { "instructions": [ { "offset": 0, "op": "ret" } ] } },
            { "name": "Get", "isPublic": true, "returnType": "!T",
              "body": { "instructions": [
                { "offset": 0, "op": "ldarg", "operand": { "kind": "int", "value": 0 } },
                { "offset": 1, "op": "ldfld", "operand": { "kind": "field",
                    "declaringType": "App.Box` + "`" + `1", "name": "value", "type": "!T" } },
                { "offset": 6, "op": "ret" }
              ] } }
          ]
        }
      ]
    }
  }
}`

func buildApp(t *testing.T) *ir.Module {
	t.Helper()
	set, err := cil.DecodeSnapshot(appSnapshot)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := New(set, config.Default())
	b.Diags.Out = nil
	return b.Build()
}

func TestPipelineEndToEnd(t *testing.T) {
	m := buildApp(t)

	if m.EntryPoint == nil || m.EntryPoint.CppName != "App_Program_Main" {
		t.Fatalf("entry point = %+v", m.EntryPoint)
	}
	for _, want := range []string{"App.Program", "App.Animal", "App.Dog"} {
		if _, ok := m.TypeByIL(want); !ok {
			t.Errorf("type %s missing", want)
		}
	}
	if _, ok := m.TypeByIL("App.Box`1<System.Int32>"); !ok {
		t.Error("generic specialization missing")
	}
	if _, ok := m.TypeByIL("App.Box`1"); ok {
		t.Error("open generic definitions must never emit")
	}
	if _, ok := m.StringLiterals["hello"]; !ok {
		t.Error("string literal not interned")
	}
}

func TestVTableDispatchEndToEnd(t *testing.T) {
	m := buildApp(t)

	dog, _ := m.TypeByIL("App.Dog")
	if dog == nil || len(dog.VTable) != 4 {
		t.Fatalf("Dog vtable = %v", dog)
	}
	if dog.VTable[3].Name != "Speak" || dog.VTable[3].Target == nil ||
		dog.VTable[3].Target.CppName != "App_Dog_Speak" {
		t.Errorf("Dog slot 3 = %+v", dog.VTable[3])
	}

	// The callvirt in Main must carry the same slot.
	main := m.EntryPoint
	var speakCall *ir.Call
	for _, b := range main.Blocks {
		for _, ins := range b.Instructions {
			if c, ok := ins.(*ir.Call); ok && c.Dispatch == ir.DispatchClassVTable {
				speakCall = c
			}
		}
	}
	if speakCall == nil {
		t.Fatal("no vtable dispatch emitted in Main")
	}
	if speakCall.Slot != 3 {
		t.Errorf("dispatch slot = %d, want 3", speakCall.Slot)
	}
}

func TestGenericFieldSubstituted(t *testing.T) {
	m := buildApp(t)
	box, _ := m.TypeByIL("App.Box`1<System.Int32>")
	if box == nil {
		t.Fatal("missing Box<int>")
	}
	if len(box.Fields) != 1 || box.Fields[0].TypeName != "System.Int32" {
		t.Errorf("field = %+v", box.Fields[0])
	}
	if box.Fields[0].CppType != "int32_t" {
		t.Errorf("field cpp type = %q", box.Fields[0].CppType)
	}
	if box.InstanceSize < 16+4 {
		t.Errorf("InstanceSize = %d", box.InstanceSize)
	}
}

func TestDisambiguationInjective(t *testing.T) {
	m := buildApp(t)
	seen := make(map[string]string)
	for _, typ := range m.Types {
		for _, meth := range typ.Methods {
			if prev, dup := seen[meth.CppName]; dup {
				t.Errorf("name collision: %s used by %s and %s", meth.CppName, prev, typ.ILFullName)
			}
			seen[meth.CppName] = typ.ILFullName
		}
	}
}

func TestOverloadDisambiguation(t *testing.T) {
	first := &cil.MethodDef{
		Name: "Do", IsStatic: true, ReturnType: "System.Void",
		Params: []cil.ParamDef{{Name: "a", TypeName: "System.Int32"}},
		Body:   &cil.MethodBody{Instructions: []cil.Instruction{{OpCode: cil.OpRet}}},
	}
	second := &cil.MethodDef{
		Name: "Do", IsStatic: true, ReturnType: "System.Void",
		Params: []cil.ParamDef{{Name: "a", TypeName: "System.UInt32"}},
		Body:   &cil.MethodBody{Instructions: []cil.Instruction{{OpCode: cil.OpRet}}},
	}
	x := &cil.TypeDef{FullName: "App.X", Name: "X",
		Methods: []*cil.MethodDef{first, second}}
	main := &cil.MethodDef{
		Name: "Main", IsStatic: true, ReturnType: "System.Void",
		Body: &cil.MethodBody{Instructions: []cil.Instruction{
			{OpCode: cil.OpLdcI4, Operand: &cil.IntOperand{Value: 1}},
			{OpCode: cil.OpCall, Operand: &cil.MethodRef{
				DeclaringType: cil.ParseSig("App.X"), Name: "Do",
				ReturnType: cil.ParseSig("System.Void"),
				Params:     []*cil.TypeSig{cil.ParseSig("System.Int32")},
			}},
			{OpCode: cil.OpLdcI4, Operand: &cil.IntOperand{Value: 2}},
			{OpCode: cil.OpCall, Operand: &cil.MethodRef{
				DeclaringType: cil.ParseSig("App.X"), Name: "Do",
				ReturnType: cil.ParseSig("System.Void"),
				Params:     []*cil.TypeSig{cil.ParseSig("System.UInt32")},
			}},
			{OpCode: cil.OpRet},
		}},
	}
	prog := &cil.TypeDef{FullName: "App.Program", Name: "Program",
		Methods: []*cil.MethodDef{main}}
	asm := &cil.Assembly{Name: "App", Types: []*cil.TypeDef{x, prog}, EntryPoint: main}
	set := &cil.AssemblySet{Root: "App", Assemblies: map[string]*cil.Assembly{"App": asm}}

	b := New(set, config.Default())
	b.Diags.Out = nil
	m := b.Build()

	xt, _ := m.TypeByIL("App.X")
	if xt == nil || len(xt.Methods) != 2 {
		t.Fatalf("App.X methods = %v", xt)
	}
	if xt.Methods[0].CppName == xt.Methods[1].CppName {
		t.Fatalf("overloads still collide on %q", xt.Methods[0].CppName)
	}
	if xt.Methods[1].CppName != "App_X_Do__System_UInt32" {
		t.Errorf("second overload = %q, want IL-param suffix", xt.Methods[1].CppName)
	}

	// The call site must resolve through the disambiguation map.
	var called string
	for _, blk := range m.EntryPoint.Blocks {
		for _, ins := range blk.Instructions {
			if c, ok := ins.(*ir.Call); ok {
				called = c.FunctionName
			}
		}
	}
	if called != xt.Methods[1].CppName {
		t.Errorf("call site targets %q, want %q", called, xt.Methods[1].CppName)
	}
}

func TestPipelineIdempotent(t *testing.T) {
	first, err := ir.Dump(buildApp(t))
	if err != nil {
		t.Fatal(err)
	}
	second, err := ir.Dump(buildApp(t))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("two pipeline runs must produce structurally equal modules")
	}
}

func TestPipelineSnapshot(t *testing.T) {
	dump, err := ir.Dump(buildApp(t))
	if err != nil {
		t.Fatal(err)
	}
	snaps.MatchSnapshot(t, dump)
}
