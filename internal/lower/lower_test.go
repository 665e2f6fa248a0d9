package lower

import (
	"strings"
	"testing"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/diag"
	"github.com/axiomates/cil2cpp/internal/generics"
	"github.com/axiomates/cil2cpp/internal/icalls"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

func newHarness(types ...*cil.TypeDef) *Lowerer {
	asm := &cil.Assembly{Name: "Test", Types: types}
	set := &cil.AssemblySet{
		Root:       "Test",
		Assemblies: map[string]*cil.Assembly{"Test": asm},
	}
	mapper := names.New()
	module := ir.NewModule()
	diags := diag.NewCollector()
	diags.Out = nil
	return &Lowerer{
		Set:    set,
		Mapper: mapper,
		Module: module,
		ICalls: icalls.New(),
		Engine: generics.NewEngine(set, mapper, module, diags),
		Diags:  diags,
	}
}

// methodWith builds a void static method shell plus its definition around
// the given locals and instructions.
func methodWith(l *Lowerer, locals []string, ins ...cil.Instruction) (*ir.Method, *cil.MethodDef) {
	def := &cil.MethodDef{
		Name: "Test", IsStatic: true, ReturnType: "System.Void",
		Body: &cil.MethodBody{Instructions: ins},
	}
	meth := &ir.Method{
		Name: "Test", CppName: "App_T_Test", ReturnType: "void",
		IsStatic: true, VTableSlot: -1, TempVarTypes: make(map[string]string),
	}
	for i, typ := range locals {
		def.Body.Locals = append(def.Body.Locals, cil.LocalDef{TypeName: typ})
		meth.Locals = append(meth.Locals, &ir.Local{
			Index: i, CppName: "loc_" + string(rune('0'+i)), ILType: typ,
			CppType: l.Mapper.CppTypeFor(typ),
		})
	}
	return meth, def
}

func flatten(meth *ir.Method) []ir.Instruction {
	var out []ir.Instruction
	for _, b := range meth.Blocks {
		out = append(out, b.Instructions...)
	}
	return out
}

func allCode(meth *ir.Method) string {
	var sb strings.Builder
	for _, ins := range flatten(meth) {
		sb.WriteString(ir.FormatInstruction(ins))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func intOp(v int64) *cil.IntOperand { return &cil.IntOperand{Value: v} }

// ============================================================================
// Pointer arithmetic
// ============================================================================

func TestPointerArithmeticChar16(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, []string{"System.Char*"},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdcI4, Operand: intOp(4)},
		cil.Instruction{OpCode: cil.OpAdd},
		cil.Instruction{OpCode: cil.OpStloc, Operand: intOp(0)},
	)
	l.LowerBody(meth, def, nil)

	code := allCode(meth)
	if !strings.Contains(code, "(char16_t*)((uint8_t*)loc_0 + 4)") {
		t.Errorf("pointer add must route through uint8_t*, got:\n%s", code)
	}
	found := false
	for name, typ := range meth.TempVarTypes {
		if typ == "char16_t*" && strings.HasPrefix(name, "__t") {
			found = true
		}
	}
	if !found {
		t.Error("result temp must be tracked as char16_t*")
	}
}

func TestPointerDifference(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, []string{"System.Int32*", "System.Int32*"},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(1)},
		cil.Instruction{OpCode: cil.OpSub},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)
	code := allCode(meth)
	if !strings.Contains(code, "(intptr_t)((uint8_t*)loc_0 - (uint8_t*)loc_1)") {
		t.Errorf("ptr - ptr must produce a byte distance, got:\n%s", code)
	}
}

func TestIntPlusPointer(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, []string{"System.Int64*"},
		cil.Instruction{OpCode: cil.OpLdcI4, Operand: intOp(8)},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpAdd},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)
	code := allCode(meth)
	if !strings.Contains(code, "(int64_t*)((uint8_t*)loc_0 + 8)") {
		t.Errorf("int + ptr addition must be symmetric, got:\n%s", code)
	}
}

// ============================================================================
// Comparisons
// ============================================================================

func TestCgtUnAgainstNullBecomesNotEquals(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, []string{"System.Object"},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdnull},
		cil.Instruction{OpCode: cil.OpCgtUn},
		cil.Instruction{OpCode: cil.OpBrtrue, Operand: &cil.BranchOperand{Target: 16}},
		cil.Instruction{OpCode: cil.OpRet, Offset: 12},
		cil.Instruction{OpCode: cil.OpRet, Offset: 16},
	)
	l.LowerBody(meth, def, nil)
	code := allCode(meth)
	if !strings.Contains(code, "loc_0 != nullptr") {
		t.Errorf("cgt.un vs null must rewrite to !=, got:\n%s", code)
	}
	if strings.Contains(code, "> nullptr") {
		t.Errorf("relational pointer comparison leaked through:\n%s", code)
	}
}

func TestPointerEqualityCastsVoid(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, []string{"System.Object", "System.String"},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(1)},
		cil.Instruction{OpCode: cil.OpCeq},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)
	code := allCode(meth)
	if !strings.Contains(code, "(void*)loc_0 == (void*)loc_1") {
		t.Errorf("pointer equality must cast both sides to void*, got:\n%s", code)
	}
}

func TestUnsignedComparisonUsesHelpers(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, []string{"System.Int32", "System.Int32"},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(1)},
		cil.Instruction{OpCode: cil.OpCgtUn},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)
	if !strings.Contains(allCode(meth), "unsigned_gt(loc_0, loc_1)") {
		t.Errorf("unsigned compare must route through helpers:\n%s", allCode(meth))
	}
}

func TestBitwiseOnPointerCastsUintptr(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, []string{"System.Byte*"},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdcI4, Operand: intOp(7)},
		cil.Instruction{OpCode: cil.OpAnd},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)
	if !strings.Contains(allCode(meth), "(uintptr_t)loc_0 & (uintptr_t)7") {
		t.Errorf("bitwise on pointer must go through uintptr_t:\n%s", allCode(meth))
	}
}

// ============================================================================
// Constrained calls
// ============================================================================

func comparableStruct() *cil.TypeDef {
	return &cil.TypeDef{
		FullName: "App.S", Name: "S", IsValueType: true,
		InterfaceNames: []string{"System.IComparable`1<App.S>"},
		Methods: []*cil.MethodDef{{
			Name: "CompareTo", ReturnType: "System.Int32", IsVirtual: true,
			Params: []cil.ParamDef{{Name: "other", TypeName: "App.S"}},
		}},
	}
}

func TestConstrainedCallWithOverrideGoesDirect(t *testing.T) {
	l := newHarness(comparableStruct())
	l.Mapper.RegisterValueType("App.S")

	sType := &ir.Type{ILFullName: "App.S", CppName: "App_S", IsValueType: true}
	sType.Methods = []*ir.Method{{
		Name: "CompareTo", CppName: "App_S_CompareTo", VTableSlot: -1,
		Parameters: []*ir.Parameter{{Index: 0, ILType: "App.S"}},
	}}
	l.Module.AddType(sType)

	meth, def := methodWith(l, []string{"App.S", "App.S"},
		cil.Instruction{OpCode: cil.OpLdloca, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(1)},
		cil.Instruction{OpCode: cil.OpConstrained,
			Operand: &cil.TypeRefOperand{Sig: cil.ParseSig("App.S")}},
		cil.Instruction{OpCode: cil.OpCallvirt, Operand: &cil.MethodRef{
			DeclaringType: cil.ParseSig("System.IComparable`1<App.S>"),
			Name:          "CompareTo",
			ReturnType:    cil.ParseSig("System.Int32"),
			Params:        []*cil.TypeSig{cil.ParseSig("App.S")},
			HasThis:       true,
		}},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)

	var call *ir.Call
	for _, raw := range flatten(meth) {
		if c, ok := raw.(*ir.Call); ok {
			call = c
		}
		if _, ok := raw.(*ir.Box); ok {
			t.Fatal("no boxing expected for a direct constrained override")
		}
	}
	if call == nil {
		t.Fatal("no call emitted")
	}
	if call.FunctionName != "App_S_CompareTo" {
		t.Errorf("call targets %q, want App_S_CompareTo", call.FunctionName)
	}
	if call.Dispatch != ir.DispatchDirect {
		t.Error("constrained override must dispatch directly")
	}
	if len(call.Arguments) == 0 || call.Arguments[0] != "(App_S*)(void*)&loc_0" {
		t.Errorf("this argument = %v, want (App_S*)(void*)&loc_0", call.Arguments)
	}
}

func TestConstrainedCallWithoutOverrideBoxes(t *testing.T) {
	plain := &cil.TypeDef{FullName: "App.P", Name: "P", IsValueType: true}
	l := newHarness(plain)
	l.Mapper.RegisterValueType("App.P")
	l.Module.AddType(&ir.Type{ILFullName: "App.P", CppName: "App_P", IsValueType: true})

	meth, def := methodWith(l, []string{"App.P"},
		cil.Instruction{OpCode: cil.OpLdloca, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpConstrained,
			Operand: &cil.TypeRefOperand{Sig: cil.ParseSig("App.P")}},
		cil.Instruction{OpCode: cil.OpCallvirt, Operand: &cil.MethodRef{
			DeclaringType: cil.ParseSig("System.Object"),
			Name:          "ToString",
			ReturnType:    cil.ParseSig("System.String"),
			HasThis:       true,
		}},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)

	code := allCode(meth)
	if !strings.Contains(code, "rt_box_raw(&loc_0, sizeof(App_P), &App_P_TypeInfo)") {
		t.Errorf("missing box of the receiver:\n%s", code)
	}
	var call *ir.Call
	for _, raw := range flatten(meth) {
		if cc, ok := raw.(*ir.Call); ok {
			call = cc
		}
	}
	if call == nil {
		t.Fatal("no dispatch emitted after boxing")
	}
	if call.Dispatch != ir.DispatchClassVTable || call.Slot != 0 {
		t.Errorf("expected vtable dispatch on ToString slot 0, got %v/%d", call.Dispatch, call.Slot)
	}
}

func TestStaticAbstractOperatorFallback(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, []string{"System.Int32", "System.Int32"},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(1)},
		cil.Instruction{OpCode: cil.OpConstrained,
			Operand: &cil.TypeRefOperand{Sig: cil.ParseSig("System.Int32")}},
		cil.Instruction{OpCode: cil.OpCall, Operand: &cil.MethodRef{
			DeclaringType: cil.ParseSig("System.Numerics.IBitwiseOperators`3<System.Int32,System.Int32,System.Int32>"),
			Name:          "op_BitwiseOr",
			ReturnType:    cil.ParseSig("System.Int32"),
			Params:        []*cil.TypeSig{cil.ParseSig("System.Int32"), cil.ParseSig("System.Int32")},
		}},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)
	if !strings.Contains(allCode(meth), "loc_0 | loc_1") {
		t.Errorf("op_BitwiseOr must fall back to the operator table:\n%s", allCode(meth))
	}
}

func TestStripOuterCast(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"(App_S*)expr", "expr"},
		{"((App_S*)expr)", "expr"},
		{"(App_S*)(&loc_0)", "(&loc_0)"},
		{"plain", "plain"},
		{"&loc_0", "&loc_0"},
	}
	for _, tt := range tests {
		if got := stripOuterCast(tt.input); got != tt.want {
			t.Errorf("stripOuterCast(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// ============================================================================
// SIMD disablement
// ============================================================================

func TestVectorIsSupportedBecomesZero(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, nil,
		cil.Instruction{OpCode: cil.OpCall, Operand: &cil.MethodRef{
			DeclaringType: cil.ParseSig("System.Runtime.Intrinsics.Vector128`1<System.Byte>"),
			Name:          "get_IsSupported",
			ReturnType:    cil.ParseSig("System.Boolean"),
		}},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)

	code := allCode(meth)
	if !strings.Contains(code, "= 0;") {
		t.Errorf("IsSupported must become a literal 0:\n%s", code)
	}
	for _, raw := range flatten(meth) {
		if _, ok := raw.(*ir.Call); ok {
			t.Error("no runtime call may be emitted for a SIMD support query")
		}
	}
}

// ============================================================================
// Intrinsics
// ============================================================================

func TestUnsafeSizeOf(t *testing.T) {
	l := newHarness()
	meth, def := methodWith(l, []string{"System.Int32"},
		cil.Instruction{OpCode: cil.OpCall, Operand: &cil.MethodRef{
			DeclaringType: cil.ParseSig("System.Runtime.CompilerServices.Unsafe"),
			Name:          "SizeOf",
			ReturnType:    cil.ParseSig("System.Int32"),
			GenericArgs:   []*cil.TypeSig{cil.ParseSig("System.Int64")},
		}},
		cil.Instruction{OpCode: cil.OpStloc, Operand: intOp(0)},
	)
	l.LowerBody(meth, def, nil)
	if !strings.Contains(allCode(meth), "sizeof(int64_t)") {
		t.Errorf("Unsafe.SizeOf must inline:\n%s", allCode(meth))
	}
}

func TestDelegateInvokeEmitsDedicatedNode(t *testing.T) {
	action := &cil.TypeDef{FullName: "System.Action", Name: "Action", IsDelegate: true}
	l := newHarness(action)
	meth, def := methodWith(l, []string{"System.Action"},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpCallvirt, Operand: &cil.MethodRef{
			DeclaringType: cil.ParseSig("System.Action"),
			Name:          "Invoke",
			ReturnType:    cil.ParseSig("System.Void"),
			HasThis:       true,
		}},
	)
	l.LowerBody(meth, def, nil)
	found := false
	for _, raw := range flatten(meth) {
		if _, ok := raw.(*ir.DelegateInvoke); ok {
			found = true
		}
	}
	if !found {
		t.Error("Delegate.Invoke must lower to a DelegateInvoke node")
	}
}

// ============================================================================
// Field access
// ============================================================================

func TestFieldAccessorSelection(t *testing.T) {
	point := &cil.TypeDef{FullName: "App.Point", Name: "Point", IsValueType: true,
		Fields: []*cil.FieldDef{{Name: "x", TypeName: "System.Int32"}}}
	l := newHarness(point)
	l.Mapper.RegisterValueType("App.Point")
	l.Module.AddType(&ir.Type{ILFullName: "App.Point", CppName: "App_Point", IsValueType: true})

	fref := func() *cil.FieldRef {
		return &cil.FieldRef{
			DeclaringType: cil.ParseSig("App.Point"),
			Name:          "x",
			FieldType:     cil.ParseSig("System.Int32"),
		}
	}

	// Value-type local: dot access.
	meth, def := methodWith(l, []string{"App.Point"},
		cil.Instruction{OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdfld, Operand: fref()},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)
	var acc string
	for _, raw := range flatten(meth) {
		if fa, ok := raw.(*ir.FieldAccess); ok {
			acc = fa.Accessor
		}
	}
	if acc != "." {
		t.Errorf("value-type local access = %q, want .", acc)
	}

	// Address expression: arrow access.
	meth, def = methodWith(l, []string{"App.Point"},
		cil.Instruction{OpCode: cil.OpLdloca, Operand: intOp(0)},
		cil.Instruction{OpCode: cil.OpLdfld, Operand: fref()},
		cil.Instruction{OpCode: cil.OpPop},
	)
	l.LowerBody(meth, def, nil)
	for _, raw := range flatten(meth) {
		if fa, ok := raw.(*ir.FieldAccess); ok {
			acc = fa.Accessor
		}
	}
	if acc != "->" {
		t.Errorf("address-of access = %q, want ->", acc)
	}
}

// ============================================================================
// Type-parameter post-pass
// ============================================================================

func TestTypeParamResolution(t *testing.T) {
	l := newHarness()
	meth := &ir.Method{
		Name: "Gen", CppName: "App_Gen", ReturnType: "TChar",
		VTableSlot: -1,
		TempVarTypes: map[string]string{
			"__t0": "TChar",
			"__t1": "TCharSet", // must not be rewritten
		},
		Blocks: []*ir.BasicBlock{{ID: 0, Instructions: []ir.Instruction{
			&ir.RawCpp{Code: "TChar __t7 = static_cast<TChar>(45);"},
			&ir.Call{FunctionName: "Lookup_1_TChar", Arguments: []string{"__t7"}},
			&ir.Call{FunctionName: "Keep_1_ThreadLocalArray"},
		}}},
	}
	l.resolveTypeParams(meth, map[string]string{"TChar": "System.Char"})

	if meth.ReturnType != "char16_t" {
		t.Errorf("return type = %q", meth.ReturnType)
	}
	raw := meth.Blocks[0].Instructions[0].(*ir.RawCpp)
	if raw.Code != "char16_t __t7 = static_cast<char16_t>(45);" {
		t.Errorf("raw code = %q", raw.Code)
	}
	call := meth.Blocks[0].Instructions[1].(*ir.Call)
	if call.FunctionName != "Lookup_1_System_Char" {
		t.Errorf("mangled identifier = %q, want Lookup_1_System_Char", call.FunctionName)
	}
	keep := meth.Blocks[0].Instructions[2].(*ir.Call)
	if keep.FunctionName != "Keep_1_ThreadLocalArray" {
		t.Errorf("boundary-aware replacement broke %q", keep.FunctionName)
	}
	if meth.TempVarTypes["__t0"] != "char16_t" {
		t.Errorf("TempVarTypes[__t0] = %q", meth.TempVarTypes["__t0"])
	}
	if meth.TempVarTypes["__t1"] != "TCharSet" {
		t.Errorf("TCharSet must survive whole-word replacement, got %q", meth.TempVarTypes["__t1"])
	}
}

// ============================================================================
// Ternary snapshots
// ============================================================================

func TestBranchJoinRecordsSnapshot(t *testing.T) {
	l := newHarness()
	// cond ? 1 : 2 shape: both arms push a value and join at offset 20.
	meth, def := methodWith(l, []string{"System.Int32"},
		cil.Instruction{Offset: 0, OpCode: cil.OpLdloc, Operand: intOp(0)},
		cil.Instruction{Offset: 2, OpCode: cil.OpBrtrue, Operand: &cil.BranchOperand{Target: 12}},
		cil.Instruction{Offset: 4, OpCode: cil.OpLdcI4, Operand: intOp(2)},
		cil.Instruction{Offset: 8, OpCode: cil.OpBr, Operand: &cil.BranchOperand{Target: 20}},
		cil.Instruction{Offset: 12, OpCode: cil.OpLdcI4, Operand: intOp(1)},
		cil.Instruction{Offset: 20, OpCode: cil.OpStloc, Operand: intOp(0)},
	)
	l.LowerBody(meth, def, nil)

	// The fall-through arm at offset 12 must assign into the join temp
	// declared by the br arm at offset 8.
	code := allCode(meth)
	if !strings.Contains(code, "= 2") || !strings.Contains(code, "= 1") {
		t.Errorf("both arms must materialize into the join temp:\n%s", code)
	}
	if !strings.Contains(code, "loc_0 = ") {
		t.Errorf("join value must reach the store:\n%s", code)
	}
}
