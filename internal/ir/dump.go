package ir

import (
	"fmt"
	"sort"

	"github.com/tidwall/sjson"
)

// Dump serializes the module to a deterministic JSON document for the
// emitter hand-off and for snapshot tests.
func Dump(m *Module) (string, error) {
	doc := "{}"
	var err error

	set := func(path string, value any) {
		if err != nil {
			return
		}
		doc, err = sjson.Set(doc, path, value)
	}

	if m.EntryPoint != nil {
		set("entryPoint", m.EntryPoint.CppName)
	}

	literals := make([]string, 0, len(m.StringLiterals))
	for v := range m.StringLiterals {
		literals = append(literals, v)
	}
	sort.Strings(literals)
	for i, v := range literals {
		set(fmt.Sprintf("stringLiterals.%d.id", i), m.StringLiterals[v])
		set(fmt.Sprintf("stringLiterals.%d.value", i), v)
	}

	for i, blob := range m.StaticBlobs {
		set(fmt.Sprintf("blobs.%d.name", i), blob.Name)
		set(fmt.Sprintf("blobs.%d.bytes", i), len(blob.Data))
	}

	enums := make([]string, 0, len(m.ExternalEnums))
	for k := range m.ExternalEnums {
		enums = append(enums, k)
	}
	sort.Strings(enums)
	for _, k := range enums {
		set("externalEnums."+k, m.ExternalEnums[k])
	}

	for i, t := range m.SortedTypes() {
		p := fmt.Sprintf("types.%d.", i)
		set(p+"il", t.ILFullName)
		set(p+"cpp", t.CppName)
		set(p+"valueType", t.IsValueType)
		set(p+"interface", t.IsInterface)
		set(p+"size", t.InstanceSize)
		if t.Base != nil {
			set(p+"base", t.Base.CppName)
		}
		for j, f := range t.Fields {
			fp := fmt.Sprintf("%sfields.%d.", p, j)
			set(fp+"name", f.CppName)
			set(fp+"type", f.CppType)
			set(fp+"offset", f.Offset)
		}
		for j, e := range t.VTable {
			vp := fmt.Sprintf("%svtable.%d.", p, j)
			set(vp+"slot", e.Slot)
			set(vp+"name", e.Name)
			if e.Target != nil {
				set(vp+"target", e.Target.CppName)
			}
		}
		for j, meth := range t.Methods {
			mp := fmt.Sprintf("%smethods.%d.", p, j)
			set(mp+"name", meth.CppName)
			set(mp+"returns", meth.ReturnType)
			set(mp+"slot", meth.VTableSlot)
			set(mp+"blocks", len(meth.Blocks))
			n := 0
			for _, b := range meth.Blocks {
				n += len(b.Instructions)
			}
			set(mp+"instructions", n)
		}
	}

	if err != nil {
		return "", fmt.Errorf("dump module: %w", err)
	}
	return doc, nil
}

// DumpMethod renders one method's blocks as readable text, used by tests and
// the CLI's verbose mode.
func DumpMethod(meth *Method) string {
	out := meth.CppName + "(" + fmt.Sprint(len(meth.Parameters)) + ")\n"
	for _, b := range meth.Blocks {
		out += fmt.Sprintf("IL_%04x:\n", b.ID)
		for _, ins := range b.Instructions {
			out += "  " + FormatInstruction(ins) + "\n"
		}
	}
	return out
}

// FormatInstruction renders one instruction for debugging output.
func FormatInstruction(ins Instruction) string {
	switch v := ins.(type) {
	case *Assign:
		return v.Target + " = " + v.Value
	case *BinaryOp:
		return v.ResultVar + " = " + v.Left + " " + v.Op + " " + v.Right
	case *Conversion:
		return v.ResultVar + " = (" + v.TargetType + ")" + v.Value
	case *Call:
		s := v.FunctionName + "("
		for i, a := range v.Arguments {
			if i > 0 {
				s += ", "
			}
			s += a
		}
		s += ")"
		if v.ResultVar != "" {
			s = v.ResultVar + " = " + s
		}
		switch v.Dispatch {
		case DispatchClassVTable:
			s += fmt.Sprintf(" [vtable slot %d]", v.Slot)
		case DispatchInterface:
			s += fmt.Sprintf(" [interface %s slot %d]", v.InterfaceTypeCppName, v.Slot)
		}
		return s
	case *DelegateInvoke:
		return v.ResultVar + " = invoke " + v.Delegate
	case *DelegateCreate:
		return v.ResultVar + " = delegate " + v.DelegateTypeCpp + "{" + v.TargetExpr + ", " + v.FunctionExpr + "}"
	case *NewObj:
		return v.ResultVar + " = new " + v.TypeCppName
	case *InitObj:
		return "initobj " + v.TypeCppName + " at " + v.Addr
	case *FieldAccess:
		expr := v.ObjectExpr + v.Accessor + v.FieldCppName
		if v.StoreValue != "" {
			return expr + " = " + v.StoreValue
		}
		return v.ResultVar + " = " + expr
	case *StaticFieldAccess:
		expr := v.TypeCppName + "::" + v.FieldCppName
		if v.StoreValue != "" {
			return expr + " = " + v.StoreValue
		}
		return v.ResultVar + " = " + expr
	case *Cast:
		return v.ResultVar + " = cast<" + v.TargetType + ">(" + v.Value + ")"
	case *Box:
		return v.ResultVar + " = box " + v.TypeCppName + "(" + v.Value + ")"
	case *Unbox:
		return v.ResultVar + " = unbox " + v.TypeCppName + "(" + v.Value + ")"
	case *RawCpp:
		return v.Code
	case *CondBranch:
		if v.Condition == "" {
			return "goto " + v.TrueLabel
		}
		return "if (" + v.Condition + ") goto " + v.TrueLabel
	case *Return:
		if v.Value == "" {
			return "return"
		}
		return "return " + v.Value
	case *DeclareLocal:
		if v.Init != "" {
			return v.CppType + " " + v.Name + " = " + v.Init
		}
		return v.CppType + " " + v.Name
	case *StaticCtorGuard:
		return "cctor_guard " + v.TypeCppName
	case *TryBegin:
		return "try {"
	case *CatchBegin:
		return "} catch (" + v.ExceptionTypeCpp + " " + v.Var + ") {"
	case *FinallyBegin:
		return "} finally {"
	case *RegionEnd:
		return "}"
	}
	return "?"
}
