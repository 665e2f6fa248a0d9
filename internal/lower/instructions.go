package lower

import (
	"fmt"
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/ir"
)

// intOf and targetOf read the common operand shapes defensively; a malformed
// snapshot degrades to index 0 rather than failing the pipeline.
func intOf(op cil.Operand) int {
	if v, ok := op.(*cil.IntOperand); ok {
		return int(v.Value)
	}
	return 0
}

func targetOf(op cil.Operand) int {
	if v, ok := op.(*cil.BranchOperand); ok {
		return v.Target
	}
	return 0
}

func suffixOf(op cil.Operand) string {
	if v, ok := op.(*cil.ElemTypeOperand); ok {
		return v.Suffix
	}
	return ""
}

func (c *conv) lowerInstruction(ins cil.Instruction, body *cil.MethodBody, idx int) {
	switch ins.OpCode {
	case cil.OpNop, cil.OpBreak, cil.OpVolatile, cil.OpUnaligned, cil.OpReadonly, cil.OpTail:
		return

	case cil.OpConstrained:
		if op, ok := ins.Operand.(*cil.TypeRefOperand); ok {
			c.constrained = op.Sig
		}
		return

	case cil.OpLdarg:
		idx := intOf(ins.Operand)
		name, typ := c.paramName(idx)
		c.push(name, typ)

	case cil.OpLdarga:
		idx := intOf(ins.Operand)
		name, typ := c.paramName(idx)
		c.push("&"+name, typ+"*")

	case cil.OpStarg:
		idx := intOf(ins.Operand)
		name, typ := c.paramName(idx)
		v := c.pop()
		c.emit(&ir.Assign{Target: name, Value: c.storeCast(typ, v)})

	case cil.OpLdloc:
		idx := intOf(ins.Operand)
		name, typ := c.localName(idx)
		c.push(name, typ)

	case cil.OpLdloca:
		idx := intOf(ins.Operand)
		name, typ := c.localName(idx)
		c.push("&"+name, typ+"*")

	case cil.OpStloc:
		idx := intOf(ins.Operand)
		name, typ := c.localName(idx)
		v := c.pop()
		c.emit(&ir.Assign{Target: name, Value: c.storeCast(typ, v)})

	case cil.OpLdcI4:
		v := ins.Operand.(*cil.IntOperand).Value
		c.push(fmt.Sprintf("%d", v), "int32_t")

	case cil.OpLdcI8:
		v := ins.Operand.(*cil.IntOperand).Value
		c.push(fmt.Sprintf("%dLL", v), "int64_t")

	case cil.OpLdcR4:
		op := ins.Operand.(*cil.FloatOperand)
		c.push(fmt.Sprintf("%gf", op.Value), "float")

	case cil.OpLdcR8:
		op := ins.Operand.(*cil.FloatOperand)
		c.push(fmt.Sprintf("%g", op.Value), "double")

	case cil.OpLdstr:
		op := ins.Operand.(*cil.StringOperand)
		id := c.l.Module.InternString(op.Value)
		c.push(id, "System_String*")

	case cil.OpLdnull:
		c.push("nullptr", "")

	case cil.OpDup:
		top := c.pop()
		expr := top.Expr
		if !isSimpleExpr(expr) {
			typ := top.CppType
			if typ == "" {
				typ = "intptr_t"
			}
			tmp := c.newTemp(typ)
			c.emit(&ir.DeclareLocal{Name: tmp, CppType: typ, Init: expr})
			expr = tmp
		}
		c.push(expr, top.CppType)
		c.push(expr, top.CppType)

	case cil.OpPop:
		v := c.pop()
		// Calls were already materialized into temps; discarding an
		// un-materialized call expression must still execute it.
		if strings.Contains(v.Expr, "(") && !isSimpleExpr(v.Expr) {
			c.emit(&ir.RawCpp{Code: "(void)(" + v.Expr + ");"})
		}

	case cil.OpAdd, cil.OpSub, cil.OpMul, cil.OpDiv, cil.OpDivUn,
		cil.OpRem, cil.OpRemUn, cil.OpAnd, cil.OpOr, cil.OpXor,
		cil.OpShl, cil.OpShr, cil.OpShrUn:
		c.lowerArith(ins.OpCode)

	case cil.OpNeg, cil.OpNot:
		c.lowerUnary(ins.OpCode)

	case cil.OpCeq, cil.OpCgt, cil.OpCgtUn, cil.OpClt, cil.OpCltUn:
		c.lowerCompare(ins.OpCode)

	case cil.OpBr:
		target := targetOf(ins.Operand)
		if len(c.stack) > 0 {
			c.recordSnapshot(target)
		}
		c.emit(&ir.CondBranch{TrueLabel: label(target)})
		c.stack = nil

	case cil.OpBrtrue, cil.OpBrfalse:
		target := targetOf(ins.Operand)
		v := c.pop()
		cond := v.Expr
		if ins.OpCode == cil.OpBrfalse {
			if c.entryPointerType(v) != "" {
				cond = v.Expr + " == nullptr"
			} else {
				cond = "!(" + v.Expr + ")"
			}
		} else if c.entryPointerType(v) != "" {
			cond = v.Expr + " != nullptr"
		}
		if len(c.stack) > 0 {
			c.recordSnapshot(target)
		}
		c.emit(&ir.CondBranch{Condition: cond, TrueLabel: label(target)})

	case cil.OpBeq, cil.OpBne, cil.OpBge, cil.OpBgeUn, cil.OpBgt, cil.OpBgtUn,
		cil.OpBle, cil.OpBleUn, cil.OpBlt, cil.OpBltUn:
		target := targetOf(ins.Operand)
		right := c.pop()
		left := c.pop()
		cond := c.compareExpr(ins.OpCode, left, right)
		if len(c.stack) > 0 {
			c.recordSnapshot(target)
		}
		c.emit(&ir.CondBranch{Condition: cond, TrueLabel: label(target)})

	case cil.OpSwitch:
		op := ins.Operand.(*cil.SwitchOperand)
		v := c.pop()
		sel := v.Expr
		if !isSimpleExpr(sel) {
			tmp := c.newTemp("int32_t")
			c.emit(&ir.DeclareLocal{Name: tmp, CppType: "int32_t", Init: sel})
			sel = tmp
		}
		for i, t := range op.Targets {
			c.emit(&ir.CondBranch{
				Condition: fmt.Sprintf("%s == %d", sel, i),
				TrueLabel: label(t),
			})
		}

	case cil.OpConv:
		c.lowerConv(suffixOf(ins.Operand))

	case cil.OpCall:
		c.lowerCall(ins.Operand.(*cil.MethodRef), false)

	case cil.OpCallvirt:
		c.lowerCall(ins.Operand.(*cil.MethodRef), true)

	case cil.OpNewobj:
		c.lowerNewObj(ins.Operand.(*cil.MethodRef))

	case cil.OpInitobj:
		op := ins.Operand.(*cil.TypeRefOperand)
		addr := c.pop()
		c.emit(&ir.InitObj{Addr: addr.Expr, TypeCppName: c.mangledTypeName(op.Sig)})

	case cil.OpRet:
		if c.meth.ReturnType != "void" && len(c.stack) > 0 {
			v := c.pop()
			c.emit(&ir.Return{Value: c.storeCast(c.meth.ReturnType, v)})
		} else {
			c.emit(&ir.Return{})
		}
		c.stack = nil

	case cil.OpLdfld, cil.OpLdflda:
		c.lowerLoadField(ins.Operand.(*cil.FieldRef), ins.OpCode == cil.OpLdflda)

	case cil.OpStfld:
		c.lowerStoreField(ins.Operand.(*cil.FieldRef))

	case cil.OpLdsfld, cil.OpLdsflda:
		c.lowerLoadStaticField(ins.Operand.(*cil.FieldRef), ins.OpCode == cil.OpLdsflda)

	case cil.OpStsfld:
		c.lowerStoreStaticField(ins.Operand.(*cil.FieldRef))

	case cil.OpNewarr:
		op := ins.Operand.(*cil.TypeRefOperand)
		length := c.pop()
		elemCpp := c.cppTypeOf(op.Sig)
		tmp := c.newTemp("System_Array*")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Array*"},
			Code: "System_Array* " + tmp + " = rt_array_new(sizeof(" + elemCpp + "), " +
				length.Expr + ", &" + c.typeInfoRef(op.Sig) + ");",
		})
		c.push(tmp, "System_Array*")

	case cil.OpLdlen:
		arr := c.pop()
		tmp := c.newTemp("intptr_t")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "intptr_t"},
			Code:   "intptr_t " + tmp + " = rt_array_length(" + arr.Expr + ");",
		})
		c.push(tmp, "intptr_t")

	case cil.OpLdelem:
		elemCpp := c.elemCppOf(ins.Operand)
		index := c.pop()
		arr := c.pop()
		tmp := c.newTemp(elemCpp)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: elemCpp},
			Code: elemCpp + " " + tmp + " = ((" + elemCpp + "*)rt_array_data(" + arr.Expr +
				"))[" + index.Expr + "];",
		})
		c.push(tmp, elemCpp)

	case cil.OpStelem:
		elemCpp := c.elemCppOf(ins.Operand)
		v := c.pop()
		index := c.pop()
		arr := c.pop()
		c.emit(&ir.RawCpp{
			Code: "((" + elemCpp + "*)rt_array_data(" + arr.Expr + "))[" + index.Expr +
				"] = " + c.storeCast(elemCpp, v) + ";",
		})

	case cil.OpLdelema:
		op := ins.Operand.(*cil.TypeRefOperand)
		elemCpp := c.cppTypeOf(op.Sig)
		index := c.pop()
		arr := c.pop()
		tmp := c.newTemp(elemCpp + "*")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: elemCpp + "*"},
			Code: elemCpp + "* " + tmp + " = &((" + elemCpp + "*)rt_array_data(" + arr.Expr +
				"))[" + index.Expr + "];",
		})
		c.push(tmp, elemCpp+"*")

	case cil.OpBox:
		op := ins.Operand.(*cil.TypeRefOperand)
		v := c.pop()
		cpp := c.mangledTypeName(op.Sig)
		tmp := c.newTemp("System_Object*")
		c.emit(&ir.Box{
			Result:      ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Object*"},
			Value:       v.Expr,
			TypeCppName: cpp,
			ValueSize:   "sizeof(" + c.cppTypeOf(op.Sig) + ")",
		})
		c.push(tmp, "System_Object*")

	case cil.OpUnbox:
		op := ins.Operand.(*cil.TypeRefOperand)
		v := c.pop()
		cpp := c.cppTypeOf(op.Sig)
		tmp := c.newTemp(cpp + "*")
		c.emit(&ir.Unbox{
			Result:      ir.Result{ResultVar: tmp, ResultTypeCpp: cpp + "*"},
			Value:       v.Expr,
			TypeCppName: c.mangledTypeName(op.Sig),
			ToAddress:   true,
		})
		c.push(tmp, cpp+"*")

	case cil.OpUnboxAny:
		op := ins.Operand.(*cil.TypeRefOperand)
		v := c.pop()
		cpp := c.cppTypeOf(op.Sig)
		tmp := c.newTemp(cpp)
		c.emit(&ir.Unbox{
			Result:      ir.Result{ResultVar: tmp, ResultTypeCpp: cpp},
			Value:       v.Expr,
			TypeCppName: c.mangledTypeName(op.Sig),
		})
		c.push(tmp, cpp)

	case cil.OpCastclass:
		op := ins.Operand.(*cil.TypeRefOperand)
		v := c.pop()
		cpp := c.cppTypeOf(op.Sig)
		tmp := c.newTemp(cpp)
		c.emit(&ir.Cast{
			Result:     ir.Result{ResultVar: tmp, ResultTypeCpp: cpp},
			Value:      v.Expr,
			TargetType: cpp,
		})
		c.push(tmp, cpp)

	case cil.OpIsinst:
		op := ins.Operand.(*cil.TypeRefOperand)
		v := c.pop()
		cpp := c.cppTypeOf(op.Sig)
		tmp := c.newTemp(cpp)
		c.emit(&ir.Cast{
			Result:     ir.Result{ResultVar: tmp, ResultTypeCpp: cpp},
			Value:      v.Expr,
			TargetType: cpp,
			IsInstTest: true,
		})
		c.push(tmp, cpp)

	case cil.OpLdftn:
		ref := ins.Operand.(*cil.MethodRef)
		c.push("(void*)&"+c.directFunctionName(ref), "void*")

	case cil.OpLdvirtftn:
		ref := ins.Operand.(*cil.MethodRef)
		// Virtual function loads flatten to the statically-known target;
		// delegate dispatch re-virtualizes through the stored object.
		c.pop()
		c.push("(void*)&"+c.directFunctionName(ref), "void*")

	case cil.OpLdind:
		suffix := suffixOf(ins.Operand)
		addr := c.pop()
		cpp := indirectType(suffix, c.entryPointerType(addr))
		tmp := c.newTemp(cpp)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: cpp},
			Code:   cpp + " " + tmp + " = *(" + cpp + "*)(" + addr.Expr + ");",
		})
		c.push(tmp, cpp)

	case cil.OpStind:
		suffix := suffixOf(ins.Operand)
		v := c.pop()
		addr := c.pop()
		cpp := indirectType(suffix, c.entryPointerType(addr))
		c.emit(&ir.RawCpp{
			Code: "*(" + cpp + "*)(" + addr.Expr + ") = (" + cpp + ")(" + v.Expr + ");",
		})

	case cil.OpLdobj:
		op := ins.Operand.(*cil.TypeRefOperand)
		addr := c.pop()
		cpp := c.cppTypeOf(op.Sig)
		tmp := c.newTemp(cpp)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: cpp},
			Code:   cpp + " " + tmp + " = *(" + cpp + "*)(" + addr.Expr + ");",
		})
		c.push(tmp, cpp)

	case cil.OpStobj:
		op := ins.Operand.(*cil.TypeRefOperand)
		v := c.pop()
		addr := c.pop()
		cpp := c.cppTypeOf(op.Sig)
		c.emit(&ir.RawCpp{
			Code: "*(" + cpp + "*)(" + addr.Expr + ") = " + c.storeCast(cpp, v) + ";",
		})

	case cil.OpCpobj:
		op := ins.Operand.(*cil.TypeRefOperand)
		src := c.pop()
		dst := c.pop()
		cpp := c.cppTypeOf(op.Sig)
		c.emit(&ir.RawCpp{
			Code: "memcpy(" + dst.Expr + ", " + src.Expr + ", sizeof(" + cpp + "));",
		})

	case cil.OpCpblk:
		size := c.pop()
		src := c.pop()
		dst := c.pop()
		c.emit(&ir.RawCpp{Code: "memcpy(" + dst.Expr + ", " + src.Expr + ", " + size.Expr + ");"})

	case cil.OpInitblk:
		size := c.pop()
		value := c.pop()
		dst := c.pop()
		c.emit(&ir.RawCpp{Code: "memset(" + dst.Expr + ", " + value.Expr + ", " + size.Expr + ");"})

	case cil.OpSizeof:
		op := ins.Operand.(*cil.TypeRefOperand)
		c.push("sizeof("+c.cppTypeOf(op.Sig)+")", "uint32_t")

	case cil.OpLdtoken:
		c.lowerLdtoken(ins.Operand.(*cil.TokenOperand))

	case cil.OpLocalloc:
		size := c.pop()
		tmp := c.newTemp("uint8_t*")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "uint8_t*"},
			Code:   "uint8_t* " + tmp + " = (uint8_t*)alloca(" + size.Expr + ");",
		})
		c.push(tmp, "uint8_t*")

	case cil.OpCkfinite:
		// Pass-through; finite checks are a debug-mode runtime concern.

	case cil.OpThrow:
		v := c.pop()
		c.emit(&ir.RawCpp{Code: "rt_throw(" + v.Expr + ");"})
		c.stack = nil

	case cil.OpRethrow:
		c.emit(&ir.RawCpp{Code: "rt_rethrow();"})

	case cil.OpLeave:
		target := targetOf(ins.Operand)
		c.emit(&ir.CondBranch{TrueLabel: label(target)})
		c.stack = nil

	case cil.OpEndfinally, cil.OpEndfilter:
		c.stack = nil

	default:
		c.l.Diags.WarnOnce("lower", string(ins.OpCode), "unhandled opcode %s", ins.OpCode)
	}

	if ins.OpCode != cil.OpConstrained {
		c.constrained = nil
	}
}

// storeCast applies the explicit C-style cast pointer stores need: the flat
// struct model has no implicit Derived*->Base* conversion, and
// uintptr_t->void* moves are legal IL but not legal C++.
func (c *conv) storeCast(targetType string, v StackEntry) string {
	if targetType == "" || v.Expr == "" {
		return v.Expr
	}
	if strings.HasSuffix(targetType, "*") && v.Expr != "nullptr" && v.CppType != targetType {
		return "(" + targetType + ")" + v.Expr
	}
	return v.Expr
}

func isSimpleExpr(expr string) bool {
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return len(expr) > 0
}

// indirectType maps a ldind/stind suffix to its C++ type, deferring to the
// tracked pointee type for ldind.ref and ldind.i.
func indirectType(suffix, ptrType string) string {
	if t, ok := convTargets[suffix]; ok {
		return t
	}
	if suffix == "ref" || suffix == "i" {
		if strings.HasSuffix(ptrType, "*") {
			return strings.TrimSuffix(ptrType, "*")
		}
		return "intptr_t"
	}
	return "intptr_t"
}

func (c *conv) lowerLdtoken(tok *cil.TokenOperand) {
	switch {
	case tok.Field != nil:
		// Array-initializer data: intern the blob and hand its address over
		// as the token.
		if def, ok := c.l.Set.ResolveField(tok.Field); ok && len(def.InitialValue) > 0 {
			name := c.l.Module.AddBlob(def.InitialValue)
			c.push("(intptr_t)"+name, "intptr_t")
			return
		}
		c.push("0", "intptr_t")
	case tok.Type != nil:
		c.push("(intptr_t)&"+c.typeInfoRef(tok.Type), "intptr_t")
	case tok.Method != nil:
		c.push("(intptr_t)&"+c.directFunctionName(tok.Method), "intptr_t")
	default:
		c.push("0", "intptr_t")
	}
}

func (c *conv) elemCppOf(op cil.Operand) string {
	switch v := op.(type) {
	case *cil.TypeRefOperand:
		return c.cppTypeOf(v.Sig)
	case *cil.ElemTypeOperand:
		if t, ok := convTargets[v.Suffix]; ok {
			return t
		}
		return "System_Object*"
	}
	return "intptr_t"
}
