package lower

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// pointerElemSize returns the pointee size of a tracked C++ pointer type,
// 0 when the type is not a pointer. uint8_t*/void* report 1 and do not need
// byte-granularity rewriting.
func (c *conv) pointerElemSize(cppType string) int {
	if !strings.HasSuffix(cppType, "*") {
		return 0
	}
	elem := strings.TrimSuffix(cppType, "*")
	if elem == "void" || elem == "uint8_t" || elem == "int8_t" {
		return 1
	}
	if strings.HasSuffix(elem, "*") {
		return 8
	}
	if sz := names.PrimitiveSize(elem); sz > 0 {
		return sz
	}
	if t, ok := c.l.Module.TypeByCpp(elem); ok {
		if t.IsValueType && t.InstanceSize > 0 {
			return t.InstanceSize
		}
		return 8
	}
	return 8
}

// entryPointerType resolves the pointer type of a stack entry: the tracked
// stack type first, then local/parameter/temp declarations, then an explicit
// cast pattern at the head of the expression.
func (c *conv) entryPointerType(e StackEntry) string {
	if strings.HasSuffix(e.CppType, "*") {
		return e.CppType
	}
	if t, ok := c.meth.TempVarTypes[e.Expr]; ok && strings.HasSuffix(t, "*") {
		return t
	}
	for _, l := range c.meth.Locals {
		if l.CppName == e.Expr && strings.HasSuffix(l.CppType, "*") {
			return l.CppType
		}
	}
	for _, p := range c.meth.Parameters {
		if p.CppName == e.Expr && strings.HasSuffix(p.CppType, "*") {
			return p.CppType
		}
	}
	// "(T*)(...)" at the head of the expression.
	if strings.HasPrefix(e.Expr, "(") {
		if close := strings.IndexByte(e.Expr, ')'); close > 1 {
			cand := e.Expr[1:close]
			if strings.HasSuffix(cand, "*") && !strings.ContainsAny(cand, " ()") {
				return cand
			}
		}
	}
	return ""
}

// lowerArith handles add/sub/mul/div/rem and the bitwise/shift family.
func (c *conv) lowerArith(op cil.OpCode) {
	right := c.pop()
	left := c.pop()

	cppOp := map[cil.OpCode]string{
		cil.OpAdd: "+", cil.OpSub: "-", cil.OpMul: "*",
		cil.OpDiv: "/", cil.OpDivUn: "/", cil.OpRem: "%", cil.OpRemUn: "%",
		cil.OpAnd: "&", cil.OpOr: "|", cil.OpXor: "^",
		cil.OpShl: "<<", cil.OpShr: ">>", cil.OpShrUn: ">>",
	}[op]

	// Typed-pointer arithmetic: CIL adds byte offsets, C++ scales by element
	// size, so the operation routes through uint8_t*.
	if op == cil.OpAdd || op == cil.OpSub {
		lp := c.entryPointerType(left)
		rp := c.entryPointerType(right)
		if c.pointerElemSizeOf(lp) > 1 || c.pointerElemSizeOf(rp) > 1 {
			c.lowerPointerArith(op, left, right, lp, rp)
			return
		}
	}

	// Bitwise on pointers is invalid C++; both operands go through
	// uintptr_t.
	if op == cil.OpAnd || op == cil.OpOr || op == cil.OpXor {
		if c.entryPointerType(left) != "" || c.entryPointerType(right) != "" {
			tmp := c.newTemp("uintptr_t")
			c.emit(&ir.BinaryOp{
				Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "uintptr_t"},
				Op:     cppOp,
				Left:   "(uintptr_t)" + left.Expr,
				Right:  "(uintptr_t)" + right.Expr,
			})
			c.push(tmp, "uintptr_t")
			return
		}
	}

	resType := left.CppType
	if resType == "" {
		resType = right.CppType
	}
	if resType == "" {
		resType = "int32_t"
	}
	l, r := left.Expr, right.Expr
	if op == cil.OpDivUn || op == cil.OpRemUn || op == cil.OpShrUn {
		l = "to_unsigned(" + l + ")"
		if op != cil.OpShrUn {
			r = "to_unsigned(" + r + ")"
		}
	}
	tmp := c.newTemp(resType)
	c.emit(&ir.BinaryOp{
		Result: ir.Result{ResultVar: tmp, ResultTypeCpp: resType},
		Op:     cppOp, Left: l, Right: r,
	})
	c.push(tmp, resType)
}

func (c *conv) pointerElemSizeOf(ptrType string) int {
	if ptrType == "" {
		return 0
	}
	return c.pointerElemSize(ptrType)
}

// lowerPointerArith emits the byte-granularity forms.
func (c *conv) lowerPointerArith(op cil.OpCode, left, right StackEntry, lp, rp string) {
	lIsPtr := lp != ""
	rIsPtr := rp != ""

	switch {
	case op == cil.OpSub && lIsPtr && rIsPtr:
		tmp := c.newTemp("intptr_t")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "intptr_t"},
			Code: "intptr_t " + tmp + " = (intptr_t)((uint8_t*)" + left.Expr +
				" - (uint8_t*)" + right.Expr + ");",
		})
		c.push(tmp, "intptr_t")
	case lIsPtr:
		tmp := c.newTemp(lp)
		opc := "+"
		if op == cil.OpSub {
			opc = "-"
		}
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: lp},
			Code: lp + " " + tmp + " = (" + lp + ")((uint8_t*)" + left.Expr +
				" " + opc + " " + right.Expr + ");",
		})
		c.push(tmp, lp)
	default:
		// int + ptr, addition only per IL rules.
		tmp := c.newTemp(rp)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: rp},
			Code: rp + " " + tmp + " = (" + rp + ")((uint8_t*)" + right.Expr +
				" + " + left.Expr + ");",
		})
		c.push(tmp, rp)
	}
}

// lowerUnary handles neg/not.
func (c *conv) lowerUnary(op cil.OpCode) {
	v := c.pop()
	resType := v.CppType
	if resType == "" {
		resType = "int32_t"
	}
	sym := "-"
	if op == cil.OpNot {
		sym = "~"
	}
	tmp := c.newTemp(resType)
	c.emit(&ir.RawCpp{
		Result: ir.Result{ResultVar: tmp, ResultTypeCpp: resType},
		Code:   resType + " " + tmp + " = " + sym + "(" + v.Expr + ");",
	})
	c.push(tmp, resType)
}

// compareExpr builds a comparison condition string, applying the pointer and
// unsigned rewrites.
func (c *conv) compareExpr(op cil.OpCode, left, right StackEntry) string {
	lPtr := c.entryPointerType(left) != "" || left.Expr == "nullptr"
	rPtr := c.entryPointerType(right) != "" || right.Expr == "nullptr"

	// cgt.un/clt.un against null is the idiomatic null test; relational
	// pointer comparison is not portable C++.
	if (op == cil.OpCgtUn || op == cil.OpCltUn) && (left.Expr == "nullptr" || right.Expr == "nullptr") {
		return left.Expr + " != " + right.Expr
	}

	switch op {
	case cil.OpCeq, cil.OpBeq:
		if lPtr || rPtr {
			return "(void*)" + left.Expr + " == (void*)" + right.Expr
		}
		return left.Expr + " == " + right.Expr
	case cil.OpBne:
		if lPtr || rPtr {
			return "(void*)" + left.Expr + " != (void*)" + right.Expr
		}
		return left.Expr + " != " + right.Expr
	case cil.OpCgt, cil.OpBgt:
		return left.Expr + " > " + right.Expr
	case cil.OpClt, cil.OpBlt:
		return left.Expr + " < " + right.Expr
	case cil.OpBge:
		return left.Expr + " >= " + right.Expr
	case cil.OpBle:
		return left.Expr + " <= " + right.Expr
	case cil.OpCgtUn, cil.OpBgtUn:
		return "unsigned_gt(" + left.Expr + ", " + right.Expr + ")"
	case cil.OpCltUn, cil.OpBltUn:
		return "unsigned_lt(" + left.Expr + ", " + right.Expr + ")"
	case cil.OpBgeUn:
		return "!unsigned_lt(" + left.Expr + ", " + right.Expr + ")"
	case cil.OpBleUn:
		return "!unsigned_gt(" + left.Expr + ", " + right.Expr + ")"
	}
	return left.Expr + " == " + right.Expr
}

// lowerCompare handles ceq/cgt/clt and friends, producing an int32_t result.
func (c *conv) lowerCompare(op cil.OpCode) {
	right := c.pop()
	left := c.pop()
	cond := c.compareExpr(op, left, right)
	tmp := c.newTemp("int32_t")
	c.emit(&ir.RawCpp{
		Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "int32_t"},
		Code:   "int32_t " + tmp + " = (" + cond + ") ? 1 : 0;",
	})
	c.push(tmp, "int32_t")
}

// convTargets maps conv.* suffixes to C++ types.
var convTargets = map[string]string{
	"i1": "int8_t", "u1": "uint8_t",
	"i2": "int16_t", "u2": "uint16_t",
	"i4": "int32_t", "u4": "uint32_t",
	"i8": "int64_t", "u8": "uint64_t",
	"r4": "float", "r8": "double", "r.un": "double",
	"i": "intptr_t", "u": "uintptr_t",
}

// lowerConv handles the conv.* family. Overflow-checked forms lower to the
// same cast; the runtime provides range checks only in debug mode.
func (c *conv) lowerConv(suffix string) {
	checked := strings.HasPrefix(suffix, "ovf.")
	key := strings.TrimPrefix(suffix, "ovf.")
	key = strings.TrimSuffix(key, ".un")
	target, ok := convTargets[key]
	if !ok {
		target = "intptr_t"
	}
	v := c.pop()
	tmp := c.newTemp(target)
	c.emit(&ir.Conversion{
		Result:     ir.Result{ResultVar: tmp, ResultTypeCpp: target},
		Value:      v.Expr,
		TargetType: target,
		Checked:    checked,
	})
	c.push(tmp, target)
}
