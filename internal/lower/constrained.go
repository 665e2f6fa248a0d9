package lower

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/generics"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// intrinsicOperators maps static-abstract operator names onto C++ operators
// for primitive operands (ECMA-335 generic math fallback).
var intrinsicOperators = map[string]string{
	"op_Addition":           "+",
	"op_Subtraction":        "-",
	"op_Multiply":           "*",
	"op_Division":           "/",
	"op_Modulus":            "%",
	"op_BitwiseAnd":         "&",
	"op_BitwiseOr":          "|",
	"op_ExclusiveOr":        "^",
	"op_LeftShift":          "<<",
	"op_RightShift":         ">>",
	"op_Equality":           "==",
	"op_Inequality":         "!=",
	"op_LessThan":           "<",
	"op_GreaterThan":        ">",
	"op_LessThanOrEqual":    "<=",
	"op_GreaterThanOrEqual": ">=",
}

var unaryIntrinsicOperators = map[string]string{
	"op_UnaryNegation":  "-",
	"op_OnesComplement": "~",
	"op_UnaryPlus":      "+",
}

// lowerConstrainedCall implements the constrained. prefix (ECMA-335
// III.2.1): direct dispatch to a value-type override when one exists, boxing
// plus virtual dispatch when not, and static-abstract resolution for
// interface members without this.
func (c *conv) lowerConstrainedCall(constrainedSig *cil.TypeSig, ref *cil.MethodRef, isVirt bool) {
	ct := constrainedSig
	if c.tpm != nil && !c.tpm.Empty() && ct.HasGenericParams() {
		ct = generics.Substitute(ct, c.tpm)
	}
	ctIL := ct.ILName()

	// Static-abstract interface members (.NET 7+) have no receiver.
	if !ref.HasThis {
		c.lowerStaticAbstract(ct, ref)
		return
	}

	override := c.findOverride(ctIL, ref)
	isValue := c.l.Mapper.IsValueType(ctIL) || c.l.Mapper.IsValueType(names.Mangle(ctIL))

	if override != "" && isValue {
		// Direct non-virtual call to the override; the receiver address is
		// re-cast to the constrained type.
		ctCpp := c.mangledTypeName(ct)
		args := make([]string, len(ref.Params))
		raw := c.popN(len(ref.Params))
		for i, a := range raw {
			args[i] = c.castArg(a, ref.Params[i])
		}
		this := c.pop()
		thisExpr := recastThis(this.Expr, ctCpp+"*")

		retCpp := c.cppTypeOf(ref.ReturnType)
		call := &ir.Call{FunctionName: override}
		call.Arguments = append([]string{thisExpr}, args...)
		if retCpp != "void" {
			tmp := c.newTemp(retCpp)
			call.ResultVar = tmp
			call.ResultTypeCpp = retCpp
			c.emit(call)
			c.push(tmp, retCpp)
		} else {
			c.emit(call)
		}
		return
	}

	if isValue {
		// No override: box the value, then dispatch virtually on the boxed
		// object.
		args := c.popN(len(ref.Params))
		this := c.pop()
		ctCpp := c.mangledTypeName(ct)
		boxed := c.newTemp("System_Object*")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: boxed, ResultTypeCpp: "System_Object*"},
			Code: "System_Object* " + boxed + " = rt_box_raw(" + this.Expr +
				", sizeof(" + ctCpp + "), &" + ctCpp + "_TypeInfo);",
		})
		c.pushBack(boxed, "System_Object*", args)
		c.lowerCall(ref, true)
		return
	}

	// Reference-type constraint: plain virtual call, the receiver is already
	// an object reference (possibly through a byref the IL derefs for us).
	args := c.popN(len(ref.Params))
	this := c.pop()
	deref := this.Expr
	if strings.HasPrefix(deref, "&") {
		deref = deref[1:]
	} else if c.entryPointerType(this) != "" && strings.HasSuffix(c.entryPointerType(this), "**") {
		deref = "*" + deref
	}
	c.pushBack(deref, strings.TrimSuffix(c.entryPointerType(this), "*"), args)
	c.lowerCall(ref, isVirt)
}

// pushBack restores a receiver and arguments onto the stack in call order.
func (c *conv) pushBack(thisExpr, thisType string, args []StackEntry) {
	c.push(thisExpr, thisType)
	for _, a := range args {
		c.push(a.Expr, a.CppType)
	}
}

// findOverride locates the constrained type's own implementation of the
// referenced method and returns its final function name, "" when the type
// does not override it. Explicit interface implementations match by the
// trailing name segment.
func (c *conv) findOverride(ctIL string, ref *cil.MethodRef) string {
	if t, ok := c.l.Module.TypeByIL(ctIL); ok {
		for _, m := range t.Methods {
			if m.IsStatic || m.IsConstructor {
				continue
			}
			if m.Name == ref.Name && len(m.Parameters) == len(ref.Params) {
				return m.CppName
			}
			if dot := strings.LastIndexByte(m.Name, '.'); dot >= 0 &&
				m.Name[dot+1:] == ref.Name && len(m.Parameters) == len(ref.Params) {
				return m.CppName
			}
		}
		return ""
	}
	def, ok := c.l.Set.FindType(outerName(ctIL))
	if !ok {
		return ""
	}
	for _, m := range def.Methods {
		if m.IsStatic || m.IsConstructor {
			continue
		}
		match := m.Name == ref.Name
		if !match {
			if dot := strings.LastIndexByte(m.Name, '.'); dot >= 0 {
				match = m.Name[dot+1:] == ref.Name
			}
		}
		if match && len(m.Params) == len(ref.Params) {
			return names.Mangle(ctIL) + "_" + names.Mangle(m.Name)
		}
	}
	return ""
}

// lowerStaticAbstract resolves a static-abstract interface member on the
// constrained type: explicit implementation first, then the intrinsic
// operator table for primitive operands.
func (c *conv) lowerStaticAbstract(ct *cil.TypeSig, ref *cil.MethodRef) {
	ctIL := ct.ILName()
	if def, ok := c.l.Set.FindType(outerName(ctIL)); ok {
		for _, m := range def.Methods {
			if !m.IsStatic || len(m.Params) != len(ref.Params) {
				continue
			}
			match := m.Name == ref.Name
			if !match {
				if dot := strings.LastIndexByte(m.Name, '.'); dot >= 0 {
					match = m.Name[dot+1:] == ref.Name
				}
			}
			if match {
				resolved := &cil.MethodRef{
					DeclaringType: cil.ParseSig(ctIL),
					Name:          m.Name,
					ReturnType:    ref.ReturnType,
					Params:        ref.Params,
				}
				c.lowerCall(resolved, false)
				return
			}
		}
	}

	ctCpp := c.l.Mapper.CppTypeFor(ctIL)
	if op, ok := intrinsicOperators[ref.Name]; ok && len(ref.Params) == 2 {
		right := c.pop()
		left := c.pop()
		if (op == "&" || op == "|" || op == "^") && (ctCpp == "float" || ctCpp == "double") {
			c.lowerFloatBitwise(op, left, right, ctCpp)
			return
		}
		resType := ctCpp
		if strings.Contains("== != < > <= >=", op) {
			resType = "bool"
		}
		tmp := c.newTemp(resType)
		c.emit(&ir.BinaryOp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: resType},
			Op:     op, Left: left.Expr, Right: right.Expr,
		})
		c.push(tmp, resType)
		return
	}
	if op, ok := unaryIntrinsicOperators[ref.Name]; ok && len(ref.Params) == 1 {
		v := c.pop()
		tmp := c.newTemp(ctCpp)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: ctCpp},
			Code:   ctCpp + " " + tmp + " = " + op + "(" + v.Expr + ");",
		})
		c.push(tmp, ctCpp)
		return
	}

	c.l.Diags.Warnf("lower", c.def.Identity(),
		"unresolved static-abstract member %s on %s", ref.Name, ctIL)
	for range ref.Params {
		c.pop()
	}
	if c.cppTypeOf(ref.ReturnType) != "void" {
		c.push("0", c.cppTypeOf(ref.ReturnType))
	}
}

// lowerFloatBitwise reinterprets float operands as integers through memcpy,
// applies the operator, and converts back.
func (c *conv) lowerFloatBitwise(op string, left, right StackEntry, cpp string) {
	intType := "uint32_t"
	if cpp == "double" {
		intType = "uint64_t"
	}
	li := c.newTemp(intType)
	ri := c.newTemp(intType)
	res := c.newTemp(cpp)
	var sb strings.Builder
	sb.WriteString(intType + " " + li + "; memcpy(&" + li + ", &" + left.Expr + ", sizeof(" + cpp + "));")
	sb.WriteString(" " + intType + " " + ri + "; memcpy(&" + ri + ", &" + right.Expr + ", sizeof(" + cpp + "));")
	sb.WriteString(" " + li + " = " + li + " " + op + " " + ri + ";")
	sb.WriteString(" " + cpp + " " + res + "; memcpy(&" + res + ", &" + li + ", sizeof(" + cpp + "));")
	c.emit(&ir.RawCpp{
		Result: ir.Result{ResultVar: res, ResultTypeCpp: cpp},
		Code:   sb.String(),
	})
	c.push(res, cpp)
}

// recastThis strips any outer cast from a receiver expression using
// balanced-paren matching — nested casts like ((T*)expr) resolve correctly —
// and re-casts the operand to the wanted pointer type.
func recastThis(expr, want string) string {
	inner := stripOuterCast(expr)
	if strings.HasPrefix(inner, "&") || strings.HasPrefix(inner, "(") {
		return "(" + want + ")(void*)" + inner
	}
	if inner == expr && strings.HasPrefix(expr, "&") {
		return "(" + want + ")(void*)(" + expr + ")"
	}
	return "(" + want + ")(void*)" + inner
}

// stripOuterCast removes one leading "(T*)" cast (and redundant wrapping
// parens) from an expression, matching parentheses rather than scanning for
// the first ')'.
func stripOuterCast(expr string) string {
	expr = strings.TrimSpace(expr)
	for {
		if !strings.HasPrefix(expr, "(") {
			return expr
		}
		close := matchParen(expr, 0)
		if close < 0 {
			return expr
		}
		if close == len(expr)-1 {
			// "(...)" wraps the whole expression: unwrap and continue.
			inner := expr[1:close]
			// Keep wrapping parens around binary expressions; only unwrap
			// casts and simple terms.
			if strings.ContainsAny(inner, "+-") && !strings.HasPrefix(inner, "(") &&
				!strings.HasPrefix(inner, "&") {
				return expr
			}
			expr = inner
			continue
		}
		head := expr[1:close]
		if strings.HasSuffix(head, "*") && !strings.ContainsAny(head, " &") {
			// "(T*)rest": the cast head drops, the operand remains.
			return strings.TrimSpace(expr[close+1:])
		}
		return expr
	}
}

// matchParen returns the index of the paren matching expr[open], -1 when
// unbalanced.
func matchParen(expr string, open int) int {
	depth := 0
	for i := open; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
