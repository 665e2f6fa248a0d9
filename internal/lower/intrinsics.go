package lower

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/ir"
)

// tryIntrinsic intercepts compiler-intrinsic call sites with inline C++.
// Returns true when the call was fully handled.
func (c *conv) tryIntrinsic(ref *cil.MethodRef, isVirt bool) bool {
	declIL := ref.DeclaringType.ILName()
	open := outerName(declIL)

	switch {
	case open == "System.Runtime.CompilerServices.Unsafe":
		return c.intrinsicUnsafe(ref)
	case strings.HasSuffix(open, ".Unsafe") && ref.Name == "AsPointer":
		// Second catch for AsPointer under a re-homed declaring name; kept
		// deliberately, some metadata emits the reference this way.
		return c.intrinsicUnsafe(ref)
	case open == "System.Runtime.CompilerServices.RuntimeHelpers":
		return c.intrinsicRuntimeHelpers(ref)
	case open == "System.Runtime.InteropServices.MemoryMarshal":
		return c.intrinsicMemoryMarshal(ref)
	case open == "System.Array" && ref.Name == "Empty" && ref.IsGenericInstance():
		tmp := c.newTemp("System_Array*")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Array*"},
			Code:   "System_Array* " + tmp + " = rt_array_empty();",
		})
		c.push(tmp, "System_Array*")
		return true
	case ref.Name == "CreateTruncating" && ref.IsGenericInstance():
		// INumber<T>.CreateTruncating folds to a cast.
		target := c.cppTypeOf(ref.GenericArgs[0])
		v := c.pop()
		tmp := c.newTemp(target)
		c.emit(&ir.Conversion{
			Result:     ir.Result{ResultVar: tmp, ResultTypeCpp: target},
			Value:      v.Expr,
			TargetType: target,
		})
		c.push(tmp, target)
		return true
	case ref.Name == "CastFrom" && strings.Contains(open, "IUtfChar"):
		target := c.cppTypeOf(ref.ReturnType)
		v := c.pop()
		c.push("("+target+")("+v.Expr+")", target)
		return true
	case ref.Name == "CastToUInt32" && strings.Contains(open, "IUtfChar"):
		v := c.pop()
		c.push("(uint32_t)("+v.Expr+")", "uint32_t")
		return true
	case isSpanType(declIL) && ref.Name == "op_Implicit":
		return c.intrinsicSpanConvert(ref)
	case isSimdType(open):
		return c.intrinsicSimd(ref, open)
	case open == "System.Index":
		return c.intrinsicIndex(ref)
	case open == "System.Range":
		return c.intrinsicRange(ref)
	case strings.HasPrefix(open, "System.ValueTuple"):
		return c.intrinsicValueTuple(ref)
	}
	return false
}

// genericArgCpp returns the C++ type of generic argument i, defaulting to
// uint8_t so sizeof stays valid.
func (c *conv) genericArgCpp(ref *cil.MethodRef, i int) string {
	if i < len(ref.GenericArgs) {
		return c.cppTypeOf(ref.GenericArgs[i])
	}
	return "uint8_t"
}

func (c *conv) intrinsicUnsafe(ref *cil.MethodRef) bool {
	t := c.genericArgCpp(ref, 0)
	switch ref.Name {
	case "SizeOf":
		c.push("sizeof("+t+")", "int32_t")
	case "As":
		v := c.pop()
		var target string
		if len(ref.GenericArgs) == 2 {
			target = c.genericArgCpp(ref, 1) + "*"
		} else {
			target = t + "*"
		}
		c.push("("+target+")(void*)("+v.Expr+")", target)
	case "AsRef", "AsPointer":
		v := c.pop()
		c.push("(void*)("+v.Expr+")", t+"*")
	case "Add":
		offset := c.pop()
		ptr := c.pop()
		tmp := c.newTemp(t + "*")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: t + "*"},
			Code: t + "* " + tmp + " = (" + t + "*)(" + ptr.Expr + ") + (" +
				offset.Expr + ");",
		})
		c.push(tmp, t+"*")
	case "Subtract":
		offset := c.pop()
		ptr := c.pop()
		tmp := c.newTemp(t + "*")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: t + "*"},
			Code: t + "* " + tmp + " = (" + t + "*)(" + ptr.Expr + ") - (" +
				offset.Expr + ");",
		})
		c.push(tmp, t+"*")
	case "AddByteOffset":
		offset := c.pop()
		ptr := c.pop()
		c.push("("+t+"*)((uint8_t*)("+ptr.Expr+") + ("+offset.Expr+"))", t+"*")
	case "SubtractByteOffset":
		offset := c.pop()
		ptr := c.pop()
		c.push("("+t+"*)((uint8_t*)("+ptr.Expr+") - ("+offset.Expr+"))", t+"*")
	case "AreSame":
		b := c.pop()
		a := c.pop()
		c.push("((void*)("+a.Expr+") == (void*)("+b.Expr+") ? 1 : 0)", "int32_t")
	case "ByteOffset":
		target := c.pop()
		origin := c.pop()
		c.push("(intptr_t)((uint8_t*)("+target.Expr+") - (uint8_t*)("+origin.Expr+"))", "intptr_t")
	case "IsNullRef":
		v := c.pop()
		c.push("((void*)("+v.Expr+") == nullptr ? 1 : 0)", "int32_t")
	case "NullRef":
		c.push("("+t+"*)nullptr", t+"*")
	case "SkipInit":
		c.pop()
	case "CopyBlock", "CopyBlockUnaligned":
		size := c.pop()
		src := c.pop()
		dst := c.pop()
		c.emit(&ir.RawCpp{Code: "memcpy((void*)(" + dst.Expr + "), (void*)(" + src.Expr + "), " + size.Expr + ");"})
	case "InitBlock", "InitBlockUnaligned":
		size := c.pop()
		value := c.pop()
		dst := c.pop()
		c.emit(&ir.RawCpp{Code: "memset((void*)(" + dst.Expr + "), " + value.Expr + ", " + size.Expr + ");"})
	case "ReadUnaligned":
		src := c.pop()
		tmp := c.newTemp(t)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: t},
			Code:   t + " " + tmp + "; memcpy(&" + tmp + ", (void*)(" + src.Expr + "), sizeof(" + t + "));",
		})
		c.push(tmp, t)
	case "WriteUnaligned":
		v := c.pop()
		dst := c.pop()
		val := c.newTemp(t)
		c.emit(&ir.RawCpp{
			Code: t + " " + val + " = " + v.Expr + "; memcpy((void*)(" + dst.Expr +
				"), &" + val + ", sizeof(" + t + "));",
		})
	case "Unbox":
		v := c.pop()
		tmp := c.newTemp(t + "*")
		c.emit(&ir.Unbox{
			Result:      ir.Result{ResultVar: tmp, ResultTypeCpp: t + "*"},
			Value:       v.Expr,
			TypeCppName: t,
			ToAddress:   true,
		})
		c.push(tmp, t+"*")
	default:
		return false
	}
	return true
}

func (c *conv) intrinsicRuntimeHelpers(ref *cil.MethodRef) bool {
	switch ref.Name {
	case "InitializeArray":
		token := c.pop()
		arr := c.pop()
		c.emit(&ir.RawCpp{
			Code: "rt_array_init_from_blob(" + arr.Expr + ", (const uint8_t*)(" + token.Expr + "));",
		})
	case "GetSubArray":
		rng := c.pop()
		arr := c.pop()
		tmp := c.newTemp("System_Array*")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Array*"},
			Code: "System_Array* " + tmp + " = rt_array_sub(" + arr.Expr + ", " +
				rng.Expr + ".f_start._value, " + rng.Expr + ".f_end._value);",
		})
		c.push(tmp, "System_Array*")
	case "CreateSpan":
		token := c.pop()
		t := c.genericArgCpp(ref, 0)
		spanCpp := "System_ReadOnlySpan_1_" + t
		tmp := c.newTemp(spanCpp)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: spanCpp},
			Code: spanCpp + " " + tmp + " = { (" + t + "*)(" + token.Expr +
				"), (int32_t)(rt_blob_length((const uint8_t*)(" + token.Expr + ")) / sizeof(" + t + ")) };",
		})
		c.push(tmp, spanCpp)
	case "IsReferenceOrContainsReferences":
		// Compile-time constant from recursive field analysis.
		if c.containsReferences(c.genericArgIL(ref, 0)) {
			c.push("1", "int32_t")
		} else {
			c.push("0", "int32_t")
		}
	default:
		return false
	}
	return true
}

func (c *conv) genericArgIL(ref *cil.MethodRef, i int) string {
	if i < len(ref.GenericArgs) {
		return ref.GenericArgs[i].ILName()
	}
	return ""
}

// containsReferences recursively analyzes value-type fields; any
// reference-shaped field makes the answer true.
func (c *conv) containsReferences(ilName string) bool {
	return c.containsReferencesDepth(ilName, 0)
}

func (c *conv) containsReferencesDepth(ilName string, depth int) bool {
	if depth > 8 || ilName == "" {
		return true
	}
	if strings.HasSuffix(ilName, "*") {
		return false
	}
	cpp := c.l.Mapper.CppTypeFor(ilName)
	if !strings.HasSuffix(cpp, "*") && c.l.Mapper.IsValueType(ilName) || isPrimitiveCppValue(cpp) {
		// Value type: inspect fields when the definition is available.
		def, ok := c.l.Set.FindType(outerName(ilName))
		if !ok {
			return false
		}
		for _, f := range def.Fields {
			if f.IsStatic {
				continue
			}
			fcpp := c.l.Mapper.CppTypeFor(f.TypeName)
			if strings.HasSuffix(fcpp, "*") {
				return true
			}
			if c.containsReferencesDepth(f.TypeName, depth+1) {
				return true
			}
		}
		return false
	}
	return true
}

func isPrimitiveCppValue(cpp string) bool {
	switch cpp {
	case "bool", "int8_t", "uint8_t", "char16_t", "int16_t", "uint16_t",
		"int32_t", "uint32_t", "int64_t", "uint64_t", "float", "double",
		"intptr_t", "uintptr_t":
		return true
	}
	return false
}

func (c *conv) intrinsicMemoryMarshal(ref *cil.MethodRef) bool {
	t := c.genericArgCpp(ref, 0)
	switch ref.Name {
	case "GetReference", "GetNonNullPinnableReference":
		span := c.pop()
		expr := span.Expr
		acc := "."
		if strings.HasSuffix(span.CppType, "*") || strings.HasPrefix(expr, "&") {
			acc = "->"
		}
		c.push("("+expr+")"+acc+"f_reference", t+"*")
	case "GetArrayDataReference":
		arr := c.pop()
		c.push("("+t+"*)rt_array_data("+arr.Expr+")", t+"*")
	case "Read":
		src := c.pop()
		tmp := c.newTemp(t)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: t},
			Code: t + " " + tmp + "; memcpy(&" + tmp + ", (" + src.Expr +
				").f_reference, sizeof(" + t + "));",
		})
		c.push(tmp, t)
	case "CreateSpan", "CreateReadOnlySpan":
		length := c.pop()
		refArg := c.pop()
		kind := "System_Span_1_" + t
		if ref.Name == "CreateReadOnlySpan" {
			kind = "System_ReadOnlySpan_1_" + t
		}
		tmp := c.newTemp(kind)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: kind},
			Code: kind + " " + tmp + " = { (" + t + "*)(" + refArg.Expr + "), (int32_t)(" +
				length.Expr + ") };",
		})
		c.push(tmp, kind)
	case "AsBytes":
		span := c.pop()
		tmp := c.newTemp("System_Span_1_uint8_t")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Span_1_uint8_t"},
			Code: "System_Span_1_uint8_t " + tmp + " = { (uint8_t*)(" + span.Expr +
				").f_reference, (int32_t)((" + span.Expr + ").f_length * sizeof(" + t + ")) };",
		})
		c.push(tmp, "System_Span_1_uint8_t")
	default:
		return false
	}
	return true
}

// intrinsicSpanConvert handles Span/ReadOnlySpan op_Implicit conversions;
// every form copies the { reference, length } pair.
func (c *conv) intrinsicSpanConvert(ref *cil.MethodRef) bool {
	target := c.cppTypeOf(ref.ReturnType)
	v := c.pop()
	tmp := c.newTemp(target)
	src := v.Expr
	if strings.HasSuffix(v.CppType, "[]") || strings.HasSuffix(ref.Params[0].ILName(), "[]") {
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: target},
			Code: target + " " + tmp + " = { (decltype(" + tmp + ".f_reference))rt_array_data(" +
				src + "), (int32_t)rt_array_length(" + src + ") };",
		})
	} else {
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: target},
			Code: target + " " + tmp + " = { (decltype(" + tmp + ".f_reference))(" + src +
				").f_reference, (" + src + ").f_length };",
		})
	}
	c.push(tmp, target)
	return true
}

func isSimdType(open string) bool {
	return strings.HasPrefix(open, "System.Runtime.Intrinsics.") ||
		strings.HasPrefix(open, "System.Numerics.Vector")
}

// intrinsicSimd disables hardware acceleration: support queries return 0 so
// the BCL's scalar fallback paths execute; every other SIMD operation
// becomes a no-op stub.
func (c *conv) intrinsicSimd(ref *cil.MethodRef, open string) bool {
	switch ref.Name {
	case "get_IsSupported", "get_IsHardwareAccelerated", "get_Count":
		for range ref.Params {
			c.pop()
		}
		if ref.HasThis {
			c.pop()
		}
		tmp := c.newTemp("int32_t")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "int32_t"},
			Code:   "int32_t " + tmp + " = 0;",
		})
		c.push(tmp, "int32_t")
		return true
	}
	// Remaining SIMD surface: discard operands, produce a zero value of the
	// return type. Unreachable behind the IsSupported guards.
	for range ref.Params {
		c.pop()
	}
	if ref.HasThis {
		c.pop()
	}
	retCpp := c.cppTypeOf(ref.ReturnType)
	if retCpp != "void" {
		tmp := c.newTemp(retCpp)
		init := "{}"
		if isPrimitiveCppValue(retCpp) || strings.HasSuffix(retCpp, "*") {
			init = "0"
		}
		c.emit(&ir.DeclareLocal{Name: tmp, CppType: retCpp, Init: init})
		c.push(tmp, retCpp)
	}
	return true
}

// intrinsicIndex implements System.Index with CIL's fromEnd encoding
// (_value = fromEnd ? ~value : value).
func (c *conv) intrinsicIndex(ref *cil.MethodRef) bool {
	switch ref.Name {
	case ".ctor":
		var fromEnd, value, this StackEntry
		if len(ref.Params) == 2 {
			fromEnd = c.pop()
			value = c.pop()
			this = c.pop()
			c.emit(&ir.RawCpp{
				Code: "(" + this.Expr + ")->_value = (" + fromEnd.Expr + ") ? ~(" +
					value.Expr + ") : (" + value.Expr + ");",
			})
		} else {
			value = c.pop()
			this = c.pop()
			c.emit(&ir.RawCpp{Code: "(" + this.Expr + ")->_value = " + value.Expr + ";"})
		}
	case "get_Value":
		this := c.pop()
		c.push("(("+this.Expr+")->_value < 0 ? ~("+this.Expr+")->_value : ("+this.Expr+")->_value)", "int32_t")
	case "get_IsFromEnd":
		this := c.pop()
		c.push("(("+this.Expr+")->_value < 0 ? 1 : 0)", "int32_t")
	case "FromStart":
		v := c.pop()
		tmp := c.newTemp("System_Index")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Index"},
			Code:   "System_Index " + tmp + " = { " + v.Expr + " };",
		})
		c.push(tmp, "System_Index")
	case "FromEnd":
		v := c.pop()
		tmp := c.newTemp("System_Index")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Index"},
			Code:   "System_Index " + tmp + " = { ~(" + v.Expr + ") };",
		})
		c.push(tmp, "System_Index")
	case "GetOffset":
		length := c.pop()
		this := c.pop()
		tmp := c.newTemp("int32_t")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "int32_t"},
			Code: "int32_t " + tmp + " = (" + this.Expr + ")->_value < 0 ? (" +
				length.Expr + ") + (" + this.Expr + ")->_value + 1 : (" + this.Expr + ")->_value;",
		})
		c.push(tmp, "int32_t")
	case "get_Start":
		c.pop()
		c.push("System_Index{ 0 }", "System_Index")
	case "get_End":
		c.pop()
		c.push("System_Index{ ~0 }", "System_Index")
	default:
		return false
	}
	return true
}

func (c *conv) intrinsicRange(ref *cil.MethodRef) bool {
	switch ref.Name {
	case ".ctor":
		end := c.pop()
		start := c.pop()
		this := c.pop()
		c.emit(&ir.RawCpp{
			Code: "(" + this.Expr + ")->f_start = " + start.Expr + "; (" +
				this.Expr + ")->f_end = " + end.Expr + ";",
		})
	case "get_Start":
		this := c.pop()
		c.push("("+this.Expr+")->f_start", "System_Index")
	case "get_End":
		this := c.pop()
		c.push("("+this.Expr+")->f_end", "System_Index")
	case "get_All", "All":
		if ref.HasThis {
			c.pop()
		}
		tmp := c.newTemp("System_Range")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Range"},
			Code:   "System_Range " + tmp + " = { { 0 }, { ~0 } };",
		})
		c.push(tmp, "System_Range")
	case "StartAt":
		v := c.pop()
		tmp := c.newTemp("System_Range")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Range"},
			Code:   "System_Range " + tmp + " = { " + v.Expr + ", { ~0 } };",
		})
		c.push(tmp, "System_Range")
	case "EndAt":
		v := c.pop()
		tmp := c.newTemp("System_Range")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_Range"},
			Code:   "System_Range " + tmp + " = { { 0 }, " + v.Expr + " };",
		})
		c.push(tmp, "System_Range")
	case "GetOffsetAndLength":
		length := c.pop()
		this := c.pop()
		tmp := c.newTemp("System_OffsetLength")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: "System_OffsetLength"},
			Code: "System_OffsetLength " + tmp + " = rt_range_offset_length((" +
				this.Expr + ")->f_start._value, (" + this.Expr + ")->f_end._value, " + length.Expr + ");",
		})
		c.push(tmp, "System_OffsetLength")
	default:
		return false
	}
	return true
}

// intrinsicValueTuple inlines tuple construction; arities above 7 spill the
// eighth argument into f_Rest. ToString/Equals/GetHashCode are stubbed.
func (c *conv) intrinsicValueTuple(ref *cil.MethodRef) bool {
	switch ref.Name {
	case ".ctor":
		n := len(ref.Params)
		args := c.popN(n)
		this := c.pop()
		var sb strings.Builder
		for i, a := range args {
			field := "f_Item" + itoa(i+1)
			if i == 7 {
				field = "f_Rest"
			}
			sb.WriteString("(" + this.Expr + ")->" + field + " = " + a.Expr + "; ")
		}
		c.emit(&ir.RawCpp{Code: strings.TrimSpace(sb.String())})
		return true
	case "ToString":
		c.pop()
		id := c.l.Module.InternString("(ValueTuple)")
		c.push(id, "System_String*")
		return true
	case "Equals":
		c.popN(len(ref.Params))
		c.pop()
		c.push("0", "int32_t")
		return true
	case "GetHashCode":
		c.pop()
		c.push("0", "int32_t")
		return true
	}
	return false
}
