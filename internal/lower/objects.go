package lower

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// runtimeProvided types allocate through the runtime's own structs rather
// than emitted ones.
var runtimeProvided = map[string]bool{
	"System.Object": true,
	"System.String": true,
	"System.Array":  true,
}

// lowerNewObj handles every constructor-call shape: BCL exceptions, spans,
// delegates, value types, runtime-provided reference types, and plain
// reference types.
func (c *conv) lowerNewObj(ref *cil.MethodRef) {
	ref = c.substRef(ref)
	declIL := ref.DeclaringType.ILName()

	// BCL exception types allocate through the runtime and assign their
	// message/inner fields directly.
	if alias := names.ExceptionAlias(declIL); alias != "" {
		args := c.popN(len(ref.Params))
		tmp := c.newTemp(alias + "*")
		code := alias + "* " + tmp + " = (" + alias + "*)rt_alloc_exception(sizeof(" +
			alias + "), &" + alias + "_TypeInfo);"
		if len(args) >= 1 {
			code += " " + tmp + "->f_message = " + args[0].Expr + ";"
		}
		if len(args) >= 2 {
			code += " " + tmp + "->f_innerException = (rt_Exception*)(void*)" + args[1].Expr + ";"
		}
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: alias + "*"},
			Code:   code,
		})
		c.push(tmp, alias+"*")
		return
	}

	// Span/ReadOnlySpan constructors inline to struct initialization.
	if isSpanType(declIL) && c.lowerSpanCtor(ref, declIL) {
		return
	}

	// Delegates carry target + function pointer in a dedicated node.
	if c.isDelegateType(declIL) && len(ref.Params) == 2 {
		fn := c.pop()
		target := c.pop()
		cpp := c.mangledTypeName(ref.DeclaringType)
		if _, cached := c.l.Module.TypeByIL(declIL); !cached {
			c.registerDelegateShell(declIL, cpp)
		}
		tmp := c.newTemp(cpp + "*")
		c.emit(&ir.DelegateCreate{
			Result:          ir.Result{ResultVar: tmp, ResultTypeCpp: cpp + "*"},
			DelegateTypeCpp: cpp,
			TargetExpr:      target.Expr,
			FunctionExpr:    fn.Expr,
		})
		c.push(tmp, cpp+"*")
		return
	}

	cpp := c.mangledTypeName(ref.DeclaringType)
	ctorName := c.directFunctionName(ref)
	args := c.popN(len(ref.Params))
	argExprs := make([]string, len(args))
	for i, a := range args {
		argExprs[i] = c.castArg(a, ref.Params[i])
	}

	// Value types construct into a fresh local with &local as this.
	if c.l.Mapper.IsValueType(declIL) || c.l.Mapper.IsValueType(cpp) {
		local := c.newTemp(cpp)
		c.emit(&ir.DeclareLocal{Name: local, CppType: cpp, Init: "{}"})
		call := &ir.Call{FunctionName: ctorName}
		call.Arguments = append([]string{"&" + local}, argExprs...)
		c.emit(call)
		c.push(local, cpp)
		return
	}

	// Runtime-provided reference types allocate with the runtime struct's
	// sizeof; the constructor runs only when it takes arguments.
	if runtimeProvided[declIL] {
		rtStruct := names.Mangle(declIL)
		tmp := c.newTemp(rtStruct + "*")
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: tmp, ResultTypeCpp: rtStruct + "*"},
			Code: rtStruct + "* " + tmp + " = (" + rtStruct + "*)rt_alloc(sizeof(" +
				rtStruct + "), &" + rtStruct + "_TypeInfo);",
		})
		if len(argExprs) > 0 {
			call := &ir.Call{FunctionName: ctorName}
			call.Arguments = append([]string{tmp}, argExprs...)
			c.emit(call)
		}
		c.push(tmp, rtStruct+"*")
		return
	}

	if t, ok := c.l.Module.TypeByIL(declIL); ok && t.HasCctor {
		c.emit(&ir.StaticCtorGuard{TypeCppName: t.CppName})
	}
	tmp := c.newTemp(cpp + "*")
	c.emit(&ir.NewObj{
		Result:      ir.Result{ResultVar: tmp, ResultTypeCpp: cpp + "*"},
		TypeCppName: cpp,
		CtorName:    ctorName,
		CtorArgs:    argExprs,
	})
	c.push(tmp, cpp+"*")
}

func isSpanType(declIL string) bool {
	return strings.HasPrefix(declIL, "System.Span`1<") ||
		strings.HasPrefix(declIL, "System.ReadOnlySpan`1<")
}

// lowerSpanCtor inlines the known span constructor forms into
// { f_reference, f_length } initialization.
func (c *conv) lowerSpanCtor(ref *cil.MethodRef, declIL string) bool {
	cpp := c.mangledTypeName(ref.DeclaringType)
	elem := "uint8_t"
	if sig := ref.DeclaringType; len(sig.Args) == 1 {
		elem = c.cppTypeOf(sig.Args[0])
	}

	emitSpan := func(refExpr, lenExpr string) {
		local := c.newTemp(cpp)
		c.emit(&ir.RawCpp{
			Result: ir.Result{ResultVar: local, ResultTypeCpp: cpp},
			Code: cpp + " " + local + " = { (" + elem + "*)(" + refExpr + "), (int32_t)(" +
				lenExpr + ") };",
		})
		c.push(local, cpp)
	}

	paramIL := make([]string, len(ref.Params))
	for i, p := range ref.Params {
		paramIL[i] = p.ILName()
	}

	switch {
	case len(ref.Params) == 3 && strings.HasSuffix(paramIL[0], "[]"):
		// (array, start, length)
		length := c.pop()
		start := c.pop()
		arr := c.pop()
		emitSpan("(" + elem + "*)rt_array_data(" + arr.Expr + ") + " + start.Expr, length.Expr)
	case len(ref.Params) == 1 && strings.HasSuffix(paramIL[0], "[]"):
		arr := c.pop()
		src := arr.Expr
		if !isSimpleExpr(src) {
			tmp := c.newTemp("System_Array*")
			c.emit(&ir.DeclareLocal{Name: tmp, CppType: "System_Array*", Init: src})
			src = tmp
		}
		emitSpan("rt_array_data("+src+")", "rt_array_length("+src+")")
	case len(ref.Params) == 2 && strings.HasSuffix(paramIL[0], "*"):
		// (pointer, length)
		length := c.pop()
		ptr := c.pop()
		emitSpan(ptr.Expr, length.Expr)
	case len(ref.Params) == 2 && strings.HasSuffix(paramIL[0], "&"):
		// (byref, length)
		length := c.pop()
		byref := c.pop()
		emitSpan(byref.Expr, length.Expr)
	default:
		return false
	}
	return true
}

// registerDelegateShell adds a minimal type shell for a BCL delegate never
// compiled from IL, so a typeinfo entry is produced.
func (c *conv) registerDelegateShell(declIL, cpp string) {
	t := &ir.Type{
		ILFullName: declIL,
		CppName:    cpp,
		IsDelegate: true,
		IsSealed:   true,
	}
	t.Fields = []*ir.Field{
		{Name: "_target", CppName: "f_target", TypeName: "System.Object", CppType: "System_Object*", Declaring: t},
		{Name: "_methodPtr", CppName: "f_methodPtr", TypeName: "System.IntPtr", CppType: "intptr_t", Declaring: t},
	}
	t.InstanceSize = 32
	c.l.Module.AddType(t)
}

// ============================================================================
// Field access
// ============================================================================

// fieldAccessor decides "." against "->" for an object expression.
func (c *conv) fieldAccessor(obj StackEntry, declSig *cil.TypeSig) string {
	expr := obj.Expr
	if strings.HasPrefix(expr, "&") || expr == "__this" {
		return "->"
	}
	if strings.HasSuffix(obj.CppType, "*") {
		return "->"
	}
	if pt := c.entryPointerType(obj); pt != "" {
		return "->"
	}
	declIL := declSig.ILName()
	if c.l.Mapper.IsValueType(declIL) && c.isValueExpr(expr) {
		return "."
	}
	return "->"
}

// isValueExpr reports whether expr denotes a value-typed local, temp or
// parameter.
func (c *conv) isValueExpr(expr string) bool {
	if !isSimpleExpr(expr) {
		return false
	}
	if t, ok := c.meth.TempVarTypes[expr]; ok {
		return !strings.HasSuffix(t, "*")
	}
	for _, l := range c.meth.Locals {
		if l.CppName == expr {
			return !strings.HasSuffix(l.CppType, "*")
		}
	}
	for _, p := range c.meth.Parameters {
		if p.CppName == expr {
			return !strings.HasSuffix(p.CppType, "*")
		}
	}
	return false
}

func (c *conv) fieldCppName(ref *cil.FieldRef) string {
	return "f_" + names.Mangle(ref.Name)
}

// fieldCast computes the cast applied to the object expression when its
// tracked type does not match the declaring type.
func (c *conv) fieldCast(obj StackEntry, declSig *cil.TypeSig, accessor string) string {
	if accessor != "->" {
		return ""
	}
	want := c.mangledTypeName(declSig) + "*"
	if obj.CppType == want {
		return ""
	}
	if strings.HasPrefix(obj.Expr, "&") && c.l.Mapper.IsValueType(declSig.ILName()) {
		return ""
	}
	return want
}

func (c *conv) lowerLoadField(fref *cil.FieldRef, addressOf bool) {
	obj := c.pop()
	accessor := c.fieldAccessor(obj, fref.DeclaringType)
	fieldType := c.cppTypeOf(fref.FieldType)
	resType := fieldType
	if addressOf {
		resType = fieldType + "*"
	}
	tmp := c.newTemp(resType)
	c.emit(&ir.FieldAccess{
		Result:       ir.Result{ResultVar: tmp, ResultTypeCpp: resType},
		ObjectExpr:   obj.Expr,
		FieldCppName: c.fieldCppName(fref),
		Accessor:     accessor,
		CastToType:   c.fieldCast(obj, fref.DeclaringType, accessor),
		AddressOf:    addressOf,
	})
	c.push(tmp, resType)
}

func (c *conv) lowerStoreField(fref *cil.FieldRef) {
	v := c.pop()
	obj := c.pop()
	accessor := c.fieldAccessor(obj, fref.DeclaringType)
	fieldType := c.cppTypeOf(fref.FieldType)
	c.emit(&ir.FieldAccess{
		ObjectExpr:   obj.Expr,
		FieldCppName: c.fieldCppName(fref),
		Accessor:     accessor,
		CastToType:   c.fieldCast(obj, fref.DeclaringType, accessor),
		StoreValue:   c.storeCast(fieldType, v),
	})
}

func (c *conv) staticDeclName(fref *cil.FieldRef) string {
	declIL := fref.DeclaringType.ILName()
	if t, ok := c.l.Module.TypeByIL(declIL); ok {
		if t.HasCctor {
			c.emit(&ir.StaticCtorGuard{TypeCppName: t.CppName})
		}
		return t.CppName
	}
	return names.Mangle(declIL)
}

func (c *conv) lowerLoadStaticField(fref *cil.FieldRef, addressOf bool) {
	typeCpp := c.staticDeclName(fref)
	fieldType := c.cppTypeOf(fref.FieldType)
	resType := fieldType
	if addressOf {
		resType = fieldType + "*"
	}
	tmp := c.newTemp(resType)
	c.emit(&ir.StaticFieldAccess{
		Result:       ir.Result{ResultVar: tmp, ResultTypeCpp: resType},
		TypeCppName:  typeCpp,
		FieldCppName: c.fieldCppName(fref),
		AddressOf:    addressOf,
	})
	c.push(tmp, resType)
}

func (c *conv) lowerStoreStaticField(fref *cil.FieldRef) {
	v := c.pop()
	typeCpp := c.staticDeclName(fref)
	fieldType := c.cppTypeOf(fref.FieldType)
	c.emit(&ir.StaticFieldAccess{
		TypeCppName:  typeCpp,
		FieldCppName: c.fieldCppName(fref),
		StoreValue:   c.storeCast(fieldType, v),
	})
}
