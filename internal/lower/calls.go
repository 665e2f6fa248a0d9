package lower

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/generics"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// substRef applies the active type-parameter map to a method reference.
func (c *conv) substRef(ref *cil.MethodRef) *cil.MethodRef {
	if c.tpm == nil || c.tpm.Empty() {
		return ref
	}
	out := &cil.MethodRef{
		DeclaringType: generics.Substitute(ref.DeclaringType, c.tpm),
		Name:          ref.Name,
		ReturnType:    generics.Substitute(ref.ReturnType, c.tpm),
		HasThis:       ref.HasThis,
		VarArg:        ref.VarArg,
		FixedParams:   ref.FixedParams,
	}
	for _, p := range ref.Params {
		out.Params = append(out.Params, generics.Substitute(p, c.tpm))
	}
	for _, g := range ref.GenericArgs {
		out.GenericArgs = append(out.GenericArgs, generics.Substitute(g, c.tpm))
	}
	return out
}

// mangledTypeName returns the C++ struct name for a type reference,
// preferring the module's registered name.
func (c *conv) mangledTypeName(sig *cil.TypeSig) string {
	resolved := sig
	if c.tpm != nil && !c.tpm.Empty() && sig.HasGenericParams() {
		resolved = generics.Substitute(sig, c.tpm)
	}
	il := resolved.ILName()
	if t, ok := c.l.Module.TypeByIL(il); ok {
		return t.CppName
	}
	if cpp := names.PrimitiveCpp(il); cpp != "" {
		return cpp
	}
	return names.Mangle(il)
}

// typeInfoRef returns the TypeInfo symbol for a type, registering primitives
// in the module's preamble set.
func (c *conv) typeInfoRef(sig *cil.TypeSig) string {
	cpp := c.mangledTypeName(sig)
	if names.PrimitiveSize(cpp) > 0 || cpp == "void" {
		c.l.Module.PrimitiveTypeInfos[cpp] = true
	}
	return cpp + "_TypeInfo"
}

// directFunctionName computes the final C++ function name for a method
// reference: basic mangling, return-type mangling for conversion operators,
// then the module's disambiguation map.
func (c *conv) directFunctionName(ref *cil.MethodRef) string {
	if ref.IsGenericInstance() {
		key := generics.MethodKey(ref)
		if inst, ok := c.l.Engine.MethodInstByKey(key); ok {
			return c.disambiguated(inst.CppName, ref)
		}
		// Transitive discovery: the call site names a specialization the
		// scanner never saw; register it when fully resolved.
		resolvable := true
		for _, g := range ref.GenericArgs {
			if g.HasGenericParams() {
				resolvable = false
			}
		}
		if resolvable {
			c.l.Engine.RegisterMethodRef(ref)
		}
		return c.disambiguated(generics.MangleMethodInst(ref), ref)
	}

	base := names.MangleMethod(ref.DeclaringType.ILName(), ref.Name)
	if ref.Name == "op_Explicit" || ref.Name == "op_Implicit" {
		// C++ cannot overload on return type alone.
		base += "_" + names.Mangle(ref.ReturnType.ILName())
	}
	return c.disambiguated(base, ref)
}

// disambiguated consults the module disambiguation map.
func (c *conv) disambiguated(base string, ref *cil.MethodRef) string {
	key := base + "|" + ilParamSig(ref.Params)
	if final, ok := c.l.Module.Disambiguation[key]; ok {
		return final
	}
	return base
}

func ilParamSig(params []*cil.TypeSig) string {
	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.ILName())
	}
	return sb.String()
}

// lowerCall is the main call lowering: intrinsic interception, static-ctor
// guards, icall routing, generic-key resolution, argument casting, varargs
// packing and the three dispatch shapes.
func (c *conv) lowerCall(ref *cil.MethodRef, isVirt bool) {
	constrained := c.constrained
	c.constrained = nil
	ref = c.substRef(ref)

	if c.tryIntrinsic(ref, isVirt) {
		return
	}

	declIL := ref.DeclaringType.ILName()

	// Delegate invocation gets its own IR node carrying the signature.
	if ref.Name == "Invoke" && c.isDelegateType(declIL) {
		c.lowerDelegateInvoke(ref)
		return
	}

	if constrained != nil {
		c.lowerConstrainedCall(constrained, ref, isVirt)
		return
	}

	if !ref.HasThis {
		if t, ok := c.l.Module.TypeByIL(declIL); ok && t.HasCctor {
			c.emit(&ir.StaticCtorGuard{TypeCppName: t.CppName})
		}
	}

	fnName := ""
	viaICall := false
	if sym, ok := c.l.ICalls.Lookup(declIL, ref.Name, len(ref.Params)); ok {
		fnName = sym
		viaICall = true
	} else {
		fnName = c.directFunctionName(ref)
	}

	args, thisArg := c.popCallArgs(ref)

	retCpp := c.cppTypeOf(ref.ReturnType)
	call := &ir.Call{FunctionName: fnName}
	if thisArg != "" {
		call.Arguments = append(call.Arguments, thisArg)
	}
	call.Arguments = append(call.Arguments, args...)

	// Dispatch resolution. Icalls and non-virtual calls go direct.
	if !viaICall && isVirt && ref.HasThis {
		c.resolveDispatch(call, ref, declIL)
	}

	if retCpp != "void" {
		tmp := c.newTemp(retCpp)
		call.ResultVar = tmp
		call.ResultTypeCpp = retCpp
		c.emit(call)
		c.push(tmp, retCpp)
	} else {
		c.emit(call)
	}
}

// popCallArgs pops fixed arguments (reverse order), packs varargs, pops and
// casts this. Returns (args, thisArg).
func (c *conv) popCallArgs(ref *cil.MethodRef) ([]string, string) {
	nParams := len(ref.Params)

	var varargHandle string
	fixed := nParams
	if ref.VarArg && ref.FixedParams >= 0 && ref.FixedParams < nParams {
		fixed = ref.FixedParams
		variadic := c.popN(nParams - fixed)
		varargHandle = c.packVarArgs(variadic, ref.Params[fixed:])
	}

	raw := c.popN(fixed)
	args := make([]string, 0, fixed+1)
	for i, a := range raw {
		args = append(args, c.castArg(a, ref.Params[i]))
	}
	if varargHandle != "" {
		args = append(args, varargHandle)
	}

	thisArg := ""
	if ref.HasThis {
		this := c.pop()
		thisArg = c.castThis(this, ref.DeclaringType)
	}
	return args, thisArg
}

// packVarArgs wraps the variadic tail into a VarArgHandle that carries
// per-value pointers plus type-info references, passed as one final
// intptr_t argument.
func (c *conv) packVarArgs(values []StackEntry, sigs []*cil.TypeSig) string {
	h := c.newTemp("VarArgHandle")
	var sb strings.Builder
	sb.WriteString("VarArgHandle " + h + " = rt_vararg_begin(" + itoa(len(values)) + ");")
	for i, v := range values {
		typ := v.CppType
		if typ == "" && i < len(sigs) {
			typ = c.cppTypeOf(sigs[i])
		}
		if typ == "" {
			typ = "intptr_t"
		}
		slot := c.newTemp(typ)
		sb.WriteString(" " + typ + " " + slot + " = " + v.Expr + ";")
		ti := typ
		if i < len(sigs) {
			ti = c.typeInfoRef(sigs[i])
		} else {
			c.l.Module.PrimitiveTypeInfos[typ] = true
			ti = typ + "_TypeInfo"
		}
		sb.WriteString(" rt_vararg_push(&" + h + ", (void*)&" + slot + ", &" + ti + ");")
	}
	c.emit(&ir.RawCpp{Code: sb.String()})
	return "(intptr_t)&" + h
}

func itoa(n int) string {
	if n < 0 {
		return "-" + itoa(-n)
	}
	if n < 10 {
		return string(rune('0' + n))
	}
	return itoa(n/10) + string(rune('0'+n%10))
}

// castArg casts one fixed argument to its declared parameter type. Pointer
// targets route through void*: the flat-struct model has no implicit base
// conversion.
func (c *conv) castArg(a StackEntry, sig *cil.TypeSig) string {
	want := c.cppTypeOf(sig)
	if want == "" || a.Expr == "" {
		return a.Expr
	}
	if strings.HasSuffix(want, "*") {
		if a.Expr == "nullptr" || a.CppType == want {
			return a.Expr
		}
		return "(" + want + ")(void*)" + a.Expr
	}
	return a.Expr
}

// castThis casts the receiver to the declaring type's pointer form.
func (c *conv) castThis(this StackEntry, declSig *cil.TypeSig) string {
	declIL := declSig.ILName()
	declCpp := c.mangledTypeName(declSig)
	want := declCpp + "*"

	// Value-type receivers arrive by address already; System.Object and
	// boxed primitives keep the runtime struct pointer.
	if c.l.Mapper.IsValueType(declIL) || c.l.Mapper.IsValueType(declCpp) {
		if this.CppType == want || strings.HasPrefix(this.Expr, "&") {
			return this.Expr
		}
		return "(" + want + ")(void*)" + this.Expr
	}
	if this.CppType == want {
		return this.Expr
	}
	return "(" + want + ")(void*)" + this.Expr
}

// resolveDispatch fills in the virtual-dispatch fields of a Call.
func (c *conv) resolveDispatch(call *ir.Call, ref *cil.MethodRef, declIL string) {
	retCpp := c.cppTypeOf(ref.ReturnType)
	paramTypes := []string{c.mangledTypeName(ref.DeclaringType) + "*"}
	for _, p := range ref.Params {
		paramTypes = append(paramTypes, c.cppTypeOf(p))
	}

	t, cached := c.l.Module.TypeByIL(declIL)
	if cached && t.IsInterface {
		slot := interfaceSlot(t, ref)
		if slot >= 0 {
			call.Dispatch = ir.DispatchInterface
			call.Slot = slot
			call.InterfaceTypeCppName = t.CppName
			call.VTableReturnType = retCpp
			call.VTableParamTypes = paramTypes
		}
		return
	}
	if cached {
		for _, e := range t.VTable {
			if e.Name == ref.Name && vtableParamsMatch(e, ref) {
				call.Dispatch = ir.DispatchClassVTable
				call.Slot = e.Slot
				call.VTableReturnType = retCpp
				call.VTableParamTypes = paramTypes
				return
			}
		}
	}

	// System.Object methods dispatch through the well-known root slots even
	// when the type never made it into the cache.
	wellKnown := map[string]int{"ToString": 0, "Equals": 1, "GetHashCode": 2}
	if slot, ok := wellKnown[ref.Name]; ok {
		call.Dispatch = ir.DispatchClassVTable
		call.Slot = slot
		call.VTableReturnType = retCpp
		call.VTableParamTypes = paramTypes
	}
}

// interfaceSlot scans interface methods in declaration order, skipping
// constructors, matching name and parameter count.
func interfaceSlot(ifc *ir.Type, ref *cil.MethodRef) int {
	slot := 0
	for _, m := range ifc.Methods {
		if m.IsConstructor || m.IsStaticConstructor {
			continue
		}
		if m.Name == ref.Name && len(m.Parameters) == len(ref.Params) {
			return slot
		}
		slot++
	}
	return -1
}

func vtableParamsMatch(e *ir.VTableEntry, ref *cil.MethodRef) bool {
	if e.Target == nil {
		return len(ref.Params) == 0 || (e.Name == "Equals" && len(ref.Params) == 1)
	}
	if len(e.Target.Parameters) != len(ref.Params) {
		return false
	}
	for i, p := range e.Target.Parameters {
		if p.ILType != ref.Params[i].ILName() {
			return false
		}
	}
	return true
}

func (c *conv) isDelegateType(declIL string) bool {
	if t, ok := c.l.Module.TypeByIL(declIL); ok {
		return t.IsDelegate
	}
	if def, ok := c.l.Set.FindType(outerName(declIL)); ok {
		return def.IsDelegate
	}
	return false
}

func outerName(name string) string {
	if i := strings.IndexByte(name, '<'); i > 0 {
		return name[:i]
	}
	return name
}

func (c *conv) lowerDelegateInvoke(ref *cil.MethodRef) {
	raw := c.popN(len(ref.Params))
	args := make([]string, len(raw))
	for i, a := range raw {
		args[i] = c.castArg(a, ref.Params[i])
	}
	del := c.pop()

	retCpp := c.cppTypeOf(ref.ReturnType)
	var paramTypes []string
	for _, p := range ref.Params {
		paramTypes = append(paramTypes, c.cppTypeOf(p))
	}
	node := &ir.DelegateInvoke{
		Delegate:   del.Expr,
		Arguments:  args,
		ReturnType: retCpp,
		ParamTypes: paramTypes,
	}
	if retCpp != "void" {
		tmp := c.newTemp(retCpp)
		node.ResultVar = tmp
		node.ResultTypeCpp = retCpp
		c.emit(node)
		c.push(tmp, retCpp)
	} else {
		c.emit(node)
	}
}
