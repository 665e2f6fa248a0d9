package generics

import (
	"sort"
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/diag"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// TypeInst is one accepted closed-type instantiation.
type TypeInst struct {
	Key      string // "Open`n<arg1,arg2>"
	OpenName string
	Args     []string
	CppName  string

	// Filled on materialization.
	Type    *ir.Type
	OpenDef *cil.TypeDef
	Map     *TypeParamMap
}

// MethodInst is one accepted closed-method instantiation. The key includes
// the IL parameter signature so overloads sharing generic arguments stay
// distinct.
type MethodInst struct {
	Key     string
	Ref     *cil.MethodRef
	CppName string

	Method  *ir.Method
	OpenDef *cil.MethodDef
	Map     *TypeParamMap
}

// DeferredBody is a specialization body queued for conversion after overload
// disambiguation; converting earlier would bake pre-disambiguation names
// into call sites.
type DeferredBody struct {
	Method *ir.Method
	Def    *cil.MethodDef
	Map    *TypeParamMap
}

// Engine owns the instantiation registry and drives scanning, filtering and
// materialization. Policy hooks (stub detection, icall lookup, reachability)
// are injected by the driver so the engine stays free of pass ordering.
type Engine struct {
	Set    *cil.AssemblySet
	Mapper *names.Mapper
	Module *ir.Module
	Diags  *diag.Collector

	// ExtraFilters extends the namespace filter from configuration.
	ExtraFilters []string

	// NeedsStub reports whether a method body depends on CLR internals.
	NeedsStub func(*cil.MethodDef) bool

	// HasICall reports whether an icall mapping covers the method.
	HasICall func(declaringIL, methodName string, arity int) bool

	// IsReachable reports whether the open method was reached; bodies of
	// unreachable non-fundamental methods are skipped.
	IsReachable func(*cil.MethodDef) bool

	// BuildShell creates the IR method shell for a specialized method; the
	// driver supplies it so shell construction is shared with Pass 3.
	BuildShell func(def *cil.MethodDef, owner *ir.Type, tpm *TypeParamMap, cppName string) *ir.Method

	typeInsts   map[string]*TypeInst
	typeOrder   []string
	methodInsts map[string]*MethodInst
	methodOrder []string

	Deferred []*DeferredBody
}

// NewEngine creates an empty engine.
func NewEngine(set *cil.AssemblySet, mapper *names.Mapper, module *ir.Module, diags *diag.Collector) *Engine {
	return &Engine{
		Set:         set,
		Mapper:      mapper,
		Module:      module,
		Diags:       diags,
		typeInsts:   make(map[string]*TypeInst),
		methodInsts: make(map[string]*MethodInst),
	}
}

// TypeInstByKey returns a registered type instantiation.
func (e *Engine) TypeInstByKey(key string) (*TypeInst, bool) {
	inst, ok := e.typeInsts[key]
	return inst, ok
}

// MethodInstByKey returns a registered method instantiation.
func (e *Engine) MethodInstByKey(key string) (*MethodInst, bool) {
	inst, ok := e.methodInsts[key]
	return inst, ok
}

// TypeInsts returns all type instantiations in registration order.
func (e *Engine) TypeInsts() []*TypeInst {
	out := make([]*TypeInst, 0, len(e.typeOrder))
	for _, k := range e.typeOrder {
		out = append(out, e.typeInsts[k])
	}
	return out
}

// MethodInsts returns all method instantiations in registration order.
func (e *Engine) MethodInsts() []*MethodInst {
	out := make([]*MethodInst, 0, len(e.methodOrder))
	for _, k := range e.methodOrder {
		out = append(out, e.methodInsts[k])
	}
	return out
}

// ============================================================================
// Pass 0: scanning
// ============================================================================

// ScanMethod inspects one reachable method's signature, locals and operands
// for closed generic instantiations.
func (e *Engine) ScanMethod(def *cil.MethodDef) {
	e.scanName(def.ReturnType)
	for _, p := range def.Params {
		e.scanName(p.TypeName)
	}
	if def.Body == nil {
		return
	}
	for _, l := range def.Body.Locals {
		e.scanName(l.TypeName)
	}
	for _, ins := range def.Body.Instructions {
		switch op := ins.Operand.(type) {
		case *cil.MethodRef:
			e.ScanMethodRef(op)
		case *cil.FieldRef:
			e.scanSig(op.DeclaringType)
			e.scanSig(op.FieldType)
		case *cil.TypeRefOperand:
			e.scanSig(op.Sig)
		case *cil.TokenOperand:
			e.scanSig(op.Type)
		}
	}
}

// ScanMethodRef registers the declaring type, parameter types and — for
// generic instance methods — the method instantiation itself plus its
// generic arguments (which may themselves be generic instances).
func (e *Engine) ScanMethodRef(ref *cil.MethodRef) {
	e.scanSig(ref.DeclaringType)
	e.scanSig(ref.ReturnType)
	for _, p := range ref.Params {
		e.scanSig(p)
	}
	if ref.IsGenericInstance() {
		e.RegisterMethodRef(ref)
	}
}

func (e *Engine) scanName(ilName string) {
	if ilName == "" {
		return
	}
	e.scanSig(cil.ParseSig(ilName))
}

func (e *Engine) scanSig(sig *cil.TypeSig) {
	if sig == nil {
		return
	}
	if sig.Element != nil {
		e.scanSig(sig.Element)
	}
	for _, a := range sig.Args {
		e.scanSig(a)
	}
	if sig.Kind == cil.SigGenericInstance {
		e.RegisterTypeSig(sig)
	}
}

// RegisterTypeSig registers one closed generic instance, applying the filter
// rules. Returns the instantiation key and whether it was accepted.
func (e *Engine) RegisterTypeSig(sig *cil.TypeSig) (string, bool) {
	if sig == nil || sig.Kind != cil.SigGenericInstance {
		return "", false
	}
	if sig.HasGenericParams() {
		return "", false
	}
	if namespaceFiltered(sig.Name, e.ExtraFilters) {
		return "", false
	}
	for _, a := range sig.Args {
		if argFiltered(a.ILName(), e.ExtraFilters) {
			return "", false
		}
	}

	key := sig.ILName()
	if _, exists := e.typeInsts[key]; exists {
		return key, true
	}
	args := make([]string, len(sig.Args))
	for i, a := range sig.Args {
		args[i] = a.ILName()
	}
	inst := &TypeInst{
		Key:      key,
		OpenName: sig.Name,
		Args:     args,
		CppName:  names.Mangle(key),
	}
	e.typeInsts[key] = inst
	e.typeOrder = append(e.typeOrder, key)
	return key, true
}

// MethodKey computes a method instantiation key: declaring type, name,
// generic arguments and the IL parameter signature.
func MethodKey(ref *cil.MethodRef) string {
	var sb strings.Builder
	sb.WriteString(ref.DeclaringType.ILName())
	sb.WriteString("::")
	sb.WriteString(ref.Name)
	sb.WriteByte('<')
	for i, g := range ref.GenericArgs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(g.ILName())
	}
	sb.WriteByte('>')
	sb.WriteByte('(')
	for i, p := range ref.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.ILName())
	}
	sb.WriteByte(')')
	return sb.String()
}

// RegisterMethodRef registers a closed generic method instantiation and its
// generic arguments.
func (e *Engine) RegisterMethodRef(ref *cil.MethodRef) (string, bool) {
	for _, g := range ref.GenericArgs {
		if g.HasGenericParams() {
			return "", false
		}
		if argFiltered(g.ILName(), e.ExtraFilters) {
			return "", false
		}
		if g.Kind == cil.SigGenericInstance {
			e.RegisterTypeSig(g)
		}
	}
	if ref.DeclaringType.HasGenericParams() {
		return "", false
	}
	if namespaceFiltered(ref.DeclaringType.OpenName(), e.ExtraFilters) {
		return "", false
	}

	key := MethodKey(ref)
	if _, exists := e.methodInsts[key]; exists {
		return key, true
	}
	inst := &MethodInst{
		Key:     key,
		Ref:     ref,
		CppName: MangleMethodInst(ref),
	}
	e.methodInsts[key] = inst
	e.methodOrder = append(e.methodOrder, key)
	return key, true
}

// MangleMethodInst computes the basic mangled name of a generic method
// instantiation: Decl_Name_Arg1_Arg2. Overload collisions are resolved later
// by the disambiguation pass.
func MangleMethodInst(ref *cil.MethodRef) string {
	name := names.MangleMethod(ref.DeclaringType.ILName(), ref.Name)
	for _, g := range ref.GenericArgs {
		name += "_" + names.Mangle(g.ILName())
	}
	return name
}

// ============================================================================
// Pass 1.5: materialization
// ============================================================================

// CreateSpecializations materializes every registered type instantiation not
// yet in the module. Returns the number created; the driver loops until the
// count stays zero.
func (e *Engine) CreateSpecializations() int {
	created := 0
	// typeOrder can grow during the loop via transitive registration.
	for i := 0; i < len(e.typeOrder); i++ {
		inst := e.typeInsts[e.typeOrder[i]]
		if inst.Type != nil {
			continue
		}
		if _, exists := e.Module.TypeByIL(inst.Key); exists {
			continue
		}
		if e.materialize(inst) {
			created++
		}
	}
	return created
}

func (e *Engine) materialize(inst *TypeInst) bool {
	openDef, ok := e.Set.FindType(inst.OpenName)
	if !ok {
		// Unresolvable open definition; the invariant allows the key to stay
		// in the registry without a matching type.
		return false
	}
	inst.OpenDef = openDef
	inst.Map = NewTypeParamMap(openDef.GenericParams, inst.Args)

	e.validateConstraints(openDef, inst)

	t := &ir.Type{
		ILFullName:        inst.Key,
		CppName:           inst.CppName,
		Namespace:         openDef.Namespace,
		Name:              openDef.Name,
		IsValueType:       openDef.IsValueType,
		IsInterface:       openDef.IsInterface,
		IsAbstract:        openDef.IsAbstract,
		IsSealed:          openDef.IsSealed,
		IsEnum:            openDef.IsEnum,
		IsDelegate:        openDef.IsDelegate,
		IsRecord:          openDef.IsRecord,
		IsGenericInstance: true,
		HasCctor:          openDef.StaticConstructor() != nil,
		ExplicitSize:      openDef.ExplicitSize,
		TypeArguments:     append([]string(nil), inst.Args...),
	}
	for _, gp := range openDef.GenericParams {
		t.Variance = append(t.Variance, gp.Variance)
	}
	t.BaseILName = SubstituteName(openDef.BaseTypeName, inst.Map)
	for _, ifc := range openDef.InterfaceNames {
		t.Interfaces = append(t.Interfaces, SubstituteName(ifc, inst.Map))
	}

	for _, f := range openDef.Fields {
		field := &ir.Field{
			Name:          f.Name,
			CppName:       "f_" + names.Mangle(f.Name),
			TypeName:      SubstituteName(f.TypeName, inst.Map),
			IsStatic:      f.IsStatic,
			IsPublic:      f.IsPublic,
			ConstantValue: f.ConstantValue,
			Attributes:    f.Attributes,
			Declaring:     t,
		}
		if f.IsStatic {
			t.StaticFields = append(t.StaticFields, field)
		} else {
			t.Fields = append(t.Fields, field)
		}
	}

	if openDef.IsValueType {
		e.Mapper.RegisterValueType(inst.Key)
		e.Mapper.RegisterValueType(inst.CppName)
	}

	e.Module.AddType(t)
	inst.Type = t

	for _, m := range openDef.Methods {
		if len(m.GenericParams) > 0 {
			// Generic methods of a generic type specialize per call site.
			continue
		}
		e.specializeMethod(m, t, inst)
	}
	return true
}

// specializeMethod creates the shell and decides the body's fate: stub,
// defer, or skip.
func (e *Engine) specializeMethod(def *cil.MethodDef, owner *ir.Type, inst *TypeInst) {
	cppName := names.Mangle(inst.Key) + "_" + names.Mangle(methodCppBase(def.Name))
	shell := e.BuildShell(def, owner, inst.Map, cppName)
	owner.Methods = append(owner.Methods, shell)

	switch {
	case e.HasICall != nil && e.HasICall(inst.Key, def.Name, len(def.Params)):
		// The call site routes to the runtime; the body is dead code.
		shell.HasICallMapping = true
	case def.Body == nil:
	case e.NeedsStub != nil && e.NeedsStub(def):
		e.Diags.WarnOnce("generics", inst.OpenName+"::"+def.Name,
			"stubbing %s::%s: body depends on CLR-internal types", inst.Key, def.Name)
		stubBody(shell)
	case e.IsReachable != nil && !e.IsReachable(def) && !isFundamental(inst.OpenName):
	default:
		e.Deferred = append(e.Deferred, &DeferredBody{Method: shell, Def: def, Map: inst.Map})
	}
}

func methodCppBase(name string) string {
	switch name {
	case ".ctor":
		return "ctor"
	case ".cctor":
		return "cctor"
	}
	return name
}

// isFundamental marks open types whose methods always compile regardless of
// observed reachability; Span plumbing is reached through intrinsics the
// scanner cannot see.
func isFundamental(openName string) bool {
	return strings.HasPrefix(openName, "System.Span`") ||
		strings.HasPrefix(openName, "System.ReadOnlySpan`")
}

// stubBody replaces a body with a single default-value return.
func stubBody(m *ir.Method) {
	block := &ir.BasicBlock{ID: 0}
	switch {
	case m.ReturnType == "void":
		block.Append(&ir.Return{})
	case strings.HasSuffix(m.ReturnType, "*"):
		block.Append(&ir.Return{Value: "nullptr"})
	case names.PrimitiveSize(m.ReturnType) > 0:
		block.Append(&ir.Return{Value: "0"})
	default:
		block.Append(&ir.Return{Value: "{}"})
	}
	m.Blocks = []*ir.BasicBlock{block}
}

// validateConstraints checks each generic argument against its parameter's
// declared constraints. Violations warn and never fail; the C++ compiler is
// the final arbiter.
func (e *Engine) validateConstraints(openDef *cil.TypeDef, inst *TypeInst) {
	for i, gp := range openDef.GenericParams {
		if i >= len(inst.Args) {
			break
		}
		arg := inst.Args[i]
		if gp.HasStructConstraint && !e.argIsValueType(arg) {
			e.Diags.Warnf("generics", "",
				"%s: argument %s for %s violates struct constraint", inst.Key, arg, gp.Name)
		}
		if gp.HasClassConstraint && e.argIsValueType(arg) {
			e.Diags.Warnf("generics", "",
				"%s: argument %s for %s violates class constraint", inst.Key, arg, gp.Name)
		}
		if gp.HasNewConstraint {
			if def, ok := e.Set.FindType(outerName(arg)); ok && !def.IsValueType && !hasDefaultCtor(def) {
				e.Diags.Warnf("generics", "",
					"%s: argument %s for %s violates new() constraint", inst.Key, arg, gp.Name)
			}
		}
		for _, c := range gp.ConstraintTypes {
			want := SubstituteName(c, inst.Map)
			if !e.argSatisfies(arg, want) {
				e.Diags.Warnf("generics", "",
					"%s: argument %s for %s does not satisfy constraint %s", inst.Key, arg, gp.Name, want)
			}
		}
	}
}

func (e *Engine) argIsValueType(arg string) bool {
	if names.IsPrimitive(arg) {
		return true
	}
	if def, ok := e.Set.FindType(outerName(arg)); ok {
		return def.IsValueType
	}
	return e.Mapper.IsValueType(arg)
}

func hasDefaultCtor(def *cil.TypeDef) bool {
	for _, m := range def.Methods {
		if m.IsConstructor && len(m.Params) == 0 {
			return true
		}
	}
	return false
}

// argSatisfies walks the argument's base chain and interface list for the
// constraint type. Unresolvable pieces satisfy vacuously.
func (e *Engine) argSatisfies(arg, constraint string) bool {
	if constraint == "" || constraint == "System.Object" || constraint == "System.ValueType" {
		return true
	}
	cur, ok := e.Set.FindType(outerName(arg))
	if !ok {
		return true
	}
	for cur != nil {
		if cur.FullName == outerName(constraint) {
			return true
		}
		for _, ifc := range cur.InterfaceNames {
			if outerName(ifc) == outerName(constraint) {
				return true
			}
		}
		if cur.BaseTypeName == "" {
			break
		}
		next, found := e.Set.FindType(outerName(cur.BaseTypeName))
		if !found {
			return true
		}
		cur = next
	}
	return false
}

func outerName(name string) string {
	if i := strings.IndexByte(name, '<'); i > 0 {
		return name[:i]
	}
	return name
}

// ============================================================================
// Nested-type expansion
// ============================================================================

// CreateNestedSpecializations registers specializations of every nested type
// sharing its parent's generic parameters, for every generic type already in
// the module. Returns the number of new registrations.
func (e *Engine) CreateNestedSpecializations() int {
	added := 0
	for i := 0; i < len(e.typeOrder); i++ {
		inst := e.typeInsts[e.typeOrder[i]]
		if inst.OpenDef == nil {
			continue
		}
		prefix := inst.OpenName + "/"
		for _, nested := range e.nestedOf(prefix) {
			if len(nested.GenericParams) < len(inst.Args) {
				continue
			}
			sig := &cil.TypeSig{Kind: cil.SigGenericInstance, Name: nested.FullName}
			for _, a := range inst.Args {
				sig.Args = append(sig.Args, cil.ParseSig(a))
			}
			key := sig.ILName()
			if _, exists := e.typeInsts[key]; exists {
				continue
			}
			if _, ok := e.RegisterTypeSig(sig); ok {
				added++
			}
		}
	}
	return added
}

func (e *Engine) nestedOf(prefix string) []*cil.TypeDef {
	var out []*cil.TypeDef
	for _, t := range e.Set.AllTypes() {
		if strings.HasPrefix(t.FullName, prefix) {
			out = append(out, t)
		}
	}
	return out
}

// ============================================================================
// Transitive discovery
// ============================================================================

// DiscoverTransitive walks every materialized specialization's open bodies,
// resolves type references still carrying generic parameters through the
// specialization's map, and registers the resulting closed forms. Also scans
// method-level generic arguments. Returns new registrations.
func (e *Engine) DiscoverTransitive() int {
	before := len(e.typeOrder) + len(e.methodOrder)
	for i := 0; i < len(e.typeOrder); i++ {
		inst := e.typeInsts[e.typeOrder[i]]
		if inst.OpenDef == nil || inst.Map == nil {
			continue
		}
		for _, m := range inst.OpenDef.Methods {
			if m.Body == nil {
				continue
			}
			for _, ins := range m.Body.Instructions {
				e.discoverOperand(ins.Operand, inst.Map)
			}
			for _, l := range m.Body.Locals {
				e.discoverSig(cil.ParseSig(l.TypeName), inst.Map)
			}
		}
	}
	return len(e.typeOrder) + len(e.methodOrder) - before
}

func (e *Engine) discoverOperand(op cil.Operand, tpm *TypeParamMap) {
	switch v := op.(type) {
	case *cil.MethodRef:
		e.discoverSig(v.DeclaringType, tpm)
		e.discoverSig(v.ReturnType, tpm)
		for _, p := range v.Params {
			e.discoverSig(p, tpm)
		}
		if v.IsGenericInstance() {
			resolved := &cil.MethodRef{
				DeclaringType: Substitute(v.DeclaringType, tpm),
				Name:          v.Name,
				ReturnType:    Substitute(v.ReturnType, tpm),
				HasThis:       v.HasThis,
			}
			for _, p := range v.Params {
				resolved.Params = append(resolved.Params, Substitute(p, tpm))
			}
			for _, g := range v.GenericArgs {
				resolved.GenericArgs = append(resolved.GenericArgs, Substitute(g, tpm))
			}
			e.RegisterMethodRef(resolved)
		}
	case *cil.FieldRef:
		e.discoverSig(v.DeclaringType, tpm)
		e.discoverSig(v.FieldType, tpm)
	case *cil.TypeRefOperand:
		e.discoverSig(v.Sig, tpm)
	case *cil.TokenOperand:
		e.discoverSig(v.Type, tpm)
	}
}

func (e *Engine) discoverSig(sig *cil.TypeSig, tpm *TypeParamMap) {
	if sig == nil {
		return
	}
	if !sig.HasGenericParams() {
		e.scanSig(sig)
		return
	}
	resolved := Substitute(sig, tpm)
	if resolved.HasGenericParams() {
		return
	}
	e.scanSig(resolved)
}

// ============================================================================
// Pass 3.5: method specializations
// ============================================================================

// CreateMethodSpecializations materializes shells for every registered
// generic method instantiation and queues their bodies. Instantiations whose
// basic mangling collides (same generic arguments, different parameter
// types — GetReference<T>(Span<T>) vs GetReference<T>(ReadOnlySpan<T>))
// receive an IL-parameter suffix and a disambiguation-map entry so call
// sites resolve the right one.
func (e *Engine) CreateMethodSpecializations() {
	defer e.disambiguateMethodInsts()
	keys := append([]string(nil), e.methodOrder...)
	sort.Strings(keys)
	for _, key := range keys {
		inst := e.methodInsts[key]
		if inst.Method != nil {
			continue
		}
		openDef, ok := e.Set.ResolveMethod(inst.Ref)
		if !ok || len(openDef.GenericParams) == 0 {
			continue
		}
		inst.OpenDef = openDef

		base := &TypeParamMap{typeParams: make(map[string]string)}
		declKey := inst.Ref.DeclaringType.ILName()
		if owner, found := e.TypeInstByKey(declKey); found && owner.Map != nil {
			base = &TypeParamMap{typeParams: owner.Map.Bindings()}
		}
		args := make([]string, len(inst.Ref.GenericArgs))
		for i, g := range inst.Ref.GenericArgs {
			args[i] = g.ILName()
		}
		inst.Map = base.WithMethodParams(openDef.GenericParams, args)

		var owner *ir.Type
		if t, found := e.Module.TypeByIL(declKey); found {
			owner = t
		}
		shell := e.BuildShell(openDef, owner, inst.Map, inst.CppName)
		shell.IsGenericInstance = true
		if owner != nil {
			owner.Methods = append(owner.Methods, shell)
		}
		inst.Method = shell

		switch {
		case openDef.Body == nil:
		case e.NeedsStub != nil && e.NeedsStub(openDef):
			stubBody(shell)
		default:
			e.Deferred = append(e.Deferred, &DeferredBody{Method: shell, Def: openDef, Map: inst.Map})
		}
	}
}

// disambiguateMethodInsts resolves post-mangling collisions among method
// specializations, recording every member of a colliding group in the module
// map keyed "base|IL-param-signature".
func (e *Engine) disambiguateMethodInsts() {
	byName := make(map[string][]*MethodInst)
	for _, key := range e.methodOrder {
		inst := e.methodInsts[key]
		if inst.Method == nil {
			continue
		}
		byName[inst.CppName] = append(byName[inst.CppName], inst)
	}
	groups := make([]string, 0, len(byName))
	for name, group := range byName {
		if len(group) > 1 {
			groups = append(groups, name)
		}
	}
	sort.Strings(groups)
	for _, name := range groups {
		for i, inst := range byName[name] {
			base := inst.CppName
			final := base
			if i > 0 {
				final = base + "__" + mangleParamSig(inst.Ref.Params)
			}
			sig := ""
			for j, p := range inst.Ref.Params {
				if j > 0 {
					sig += ","
				}
				sig += p.ILName()
			}
			e.Module.Disambiguation[base+"|"+sig] = final
			inst.CppName = final
			inst.Method.CppName = final
		}
	}
}

func mangleParamSig(params []*cil.TypeSig) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = names.Mangle(p.ILName())
	}
	if len(parts) == 0 {
		return "void"
	}
	return strings.Join(parts, "_")
}
