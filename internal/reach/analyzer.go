// Package reach computes the reachable-type and reachable-method sets: the
// least fixed point of the transitive call/field/type-reference closure from
// a seed set, extended with virtual-method overrides of every dispatched
// slot.
package reach

import (
	"sort"
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
)

// Result holds the two fixpoint sets.
type Result struct {
	Types   map[string]*cil.TypeDef   // keyed by IL full name
	Methods map[string]*cil.MethodDef // keyed by method identity
}

// SortedMethods returns the reachable methods in identity order.
func (r *Result) SortedMethods() []*cil.MethodDef {
	ids := make([]string, 0, len(r.Methods))
	for id := range r.Methods {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*cil.MethodDef, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.Methods[id])
	}
	return out
}

// Analyzer runs the worklist fixpoint over one assembly set.
type Analyzer struct {
	set *cil.AssemblySet

	types   map[string]*cil.TypeDef
	methods map[string]*cil.MethodDef

	// processed guards each body against re-scan; once a method is
	// processed it is never revisited.
	processed map[string]bool

	worklist []*cil.MethodDef

	// dispatched records every virtual slot that has been called, as
	// "name/paramCount". New reachable types are swept against it.
	dispatched map[string]bool

	// constrainedType carries the operand of a constrained. prefix to the
	// callvirt that follows it.
	constrainedType *cil.TypeSig
}

// New creates an analyzer over the assembly set.
func New(set *cil.AssemblySet) *Analyzer {
	return &Analyzer{
		set:        set,
		types:      make(map[string]*cil.TypeDef),
		methods:    make(map[string]*cil.MethodDef),
		processed:  make(map[string]bool),
		dispatched: make(map[string]bool),
	}
}

// Run seeds the worklist and drives it to fixpoint. With an entry point the
// seed is that method alone; in library mode every public or protected
// method of every public type; in forced-library mode every method of every
// non-module type.
func (a *Analyzer) Run(entry *cil.MethodDef, libraryMode, forceLibrary bool) *Result {
	// Building the set's type index wires every method's declaring-type
	// back-reference, which seeding and method identities depend on.
	a.set.AllTypes()

	switch {
	case entry != nil:
		a.seedMethod(entry)
	case forceLibrary:
		for _, t := range a.set.AllTypes() {
			if excluded(t.FullName) {
				continue
			}
			for _, m := range t.Methods {
				a.seedMethod(m)
			}
		}
	case libraryMode:
		for _, t := range a.set.AllTypes() {
			if excluded(t.FullName) {
				continue
			}
			for _, m := range t.Methods {
				if m.IsPublic {
					a.seedMethod(m)
				}
			}
		}
	}

	for len(a.worklist) > 0 {
		m := a.worklist[0]
		a.worklist = a.worklist[1:]
		a.processBody(m)
	}

	return &Result{Types: a.types, Methods: a.methods}
}

// excluded applies the boundary filter: the compiler-generated <Module> type
// and the void primitive never enter the reachable set. Everything else,
// BCL included, compiles from its IL.
func excluded(fullName string) bool {
	return fullName == "<Module>" || fullName == "System.Void" || fullName == ""
}

func (a *Analyzer) seedMethod(m *cil.MethodDef) {
	if m == nil {
		return
	}
	id := m.Identity()
	if _, ok := a.methods[id]; ok {
		return
	}
	a.methods[id] = m
	if m.DeclaringType != nil {
		a.markType(m.DeclaringType)
	}
	a.worklist = append(a.worklist, m)

	if m.IsVirtual {
		slot := slotKey(m.Name, len(m.Params))
		if !a.dispatched[slot] {
			a.dispatched[slot] = true
			a.sweepOverrides(slot)
		}
	}
}

func slotKey(name string, paramCount int) string {
	return name + "/" + itoa(paramCount)
}

func itoa(n int) string {
	digits := "0123456789"
	if n < 10 {
		return digits[n : n+1]
	}
	return itoa(n/10) + digits[n%10:n%10+1]
}

// sweepOverrides seeds every already-reachable type's override of a newly
// dispatched slot.
func (a *Analyzer) sweepOverrides(slot string) {
	names := make([]string, 0, len(a.types))
	for n := range a.types {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		a.seedSlotOn(a.types[n], slot)
	}
}

func (a *Analyzer) seedSlotOn(t *cil.TypeDef, slot string) {
	for _, m := range t.Methods {
		if m.IsVirtual && slotKey(m.Name, len(m.Params)) == slot {
			a.seedMethod(m)
		}
	}
}

// markType makes a type reachable: base, interfaces, static constructor,
// finalizer and field types follow recursively, then the type is swept for
// overrides of every slot dispatched so far.
func (a *Analyzer) markType(t *cil.TypeDef) {
	if t == nil || excluded(t.FullName) {
		return
	}
	if _, ok := a.types[t.FullName]; ok {
		return
	}
	a.types[t.FullName] = t

	if t.BaseTypeName != "" {
		a.markTypeName(t.BaseTypeName)
	}
	for _, ifc := range t.InterfaceNames {
		a.markTypeName(ifc)
	}
	if cctor := t.StaticConstructor(); cctor != nil {
		a.seedMethod(cctor)
	}
	if fin := t.Finalizer(); fin != nil {
		a.seedMethod(fin)
	}
	for _, f := range t.Fields {
		a.markTypeName(f.TypeName)
	}

	slots := make([]string, 0, len(a.dispatched))
	for s := range a.dispatched {
		slots = append(slots, s)
	}
	sort.Strings(slots)
	for _, s := range slots {
		a.seedSlotOn(t, s)
	}
}

// markTypeName resolves an IL type name and marks it; unresolved names are
// skipped silently, missing BCL entries are routine.
func (a *Analyzer) markTypeName(name string) {
	sig := cil.ParseSig(name)
	a.markSig(sig)
}

func (a *Analyzer) markSig(sig *cil.TypeSig) {
	if sig == nil {
		return
	}
	if sig.Element != nil {
		a.markSig(sig.Element)
	}
	for _, arg := range sig.Args {
		a.markSig(arg)
	}
	if sig.Kind == cil.SigGenericParam {
		return
	}
	if t, ok := a.set.FindType(sig.OpenName()); ok {
		a.markType(t)
	}
}

// processBody scans one method body's instructions. Method references seed
// their target; type references mark the type; field references mark both
// declaring and field type.
func (a *Analyzer) processBody(m *cil.MethodDef) {
	id := m.Identity()
	if a.processed[id] {
		return
	}
	a.processed[id] = true
	if m.Body == nil {
		return
	}

	for _, local := range m.Body.Locals {
		a.markTypeName(local.TypeName)
	}
	for _, p := range m.Params {
		a.markTypeName(p.TypeName)
	}
	a.markTypeName(m.ReturnType)

	a.constrainedType = nil
	for _, ins := range m.Body.Instructions {
		if ins.OpCode == cil.OpConstrained {
			if op, ok := ins.Operand.(*cil.TypeRefOperand); ok {
				a.constrainedType = op.Sig
			}
			continue
		}
		switch op := ins.Operand.(type) {
		case *cil.MethodRef:
			a.seedMethodRef(op)
			if a.constrainedType != nil && (ins.OpCode == cil.OpCallvirt || ins.OpCode == cil.OpCall) {
				a.seedConstrained(a.constrainedType, op)
			}
		case *cil.FieldRef:
			a.markSig(op.DeclaringType)
			a.markSig(op.FieldType)
		case *cil.TypeRefOperand:
			a.markSig(op.Sig)
		case *cil.TokenOperand:
			a.markSig(op.Type)
			if op.Field != nil {
				a.markSig(op.Field.DeclaringType)
			}
			if op.Method != nil {
				a.seedMethodRef(op.Method)
			}
		}
		if ins.OpCode != cil.OpConstrained {
			a.constrainedType = nil
		}
	}

	for _, region := range m.Body.Regions {
		if region.CatchType != "" {
			a.markTypeName(region.CatchType)
		}
	}
}

func (a *Analyzer) seedMethodRef(ref *cil.MethodRef) {
	a.markSig(ref.DeclaringType)
	a.markSig(ref.ReturnType)
	for _, p := range ref.Params {
		a.markSig(p)
	}
	for _, g := range ref.GenericArgs {
		a.markSig(g)
	}
	if target, ok := a.set.ResolveMethod(ref); ok {
		a.seedMethod(target)
	}
}

// seedConstrained resolves explicit interface implementations on the
// constrained type. The match is by exact name or by suffix after the last
// dot, which catches explicit implementations spelled
// "Namespace.IFace<T>.MethodName".
func (a *Analyzer) seedConstrained(constrained *cil.TypeSig, ref *cil.MethodRef) {
	t, ok := a.set.FindType(constrained.OpenName())
	if !ok {
		return
	}
	a.markType(t)
	for _, m := range t.Methods {
		if m.Name == ref.Name {
			a.seedMethod(m)
			continue
		}
		if dot := strings.LastIndexByte(m.Name, '.'); dot >= 0 && m.Name[dot+1:] == ref.Name {
			a.seedMethod(m)
		}
	}
}
