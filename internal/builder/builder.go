// Package builder drives the IR pipeline: reachability, generic
// monomorphization, type building, body lowering and the synthesis passes,
// in the fixed order the data dependencies require.
package builder

import (
	"sort"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/config"
	"github.com/axiomates/cil2cpp/internal/diag"
	"github.com/axiomates/cil2cpp/internal/generics"
	"github.com/axiomates/cil2cpp/internal/icalls"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/lower"
	"github.com/axiomates/cil2cpp/internal/names"
	"github.com/axiomates/cil2cpp/internal/reach"
	"github.com/axiomates/cil2cpp/internal/typebuild"
)

// Builder owns every cache and collaborator for one compilation.
type Builder struct {
	Set    *cil.AssemblySet
	Cfg    *config.Config
	Mapper *names.Mapper
	Module *ir.Module
	ICalls *icalls.Registry
	Engine *generics.Engine
	Types  *typebuild.Builder
	Lower  *lower.Lowerer
	Diags  *diag.Collector

	reachable *reach.Result

	// bodies pairs every Pass 3 shell with its definition for Pass 6.
	bodies []bodyEntry
}

type bodyEntry struct {
	meth *ir.Method
	def  *cil.MethodDef
}

// New wires a builder over an assembly set and configuration.
func New(set *cil.AssemblySet, cfg *config.Config) *Builder {
	if cfg == nil {
		cfg = config.Default()
	}
	b := &Builder{
		Set:    set,
		Cfg:    cfg,
		Mapper: names.New(),
		Module: ir.NewModule(),
		ICalls: icalls.New(),
		Diags:  diag.NewCollector(),
	}
	b.Engine = generics.NewEngine(set, b.Mapper, b.Module, b.Diags)
	b.Engine.ExtraFilters = cfg.ExtraFilteredNamespaces
	b.Engine.NeedsStub = b.needsStub
	b.Engine.HasICall = func(declIL, name string, arity int) bool {
		_, ok := b.ICalls.Lookup(declIL, name, arity)
		return ok
	}
	b.Engine.BuildShell = b.BuildMethodShell
	b.Types = typebuild.New(set, b.Module, b.Mapper, b.Diags)
	b.Lower = &lower.Lowerer{
		Set:    set,
		Mapper: b.Mapper,
		Module: b.Module,
		ICalls: b.ICalls,
		Engine: b.Engine,
		Diags:  b.Diags,
	}
	return b
}

// Build runs the whole pipeline and returns the finished module. The
// pipeline never fails: unresolved metadata degrades to skips and stubs and
// the downstream C++ compile is the final validator.
func (b *Builder) Build() *ir.Module {
	entry := b.Set.EntryPoint()
	if b.Cfg.LibraryMode || b.Cfg.ForceLibraryMode {
		entry = nil
	}
	b.reachable = reach.New(b.Set).Run(entry, b.Cfg.LibraryMode, b.Cfg.ForceLibraryMode)
	b.Engine.IsReachable = func(def *cil.MethodDef) bool {
		_, ok := b.reachable.Methods[def.Identity()]
		return ok
	}

	// Pass 0: scan reachable methods for generic instantiations.
	for _, m := range b.reachable.SortedMethods() {
		b.Engine.ScanMethod(m)
	}

	// Pass 1: shells for reachable non-generic types. Open generic
	// definitions never emit.
	defs := b.sortedReachableTypes()
	for _, def := range defs {
		if len(def.GenericParams) > 0 {
			continue
		}
		b.createTypeShell(def)
	}

	// Pass 1.5: closed generic specializations, nested expansion and
	// transitive discovery, to fixpoint.
	for {
		n := b.Engine.CreateSpecializations()
		n += b.Engine.CreateNestedSpecializations()
		n += b.Engine.DiscoverTransitive()
		n += b.Engine.CreateSpecializations()
		if n == 0 {
			break
		}
	}

	// Pass 2: details and cross-links.
	for _, def := range defs {
		if len(def.GenericParams) > 0 {
			continue
		}
		if t, ok := b.Module.TypeByIL(def.FullName); ok {
			b.populateTypeDetails(t, def)
		}
	}
	b.linkTypes()

	// Pass 3: method shells for reachable methods of non-generic types.
	b.createMethodShells(entry)

	// Pass 3.2: first external-enum discovery and pointer-level fixup.
	b.Types.FixupExternalEnums()

	// Pass 3.3: overload disambiguation, before any body exists.
	b.disambiguateOverloads()

	// Pass 3.5: generic method specializations.
	b.Engine.CreateMethodSpecializations()

	// Pass 4: physical layout, then vtables base-first.
	b.linkTypes()
	b.Types.LayoutAll()
	b.Types.BuildAllVTables()

	// Pass 5: interface dispatch tables.
	b.Types.BuildAllInterfaceTables()

	// Pass 6: lower reachable bodies.
	for _, e := range b.bodies {
		if e.meth.HasICallMapping || e.meth.IsAbstract {
			continue
		}
		if b.needsStub(e.def) {
			b.Diags.WarnOnce("builder", e.def.Identity(),
				"stubbing %s: body depends on CLR-internal types", e.def.Identity())
			applyStub(e.meth)
			continue
		}
		b.Lower.LowerBody(e.meth, e.def, nil)
	}

	// Pass 6.5: deferred generic bodies, now that disambiguation is final.
	// Lowering can register further specializations; drain until stable.
	for done := 0; done < len(b.Engine.Deferred); {
		queue := b.Engine.Deferred[done:]
		done = len(b.Engine.Deferred)
		for _, d := range queue {
			b.Lower.LowerBody(d.Method, d.Def, d.Map)
		}
		b.Engine.CreateMethodSpecializations()
	}

	// Pass 6.6: enums first surfaced inside specialization bodies.
	b.Types.FixupExternalEnums()

	// Pass 7: record member synthesis.
	b.synthesizeRecordMethods()

	b.Module.ExternalEnums = b.Mapper.ExternalEnums()
	return b.Module
}

func (b *Builder) sortedReachableTypes() []*cil.TypeDef {
	names := make([]string, 0, len(b.reachable.Types))
	for n := range b.reachable.Types {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*cil.TypeDef, 0, len(names))
	for _, n := range names {
		out = append(out, b.reachable.Types[n])
	}
	return out
}

// createMethodShells is Pass 3: one shell per reachable method of a
// non-generic type. Generic methods wait for Pass 3.5; methods of open
// generic types were handled per specialization in Pass 1.5.
func (b *Builder) createMethodShells(entry *cil.MethodDef) {
	for _, def := range b.reachable.SortedMethods() {
		declaring := def.DeclaringType
		if declaring == nil || len(declaring.GenericParams) > 0 || len(def.GenericParams) > 0 {
			continue
		}
		owner, ok := b.Module.TypeByIL(declaring.FullName)
		if !ok {
			continue
		}
		cppName := names.MangleMethod(declaring.FullName, def.Name)
		shell := b.BuildMethodShell(def, owner, nil, cppName)
		owner.Methods = append(owner.Methods, shell)

		if _, icall := b.ICalls.Lookup(declaring.FullName, def.Name, len(def.Params)); icall {
			shell.HasICallMapping = true
		}
		if def == entry {
			shell.IsEntryPoint = true
			b.Module.EntryPoint = shell
		}
		if def.Body != nil && !shell.HasICallMapping {
			b.bodies = append(b.bodies, bodyEntry{meth: shell, def: def})
		}
	}
}
