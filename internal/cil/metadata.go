// Package cil models the .NET assembly metadata the IR builder consumes.
//
// The package is the boundary to the external assembly reader: it defines the
// typed shape of assemblies, type definitions, method bodies and IL
// instruction operands, plus a loader for the reader's serialized metadata
// snapshot. Reference resolution is best-effort; a reference into an assembly
// the reader did not load resolves to (nil, false) and callers are expected
// to skip it.
package cil

import "sort"

// AssemblyKind classifies a loaded assembly.
type AssemblyKind int

const (
	// AssemblyUser is the assembly set's root assembly and its project siblings.
	AssemblyUser AssemblyKind = iota

	// AssemblyBCL is a platform assembly (System.Private.CoreLib and friends).
	AssemblyBCL

	// AssemblyThirdParty is any other referenced assembly.
	AssemblyThirdParty
)

// AssemblySet is the root container handed over by the assembly reader.
// It owns every loaded assembly plus a flat type index across all of them.
type AssemblySet struct {
	// Root is the name of the assembly compilation starts from.
	Root string

	// Assemblies maps assembly name to its loaded metadata.
	Assemblies map[string]*Assembly

	// Kinds labels each assembly as user/BCL/third-party.
	Kinds map[string]AssemblyKind

	typeIndex map[string]*TypeDef
}

// Assembly is one loaded assembly's metadata.
type Assembly struct {
	Name  string
	Types []*TypeDef

	// EntryPoint is the assembly's entry method, nil for libraries.
	EntryPoint *MethodDef
}

// GenericParam describes one generic parameter declared on a type or method.
type GenericParam struct {
	Name     string
	Variance string // "", "in", "out"

	HasStructConstraint bool
	HasClassConstraint  bool
	HasNewConstraint    bool

	// ConstraintTypes are IL full names of base-class/interface constraints.
	ConstraintTypes []string
}

// TypeDef is one type definition as supplied by the reader.
// Nested types use the IL convention "Declaring/Nested" in FullName.
type TypeDef struct {
	FullName  string
	Namespace string
	Name      string

	IsValueType bool
	IsInterface bool
	IsAbstract  bool
	IsSealed    bool
	IsEnum      bool
	IsDelegate  bool
	IsRecord    bool

	// BaseTypeName is the IL full name of the base type, "" for System.Object
	// itself and for interfaces.
	BaseTypeName string

	InterfaceNames []string

	Fields  []*FieldDef
	Methods []*MethodDef

	GenericParams []GenericParam

	// ExplicitSize is the ClassLayout size in bytes, 0 when unspecified.
	ExplicitSize int

	// EnumUnderlying is the IL name of the enum's value__ type, "" otherwise.
	EnumUnderlying string

	Assembly *Assembly
}

// IsNested reports whether the type is declared inside another type.
func (t *TypeDef) IsNested() bool {
	for i := 0; i < len(t.FullName); i++ {
		if t.FullName[i] == '/' {
			return true
		}
	}
	return false
}

// DeclaringName returns the IL full name of the enclosing type for nested
// types, "" otherwise.
func (t *TypeDef) DeclaringName() string {
	for i := len(t.FullName) - 1; i >= 0; i-- {
		if t.FullName[i] == '/' {
			return t.FullName[:i]
		}
	}
	return ""
}

// StaticConstructor returns the type's .cctor if it has one.
func (t *TypeDef) StaticConstructor() *MethodDef {
	for _, m := range t.Methods {
		if m.IsStaticConstructor {
			return m
		}
	}
	return nil
}

// Finalizer returns the type's Finalize override if it has one.
func (t *TypeDef) Finalizer() *MethodDef {
	for _, m := range t.Methods {
		if m.Name == "Finalize" && m.IsVirtual && !m.IsStatic && len(m.Params) == 0 {
			return m
		}
	}
	return nil
}

// FieldDef is one field definition.
type FieldDef struct {
	Name     string
	TypeName string // unresolved IL type name
	IsStatic bool
	IsPublic bool

	// ConstantValue holds literal-field values (enum members, const fields).
	ConstantValue any

	Attributes uint32

	// InitialValue is the RVA-backed blob for fields with field-init data
	// (array initializers).
	InitialValue []byte

	DeclaringType *TypeDef
}

// ParamDef is one declared method parameter.
type ParamDef struct {
	Name     string
	TypeName string
}

// LocalDef is one method-body local variable slot.
type LocalDef struct {
	TypeName string
	IsPinned bool
}

// ExceptionRegion describes one protected region of a method body.
type ExceptionRegion struct {
	Kind         string // "catch", "finally", "filter", "fault"
	TryStart     int    // IL offsets
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
	CatchType    string // IL full name, "" for finally/fault
}

// MethodBody is an IL method body.
type MethodBody struct {
	Locals       []LocalDef
	Instructions []Instruction
	Regions      []ExceptionRegion
}

// OverrideTarget is one explicit .override directive.
type OverrideTarget struct {
	InterfaceName string // IL full name of the interface (or base) type
	MethodName    string
}

// MethodDef is one method definition.
type MethodDef struct {
	Name string

	IsStatic            bool
	IsVirtual           bool
	IsAbstract          bool
	IsNewSlot           bool
	IsConstructor       bool
	IsStaticConstructor bool
	IsInternalCall      bool
	IsPublic            bool

	ReturnType string // IL name
	Params     []ParamDef

	GenericParams []GenericParam

	Overrides []OverrideTarget

	Body *MethodBody

	DeclaringType *TypeDef
}

// Identity returns the method's stable identity string used by worklists:
// declaring full name, method name and the parameter-type signature, so
// overloads stay distinct.
func (m *MethodDef) Identity() string {
	decl := ""
	if m.DeclaringType != nil {
		decl = m.DeclaringType.FullName
	}
	sig := ""
	for i, p := range m.Params {
		if i > 0 {
			sig += ","
		}
		sig += p.TypeName
	}
	return decl + "::" + m.Name + "(" + sig + ")"
}

// buildIndex populates the cross-assembly type index.
func (s *AssemblySet) buildIndex() {
	s.typeIndex = make(map[string]*TypeDef)
	for _, asm := range s.Assemblies {
		for _, t := range asm.Types {
			t.Assembly = asm
			for _, m := range t.Methods {
				m.DeclaringType = t
			}
			for _, f := range t.Fields {
				f.DeclaringType = t
			}
			// The root assembly wins on duplicate names (type forwarders).
			if _, exists := s.typeIndex[t.FullName]; !exists || asm.Name == s.Root {
				s.typeIndex[t.FullName] = t
			}
		}
	}
}

// FindType resolves an IL full name to its definition.
func (s *AssemblySet) FindType(fullName string) (*TypeDef, bool) {
	if s.typeIndex == nil {
		s.buildIndex()
	}
	t, ok := s.typeIndex[fullName]
	return t, ok
}

// AllTypes returns every loaded type in deterministic (name-sorted) order.
func (s *AssemblySet) AllTypes() []*TypeDef {
	if s.typeIndex == nil {
		s.buildIndex()
	}
	names := make([]string, 0, len(s.typeIndex))
	for name := range s.typeIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*TypeDef, 0, len(names))
	for _, name := range names {
		out = append(out, s.typeIndex[name])
	}
	return out
}

// EntryPoint returns the root assembly's entry method, nil in library mode.
func (s *AssemblySet) EntryPoint() *MethodDef {
	asm, ok := s.Assemblies[s.Root]
	if !ok {
		return nil
	}
	return asm.EntryPoint
}

// ResolveMethod resolves a method reference to its definition. Generic
// instance references resolve to the open definition; argument binding is the
// monomorphizer's job.
func (s *AssemblySet) ResolveMethod(ref *MethodRef) (*MethodDef, bool) {
	if ref == nil || ref.DeclaringType == nil {
		return nil, false
	}
	t, ok := s.FindType(ref.DeclaringType.OpenName())
	if !ok {
		return nil, false
	}
	return s.findMethodOn(t, ref)
}

func (s *AssemblySet) findMethodOn(t *TypeDef, ref *MethodRef) (*MethodDef, bool) {
	for cur := t; cur != nil; {
		// Exact parameter-type match first so overloads resolve precisely;
		// arity match as the fallback when the reference carries generic or
		// re-spelled parameter types.
		var arityMatch *MethodDef
		for _, m := range cur.Methods {
			if m.Name != ref.Name || len(m.Params) != len(ref.Params) {
				continue
			}
			if arityMatch == nil {
				arityMatch = m
			}
			exact := true
			for i, p := range m.Params {
				if p.TypeName != ref.Params[i].ILName() {
					exact = false
					break
				}
			}
			if exact {
				return m, true
			}
		}
		if arityMatch != nil {
			return arityMatch, true
		}
		if cur.BaseTypeName == "" {
			break
		}
		next, ok := s.FindType(outerName(cur.BaseTypeName))
		if !ok {
			break
		}
		cur = next
	}
	return nil, false
}

// ResolveField resolves a field reference to its definition.
func (s *AssemblySet) ResolveField(ref *FieldRef) (*FieldDef, bool) {
	if ref == nil || ref.DeclaringType == nil {
		return nil, false
	}
	t, ok := s.FindType(ref.DeclaringType.OpenName())
	if !ok {
		return nil, false
	}
	for _, f := range t.Fields {
		if f.Name == ref.Name {
			return f, true
		}
	}
	return nil, false
}

// outerName strips a generic-instance suffix from an IL name, leaving the
// open type name usable as an index key.
func outerName(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '<' {
			return name[:i]
		}
	}
	return name
}
