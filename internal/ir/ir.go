// Package ir defines the C++-oriented intermediate representation produced
// by the builder and consumed by the emitter.
//
// Ownership follows the module downward: the Module owns its Types, a Type
// owns its Fields and Methods, a Method owns its BasicBlocks and their
// Instructions. Cross-links (base type, field type, vtable targets,
// interface-impl targets) are non-owning pointers resolved by identity
// within the module; they are back-filled after shell creation to break the
// cycles between mutually referencing types.
package ir

import "sort"

// Module is the top-level IR container.
type Module struct {
	Types []*Type

	// EntryPoint references the program entry method, nil in library mode.
	EntryPoint *Method

	// StringLiterals interns every ldstr value to an emitted identifier.
	StringLiterals map[string]string

	// StaticBlobs holds array-initializer data referenced by ldtoken.
	StaticBlobs []StaticBlob

	// PrimitiveTypeInfos lists the C++ primitive names needing TypeInfo
	// entries in the emitter preamble.
	PrimitiveTypeInfos map[string]bool

	// ExternalEnums maps mangled enum names discovered outside the compiled
	// set to their underlying C++ integer type.
	ExternalEnums map[string]string

	// Disambiguation maps "mangledName|ILParamSig" to the final method name
	// for overloads whose basic mangling collides.
	Disambiguation map[string]string

	typesByIL map[string]*Type
}

// StaticBlob is one array-initializer byte blob.
type StaticBlob struct {
	Name string
	Data []byte
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{
		StringLiterals:     make(map[string]string),
		PrimitiveTypeInfos: make(map[string]bool),
		ExternalEnums:      make(map[string]string),
		Disambiguation:     make(map[string]string),
		typesByIL:          make(map[string]*Type),
	}
}

// AddType registers a type under its IL full name.
func (m *Module) AddType(t *Type) {
	if _, exists := m.typesByIL[t.ILFullName]; exists {
		return
	}
	m.Types = append(m.Types, t)
	m.typesByIL[t.ILFullName] = t
}

// TypeByIL looks a type up by IL full name.
func (m *Module) TypeByIL(name string) (*Type, bool) {
	t, ok := m.typesByIL[name]
	return t, ok
}

// TypeByCpp looks a type up by mangled C++ name. Linear; used only by the
// enum fixup and tests.
func (m *Module) TypeByCpp(name string) (*Type, bool) {
	for _, t := range m.Types {
		if t.CppName == name {
			return t, true
		}
	}
	return nil, false
}

// InternString interns a string literal and returns its identifier.
func (m *Module) InternString(value string) string {
	if id, ok := m.StringLiterals[value]; ok {
		return id
	}
	id := "str_lit_" + itoa(len(m.StringLiterals))
	m.StringLiterals[value] = id
	return id
}

// AddBlob registers an array-initializer blob and returns its identifier.
func (m *Module) AddBlob(data []byte) string {
	name := "blob_" + itoa(len(m.StaticBlobs))
	m.StaticBlobs = append(m.StaticBlobs, StaticBlob{Name: name, Data: data})
	return name
}

// SortedTypes returns the module's types ordered by IL full name, used for
// deterministic dumps.
func (m *Module) SortedTypes() []*Type {
	out := make([]*Type, len(m.Types))
	copy(out, m.Types)
	sort.Slice(out, func(i, j int) bool { return out[i].ILFullName < out[j].ILFullName })
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Type is one emitted C++ struct plus its dispatch metadata.
type Type struct {
	ILFullName string
	CppName    string
	Namespace  string
	Name       string

	IsValueType       bool
	IsInterface       bool
	IsAbstract        bool
	IsSealed          bool
	IsEnum            bool
	IsDelegate        bool
	IsRecord          bool
	IsRuntimeProvided bool
	IsPrimitive       bool
	IsGenericInstance bool
	HasCctor          bool

	Base       *Type
	BaseILName string

	Interfaces []string

	Fields       []*Field
	StaticFields []*Field
	Methods      []*Method

	VTable         []*VTableEntry
	InterfaceImpls []*InterfaceImpl

	Finalizer *Method

	// ExplicitSize carries ClassLayout metadata; 0 when unspecified.
	ExplicitSize int

	// InstanceSize is the computed total byte size, 8-byte aligned.
	InstanceSize int

	// EnumUnderlying is the underlying C++ integer type for enums.
	EnumUnderlying string

	// TypeArguments / Variance are set for generic instances.
	TypeArguments []string
	Variance      []string
}

// MethodByName returns the first method with the given IL name.
func (t *Type) MethodByName(name string) *Method {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Field is one instance or static field.
type Field struct {
	Name     string
	CppName  string
	TypeName string // IL name, unresolved
	CppType  string
	Type     *Type // back-reference, may be nil
	IsStatic bool
	IsPublic bool

	ConstantValue any

	Offset     int
	Attributes uint32

	Declaring *Type
}

// Parameter is one method parameter.
type Parameter struct {
	Index   int
	CppName string
	ILType  string
	CppType string
}

// Local is one declared local slot.
type Local struct {
	Index   int
	CppName string
	ILType  string
	CppType string
}

// Method is one emitted C++ function.
type Method struct {
	Name    string
	CppName string

	Declaring *Type

	ReturnType string // C++ spelling

	IsStatic            bool
	IsVirtual           bool
	IsAbstract          bool
	IsNewSlot           bool
	IsConstructor       bool
	IsStaticConstructor bool
	IsInternalCall      bool
	IsFinalizer         bool
	IsEntryPoint        bool
	IsGenericInstance   bool
	HasICallMapping     bool

	Parameters []*Parameter
	Locals     []*Local
	Blocks     []*BasicBlock

	// VTableSlot is -1 for non-virtual methods.
	VTableSlot int

	ExplicitOverrides []OverrideRef

	// TempVarTypes records the C++ type of every __tN temporary so the
	// emitter can pre-declare temps that cross block scopes.
	TempVarTypes map[string]string
}

// OverrideRef names one explicit .override target.
type OverrideRef struct {
	InterfaceILName string
	MethodName      string
}

// BasicBlock is a run of instructions starting at a branch target.
type BasicBlock struct {
	ID           int
	Instructions []Instruction
}

// Append adds an instruction to the block.
func (b *BasicBlock) Append(ins Instruction) {
	b.Instructions = append(b.Instructions, ins)
}

// VTableEntry is one virtual dispatch slot.
type VTableEntry struct {
	Slot   int
	Name   string
	Target *Method // nil for inherited-unoverridden root slots
	Decl   *Type
}

// InterfaceImpl is one interface dispatch table: a concrete method per
// interface slot, positionally aligned, nil where no implementation exists.
type InterfaceImpl struct {
	Interface *Type
	Methods   []*Method
}
