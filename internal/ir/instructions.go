package ir

// InstrKind discriminates the instruction sum type.
type InstrKind int

const (
	KindAssign InstrKind = iota
	KindBinaryOp
	KindConversion
	KindCall
	KindDelegateInvoke
	KindDelegateCreate
	KindNewObj
	KindInitObj
	KindFieldAccess
	KindStaticFieldAccess
	KindCast
	KindBox
	KindUnbox
	KindRawCpp
	KindCondBranch
	KindReturn
	KindDeclareLocal
	KindStaticCtorGuard
	KindTryBegin
	KindCatchBegin
	KindFinallyBegin
	KindRegionEnd
)

// Instruction is the tagged-variant IR instruction. Every value-producing
// variant carries ResultVar/ResultTypeCpp through an embedded Result.
type Instruction interface {
	Kind() InstrKind
}

// Result is embedded in value-producing instructions.
type Result struct {
	ResultVar     string
	ResultTypeCpp string
}

// Assign stores Value into Target.
type Assign struct {
	Result
	Target string
	Value  string
}

func (*Assign) Kind() InstrKind { return KindAssign }

// BinaryOp computes Left Op Right.
type BinaryOp struct {
	Result
	Op    string
	Left  string
	Right string
}

func (*BinaryOp) Kind() InstrKind { return KindBinaryOp }

// Conversion applies a numeric conversion to Value.
type Conversion struct {
	Result
	Value      string
	TargetType string
	Checked    bool
}

func (*Conversion) Kind() InstrKind { return KindConversion }

// DispatchKind selects how a Call is dispatched.
type DispatchKind int

const (
	DispatchDirect DispatchKind = iota
	DispatchClassVTable
	DispatchInterface
)

// Call invokes a function, either directly or through a dispatch table.
type Call struct {
	Result
	FunctionName string
	Arguments    []string

	Dispatch DispatchKind
	Slot     int

	// VTableReturnType / VTableParamTypes describe the function-pointer cast
	// for table dispatch.
	VTableReturnType string
	VTableParamTypes []string

	// InterfaceTypeCppName is set for interface dispatch.
	InterfaceTypeCppName string
}

func (*Call) Kind() InstrKind { return KindCall }

// DelegateInvoke calls through a delegate value.
type DelegateInvoke struct {
	Result
	Delegate   string
	Arguments  []string
	ReturnType string
	ParamTypes []string
}

func (*DelegateInvoke) Kind() InstrKind { return KindDelegateInvoke }

// DelegateCreate builds a delegate from a target and function pointer.
type DelegateCreate struct {
	Result
	DelegateTypeCpp string
	TargetExpr      string
	FunctionExpr    string
}

func (*DelegateCreate) Kind() InstrKind { return KindDelegateCreate }

// NewObj allocates a reference type and runs its constructor.
type NewObj struct {
	Result
	TypeCppName string
	CtorName    string
	CtorArgs    []string
}

func (*NewObj) Kind() InstrKind { return KindNewObj }

// InitObj zero-initializes a value at an address.
type InitObj struct {
	Addr        string
	TypeCppName string
}

func (*InitObj) Kind() InstrKind { return KindInitObj }

// FieldAccess reads or writes an instance field. StoreValue == "" means a
// load into ResultVar; Accessor is "." or "->" per the value-type rules.
type FieldAccess struct {
	Result
	ObjectExpr  string
	FieldCppName string
	Accessor    string
	CastToType  string
	StoreValue  string
	AddressOf   bool
}

func (*FieldAccess) Kind() InstrKind { return KindFieldAccess }

// StaticFieldAccess reads or writes a static field.
type StaticFieldAccess struct {
	Result
	TypeCppName  string
	FieldCppName string
	StoreValue   string
	AddressOf    bool
}

func (*StaticFieldAccess) Kind() InstrKind { return KindStaticFieldAccess }

// Cast emits a checked or unchecked reference cast.
type Cast struct {
	Result
	Value       string
	TargetType  string
	IsInstTest  bool
}

func (*Cast) Kind() InstrKind { return KindCast }

// Box boxes a value into a heap object.
type Box struct {
	Result
	Value       string
	TypeCppName string
	ValueSize   string
}

func (*Box) Kind() InstrKind { return KindBox }

// Unbox extracts a value (or value pointer) from a boxed object.
type Unbox struct {
	Result
	Value       string
	TypeCppName string
	ToAddress   bool
}

func (*Unbox) Kind() InstrKind { return KindUnbox }

// RawCpp carries a pre-formed C++ statement or expression.
type RawCpp struct {
	Result
	Code string
}

func (*RawCpp) Kind() InstrKind { return KindRawCpp }

// CondBranch branches on a condition. FalseLabel == "" falls through.
type CondBranch struct {
	Condition  string
	TrueLabel  string
	FalseLabel string
}

func (*CondBranch) Kind() InstrKind { return KindCondBranch }

// Goto is modeled as a CondBranch with Condition == "".

// Return leaves the method; Value == "" for void.
type Return struct {
	Value string
}

func (*Return) Kind() InstrKind { return KindReturn }

// DeclareLocal declares a local or temporary at block scope.
type DeclareLocal struct {
	Name    string
	CppType string
	Init    string
}

func (*DeclareLocal) Kind() InstrKind { return KindDeclareLocal }

// StaticCtorGuard ensures a type's static constructor has run.
type StaticCtorGuard struct {
	TypeCppName string
}

func (*StaticCtorGuard) Kind() InstrKind { return KindStaticCtorGuard }

// TryBegin opens a protected region.
type TryBegin struct{}

func (*TryBegin) Kind() InstrKind { return KindTryBegin }

// CatchBegin opens a handler for ExceptionType ("" catches all).
type CatchBegin struct {
	ExceptionTypeCpp string
	Var              string
}

func (*CatchBegin) Kind() InstrKind { return KindCatchBegin }

// FinallyBegin opens a finally handler.
type FinallyBegin struct{}

func (*FinallyBegin) Kind() InstrKind { return KindFinallyBegin }

// RegionEnd closes the innermost open region.
type RegionEnd struct{}

func (*RegionEnd) Kind() InstrKind { return KindRegionEnd }
