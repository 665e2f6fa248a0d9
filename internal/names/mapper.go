// Package names maps CIL type, method and field names onto valid C++
// identifiers and classifies the primitive and value types of the flat-struct
// target model.
package names

import (
	"strings"
	"sync"
)

// Mapper owns the name-mangling rules plus the module-wide value-type set.
// The value-type set is the one piece of state shared with the emitter while
// the builder is still running, hence the mutex.
type Mapper struct {
	mu         sync.Mutex
	valueTypes map[string]bool

	// enumUnderlying maps mangled enum names discovered outside the compiled
	// set to their underlying C++ integer type.
	enumUnderlying map[string]string
}

// New creates a mapper pre-seeded with the BCL primitive value types.
func New() *Mapper {
	m := &Mapper{
		valueTypes:     make(map[string]bool),
		enumUnderlying: make(map[string]string),
	}
	for il := range primitiveCpp {
		if il != "System.String" && il != "System.Object" && il != "System.Void" {
			m.valueTypes[il] = true
		}
	}
	return m
}

// primitiveCpp maps BCL primitive IL names to their C++ spellings.
var primitiveCpp = map[string]string{
	"System.Void":    "void",
	"System.Boolean": "bool",
	"System.Char":    "char16_t",
	"System.SByte":   "int8_t",
	"System.Byte":    "uint8_t",
	"System.Int16":   "int16_t",
	"System.UInt16":  "uint16_t",
	"System.Int32":   "int32_t",
	"System.UInt32":  "uint32_t",
	"System.Int64":   "int64_t",
	"System.UInt64":  "uint64_t",
	"System.Single":  "float",
	"System.Double":  "double",
	"System.IntPtr":  "intptr_t",
	"System.UIntPtr": "uintptr_t",
	"System.String":  "System_String",
	"System.Object":  "System_Object",
}

// primitiveSize gives the byte size of each primitive C++ spelling.
var primitiveSize = map[string]int{
	"bool":      1,
	"int8_t":    1,
	"uint8_t":   1,
	"char16_t":  2,
	"int16_t":   2,
	"uint16_t":  2,
	"int32_t":   4,
	"uint32_t":  4,
	"float":     4,
	"int64_t":   8,
	"uint64_t":  8,
	"double":    8,
	"intptr_t":  8,
	"uintptr_t": 8,
}

// exceptionAlias maps BCL exception IL names to the runtime library's
// pre-declared exception structs.
var exceptionAlias = map[string]string{
	"System.Exception":                    "rt_Exception",
	"System.SystemException":              "rt_Exception",
	"System.ArgumentException":            "rt_ArgumentException",
	"System.ArgumentNullException":        "rt_ArgumentNullException",
	"System.ArgumentOutOfRangeException":  "rt_ArgumentOutOfRangeException",
	"System.IndexOutOfRangeException":     "rt_IndexOutOfRangeException",
	"System.InvalidOperationException":    "rt_InvalidOperationException",
	"System.InvalidCastException":         "rt_InvalidCastException",
	"System.NullReferenceException":       "rt_NullReferenceException",
	"System.NotSupportedException":        "rt_NotSupportedException",
	"System.NotImplementedException":      "rt_NotImplementedException",
	"System.OverflowException":            "rt_OverflowException",
	"System.DivideByZeroException":        "rt_DivideByZeroException",
	"System.FormatException":              "rt_FormatException",
	"System.OutOfMemoryException":         "rt_OutOfMemoryException",
	"System.PlatformNotSupportedException": "rt_PlatformNotSupportedException",
	"System.ArithmeticException":          "rt_ArithmeticException",
	"System.RankException":                "rt_RankException",
	"System.ObjectDisposedException":      "rt_ObjectDisposedException",
	"System.Threading.ThreadStateException": "rt_Exception",
	"System.IO.IOException":               "rt_IOException",
	"System.IO.FileNotFoundException":     "rt_FileNotFoundException",
	"System.Collections.Generic.KeyNotFoundException": "rt_KeyNotFoundException",
}

// Mangle turns an IL full name into a valid C++ identifier. The mapping is
// idempotent: an already-valid identifier passes through unchanged.
func Mangle(ilName string) string {
	if ilName == "" {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(ilName))
	for i := 0; i < len(ilName); i++ {
		c := ilName[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			sb.WriteByte(c)
		case c == '.', c == '/', c == '+', c == '`', c == ',', c == ' ':
			sb.WriteByte('_')
		case c == '<':
			sb.WriteByte('_')
		case c == '>':
			// Trailing bracket folds away so Foo<Bar> mangles to Foo_Bar,
			// not Foo_Bar_.
			if i != len(ilName)-1 {
				sb.WriteByte('_')
			}
		case c == '[' && i+1 < len(ilName) && ilName[i+1] == ']':
			sb.WriteString("_Arr")
			i++
		case c == '[', c == ']':
			sb.WriteByte('_')
		case c == '&':
			sb.WriteString("_Ref")
		case c == '*':
			sb.WriteString("_Ptr")
		case c == '!':
			sb.WriteByte('_')
		default:
			sb.WriteByte('_')
		}
	}
	out := sb.String()
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// MangleMethod mangles a method name in the context of its declaring type:
// Type_Method with ctor/cctor spelled out.
func MangleMethod(declaringIL, methodName string) string {
	name := methodName
	switch name {
	case ".ctor":
		name = "ctor"
	case ".cctor":
		name = "cctor"
	}
	return Mangle(declaringIL) + "_" + Mangle(name)
}

// IsPrimitive reports whether the IL name is a BCL primitive the target
// spells as a builtin C++ type.
func IsPrimitive(ilName string) bool {
	cpp, ok := primitiveCpp[ilName]
	if !ok {
		return false
	}
	return cpp != "System_String" && cpp != "System_Object"
}

// PrimitiveCpp returns the C++ spelling for a BCL primitive, "" when the
// name is not primitive.
func PrimitiveCpp(ilName string) string {
	if IsPrimitive(ilName) {
		return primitiveCpp[ilName]
	}
	return ""
}

// PrimitiveSize returns the byte size of a primitive C++ type, 0 for
// non-primitives.
func PrimitiveSize(cppType string) int {
	return primitiveSize[cppType]
}

// ExceptionAlias returns the runtime alias for a BCL exception type, "" when
// the type is not a known exception.
func ExceptionAlias(ilName string) string {
	return exceptionAlias[ilName]
}

// RegisterValueType records an IL or mangled name as a value type. Safe for
// concurrent use with IsValueType.
func (m *Mapper) RegisterValueType(name string) {
	m.mu.Lock()
	m.valueTypes[name] = true
	m.mu.Unlock()
}

// IsValueType reports whether the name (IL or mangled) denotes a value type.
func (m *Mapper) IsValueType(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.valueTypes[name] {
		return true
	}
	// Generic instances inherit the classification of their open type when
	// the open form was registered.
	if i := strings.IndexByte(name, '<'); i > 0 {
		return m.valueTypes[name[:i]]
	}
	return false
}

// RegisterExternalEnum records an enum discovered outside the compiled set
// together with its underlying C++ integer type.
func (m *Mapper) RegisterExternalEnum(mangled, underlying string) {
	m.mu.Lock()
	m.enumUnderlying[mangled] = underlying
	m.valueTypes[mangled] = true
	m.mu.Unlock()
}

// ExternalEnumUnderlying returns the registered underlying type, "" when the
// name is not a known external enum.
func (m *Mapper) ExternalEnumUnderlying(mangled string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enumUnderlying[mangled]
}

// ExternalEnums returns a copy of the external-enum map for the IR module.
func (m *Mapper) ExternalEnums() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.enumUnderlying))
	for k, v := range m.enumUnderlying {
		out[k] = v
	}
	return out
}

// CppTypeFor maps an IL type name to the C++ declaration type used for
// locals, parameters and fields. Value types map by value, reference types
// to Mangled*.
func (m *Mapper) CppTypeFor(ilName string) string {
	ilName = strings.TrimSpace(ilName)
	switch {
	case ilName == "", ilName == "System.Void":
		return "void"
	case strings.HasSuffix(ilName, "&"):
		return m.CppTypeFor(strings.TrimSuffix(ilName, "&")) + "*"
	case strings.HasSuffix(ilName, "*"):
		return m.CppTypeFor(strings.TrimSuffix(ilName, "*")) + "*"
	case strings.HasSuffix(ilName, "[]"):
		return "System_Array*"
	}
	if cpp, ok := primitiveCpp[ilName]; ok {
		if IsPrimitive(ilName) {
			return cpp
		}
		return cpp + "*"
	}
	mangled := Mangle(ilName)
	if u := m.ExternalEnumUnderlying(mangled); u != "" {
		return u
	}
	if m.IsValueType(ilName) || m.IsValueType(mangled) {
		return mangled
	}
	return mangled + "*"
}

// SizeOf returns the byte size a field of the given IL type occupies in the
// flat-struct layout: primitive sizes for primitives, pointer size for
// everything reference-shaped, and valueSize for embedded value types.
func (m *Mapper) SizeOf(ilName string, valueSize func(string) int) int {
	cpp := m.CppTypeFor(ilName)
	if strings.HasSuffix(cpp, "*") {
		return 8
	}
	if sz, ok := primitiveSize[cpp]; ok {
		return sz
	}
	if valueSize != nil {
		if sz := valueSize(ilName); sz > 0 {
			return sz
		}
	}
	return 8
}
