// Package icalls maps BCL internal-call method references onto the runtime
// library's C++ function symbols.
package icalls

import "strings"

// Entry is one registered mapping.
type Entry struct {
	// Symbol is the runtime C++ function name.
	Symbol string

	// Arity restricts the mapping to a parameter count; -1 matches any.
	Arity int

	// TypeDispatched symbols receive the declaring type's mangled name as a
	// suffix (one runtime function per instantiating type).
	TypeDispatched bool
}

// Registry holds exact, wildcard and type-dispatched icall mappings.
// Lookup order: typed (exact key + arity) first, then exact key with any
// arity, then the Type::* wildcard.
type Registry struct {
	exact    map[string][]Entry // "System.String::get_Length"
	wildcard map[string]Entry   // "System.String"
}

// New creates a registry pre-populated with the runtime's built-in surface.
func New() *Registry {
	r := &Registry{
		exact:    make(map[string][]Entry),
		wildcard: make(map[string]Entry),
	}
	r.registerBuiltins()
	return r
}

// Register adds an exact mapping for Type::Method.
func (r *Registry) Register(typeName, methodName, symbol string, arity int) {
	key := typeName + "::" + methodName
	r.exact[key] = append(r.exact[key], Entry{Symbol: symbol, Arity: arity})
}

// RegisterTypeDispatched adds a mapping whose symbol is specialized per
// declaring type at the call site.
func (r *Registry) RegisterTypeDispatched(typeName, methodName, symbolPrefix string) {
	key := typeName + "::" + methodName
	r.exact[key] = append(r.exact[key], Entry{Symbol: symbolPrefix, Arity: -1, TypeDispatched: true})
}

// RegisterWildcard maps every method of a type to symbolPrefix_<method>.
func (r *Registry) RegisterWildcard(typeName, symbolPrefix string) {
	r.wildcard[typeName] = Entry{Symbol: symbolPrefix, Arity: -1}
}

// Lookup resolves a declaring type + method name + arity to a runtime
// symbol. The declaring type is the IL full name with any generic-instance
// suffix intact; wildcard matching strips it.
func (r *Registry) Lookup(declaringType, methodName string, arity int) (string, bool) {
	key := declaringType + "::" + methodName
	if entries, ok := r.exact[key]; ok {
		// Typed match first.
		for _, e := range entries {
			if e.Arity == arity {
				return r.finish(e, declaringType), true
			}
		}
		for _, e := range entries {
			if e.Arity == -1 {
				return r.finish(e, declaringType), true
			}
		}
	}
	open := declaringType
	if i := strings.IndexByte(open, '<'); i > 0 {
		open = open[:i]
	}
	if open != declaringType {
		if entries, ok := r.exact[open+"::"+methodName]; ok {
			for _, e := range entries {
				if e.Arity == arity || e.Arity == -1 {
					return r.finish(e, declaringType), true
				}
			}
		}
	}
	if e, ok := r.wildcard[open]; ok {
		return e.Symbol + "_" + sanitize(methodName), true
	}
	return "", false
}

func (r *Registry) finish(e Entry, declaringType string) string {
	if !e.TypeDispatched {
		return e.Symbol
	}
	return e.Symbol + "_" + sanitize(declaringType)
}

func sanitize(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// registerBuiltins installs the runtime surface the lowerer depends on.
func (r *Registry) registerBuiltins() {
	// String primitives.
	r.Register("System.String", "get_Length", "rt_string_length", 0)
	r.Register("System.String", "get_Chars", "rt_string_char_at", 1)
	r.Register("System.String", "Concat", "rt_string_concat2", 2)
	r.Register("System.String", "Concat", "rt_string_concat3", 3)
	r.Register("System.String", "Concat", "rt_string_concat4", 4)
	r.Register("System.String", "op_Equality", "rt_string_equals", 2)
	r.Register("System.String", "op_Inequality", "rt_string_not_equals", 2)
	r.Register("System.String", "Equals", "rt_string_equals", 1)
	r.Register("System.String", "GetHashCode", "rt_string_hash", 0)
	r.Register("System.String", "Substring", "rt_string_substring", 2)
	r.Register("System.String", "IsNullOrEmpty", "rt_string_is_null_or_empty", 1)

	// Object / GC.
	r.Register("System.Object", "GetType", "rt_object_get_type", 0)
	r.Register("System.Object", "MemberwiseClone", "rt_object_clone", 0)
	r.Register("System.GC", "Collect", "rt_gc_collect", 0)
	r.Register("System.GC", "SuppressFinalize", "rt_gc_suppress_finalize", 1)
	r.Register("System.GC", "KeepAlive", "rt_gc_keep_alive", 1)

	// Array primitives.
	r.Register("System.Array", "get_Length", "rt_array_length", 0)
	r.Register("System.Array", "get_Rank", "rt_array_rank", 0)
	r.Register("System.Array", "Copy", "rt_array_copy", 5)
	r.Register("System.Array", "Copy", "rt_array_copy3", 3)
	r.Register("System.Array", "Clear", "rt_array_clear", 3)
	r.Register("System.Array", "GetLength", "rt_array_get_length", 1)
	r.Register("System.Buffer", "Memmove", "rt_memmove", 3)
	r.Register("System.Buffer", "BlockCopy", "rt_block_copy", 5)

	// Console, the demo I/O surface.
	r.RegisterWildcard("System.Console", "rt_console")

	// Math routes per-method; the runtime carries the full surface.
	r.RegisterWildcard("System.Math", "rt_math")
	r.RegisterWildcard("System.MathF", "rt_mathf")

	// Threading/interlocked primitives used by BCL internals.
	r.Register("System.Threading.Interlocked", "Increment", "rt_interlocked_increment", 1)
	r.Register("System.Threading.Interlocked", "Decrement", "rt_interlocked_decrement", 1)
	r.Register("System.Threading.Interlocked", "CompareExchange", "rt_interlocked_compare_exchange", 3)
	r.Register("System.Threading.Interlocked", "Exchange", "rt_interlocked_exchange", 2)
	r.Register("System.Threading.Monitor", "Enter", "rt_monitor_enter", 1)
	r.Register("System.Threading.Monitor", "Exit", "rt_monitor_exit", 1)

	// Environment.
	r.Register("System.Environment", "get_TickCount", "rt_env_tick_count", 0)
	r.Register("System.Environment", "get_TickCount64", "rt_env_tick_count64", 0)
	r.Register("System.Environment", "get_NewLine", "rt_env_newline", 0)
	r.Register("System.Environment", "Exit", "rt_env_exit", 1)
	r.Register("System.Environment", "FailFast", "rt_env_failfast", 1)

	// Per-type string conversion helpers.
	r.RegisterTypeDispatched("System.Number", "ToString", "rt_number_to_string")

	// Runtime type handles.
	r.Register("System.Type", "GetTypeFromHandle", "rt_type_from_handle", 1)
	r.Register("System.String", "FastAllocateString", "rt_string_fast_allocate", 1)
	r.Register("System.Runtime.CompilerServices.RuntimeHelpers", "GetHashCode", "rt_object_hash", 1)
	r.Register("System.Runtime.CompilerServices.RuntimeHelpers", "Equals", "rt_object_equals", 2)
}
