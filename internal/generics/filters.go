package generics

import "strings"

// filteredNamespacePrefixes rejects specializations rooted in namespaces the
// target cannot compile: hardware intrinsics, interop marshalling,
// reflection, diagnostics, security and platform-internal plumbing.
var filteredNamespacePrefixes = []string{
	"System.Runtime.Intrinsics",
	"System.Runtime.InteropServices",
	"System.Reflection",
	"System.Diagnostics",
	"System.Security",
	"System.Resources",
	"System.Globalization.Native",
	"Internal",
	"Microsoft.Win32",
}

// clrInternalTypes are runtime-coupled types whose layout is undocumented;
// any specialization argument touching one is rejected.
var clrInternalTypes = map[string]bool{
	"System.Runtime.CompilerServices.QCallTypeHandle": true,
	"System.Runtime.CompilerServices.ObjectHandleOnStack": true,
	"System.Runtime.CompilerServices.StackCrawlMarkHandle": true,
	"System.RuntimeType":            true,
	"System.RuntimeTypeHandle":      true,
	"System.RuntimeMethodHandle":    true,
	"System.RuntimeFieldHandle":     true,
	"System.Reflection.RuntimeMethodInfo":   true,
	"System.Reflection.RuntimeFieldInfo":    true,
	"System.Reflection.RuntimeConstructorInfo": true,
	"System.Reflection.MethodBase":  true,
	"System.Reflection.Assembly":    true,
	"System.Reflection.MemberInfo":  true,
	"System.Threading.StackCrawlMark": true,
	"System.AggregateException":     true,
	"System.AppDomain":              true,
}

// filteredGenericArgs are well-formed BCL types that nevertheless drag in
// subsystems the runtime does not provide (time zones, registry, tasks).
var filteredGenericArgs = map[string]bool{
	"System.TimeZoneInfo":                   true,
	"System.TimeZoneInfo/AdjustmentRule":    true,
	"System.TimeZoneInfo/TransitionTime":    true,
	"Microsoft.Win32.RegistryKey":           true,
	"System.Threading.Tasks.Task":           true,
	"System.Threading.TimerQueueTimer":      true,
	"System.Globalization.CultureInfo":      true,
	"System.Globalization.CalendarId":       true,
	"System.IO.FileSystemInfo":              true,
	"System.Net.IPAddress":                  true,
}

// vectorScalarFallbacks are the SIMD wrapper types we do compile: their
// IsSupported guards are forced to 0 so only the scalar fallback paths
// survive, but the wrapper structs themselves must exist.
var vectorScalarFallbacks = []string{
	"System.Runtime.Intrinsics.Vector64",
	"System.Runtime.Intrinsics.Vector128",
	"System.Runtime.Intrinsics.Vector256",
	"System.Runtime.Intrinsics.Vector512",
	"System.Numerics.Vector",
}

// isVectorScalarFallback matches Vector64/128/256/512 (and their backtick
// forms) by open-name prefix.
func isVectorScalarFallback(openName string) bool {
	for _, v := range vectorScalarFallbacks {
		if openName == v {
			return true
		}
		if strings.HasPrefix(openName, v+"`") {
			return true
		}
	}
	return false
}

// namespaceFiltered reports whether a full name lives under a filtered
// namespace prefix and is not a vector scalar-fallback type.
func namespaceFiltered(fullName string, extra []string) bool {
	if isVectorScalarFallback(outerType(stripGeneric(fullName))) {
		return false
	}
	for _, prefix := range filteredNamespacePrefixes {
		if strings.HasPrefix(fullName, prefix+".") || fullName == prefix {
			return true
		}
	}
	for _, prefix := range extra {
		if strings.HasPrefix(fullName, prefix+".") || fullName == prefix {
			return true
		}
	}
	return false
}

// argFiltered applies the per-argument rules: filtered namespace, CLR
// internal, or explicitly listed — checked both on the full name and on the
// name stripped to its outer type before any '/'.
func argFiltered(argName string, extra []string) bool {
	name := stripGeneric(argName)
	name = strings.TrimRight(name, "*&")
	name = strings.TrimSuffix(name, "[]")
	candidates := []string{name, outerType(name)}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if namespaceFiltered(c, extra) {
			return true
		}
		if clrInternalTypes[c] || filteredGenericArgs[c] {
			return true
		}
	}
	return false
}

// IsCLRInternal reports whether a type name is in the CLR-internal set. The
// stubbing pass shares this list.
func IsCLRInternal(fullName string) bool {
	name := outerType(stripGeneric(fullName))
	return clrInternalTypes[name] || clrInternalTypes[stripGeneric(fullName)]
}

func stripGeneric(name string) string {
	if i := strings.IndexByte(name, '<'); i > 0 {
		return name[:i]
	}
	return name
}

// outerType strips a nested-type suffix, "A/B" -> "A".
func outerType(name string) string {
	if i := strings.IndexByte(name, '/'); i > 0 {
		return name[:i]
	}
	return name
}
