package typebuild

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/names"
)

// FixupExternalEnums scans every method signature, local and field for
// mangled type names not known to the module. Names that resolve in loaded
// metadata to enum types are recorded with their underlying integer type,
// then every signature referencing such an enum through a pointer has
// exactly one trailing '*' stripped: the lowering had classified the enum as
// a reference type before the fixup knew better.
//
// The driver runs this twice: after method shells exist (Pass 3.2) and again
// after body conversion (Pass 6.6) to catch enums first seen inside
// specialization bodies.
func (b *Builder) FixupExternalEnums() int {
	mangledToEnum := b.enumIndex()

	discovered := make(map[string]string)
	note := func(cppType string) {
		base := strings.TrimRight(cppType, "*")
		if base == "" || base == cppType {
			return
		}
		if _, known := discovered[base]; known {
			return
		}
		if _, inModule := b.Module.TypeByCpp(base); inModule {
			return
		}
		if b.Mapper.ExternalEnumUnderlying(base) != "" {
			return
		}
		if underlying, isEnum := mangledToEnum[base]; isEnum {
			discovered[base] = underlying
		}
	}

	for _, t := range b.Module.Types {
		for _, m := range t.Methods {
			note(m.ReturnType)
			for _, p := range m.Parameters {
				note(p.CppType)
			}
			for _, l := range m.Locals {
				note(l.CppType)
			}
		}
		for _, f := range t.Fields {
			note(f.CppType)
		}
		for _, f := range t.StaticFields {
			note(f.CppType)
		}
	}

	if len(discovered) == 0 {
		return 0
	}
	for base, underlying := range discovered {
		b.Mapper.RegisterExternalEnum(base, underlying)
		b.Module.ExternalEnums[base] = underlying
	}

	strip := func(cppType string) string {
		base := strings.TrimRight(cppType, "*")
		if _, ok := discovered[base]; ok && strings.HasSuffix(cppType, "*") {
			return cppType[:len(cppType)-1]
		}
		return cppType
	}
	for _, t := range b.Module.Types {
		for _, m := range t.Methods {
			m.ReturnType = strip(m.ReturnType)
			for _, p := range m.Parameters {
				p.CppType = strip(p.CppType)
			}
			for _, l := range m.Locals {
				l.CppType = strip(l.CppType)
			}
		}
		for _, f := range t.Fields {
			f.CppType = strip(f.CppType)
		}
		for _, f := range t.StaticFields {
			f.CppType = strip(f.CppType)
		}
	}
	return len(discovered)
}

// enumIndex maps the mangled name of every metadata enum to its underlying
// C++ type.
func (b *Builder) enumIndex() map[string]string {
	out := make(map[string]string)
	for _, def := range b.Set.AllTypes() {
		if def.IsEnum {
			out[names.Mangle(def.FullName)] = underlyingCpp(def)
		}
	}
	return out
}
