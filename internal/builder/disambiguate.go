package builder

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// disambiguateOverloads resolves post-mangling name collisions: distinct C#
// overloads can collapse onto one C++ name, most commonly when different
// enum types share an underlying alias. Every colliding method after the
// first receives a suffix derived from its IL parameter types, and every
// member of a colliding group is recorded in the module map keyed
// "base|IL-param-signature" so call-site lowering finds the final name.
//
// Runs before any body is lowered (Pass 3.3); deferred generic bodies
// convert afterwards for exactly this reason.
func (b *Builder) disambiguateOverloads() {
	taken := make(map[string]bool)
	for _, t := range b.Module.Types {
		for _, m := range t.Methods {
			taken[m.CppName] = true
		}
	}

	for _, t := range b.Module.Types {
		counts := make(map[string]int)
		for _, m := range t.Methods {
			counts[m.CppName]++
		}
		for _, m := range t.Methods {
			if counts[m.CppName] < 2 {
				continue
			}
			group := b.collectGroup(t, m.CppName)
			for i, member := range group {
				base := member.CppName
				final := base
				if i > 0 {
					final = base + "__" + paramSuffix(member)
					for taken[final] {
						final += "_"
					}
				}
				key := base + "|" + ilSigOf(member)
				b.Module.Disambiguation[key] = final
				member.CppName = final
				taken[final] = true
			}
			// The group is handled; zero the count so later members of the
			// same group don't re-enter.
			counts[group[0].CppName] = 0
		}
	}
}

func (b *Builder) collectGroup(t *ir.Type, cppName string) []*ir.Method {
	var group []*ir.Method
	for _, m := range t.Methods {
		if m.CppName == cppName {
			group = append(group, m)
		}
	}
	return group
}

// paramSuffix mangles the IL parameter types into a collision-breaking
// suffix.
func paramSuffix(m *ir.Method) string {
	if len(m.Parameters) == 0 {
		return "void"
	}
	parts := make([]string, len(m.Parameters))
	for i, p := range m.Parameters {
		parts[i] = names.Mangle(p.ILType)
	}
	return strings.Join(parts, "_")
}

func ilSigOf(m *ir.Method) string {
	parts := make([]string, len(m.Parameters))
	for i, p := range m.Parameters {
		parts[i] = p.ILType
	}
	return strings.Join(parts, ",")
}
