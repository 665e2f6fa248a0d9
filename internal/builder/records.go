package builder

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/ir"
)

// recordMethodNames are the compiler-generated members whose Roslyn bodies
// lean on reflection-heavy plumbing; Pass 7 replaces them with direct
// field-wise implementations that preserve C# record semantics.
var recordMethodNames = map[string]bool{
	"ToString":            true,
	"GetHashCode":         true,
	"Equals":              true,
	"PrintMembers":        true,
	"<Clone>$":            true,
	"op_Equality":         true,
	"op_Inequality":       true,
	"get_EqualityContract": true,
}

// synthesizeRecordMethods rewrites the record members of every record type.
func (b *Builder) synthesizeRecordMethods() {
	for _, t := range b.Module.Types {
		if !t.IsRecord {
			continue
		}
		for _, m := range t.Methods {
			if !recordMethodNames[m.Name] {
				continue
			}
			b.synthesizeRecordMethod(t, m)
		}
	}
}

func (b *Builder) synthesizeRecordMethod(t *ir.Type, m *ir.Method) {
	block := &ir.BasicBlock{ID: 0}
	self := "__this"
	acc := "->"

	switch m.Name {
	case "ToString":
		// "TypeName { Field = value, ... }" built through the runtime string
		// builder; printed member order follows declaration order.
		id := b.Module.InternString(t.Name)
		block.Append(&ir.RawCpp{Code: "rt_StringBuilder __sb; rt_sb_init(&__sb);"})
		block.Append(&ir.RawCpp{Code: "rt_sb_append_string(&__sb, " + id + ");"})
		open := b.Module.InternString(" { ")
		block.Append(&ir.RawCpp{Code: "rt_sb_append_string(&__sb, " + open + ");"})
		for i, f := range t.Fields {
			if i > 0 {
				sep := b.Module.InternString(", ")
				block.Append(&ir.RawCpp{Code: "rt_sb_append_string(&__sb, " + sep + ");"})
			}
			label := b.Module.InternString(printableFieldName(f.Name) + " = ")
			block.Append(&ir.RawCpp{Code: "rt_sb_append_string(&__sb, " + label + ");"})
			block.Append(&ir.RawCpp{Code: "rt_sb_append_value(&__sb, " + valuePointer(self, acc, f) + ", &" + typeInfoFor(f) + ");"})
		}
		closeLit := b.Module.InternString(" }")
		block.Append(&ir.RawCpp{Code: "rt_sb_append_string(&__sb, " + closeLit + ");"})
		block.Append(&ir.Return{Value: "rt_sb_to_string(&__sb)"})

	case "PrintMembers":
		for i, f := range t.Fields {
			if i > 0 {
				sep := b.Module.InternString(", ")
				block.Append(&ir.RawCpp{Code: "rt_sb_append_string(p_builder, " + sep + ");"})
			}
			label := b.Module.InternString(printableFieldName(f.Name) + " = ")
			block.Append(&ir.RawCpp{Code: "rt_sb_append_string(p_builder, " + label + ");"})
			block.Append(&ir.RawCpp{Code: "rt_sb_append_value(p_builder, " + valuePointer(self, acc, f) + ", &" + typeInfoFor(f) + ");"})
		}
		if len(t.Fields) > 0 {
			block.Append(&ir.Return{Value: "1"})
		} else {
			block.Append(&ir.Return{Value: "0"})
		}

	case "GetHashCode":
		block.Append(&ir.RawCpp{Code: "int32_t __hash = 17;"})
		for _, f := range t.Fields {
			block.Append(&ir.RawCpp{
				Code: "__hash = __hash * 31 + rt_hash_value(" + valuePointer(self, acc, f) +
					", &" + typeInfoFor(f) + ");",
			})
		}
		block.Append(&ir.Return{Value: "__hash"})

	case "Equals":
		other := "p_other"
		if len(m.Parameters) > 0 {
			other = m.Parameters[0].CppName
		}
		otherCast := "__other"
		block.Append(&ir.RawCpp{
			Code: "if ((void*)" + other + " == nullptr) { return 0; } " +
				t.CppName + "* " + otherCast + " = (" + t.CppName + "*)(void*)" + other + ";",
		})
		for _, f := range t.Fields {
			block.Append(&ir.RawCpp{
				Code: "if (!rt_equals_value(" + valuePointer(self, acc, f) + ", " +
					valuePointer(otherCast, "->", f) + ", &" + typeInfoFor(f) + ")) { return 0; }",
			})
		}
		block.Append(&ir.Return{Value: "1"})

	case "<Clone>$":
		clone := "__clone"
		block.Append(&ir.RawCpp{
			Code: t.CppName + "* " + clone + " = (" + t.CppName + "*)rt_alloc(sizeof(" +
				t.CppName + "), &" + t.CppName + "_TypeInfo);",
		})
		block.Append(&ir.RawCpp{
			Code: "memcpy((uint8_t*)" + clone + " + 16, (uint8_t*)" + self +
				" + 16, sizeof(" + t.CppName + ") - 16);",
		})
		block.Append(&ir.Return{Value: clone})

	case "op_Equality", "op_Inequality":
		l, r := "p_left", "p_right"
		if len(m.Parameters) == 2 {
			l, r = m.Parameters[0].CppName, m.Parameters[1].CppName
		}
		eq := "rt_record_equals((void*)" + l + ", (void*)" + r + ")"
		if m.Name == "op_Inequality" {
			block.Append(&ir.Return{Value: "!" + eq})
		} else {
			block.Append(&ir.Return{Value: eq})
		}

	case "get_EqualityContract":
		block.Append(&ir.Return{Value: "(intptr_t)&" + t.CppName + "_TypeInfo"})
	}

	m.Blocks = []*ir.BasicBlock{block}
}

// printableFieldName recovers the property name from a backing-field
// spelling like "<Name>k__BackingField".
func printableFieldName(name string) string {
	if strings.HasPrefix(name, "<") {
		if end := strings.IndexByte(name, '>'); end > 1 {
			return name[1:end]
		}
	}
	return name
}

func valuePointer(self, acc string, f *ir.Field) string {
	return "(void*)&" + self + acc + f.CppName
}

func typeInfoFor(f *ir.Field) string {
	base := strings.TrimSuffix(f.CppType, "*")
	return base + "_TypeInfo"
}
