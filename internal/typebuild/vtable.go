package typebuild

import "github.com/axiomates/cil2cpp/internal/ir"

// The root System.Object vtable layout. Every class vtable extends this
// prefix.
const (
	SlotToString    = 0
	SlotEquals      = 1
	SlotGetHashCode = 2
)

// BuildAllVTables builds vtables base-first for every non-interface type.
func (b *Builder) BuildAllVTables() {
	for _, t := range b.Module.Types {
		b.BuildVTable(t)
	}
}

// BuildVTable builds one type's vtable, ensuring the base's vtable exists
// first. Interfaces get no vtable of their own; their dispatch goes through
// interface-impl tables.
func (b *Builder) BuildVTable(t *ir.Type) {
	if t == nil || b.vtBuilt[t] || t.IsInterface {
		return
	}
	b.vtBuilt[t] = true

	if t.Base != nil {
		b.BuildVTable(t.Base)
		for _, e := range t.Base.VTable {
			t.VTable = append(t.VTable, &ir.VTableEntry{
				Slot:   e.Slot,
				Name:   e.Name,
				Target: e.Target,
				Decl:   e.Decl,
			})
		}
	} else if !t.IsValueType {
		// Roots with no cached base still carry the System.Object prefix.
		t.VTable = []*ir.VTableEntry{
			{Slot: SlotToString, Name: "ToString", Decl: t},
			{Slot: SlotEquals, Name: "Equals", Decl: t},
			{Slot: SlotGetHashCode, Name: "GetHashCode", Decl: t},
		}
	}

	for _, m := range t.Methods {
		if !m.IsVirtual || m.IsStatic || m.IsConstructor {
			continue
		}
		if m.IsNewSlot {
			m.VTableSlot = len(t.VTable)
			t.VTable = append(t.VTable, &ir.VTableEntry{
				Slot:   m.VTableSlot,
				Name:   m.Name,
				Target: m,
				Decl:   t,
			})
			continue
		}
		// Override: replace the last matching slot so method hiding lands on
		// the most-derived declaration.
		slot := b.lastMatchingSlot(t.VTable, m)
		if slot < 0 {
			m.VTableSlot = len(t.VTable)
			t.VTable = append(t.VTable, &ir.VTableEntry{
				Slot:   m.VTableSlot,
				Name:   m.Name,
				Target: m,
				Decl:   t,
			})
			continue
		}
		entry := t.VTable[slot]
		entry.Target = m
		entry.Decl = t
		m.VTableSlot = entry.Slot
	}
}

// lastMatchingSlot finds the last vtable entry matching the method by name
// and parameter-type list, -1 when none matches.
func (b *Builder) lastMatchingSlot(table []*ir.VTableEntry, m *ir.Method) int {
	found := -1
	for i, e := range table {
		if e.Name != m.Name {
			continue
		}
		if e.Target == nil {
			// Root prefix slots match by name and zero-or-matching arity.
			if len(m.Parameters) == 0 || e.Name == "Equals" && len(m.Parameters) == 1 {
				found = i
			}
			continue
		}
		if sameParams(e.Target, m) {
			found = i
		}
	}
	return found
}

func sameParams(a, b *ir.Method) bool {
	if len(a.Parameters) != len(b.Parameters) {
		return false
	}
	for i := range a.Parameters {
		if a.Parameters[i].ILType != b.Parameters[i].ILType {
			return false
		}
	}
	return true
}
