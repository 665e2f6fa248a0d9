package typebuild

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/ir"
)

// BuildAllInterfaceTables builds interface dispatch tables for every
// non-interface type.
func (b *Builder) BuildAllInterfaceTables() {
	for _, t := range b.Module.Types {
		if t.IsInterface {
			continue
		}
		b.BuildInterfaceTables(t)
	}
}

// BuildInterfaceTables produces one positional method list per declared
// interface, one entry per interface method slot. Missing implementations
// stay nil so slot alignment is preserved.
func (b *Builder) BuildInterfaceTables(t *ir.Type) {
	for _, ifcName := range t.Interfaces {
		ifc, ok := b.Module.TypeByIL(ifcName)
		if !ok {
			continue
		}
		impl := &ir.InterfaceImpl{Interface: ifc}
		for _, im := range ifc.Methods {
			if im.IsConstructor || im.IsStaticConstructor {
				continue
			}
			impl.Methods = append(impl.Methods, b.resolveInterfaceSlot(t, ifc, im))
		}
		t.InterfaceImpls = append(t.InterfaceImpls, impl)
	}
}

// resolveInterfaceSlot finds the concrete method for one interface slot.
// Resolution order: explicit override directive up the base chain, implicit
// name+parameter match up the base chain, default interface method, nil.
func (b *Builder) resolveInterfaceSlot(t, ifc *ir.Type, im *ir.Method) *ir.Method {
	for cur := t; cur != nil; cur = cur.Base {
		for _, m := range cur.Methods {
			for _, ov := range m.ExplicitOverrides {
				if ov.MethodName != im.Name {
					continue
				}
				if ov.InterfaceILName == ifc.ILFullName || matchesSuffix(ov.InterfaceILName, ifc.ILFullName) {
					return m
				}
			}
		}
	}

	for cur := t; cur != nil; cur = cur.Base {
		for _, m := range cur.Methods {
			if m.IsStatic || m.IsConstructor {
				continue
			}
			if m.Name == im.Name && sameParams(m, im) {
				return m
			}
			// Explicit interface implementations are named
			// "Namespace.IFace.Method"; match the trailing segment.
			if dot := strings.LastIndexByte(m.Name, '.'); dot >= 0 &&
				m.Name[dot+1:] == im.Name && len(m.Parameters) == len(im.Parameters) {
				if strings.Contains(m.Name[:dot], ifc.Name) {
					return m
				}
			}
		}
	}

	if !im.IsAbstract && len(im.Blocks) > 0 {
		// Default interface method; dispatch lands on the interface's own
		// body.
		return im
	}
	return nil
}

func matchesSuffix(directive, ifcIL string) bool {
	// Directives may carry the open name while the table is keyed by the
	// closed instance, or vice versa.
	d := strings.TrimSpace(directive)
	if d == ifcIL {
		return true
	}
	di := d
	if i := strings.IndexByte(di, '<'); i > 0 {
		di = di[:i]
	}
	ti := ifcIL
	if i := strings.IndexByte(ti, '<'); i > 0 {
		ti = ti[:i]
	}
	return di == ti
}
