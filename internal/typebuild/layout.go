// Package typebuild computes physical layout and dispatch tables for every
// IR type: field offsets, vtables, interface-implementation tables and the
// external-enum fixup.
package typebuild

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/diag"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// objectHeaderSize is the reference-type header: 8-byte type-info pointer,
// 4-byte sync block, 4 bytes padding.
const objectHeaderSize = 16

// Builder owns the layout and vtable caches for one module.
type Builder struct {
	Set    *cil.AssemblySet
	Module *ir.Module
	Mapper *names.Mapper
	Diags  *diag.Collector

	laidOut  map[*ir.Type]bool
	inLayout map[*ir.Type]bool
	vtBuilt  map[*ir.Type]bool
}

// New creates a builder over the module.
func New(set *cil.AssemblySet, module *ir.Module, mapper *names.Mapper, diags *diag.Collector) *Builder {
	return &Builder{
		Set:      set,
		Module:   module,
		Mapper:   mapper,
		Diags:    diags,
		laidOut:  make(map[*ir.Type]bool),
		inLayout: make(map[*ir.Type]bool),
		vtBuilt:  make(map[*ir.Type]bool),
	}
}

// LayoutAll computes field offsets and instance sizes for every type,
// base-first.
func (b *Builder) LayoutAll() {
	for _, t := range b.Module.Types {
		b.Layout(t)
	}
}

// Layout computes one type's physical layout. Idempotent; recurses into the
// base type and embedded value-type fields first.
func (b *Builder) Layout(t *ir.Type) {
	if t == nil || b.laidOut[t] {
		return
	}
	if b.inLayout[t] {
		// Layout cycles only arise from malformed metadata; break with the
		// header-only size.
		t.InstanceSize = objectHeaderSize
		return
	}
	b.inLayout[t] = true
	defer func() {
		delete(b.inLayout, t)
		b.laidOut[t] = true
	}()

	offset := 0
	if !t.IsValueType && !t.IsInterface {
		offset = objectHeaderSize
	}
	if t.Base != nil {
		b.Layout(t.Base)
		if t.Base.InstanceSize > offset {
			offset = t.Base.InstanceSize
		}
	}

	for _, f := range t.Fields {
		size := b.fieldSize(f)
		align := size
		if align > 8 {
			align = 8
		}
		if align > 1 && offset%align != 0 {
			offset += align - offset%align
		}
		f.Offset = offset
		offset += size
	}

	if t.ExplicitSize > offset {
		offset = t.ExplicitSize
	}
	if offset%8 != 0 {
		offset += 8 - offset%8
	}
	if offset == 0 {
		// Empty structs still occupy storage.
		offset = 8
	}
	t.InstanceSize = offset
}

// fieldSize returns the bytes one field occupies: primitive sizes, pointer
// size for reference-shaped fields, and the embedded size for value types.
func (b *Builder) fieldSize(f *ir.Field) int {
	ilType := f.TypeName
	if strings.HasSuffix(ilType, "&") || strings.HasSuffix(ilType, "*") ||
		strings.HasSuffix(ilType, "[]") {
		return 8
	}
	if cpp := names.PrimitiveCpp(ilType); cpp != "" {
		return names.PrimitiveSize(cpp)
	}
	if ft, ok := b.Module.TypeByIL(ilType); ok {
		if ft.IsEnum {
			return b.enumSize(ft)
		}
		if ft.IsValueType {
			b.Layout(ft)
			f.Type = ft
			return ft.InstanceSize
		}
		f.Type = ft
		return 8
	}
	if def, ok := b.Set.FindType(outerName(ilType)); ok {
		if def.IsEnum {
			return names.PrimitiveSize(underlyingCpp(def))
		}
		if !def.IsValueType {
			return 8
		}
		if def.ExplicitSize > 0 {
			return def.ExplicitSize
		}
	}
	return 8
}

func (b *Builder) enumSize(t *ir.Type) int {
	if sz := names.PrimitiveSize(t.EnumUnderlying); sz > 0 {
		return sz
	}
	return 4
}

func underlyingCpp(def *cil.TypeDef) string {
	if cpp := names.PrimitiveCpp(def.EnumUnderlying); cpp != "" {
		return cpp
	}
	return "int32_t"
}

func outerName(name string) string {
	name = strings.TrimRight(name, "*&")
	name = strings.TrimSuffix(name, "[]")
	if i := strings.IndexByte(name, '<'); i > 0 {
		return name[:i]
	}
	return name
}
