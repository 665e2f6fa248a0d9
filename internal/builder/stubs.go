package builder

import (
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/generics"
	"github.com/axiomates/cil2cpp/internal/ir"
)

// needsStub reports whether a method body depends on CLR-internal types or
// on BCL compiler-generated display classes under reserved namespaces, in
// which case the body cannot be faithfully lowered and is replaced by a
// single default return.
func (b *Builder) needsStub(def *cil.MethodDef) bool {
	if def.Body == nil {
		return false
	}
	for _, p := range def.Params {
		if b.isInternalName(p.TypeName) {
			return true
		}
	}
	for _, l := range def.Body.Locals {
		if b.isInternalName(l.TypeName) {
			return true
		}
	}
	for _, ins := range def.Body.Instructions {
		switch op := ins.Operand.(type) {
		case *cil.MethodRef:
			if b.isInternalSig(op.DeclaringType) {
				return true
			}
			for _, p := range op.Params {
				if b.isInternalSig(p) {
					return true
				}
			}
		case *cil.FieldRef:
			if b.isInternalSig(op.DeclaringType) || b.isInternalSig(op.FieldType) {
				return true
			}
		case *cil.TypeRefOperand:
			if b.isInternalSig(op.Sig) {
				return true
			}
		}
	}
	return false
}

func (b *Builder) isInternalSig(sig *cil.TypeSig) bool {
	if sig == nil {
		return false
	}
	if b.isInternalName(sig.OpenName()) {
		return true
	}
	if sig.Element != nil && b.isInternalSig(sig.Element) {
		return true
	}
	for _, a := range sig.Args {
		if b.isInternalSig(a) {
			return true
		}
	}
	return false
}

func (b *Builder) isInternalName(name string) bool {
	if name == "" {
		return false
	}
	if generics.IsCLRInternal(name) {
		return true
	}
	// Compiler-generated display classes inside BCL internals.
	if strings.Contains(name, "<>c") {
		if strings.HasPrefix(name, "Internal.") || strings.HasPrefix(name, "System.Runtime.") ||
			strings.HasPrefix(name, "System.Reflection.") {
			return true
		}
	}
	return false
}

// applyStub replaces a method's blocks with a single Return of the
// appropriate default: omitted for void, nullptr for pointers, zero for
// primitives, {} for value types.
func applyStub(m *ir.Method) {
	block := &ir.BasicBlock{ID: 0}
	switch {
	case m.ReturnType == "void":
		block.Append(&ir.Return{})
	case strings.HasSuffix(m.ReturnType, "*"):
		block.Append(&ir.Return{Value: "nullptr"})
	case isIntegralCpp(m.ReturnType):
		block.Append(&ir.Return{Value: "0"})
	default:
		block.Append(&ir.Return{Value: "{}"})
	}
	m.Blocks = []*ir.BasicBlock{block}
}

func isIntegralCpp(cpp string) bool {
	switch cpp {
	case "bool", "int8_t", "uint8_t", "char16_t", "int16_t", "uint16_t",
		"int32_t", "uint32_t", "int64_t", "uint64_t", "float", "double",
		"intptr_t", "uintptr_t":
		return true
	}
	return false
}
