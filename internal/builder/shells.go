package builder

import (
	"fmt"
	"strings"

	"github.com/axiomates/cil2cpp/internal/cil"
	"github.com/axiomates/cil2cpp/internal/generics"
	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// createTypeShell makes the Pass 1 shell for a non-generic type definition.
// Details (fields, links) arrive in Pass 2; the shell exists so mutually
// referencing types can resolve each other.
func (b *Builder) createTypeShell(def *cil.TypeDef) *ir.Type {
	t := &ir.Type{
		ILFullName:  def.FullName,
		CppName:     names.Mangle(def.FullName),
		Namespace:   def.Namespace,
		Name:        def.Name,
		IsValueType: def.IsValueType,
		IsInterface: def.IsInterface,
		IsAbstract:  def.IsAbstract,
		IsSealed:    def.IsSealed,
		IsEnum:      def.IsEnum,
		IsDelegate:  def.IsDelegate,
		IsRecord:    def.IsRecord,
		IsPrimitive: names.IsPrimitive(def.FullName),
		HasCctor:    def.StaticConstructor() != nil,
		BaseILName:  def.BaseTypeName,
		ExplicitSize: def.ExplicitSize,
	}
	t.IsRuntimeProvided = def.FullName == "System.Object" ||
		def.FullName == "System.String" || def.FullName == "System.Array"
	if def.IsEnum {
		if cpp := names.PrimitiveCpp(def.EnumUnderlying); cpp != "" {
			t.EnumUnderlying = cpp
		} else {
			t.EnumUnderlying = "int32_t"
		}
	}
	t.Interfaces = append(t.Interfaces, def.InterfaceNames...)

	if def.IsValueType {
		b.Mapper.RegisterValueType(def.FullName)
		b.Mapper.RegisterValueType(t.CppName)
	}
	b.Module.AddType(t)
	return t
}

// populateTypeDetails fills fields for a Pass 1 shell.
func (b *Builder) populateTypeDetails(t *ir.Type, def *cil.TypeDef) {
	for _, f := range def.Fields {
		field := &ir.Field{
			Name:          f.Name,
			CppName:       "f_" + names.Mangle(f.Name),
			TypeName:      f.TypeName,
			IsStatic:      f.IsStatic,
			IsPublic:      f.IsPublic,
			ConstantValue: f.ConstantValue,
			Attributes:    f.Attributes,
			Declaring:     t,
		}
		if f.IsStatic {
			t.StaticFields = append(t.StaticFields, field)
		} else {
			t.Fields = append(t.Fields, field)
		}
	}
}

// linkTypes back-fills base-type pointers and field type references for
// every type in the module, generic instances included.
func (b *Builder) linkTypes() {
	for _, t := range b.Module.Types {
		if t.Base == nil && t.BaseILName != "" {
			if base, ok := b.Module.TypeByIL(t.BaseILName); ok {
				t.Base = base
			}
		}
		for _, f := range append(append([]*ir.Field(nil), t.Fields...), t.StaticFields...) {
			f.CppType = b.Mapper.CppTypeFor(f.TypeName)
			if f.Type == nil {
				if ft, ok := b.Module.TypeByIL(f.TypeName); ok {
					f.Type = ft
				}
			}
		}
	}
}

// BuildMethodShell creates an IR method shell from a definition, applying
// the type-parameter map to every signature piece. Shared between Pass 3 and
// the generic engine's specialization path.
func (b *Builder) BuildMethodShell(def *cil.MethodDef, owner *ir.Type, tpm *generics.TypeParamMap, cppName string) *ir.Method {
	m := &ir.Method{
		Name:                def.Name,
		CppName:             cppName,
		Declaring:           owner,
		IsStatic:            def.IsStatic,
		IsVirtual:           def.IsVirtual,
		IsAbstract:          def.IsAbstract,
		IsNewSlot:           def.IsNewSlot,
		IsConstructor:       def.IsConstructor,
		IsStaticConstructor: def.IsStaticConstructor,
		IsInternalCall:      def.IsInternalCall,
		VTableSlot:          -1,
		TempVarTypes:        make(map[string]string),
	}
	ret := def.ReturnType
	if tpm != nil && !tpm.Empty() {
		ret = generics.SubstituteName(ret, tpm)
	}
	m.ReturnType = b.Mapper.CppTypeFor(ret)
	if strings.Contains(m.ReturnType, "!") {
		m.ReturnType = "System_Object*"
	}

	for i, p := range def.Params {
		ilType := p.TypeName
		if tpm != nil && !tpm.Empty() {
			ilType = generics.SubstituteName(ilType, tpm)
		}
		pname := p.Name
		if pname == "" {
			pname = fmt.Sprintf("arg%d", i)
		}
		m.Parameters = append(m.Parameters, &ir.Parameter{
			Index:   i,
			CppName: "p_" + names.Mangle(pname),
			ILType:  ilType,
			CppType: b.Mapper.CppTypeFor(ilType),
		})
	}

	if def.Body != nil {
		for i, l := range def.Body.Locals {
			ilType := l.TypeName
			if tpm != nil && !tpm.Empty() {
				ilType = generics.SubstituteName(ilType, tpm)
			}
			m.Locals = append(m.Locals, &ir.Local{
				Index:   i,
				CppName: fmt.Sprintf("loc_%d", i),
				ILType:  ilType,
				CppType: b.Mapper.CppTypeFor(ilType),
			})
		}
	}

	for _, ov := range def.Overrides {
		m.ExplicitOverrides = append(m.ExplicitOverrides, ir.OverrideRef{
			InterfaceILName: ov.InterfaceName,
			MethodName:      ov.MethodName,
		})
	}

	if def.Name == "Finalize" && def.IsVirtual && len(def.Params) == 0 {
		m.IsFinalizer = true
		if owner != nil {
			owner.Finalizer = m
		}
	}
	return m
}
