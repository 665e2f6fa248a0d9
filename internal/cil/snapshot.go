package cil

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/tidwall/gjson"
)

// LoadSnapshot memory-maps and decodes a metadata snapshot produced by the
// assembly reader. The snapshot is a single JSON document:
//
//	{
//	  "root": "MyApp",
//	  "assemblies": {
//	    "MyApp": {
//	      "kind": "user",
//	      "entryPoint": "MyApp.Program::Main(System.String[])",
//	      "types": [ {typedef}, ... ]
//	    }
//	  }
//	}
//
// Operands inside instruction lists are discriminated by a "kind" field.
func LoadSnapshot(path string) (*AssemblySet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("map snapshot %s: %w", path, err)
	}
	defer m.Unmap()

	if !gjson.ValidBytes(m) {
		return nil, fmt.Errorf("snapshot %s is not valid JSON", path)
	}
	return DecodeSnapshot(string(m))
}

// DecodeSnapshot decodes a snapshot document held in memory.
func DecodeSnapshot(doc string) (*AssemblySet, error) {
	root := gjson.Get(doc, "root").String()
	if root == "" {
		return nil, fmt.Errorf("snapshot has no root assembly")
	}

	set := &AssemblySet{
		Root:       root,
		Assemblies: make(map[string]*Assembly),
		Kinds:      make(map[string]AssemblyKind),
	}

	entryIDs := make(map[string]string)
	gjson.Get(doc, "assemblies").ForEach(func(name, av gjson.Result) bool {
		asm := &Assembly{Name: name.String()}
		set.Kinds[asm.Name] = decodeKind(av.Get("kind").String())
		entryIDs[asm.Name] = av.Get("entryPoint").String()
		av.Get("types").ForEach(func(_, tv gjson.Result) bool {
			asm.Types = append(asm.Types, decodeType(tv))
			return true
		})
		set.Assemblies[asm.Name] = asm
		return true
	})

	set.buildIndex()

	// Entry points are stored as identity strings; resolve them now that the
	// index exists.
	for asmName, id := range entryIDs {
		if id == "" {
			continue
		}
		asm := set.Assemblies[asmName]
		for _, t := range asm.Types {
			for _, m := range t.Methods {
				if m.Identity() == id {
					asm.EntryPoint = m
				}
			}
		}
	}
	return set, nil
}

func decodeKind(s string) AssemblyKind {
	switch s {
	case "bcl":
		return AssemblyBCL
	case "thirdparty":
		return AssemblyThirdParty
	default:
		return AssemblyUser
	}
}

func decodeType(tv gjson.Result) *TypeDef {
	t := &TypeDef{
		FullName:       tv.Get("fullName").String(),
		Namespace:      tv.Get("namespace").String(),
		Name:           tv.Get("name").String(),
		IsValueType:    tv.Get("isValueType").Bool(),
		IsInterface:    tv.Get("isInterface").Bool(),
		IsAbstract:     tv.Get("isAbstract").Bool(),
		IsSealed:       tv.Get("isSealed").Bool(),
		IsEnum:         tv.Get("isEnum").Bool(),
		IsDelegate:     tv.Get("isDelegate").Bool(),
		IsRecord:       tv.Get("isRecord").Bool(),
		BaseTypeName:   tv.Get("baseType").String(),
		ExplicitSize:   int(tv.Get("explicitSize").Int()),
		EnumUnderlying: tv.Get("enumUnderlying").String(),
	}
	tv.Get("interfaces").ForEach(func(_, iv gjson.Result) bool {
		t.InterfaceNames = append(t.InterfaceNames, iv.String())
		return true
	})
	tv.Get("genericParams").ForEach(func(_, gv gjson.Result) bool {
		t.GenericParams = append(t.GenericParams, decodeGenericParam(gv))
		return true
	})
	tv.Get("fields").ForEach(func(_, fv gjson.Result) bool {
		t.Fields = append(t.Fields, decodeField(fv))
		return true
	})
	tv.Get("methods").ForEach(func(_, mv gjson.Result) bool {
		t.Methods = append(t.Methods, decodeMethod(mv))
		return true
	})
	return t
}

func decodeGenericParam(gv gjson.Result) GenericParam {
	gp := GenericParam{
		Name:                gv.Get("name").String(),
		Variance:            gv.Get("variance").String(),
		HasStructConstraint: gv.Get("struct").Bool(),
		HasClassConstraint:  gv.Get("class").Bool(),
		HasNewConstraint:    gv.Get("new").Bool(),
	}
	gv.Get("constraints").ForEach(func(_, cv gjson.Result) bool {
		gp.ConstraintTypes = append(gp.ConstraintTypes, cv.String())
		return true
	})
	return gp
}

func decodeField(fv gjson.Result) *FieldDef {
	f := &FieldDef{
		Name:       fv.Get("name").String(),
		TypeName:   fv.Get("type").String(),
		IsStatic:   fv.Get("isStatic").Bool(),
		IsPublic:   fv.Get("isPublic").Bool(),
		Attributes: uint32(fv.Get("attributes").Uint()),
	}
	if cv := fv.Get("constant"); cv.Exists() {
		f.ConstantValue = cv.Value()
	}
	if iv := fv.Get("initialValue"); iv.Exists() {
		for _, b := range iv.Array() {
			f.InitialValue = append(f.InitialValue, byte(b.Uint()))
		}
	}
	return f
}

func decodeMethod(mv gjson.Result) *MethodDef {
	m := &MethodDef{
		Name:                mv.Get("name").String(),
		IsStatic:            mv.Get("isStatic").Bool(),
		IsVirtual:           mv.Get("isVirtual").Bool(),
		IsAbstract:          mv.Get("isAbstract").Bool(),
		IsNewSlot:           mv.Get("isNewSlot").Bool(),
		IsConstructor:       mv.Get("isConstructor").Bool(),
		IsStaticConstructor: mv.Get("isStaticConstructor").Bool(),
		IsInternalCall:      mv.Get("isInternalCall").Bool(),
		IsPublic:            mv.Get("isPublic").Bool(),
		ReturnType:          mv.Get("returnType").String(),
	}
	mv.Get("params").ForEach(func(_, pv gjson.Result) bool {
		m.Params = append(m.Params, ParamDef{
			Name:     pv.Get("name").String(),
			TypeName: pv.Get("type").String(),
		})
		return true
	})
	mv.Get("genericParams").ForEach(func(_, gv gjson.Result) bool {
		m.GenericParams = append(m.GenericParams, decodeGenericParam(gv))
		return true
	})
	mv.Get("overrides").ForEach(func(_, ov gjson.Result) bool {
		m.Overrides = append(m.Overrides, OverrideTarget{
			InterfaceName: ov.Get("interface").String(),
			MethodName:    ov.Get("method").String(),
		})
		return true
	})
	if bv := mv.Get("body"); bv.Exists() {
		m.Body = decodeBody(bv)
	}
	return m
}

func decodeBody(bv gjson.Result) *MethodBody {
	body := &MethodBody{}
	bv.Get("locals").ForEach(func(_, lv gjson.Result) bool {
		body.Locals = append(body.Locals, LocalDef{
			TypeName: lv.Get("type").String(),
			IsPinned: lv.Get("pinned").Bool(),
		})
		return true
	})
	bv.Get("instructions").ForEach(func(_, iv gjson.Result) bool {
		body.Instructions = append(body.Instructions, Instruction{
			Offset:  int(iv.Get("offset").Int()),
			OpCode:  OpCode(iv.Get("op").String()),
			Operand: decodeOperand(iv.Get("operand")),
		})
		return true
	})
	bv.Get("regions").ForEach(func(_, rv gjson.Result) bool {
		body.Regions = append(body.Regions, ExceptionRegion{
			Kind:         rv.Get("kind").String(),
			TryStart:     int(rv.Get("tryStart").Int()),
			TryEnd:       int(rv.Get("tryEnd").Int()),
			HandlerStart: int(rv.Get("handlerStart").Int()),
			HandlerEnd:   int(rv.Get("handlerEnd").Int()),
			CatchType:    rv.Get("catchType").String(),
		})
		return true
	})
	return body
}

func decodeOperand(ov gjson.Result) Operand {
	if !ov.Exists() {
		return nil
	}
	switch ov.Get("kind").String() {
	case "method":
		return decodeMethodRef(ov)
	case "field":
		return &FieldRef{
			DeclaringType: ParseSig(ov.Get("declaringType").String()),
			Name:          ov.Get("name").String(),
			FieldType:     ParseSig(ov.Get("type").String()),
		}
	case "type":
		return &TypeRefOperand{Sig: ParseSig(ov.Get("type").String())}
	case "string":
		return &StringOperand{Value: ov.Get("value").String()}
	case "int":
		return &IntOperand{Value: ov.Get("value").Int()}
	case "float":
		return &FloatOperand{Value: ov.Get("value").Float(), Single: ov.Get("single").Bool()}
	case "branch":
		return &BranchOperand{Target: int(ov.Get("target").Int())}
	case "switch":
		op := &SwitchOperand{}
		ov.Get("targets").ForEach(func(_, tv gjson.Result) bool {
			op.Targets = append(op.Targets, int(tv.Int()))
			return true
		})
		return op
	case "token":
		tok := &TokenOperand{}
		if tv := ov.Get("type"); tv.Exists() {
			tok.Type = ParseSig(tv.String())
		}
		if fv := ov.Get("field"); fv.Exists() {
			tok.Field = &FieldRef{
				DeclaringType: ParseSig(fv.Get("declaringType").String()),
				Name:          fv.Get("name").String(),
				FieldType:     ParseSig(fv.Get("type").String()),
			}
		}
		if mv := ov.Get("method"); mv.Exists() {
			tok.Method = decodeMethodRef(mv)
		}
		return tok
	case "elem":
		return &ElemTypeOperand{Suffix: ov.Get("suffix").String()}
	}
	return nil
}

func decodeMethodRef(ov gjson.Result) *MethodRef {
	ref := &MethodRef{
		DeclaringType: ParseSig(ov.Get("declaringType").String()),
		Name:          ov.Get("name").String(),
		ReturnType:    ParseSig(ov.Get("returnType").String()),
		HasThis:       ov.Get("hasThis").Bool(),
		VarArg:        ov.Get("varArg").Bool(),
		FixedParams:   int(ov.Get("fixedParams").Int()),
	}
	ov.Get("params").ForEach(func(_, pv gjson.Result) bool {
		ref.Params = append(ref.Params, ParseSig(pv.String()))
		return true
	})
	ov.Get("genericArgs").ForEach(func(_, gv gjson.Result) bool {
		ref.GenericArgs = append(ref.GenericArgs, ParseSig(gv.String()))
		return true
	})
	return ref
}
