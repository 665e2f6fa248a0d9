package lower

import (
	"regexp"
	"sort"
	"strings"

	"github.com/axiomates/cil2cpp/internal/ir"
	"github.com/axiomates/cil2cpp/internal/names"
)

// paramRewriter rewrites lingering generic-parameter names after a
// specialization body has been lowered. Two spellings occur: whole-word type
// references in C++ type strings and raw code ("TChar" -> "char16_t"), and
// arity-prefixed fragments inside mangled identifiers
// ("_1_TKey" -> "_1_System_String").
type paramRewriter struct {
	word    []*regexp.Regexp
	wordSub []string

	mangled    []*regexp.Regexp
	mangledSub []string
}

func newParamRewriter(bindings map[string]string, mapper *names.Mapper) *paramRewriter {
	r := &paramRewriter{}
	params := make([]string, 0, len(bindings))
	for p := range bindings {
		params = append(params, p)
	}
	// Longest first so TChar never rewrites inside a TCharSet binding pass.
	sort.Slice(params, func(i, j int) bool { return len(params[i]) > len(params[j]) })

	for _, p := range params {
		resolved := bindings[p]
		cpp := mapper.CppTypeFor(resolved)
		// \b treats '_' as a word character, so _1_TChar and TCharSet both
		// survive the whole-word pass.
		r.word = append(r.word, regexp.MustCompile(`\b`+regexp.QuoteMeta(p)+`\b`))
		r.wordSub = append(r.wordSub, cpp)

		mangledArg := names.Mangle(resolved)
		for arity := 1; arity <= 8; arity++ {
			pre := "_" + string(rune('0'+arity)) + "_"
			// Boundary-aware: the parameter name must not continue into a
			// longer identifier fragment like _1_ThreadLocalArray.
			r.mangled = append(r.mangled, regexp.MustCompile(
				regexp.QuoteMeta(pre+p)+`([^a-zA-Z]|$)`))
			r.mangledSub = append(r.mangledSub, pre+mangledArg+"$1")
		}
	}
	return r
}

func (r *paramRewriter) typ(s string) string {
	if s == "" {
		return s
	}
	for i, re := range r.word {
		s = re.ReplaceAllString(s, r.wordSub[i])
	}
	return s
}

func (r *paramRewriter) code(s string) string {
	if s == "" {
		return s
	}
	s = r.typ(s)
	for i, re := range r.mangled {
		s = re.ReplaceAllString(s, r.mangledSub[i])
	}
	return s
}

func (r *paramRewriter) each(ss []string, f func(string) string) {
	for i := range ss {
		ss[i] = f(ss[i])
	}
}

// resolveTypeParams applies the rewriter to every instruction variant of a
// lowered specialization, plus the TempVarTypes pre-declaration map.
func (l *Lowerer) resolveTypeParams(meth *ir.Method, bindings map[string]string) {
	if len(bindings) == 0 {
		return
	}
	r := newParamRewriter(bindings, l.Mapper)

	meth.ReturnType = r.typ(meth.ReturnType)
	for _, p := range meth.Parameters {
		p.CppType = r.typ(p.CppType)
	}
	for _, lo := range meth.Locals {
		lo.CppType = r.typ(lo.CppType)
	}

	for _, b := range meth.Blocks {
		for _, raw := range b.Instructions {
			switch v := raw.(type) {
			case *ir.Assign:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.Target = r.code(v.Target)
				v.Value = r.code(v.Value)
			case *ir.BinaryOp:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.Left = r.code(v.Left)
				v.Right = r.code(v.Right)
			case *ir.Conversion:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.TargetType = r.typ(v.TargetType)
				v.Value = r.code(v.Value)
			case *ir.Call:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.FunctionName = r.code(v.FunctionName)
				r.each(v.Arguments, r.code)
				v.VTableReturnType = r.typ(v.VTableReturnType)
				r.each(v.VTableParamTypes, r.typ)
				v.InterfaceTypeCppName = r.code(v.InterfaceTypeCppName)
			case *ir.DelegateInvoke:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.Delegate = r.code(v.Delegate)
				r.each(v.Arguments, r.code)
				v.ReturnType = r.typ(v.ReturnType)
				r.each(v.ParamTypes, r.typ)
			case *ir.DelegateCreate:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.DelegateTypeCpp = r.code(v.DelegateTypeCpp)
				v.TargetExpr = r.code(v.TargetExpr)
				v.FunctionExpr = r.code(v.FunctionExpr)
			case *ir.NewObj:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.TypeCppName = r.code(v.TypeCppName)
				v.CtorName = r.code(v.CtorName)
				r.each(v.CtorArgs, r.code)
			case *ir.InitObj:
				v.Addr = r.code(v.Addr)
				v.TypeCppName = r.code(v.TypeCppName)
			case *ir.FieldAccess:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.ObjectExpr = r.code(v.ObjectExpr)
				v.FieldCppName = r.code(v.FieldCppName)
				v.CastToType = r.typ(v.CastToType)
				v.StoreValue = r.code(v.StoreValue)
			case *ir.StaticFieldAccess:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.TypeCppName = r.code(v.TypeCppName)
				v.FieldCppName = r.code(v.FieldCppName)
				v.StoreValue = r.code(v.StoreValue)
			case *ir.Cast:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.Value = r.code(v.Value)
				v.TargetType = r.typ(v.TargetType)
			case *ir.Box:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.Value = r.code(v.Value)
				v.TypeCppName = r.code(v.TypeCppName)
				v.ValueSize = r.code(v.ValueSize)
			case *ir.Unbox:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.Value = r.code(v.Value)
				v.TypeCppName = r.code(v.TypeCppName)
			case *ir.RawCpp:
				v.ResultTypeCpp = r.typ(v.ResultTypeCpp)
				v.Code = r.code(v.Code)
			case *ir.CondBranch:
				v.Condition = r.code(v.Condition)
			case *ir.Return:
				v.Value = r.code(v.Value)
			case *ir.DeclareLocal:
				v.CppType = r.typ(v.CppType)
				v.Init = r.code(v.Init)
			case *ir.StaticCtorGuard:
				v.TypeCppName = r.code(v.TypeCppName)
			case *ir.CatchBegin:
				v.ExceptionTypeCpp = r.typ(v.ExceptionTypeCpp)
			}
		}
	}

	for name, typ := range meth.TempVarTypes {
		rewritten := r.typ(typ)
		if rewritten != typ {
			meth.TempVarTypes[name] = rewritten
		}
	}
}

// stray generic-parameter names in a return type degrade to Object*.
func fallbackReturnType(ret string) string {
	if strings.Contains(ret, "!") {
		return "System_Object*"
	}
	return ret
}
