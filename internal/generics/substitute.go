// Package generics discovers, filters and materializes the closed generic
// type and method specializations reachable from the program.
package generics

import "github.com/axiomates/cil2cpp/internal/cil"

// TypeParamMap binds generic-parameter names to resolved IL type names.
// Method-level bindings shadow type-level bindings.
type TypeParamMap struct {
	typeParams   map[string]string
	methodParams map[string]string
}

// NewTypeParamMap builds a map from parallel name/argument lists.
func NewTypeParamMap(params []cil.GenericParam, args []string) *TypeParamMap {
	m := &TypeParamMap{typeParams: make(map[string]string)}
	for i, p := range params {
		if i < len(args) {
			m.typeParams[p.Name] = args[i]
		}
	}
	return m
}

// WithMethodParams layers method-level bindings over the receiver.
func (m *TypeParamMap) WithMethodParams(params []cil.GenericParam, args []string) *TypeParamMap {
	out := &TypeParamMap{
		typeParams:   m.typeParams,
		methodParams: make(map[string]string),
	}
	for i, p := range params {
		if i < len(args) {
			out.methodParams[p.Name] = args[i]
		}
	}
	return out
}

// Empty reports whether no binding exists at all.
func (m *TypeParamMap) Empty() bool {
	return m == nil || (len(m.typeParams) == 0 && len(m.methodParams) == 0)
}

// Resolve looks a parameter name up, method-level first.
func (m *TypeParamMap) Resolve(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	if m.methodParams != nil {
		if v, ok := m.methodParams[name]; ok {
			return v, true
		}
	}
	v, ok := m.typeParams[name]
	return v, ok
}

// Bindings returns every binding, method-level entries shadowing type-level
// ones, for the post-pass identifier rewrite.
func (m *TypeParamMap) Bindings() map[string]string {
	out := make(map[string]string, len(m.typeParams)+len(m.methodParams))
	for k, v := range m.typeParams {
		out[k] = v
	}
	for k, v := range m.methodParams {
		out[k] = v
	}
	return out
}

// Substitute resolves every generic-parameter reference inside sig using the
// map, preserving array/byref/pointer suffixes and recursing into generic
// instance arguments. Unmatched parameters pass through unchanged.
func Substitute(sig *cil.TypeSig, m *TypeParamMap) *cil.TypeSig {
	if sig == nil {
		return nil
	}
	switch sig.Kind {
	case cil.SigGenericParam:
		if resolved, ok := m.Resolve(sig.Name); ok {
			return cil.ParseSig(resolved)
		}
		return sig.Clone()
	case cil.SigGenericInstance:
		out := &cil.TypeSig{Kind: cil.SigGenericInstance, Name: sig.Name}
		for _, a := range sig.Args {
			out.Args = append(out.Args, Substitute(a, m))
		}
		return out
	case cil.SigArray, cil.SigByRef, cil.SigPointer, cil.SigPinned, cil.SigModReq, cil.SigModOpt:
		elem := Substitute(sig.Element, m)
		if sig.Kind == cil.SigPinned || sig.Kind == cil.SigModReq || sig.Kind == cil.SigModOpt {
			// Modifiers and pinning are transparent in the output name.
			return elem
		}
		return &cil.TypeSig{Kind: sig.Kind, Element: elem}
	default:
		// Plain names may still be a bare parameter name when the reader
		// flattened the reference; fall back to a map match on the name.
		if resolved, ok := m.Resolve(sig.Name); ok {
			return cil.ParseSig(resolved)
		}
		return sig.Clone()
	}
}

// SubstituteName is Substitute over a textual IL name.
func SubstituteName(ilName string, m *TypeParamMap) string {
	if ilName == "" {
		return ""
	}
	return Substitute(cil.ParseSig(ilName), m).ILName()
}
