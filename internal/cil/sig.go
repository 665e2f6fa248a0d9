package cil

import "strings"

// SigKind discriminates the shapes an IL type reference can take.
type SigKind int

const (
	// SigPlain is a closed named type; Name carries the IL full name.
	SigPlain SigKind = iota

	// SigGenericParam is an unresolved !T / !!T reference; Name carries the
	// parameter name.
	SigGenericParam

	// SigGenericInstance is Open`n<arg,...>; Name carries the open full name
	// and Args the type arguments.
	SigGenericInstance

	// SigArray is T[].
	SigArray

	// SigByRef is T&.
	SigByRef

	// SigPointer is T*.
	SigPointer

	// SigPinned is a pinned local's modifier; transparent for naming.
	SigPinned

	// SigModReq and SigModOpt are custom modifiers; transparent for naming.
	SigModReq
	SigModOpt
)

// TypeSig is a structured IL type reference. It mirrors the reader's
// TypeReference shapes so generic substitution can recurse on element types
// while preserving the [] / & / * suffixes.
type TypeSig struct {
	Kind SigKind

	// Name is the full name for SigPlain/SigGenericInstance, the parameter
	// name for SigGenericParam, and the modifier name for modreq/modopt.
	Name string

	// IsMethodParam distinguishes !!T (method-level) from !T (type-level).
	IsMethodParam bool

	// Element is set for array/byref/pointer/pinned/modifier shapes.
	Element *TypeSig

	// Args are the type arguments of a generic instance.
	Args []*TypeSig
}

// PlainSig wraps a closed IL full name.
func PlainSig(name string) *TypeSig {
	return &TypeSig{Kind: SigPlain, Name: name}
}

// ILName renders the signature back into the canonical IL name used as map
// keys throughout the builder: "Open<a,b>", "T[]", "T&", "T*". Pinned and
// custom modifiers are transparent.
func (s *TypeSig) ILName() string {
	if s == nil {
		return ""
	}
	switch s.Kind {
	case SigPlain, SigGenericParam:
		return s.Name
	case SigGenericInstance:
		var sb strings.Builder
		sb.WriteString(s.Name)
		sb.WriteByte('<')
		for i, a := range s.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(a.ILName())
		}
		sb.WriteByte('>')
		return sb.String()
	case SigArray:
		return s.Element.ILName() + "[]"
	case SigByRef:
		return s.Element.ILName() + "&"
	case SigPointer:
		return s.Element.ILName() + "*"
	case SigPinned, SigModReq, SigModOpt:
		return s.Element.ILName()
	}
	return s.Name
}

// OpenName returns the open type name usable as a metadata index key: the
// plain name, or the generic instance's open name, or the element's open
// name for suffixed shapes.
func (s *TypeSig) OpenName() string {
	if s == nil {
		return ""
	}
	switch s.Kind {
	case SigPlain, SigGenericParam, SigGenericInstance:
		return s.Name
	default:
		return s.Element.OpenName()
	}
}

// HasGenericParams reports whether any part of the signature still refers to
// an unbound generic parameter.
func (s *TypeSig) HasGenericParams() bool {
	if s == nil {
		return false
	}
	if s.Kind == SigGenericParam {
		return true
	}
	if s.Element != nil && s.Element.HasGenericParams() {
		return true
	}
	for _, a := range s.Args {
		if a.HasGenericParams() {
			return true
		}
	}
	return false
}

// Clone deep-copies the signature.
func (s *TypeSig) Clone() *TypeSig {
	if s == nil {
		return nil
	}
	c := &TypeSig{Kind: s.Kind, Name: s.Name, IsMethodParam: s.IsMethodParam}
	c.Element = s.Element.Clone()
	if s.Args != nil {
		c.Args = make([]*TypeSig, len(s.Args))
		for i, a := range s.Args {
			c.Args[i] = a.Clone()
		}
	}
	return c
}

// ParseSig parses an IL type-name string into a structured signature.
// Handles nested generic instances ("Dict`2<K,List`1<V>>"), the [] / & / *
// suffixes in any combination, and !n / !!n generic-parameter references.
// Malformed input degrades to a plain signature of the whole string.
func ParseSig(name string) *TypeSig {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	// Suffixes bind outermost-last: "Int32[]*" is pointer-to-array.
	switch {
	case strings.HasSuffix(name, "[]"):
		return &TypeSig{Kind: SigArray, Element: ParseSig(name[:len(name)-2])}
	case strings.HasSuffix(name, "&"):
		return &TypeSig{Kind: SigByRef, Element: ParseSig(name[:len(name)-1])}
	case strings.HasSuffix(name, "*"):
		return &TypeSig{Kind: SigPointer, Element: ParseSig(name[:len(name)-1])}
	}

	if strings.HasPrefix(name, "!!") {
		return &TypeSig{Kind: SigGenericParam, Name: name[2:], IsMethodParam: true}
	}
	if strings.HasPrefix(name, "!") {
		return &TypeSig{Kind: SigGenericParam, Name: name[1:]}
	}

	lt := strings.IndexByte(name, '<')
	if lt < 0 || !strings.HasSuffix(name, ">") {
		return &TypeSig{Kind: SigPlain, Name: name}
	}

	open := name[:lt]
	args := splitTopLevel(name[lt+1 : len(name)-1])
	sig := &TypeSig{Kind: SigGenericInstance, Name: open}
	for _, a := range args {
		sig.Args = append(sig.Args, ParseSig(a))
	}
	return sig
}

// splitTopLevel splits a comma-separated argument list while ignoring commas
// inside nested angle brackets.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
