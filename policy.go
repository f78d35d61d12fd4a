package nativebind

import (
	"fmt"
	"regexp"
	"strings"
)

// SymbolPolicy decides which namespace-qualified native names reach the
// binding. Patterns match whole names; "*" matches any run of characters,
// including "::" separators, so "seal::*" covers every nested namespace.
//
// A name can be:
//   - allowed and bound with its full shape (records, enums, functions)
//   - opaque: emitted as a fixed-size blob, never decomposed
//   - hidden: never named in the binding at all
//
// Opaque patterns win over allow patterns. Allowed template instantiations
// are always opaque.
type SymbolPolicy struct {
	allow  []*regexp.Regexp
	opaque []*regexp.Regexp
}

// Disposition is the policy's verdict on one name.
type Disposition int

const (
	Hidden Disposition = iota
	Bound
	OpaqueOnly
)

func (d Disposition) String() string {
	switch d {
	case Bound:
		return "bound"
	case OpaqueOnly:
		return "opaque"
	default:
		return "hidden"
	}
}

// NewSymbolPolicy compiles the allow and opaque pattern lists.
func NewSymbolPolicy(allow, opaque []string) (*SymbolPolicy, error) {
	p := &SymbolPolicy{}
	for _, pattern := range allow {
		re, err := compileSymbolPattern(pattern)
		if err != nil {
			return nil, err
		}
		p.allow = append(p.allow, re)
	}
	for _, pattern := range opaque {
		re, err := compileSymbolPattern(pattern)
		if err != nil {
			return nil, err
		}
		p.opaque = append(p.opaque, re)
	}
	return p, nil
}

func compileSymbolPattern(pattern string) (*regexp.Regexp, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty symbol pattern")
	}
	parts := strings.Split(strings.TrimPrefix(pattern, "::"), "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

func matchAny(patterns []*regexp.Regexp, name string) bool {
	name = strings.TrimPrefix(name, "::")
	for _, re := range patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Allows reports whether name matches an allow pattern.
func (p *SymbolPolicy) Allows(name string) bool {
	return matchAny(p.allow, name)
}

// IsOpaque reports whether name matches an opaque pattern.
func (p *SymbolPolicy) IsOpaque(name string) bool {
	return matchAny(p.opaque, name)
}

// Classify returns the disposition of a type or function name.
func (p *SymbolPolicy) Classify(name string) Disposition {
	switch {
	case p.IsOpaque(name):
		return OpaqueOnly
	case p.Allows(name) && isTemplated(name):
		return OpaqueOnly
	case p.Allows(name):
		return Bound
	default:
		return Hidden
	}
}

// Visible reports whether name may appear in the binding in any form.
func (p *SymbolPolicy) Visible(name string) bool {
	return p.Classify(name) != Hidden
}

// TypeRepr is how a record crosses the language boundary: either with its
// fields exposed (Structural) or as a sized, aligned blob (Opaque).
type TypeRepr interface {
	isTypeRepr()
}

// Structural exposes every field. The Go layout was verified against the
// native layout, field by field.
type Structural struct {
	Fields []BoundField
}

// Opaque exposes only size and alignment. Size 0 marks a handle type that is
// only ever used behind a pointer.
type Opaque struct {
	Size   int
	Align  int
	Reason string
}

func (Structural) isTypeRepr() {}
func (Opaque) isTypeRepr()     {}
