package nativebind

import (
	"strconv"
	"strings"
)

type cKind int

const (
	cVoid cKind = iota
	cBuiltin
	cNamed
	cPointer
	cArray
	cUnsupported // function types, member pointers, ...
)

// cType is a parsed C++ type spelling.
type cType struct {
	Kind  cKind
	Name  string // builtin or named spelling without cv-qualifiers
	Elem  *cType // pointee or array element
	Len   int
	Ref   bool // reference, bound as a pointer
	Const bool
}

// builtin describes a C++ fundamental type on an LP64 target.
type builtin struct {
	Go    string // Go type
	C     string // spelling in the cgo preamble
	Cgo   string // cgo type name, C.<Cgo>
	Size  int
	Align int
}

var builtinTypes = map[string]builtin{
	"bool":               {"bool", "bool", "bool", 1, 1},
	"_Bool":              {"bool", "bool", "bool", 1, 1},
	"char":               {"byte", "char", "char", 1, 1},
	"signed char":        {"int8", "signed char", "schar", 1, 1},
	"unsigned char":      {"uint8", "unsigned char", "uchar", 1, 1},
	"short":              {"int16", "short", "short", 2, 2},
	"unsigned short":     {"uint16", "unsigned short", "ushort", 2, 2},
	"int":                {"int32", "int", "int", 4, 4},
	"unsigned int":       {"uint32", "unsigned int", "uint", 4, 4},
	"long":               {"int64", "long", "long", 8, 8},
	"unsigned long":      {"uint64", "unsigned long", "ulong", 8, 8},
	"long long":          {"int64", "long long", "longlong", 8, 8},
	"unsigned long long": {"uint64", "unsigned long long", "ulonglong", 8, 8},
	"float":              {"float32", "float", "float", 4, 4},
	"double":             {"float64", "double", "double", 8, 8},
	"int8_t":             {"int8", "int8_t", "int8_t", 1, 1},
	"int16_t":            {"int16", "int16_t", "int16_t", 2, 2},
	"int32_t":            {"int32", "int32_t", "int32_t", 4, 4},
	"int64_t":            {"int64", "int64_t", "int64_t", 8, 8},
	"uint8_t":            {"uint8", "uint8_t", "uint8_t", 1, 1},
	"uint16_t":           {"uint16", "uint16_t", "uint16_t", 2, 2},
	"uint32_t":           {"uint32", "uint32_t", "uint32_t", 4, 4},
	"uint64_t":           {"uint64", "uint64_t", "uint64_t", 8, 8},
	"size_t":             {"uint64", "size_t", "size_t", 8, 8},
	"ptrdiff_t":          {"int64", "ptrdiff_t", "ptrdiff_t", 8, 8},
	"intptr_t":           {"int64", "intptr_t", "intptr_t", 8, 8},
	"uintptr_t":          {"uint64", "uintptr_t", "uintptr_t", 8, 8},
}

// builtinAliases normalises alternative spellings of fundamental types.
var builtinAliases = map[string]string{
	"signed":                 "int",
	"signed int":             "int",
	"unsigned":               "unsigned int",
	"short int":              "short",
	"signed short":           "short",
	"signed short int":       "short",
	"short signed int":       "short",
	"unsigned short int":     "unsigned short",
	"short unsigned int":     "unsigned short",
	"long int":               "long",
	"signed long":            "long",
	"signed long int":        "long",
	"long signed int":        "long",
	"unsigned long int":      "unsigned long",
	"long unsigned int":      "unsigned long",
	"long long int":          "long long",
	"signed long long":       "long long",
	"long long signed int":   "long long",
	"unsigned long long int": "unsigned long long",
	"long long unsigned int": "unsigned long long",
}

func lookupBuiltin(name string) (builtin, bool) {
	name = strings.TrimPrefix(name, "std::")
	name = strings.TrimPrefix(name, "::")
	if alias, ok := builtinAliases[name]; ok {
		name = alias
	}
	b, ok := builtinTypes[name]
	return b, ok
}

// parseCType parses a clang type spelling such as
// "const std::vector<seal::Modulus> &" or "unsigned long[4]".
func parseCType(spelling string) *cType {
	s := strings.Join(strings.Fields(spelling), " ")
	if s == "" {
		return &cType{Kind: cUnsupported, Name: spelling}
	}

	// Pointer-level cv-qualifiers: "int *const".
	for {
		trimmed := s
		for _, q := range []string{" const", " volatile", " __restrict", " restrict"} {
			if strings.HasSuffix(s, q) {
				trimmed = strings.TrimSpace(strings.TrimSuffix(s, q))
				break
			}
		}
		if trimmed == s || !(strings.HasSuffix(trimmed, "*") || strings.HasSuffix(trimmed, "&")) {
			break
		}
		s = trimmed
	}

	if strings.HasSuffix(s, "]") {
		open := topLevelLastIndex(s, '[')
		if open < 0 {
			return &cType{Kind: cUnsupported, Name: spelling}
		}
		n, err := strconv.Atoi(strings.TrimSpace(s[open+1 : len(s)-1]))
		if err != nil || n < 0 {
			return &cType{Kind: cUnsupported, Name: spelling}
		}
		return &cType{Kind: cArray, Elem: parseCType(s[:open]), Len: n}
	}

	if strings.HasSuffix(s, "&&") {
		return &cType{Kind: cPointer, Ref: true, Elem: parseCType(s[:len(s)-2])}
	}
	if strings.HasSuffix(s, "&") {
		return &cType{Kind: cPointer, Ref: true, Elem: parseCType(s[:len(s)-1])}
	}
	if strings.HasSuffix(s, "*") {
		return &cType{Kind: cPointer, Elem: parseCType(s[:len(s)-1])}
	}

	if topLevelIndex(s, '(') >= 0 {
		return &cType{Kind: cUnsupported, Name: spelling}
	}

	t := &cType{}
	for stripped := true; stripped; {
		switch {
		case strings.HasPrefix(s, "const "):
			t.Const = true
			s = s[len("const "):]
		case strings.HasSuffix(s, " const"):
			t.Const = true
			s = s[:len(s)-len(" const")]
		case strings.HasPrefix(s, "volatile "):
			s = s[len("volatile "):]
		case strings.HasSuffix(s, " volatile"):
			s = s[:len(s)-len(" volatile")]
		default:
			stripped = false
		}
	}
	for _, tag := range []string{"struct ", "class ", "union ", "enum "} {
		s = strings.TrimPrefix(s, tag)
	}
	s = strings.TrimSpace(s)

	switch {
	case s == "void":
		t.Kind = cVoid
	case s == "":
		t.Kind = cUnsupported
	default:
		if _, ok := lookupBuiltin(s); ok {
			t.Kind = cBuiltin
		} else {
			t.Kind = cNamed
		}
	}
	t.Name = s
	return t
}

// isTemplated reports whether a named spelling has template arguments.
func isTemplated(name string) bool {
	return strings.Contains(name, "<")
}

// templateBase strips the argument list from a templated name.
func templateBase(name string) string {
	if i := strings.IndexByte(name, '<'); i >= 0 {
		return name[:i]
	}
	return name
}

// topLevelIndex returns the first index of c outside template argument
// lists, or -1.
func topLevelIndex(s string, c byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
		case c:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func topLevelLastIndex(s string, c byte) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '>':
			depth++
		case '<':
			depth--
		case c:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
