package nativebind

import (
	"go/token"
	"strconv"
	"strings"
	"unicode"
)

// operatorNames renames C++ operators to Go method names.
var operatorNames = map[string]string{
	"operator==":  "Equal",
	"operator!=":  "NotEqual",
	"operator<":   "Less",
	"operator<=":  "LessEqual",
	"operator>":   "Greater",
	"operator>=":  "GreaterEqual",
	"operator+":   "Add",
	"operator-":   "Sub",
	"operator*":   "Mul",
	"operator/":   "Div",
	"operator%":   "Mod",
	"operator+=":  "AddAssign",
	"operator-=":  "SubAssign",
	"operator*=":  "MulAssign",
	"operator/=":  "DivAssign",
	"operator%=":  "ModAssign",
	"operator=":   "Assign",
	"operator[]":  "Index",
	"operator()":  "Call",
	"operator!":   "Not",
	"operator~":   "Complement",
	"operator&":   "And",
	"operator|":   "Or",
	"operator^":   "Xor",
	"operator&=":  "AndAssign",
	"operator|=":  "OrAssign",
	"operator^=":  "XorAssign",
	"operator<<":  "ShiftLeft",
	"operator>>":  "ShiftRight",
	"operator<<=": "ShiftLeftAssign",
	"operator>>=": "ShiftRightAssign",
	"operator++":  "Inc",
	"operator--":  "Dec",
	"operator&&":  "LogicalAnd",
	"operator||":  "LogicalOr",
}

// exportedName turns a native identifier into an exported Go identifier:
// "poly_modulus_degree" -> "PolyModulusDegree", "BFV" -> "BFV".
func exportedName(native string) string {
	var b strings.Builder
	upper := true
	for _, r := range native {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" {
		return "X"
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "X" + name
	}
	return name
}

// lastSegment returns the unqualified part of a native name, ignoring
// template arguments.
func lastSegment(native string) string {
	base := templateBase(native)
	if i := strings.LastIndex(base, "::"); i >= 0 {
		return base[i+2:]
	}
	return base
}

// typeGoName is the preferred Go name of a type: the last segment for plain
// names, every component for template instantiations so that
// "std::vector<int>" becomes "StdVectorInt".
func typeGoName(native string) string {
	if isTemplated(native) {
		return exportedName(native)
	}
	return exportedName(lastSegment(native))
}

// functionGoName maps a function's unqualified name, renaming operators. The
// second result is false for operators Go cannot express.
func functionGoName(simple string) (string, bool) {
	if isOperator(simple) {
		name, ok := operatorNames[strings.ReplaceAll(simple, " ", "")]
		return name, ok
	}
	return exportedName(simple), true
}

func isOperator(simple string) bool {
	return strings.HasPrefix(simple, "operator") && !isIdentContinue(simple, len("operator"))
}

func isIdentContinue(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r := rune(s[i])
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// cIdent turns a native name into a C identifier fragment.
func cIdent(native string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimPrefix(native, "::") {
		if r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// namer hands out unique identifiers within one scope.
type namer struct {
	used map[string]bool
}

func newNamer(reserved ...string) *namer {
	n := &namer{used: make(map[string]bool)}
	for _, r := range reserved {
		n.used[r] = true
	}
	return n
}

// claim returns the first free name among candidates, or the last candidate
// with a numeric suffix.
func (n *namer) claim(candidates ...string) string {
	for _, c := range candidates {
		if c != "" && !n.used[c] {
			n.used[c] = true
			return c
		}
	}
	base := candidates[len(candidates)-1]
	for i := 2; ; i++ {
		c := base + strconv.Itoa(i)
		if !n.used[c] {
			n.used[c] = true
			return c
		}
	}
}

// paramName returns a usable Go parameter name for a native parameter.
func paramName(native string, index int) string {
	name := exportedName(native)
	if native == "" || name == "X" {
		return "arg" + strconv.Itoa(index)
	}
	name = strings.ToLower(name[:1]) + name[1:]
	if token.IsKeyword(name) || predeclared[name] {
		return name + "_"
	}
	return name
}

var predeclared = map[string]bool{
	"bool": true, "byte": true, "int": true, "int8": true, "int16": true,
	"int32": true, "int64": true, "uint": true, "uint8": true, "uint16": true,
	"uint32": true, "uint64": true, "uintptr": true, "float32": true,
	"float64": true, "string": true, "error": true, "rune": true, "any": true,
	"true": true, "false": true, "nil": true, "iota": true, "len": true,
	"cap": true, "new": true, "make": true, "append": true, "copy": true,
	"unsafe": true, "ret": true, "min": true, "max": true, "clear": true,
	"complex": true, "real": true, "imag": true, "panic": true, "print": true,
}
