package nativebind

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Header is the language-neutral description of the declarations reachable
// from the umbrella header.
type Header struct {
	Records   map[string]*RecordDecl // by qualified name
	Enums     map[string]*EnumDecl
	Typedefs  map[string]TypeRef
	Templates map[string]bool // qualified names of class templates
	Functions []*FunctionDecl // free functions in declaration order

	// Order lists record and enum names in declaration order.
	Order []string

	// usings maps a namespace to the namespaces it imports with a using
	// directive.
	usings map[string][]string
}

// TypeRef is a type as clang spells it, plus the scope it was written in.
type TypeRef struct {
	Spelling  string
	Desugared string
	Scope     string
}

func (t TypeRef) String() string {
	return t.Spelling
}

// RecordDecl is a struct, class or union.
type RecordDecl struct {
	Name        string // qualified
	Tag         string // struct, class or union
	Complete    bool
	Bases       int
	Polymorphic bool // has virtual functions or virtual bases
	PassInRegs  bool // trivially passable by value across a C ABI
	Bitfields   bool
	Anonymous   bool // contains unnamed members
	Fields      []FieldDecl
	Methods     []*FunctionDecl
}

// FieldDecl is a non-static data member.
type FieldDecl struct {
	Name   string
	Type   TypeRef
	Public bool
}

// EnumDecl is an enumeration with its constants.
type EnumDecl struct {
	Name       string
	Scoped     bool
	Underlying TypeRef
	Constants  []EnumConstant
}

type EnumConstant struct {
	Name  string
	Value int64
}

// FunctionKind separates free functions from the different member kinds.
type FunctionKind int

const (
	FreeFunction FunctionKind = iota
	MethodFunction
	ConstructorFunction
	DestructorFunction
	ConversionFunction
)

// FunctionDecl is a free function or member function.
type FunctionDecl struct {
	Name     string // qualified
	Simple   string // unqualified, e.g. "operator==" or "add_inplace"
	Mangled  string
	CLinkage bool
	Kind     FunctionKind
	Record   string // owning record for members
	Return   TypeRef
	Params   []ParamDecl
	Public   bool
	Static   bool
	Virtual  bool
	Const    bool
	Inline   bool // defined in the header or declared inline; may have no symbol
	Deleted  bool
	Variadic bool
	Internal bool // internal linkage
}

type ParamDecl struct {
	Name string
	Type TypeRef
}

// astNode mirrors the subset of clang's -ast-dump=json output the extractor
// reads.
type astNode struct {
	Kind                string         `json:"kind"`
	Name                string         `json:"name"`
	MangledName         string         `json:"mangledName"`
	TagUsed             string         `json:"tagUsed"`
	CompleteDefinition  bool           `json:"completeDefinition"`
	IsImplicit          bool           `json:"isImplicit"`
	IsBitfield          bool           `json:"isBitfield"`
	ScopedEnumTag       string         `json:"scopedEnumTag"`
	Language            string         `json:"language"`
	Access              string         `json:"access"`
	Type                *astType       `json:"type"`
	FixedUnderlying     *astType       `json:"fixedUnderlyingType"`
	StorageClass        string         `json:"storageClass"`
	Inline              bool           `json:"inline"`
	Virtual             bool           `json:"virtual"`
	Pure                bool           `json:"pure"`
	Variadic            bool           `json:"variadic"`
	ExplicitlyDeleted   bool           `json:"explicitlyDeleted"`
	ExplicitlyDefaulted string         `json:"explicitlyDefaulted"`
	Value               string         `json:"value"`
	Bases               []astBase      `json:"bases"`
	DefinitionData      *astDefinition `json:"definitionData"`
	NominatedNamespace  *astNode       `json:"nominatedNamespace"`
	Inner               []astNode      `json:"inner"`
}

type astType struct {
	QualType          string `json:"qualType"`
	DesugaredQualType string `json:"desugaredQualType"`
}

type astBase struct {
	Access    string   `json:"access"`
	IsVirtual bool     `json:"isVirtual"`
	Type      *astType `json:"type"`
}

type astDefinition struct {
	CanPassInRegisters bool `json:"canPassInRegisters"`
	IsPolymorphic      bool `json:"isPolymorphic"`
	IsAbstract         bool `json:"isAbstract"`
}

// ParseClangAST decodes the JSON AST of one translation unit. Declarations
// from system headers are kept because the policy decides what is bound;
// implicit declarations and templates are dropped.
func ParseClangAST(data []byte) (*Header, error) {
	var root astNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode clang AST: %w", err)
	}
	if root.Kind != "TranslationUnitDecl" {
		return nil, fmt.Errorf("decode clang AST: unexpected root %q", root.Kind)
	}

	h := &Header{
		Records:   make(map[string]*RecordDecl),
		Enums:     make(map[string]*EnumDecl),
		Typedefs:  make(map[string]TypeRef),
		Templates: make(map[string]bool),
		usings:    make(map[string][]string),
	}
	w := &astWalker{h: h}
	w.walkDecls(root.Inner, "", false, false)
	return h, nil
}

type astWalker struct {
	h *Header
}

func qualify(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "::" + name
}

func (w *astWalker) walkDecls(nodes []astNode, scope string, cLinkage, internal bool) {
	for i := range nodes {
		n := &nodes[i]
		if n.IsImplicit {
			continue
		}

		switch n.Kind {
		case "NamespaceDecl":
			if n.Name == "" {
				w.walkDecls(n.Inner, scope, cLinkage, true)
				continue
			}
			w.walkDecls(n.Inner, qualify(scope, n.Name), cLinkage, internal)

		case "LinkageSpecDecl":
			w.walkDecls(n.Inner, scope, n.Language == "C", internal)

		case "UsingDirectiveDecl":
			if n.NominatedNamespace != nil && n.NominatedNamespace.Name != "" {
				w.h.usings[scope] = append(w.h.usings[scope], n.NominatedNamespace.Name)
			}

		case "CXXRecordDecl", "RecordDecl":
			w.record(n, scope)

		case "EnumDecl":
			w.enum(n, scope)

		case "TypedefDecl", "TypeAliasDecl":
			if n.Name != "" && n.Type != nil {
				w.h.Typedefs[qualify(scope, n.Name)] = typeRef(n.Type, scope)
			}

		case "ClassTemplateDecl", "TypeAliasTemplateDecl":
			if n.Name != "" {
				w.h.Templates[qualify(scope, n.Name)] = true
			}

		case "FunctionDecl":
			fn := w.function(n, scope, "", "public")
			fn.CLinkage = cLinkage
			fn.Internal = internal || n.StorageClass == "static"
			w.h.Functions = append(w.h.Functions, fn)
		}
	}
}

func (w *astWalker) record(n *astNode, scope string) {
	if n.Name == "" {
		return
	}
	name := qualify(scope, n.Name)

	rec := &RecordDecl{
		Name:     name,
		Tag:      n.TagUsed,
		Complete: n.CompleteDefinition,
		Bases:    len(n.Bases),
	}
	if rec.Tag == "" {
		rec.Tag = "struct"
	}
	for _, b := range n.Bases {
		if b.IsVirtual {
			rec.Polymorphic = true
		}
	}
	if n.DefinitionData != nil {
		rec.PassInRegs = n.DefinitionData.CanPassInRegisters
		rec.Polymorphic = rec.Polymorphic || n.DefinitionData.IsPolymorphic || n.DefinitionData.IsAbstract
	}

	access := "public"
	if rec.Tag == "class" {
		access = "private"
	}

	for i := range n.Inner {
		child := &n.Inner[i]
		if child.IsImplicit {
			continue
		}
		if child.Kind == "AccessSpecDecl" {
			access = child.Access
			continue
		}
		effective := access
		if child.Access != "" {
			effective = child.Access
		}

		switch child.Kind {
		case "FieldDecl":
			if child.Name == "" {
				rec.Anonymous = true
				continue
			}
			if child.IsBitfield {
				rec.Bitfields = true
			}
			rec.Fields = append(rec.Fields, FieldDecl{
				Name:   child.Name,
				Type:   typeRef(child.Type, name),
				Public: effective == "public",
			})

		case "CXXMethodDecl", "CXXConstructorDecl", "CXXDestructorDecl", "CXXConversionDecl":
			fn := w.function(child, name, name, effective)
			if fn.Virtual {
				rec.Polymorphic = true
			}
			rec.Methods = append(rec.Methods, fn)

		case "CXXRecordDecl", "RecordDecl":
			if child.Name == "" {
				rec.Anonymous = true
				continue
			}
			w.record(child, name)

		case "EnumDecl":
			w.enum(child, name)

		case "TypedefDecl", "TypeAliasDecl":
			if child.Name != "" && child.Type != nil {
				w.h.Typedefs[qualify(name, child.Name)] = typeRef(child.Type, name)
			}

		case "ClassTemplateDecl":
			w.h.Templates[qualify(name, child.Name)] = true
		}
	}

	if prev, ok := w.h.Records[name]; ok {
		if prev.Complete || !rec.Complete {
			return
		}
	} else {
		w.h.Order = append(w.h.Order, name)
	}
	w.h.Records[name] = rec
}

func (w *astWalker) enum(n *astNode, scope string) {
	if n.Name == "" {
		return
	}
	name := qualify(scope, n.Name)

	enum := &EnumDecl{Name: name, Scoped: n.ScopedEnumTag != ""}
	if n.FixedUnderlying != nil {
		enum.Underlying = typeRef(n.FixedUnderlying, scope)
	} else {
		enum.Underlying = TypeRef{Spelling: "int"}
	}

	next := int64(0)
	for i := range n.Inner {
		c := &n.Inner[i]
		if c.Kind != "EnumConstantDecl" {
			continue
		}
		value := next
		if v, ok := constantValue(c.Inner); ok {
			value = v
		}
		enum.Constants = append(enum.Constants, EnumConstant{Name: c.Name, Value: value})
		next = value + 1
	}

	if len(enum.Constants) == 0 {
		if _, seen := w.h.Enums[name]; seen {
			return
		}
	}
	if _, seen := w.h.Enums[name]; !seen {
		w.h.Order = append(w.h.Order, name)
	}
	w.h.Enums[name] = enum
}

// constantValue finds the evaluated value of an enumerator initializer.
// clang records it on the ConstantExpr wrapping the expression.
func constantValue(nodes []astNode) (int64, bool) {
	for i := range nodes {
		n := &nodes[i]
		if n.Value != "" && (n.Kind == "ConstantExpr" || n.Kind == "IntegerLiteral") {
			if v, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
				return v, true
			}
			if v, err := strconv.ParseUint(n.Value, 10, 64); err == nil {
				return int64(v), true
			}
		}
		if v, ok := constantValue(n.Inner); ok {
			return v, true
		}
	}
	return 0, false
}

func (w *astWalker) function(n *astNode, scope, record, access string) *FunctionDecl {
	fn := &FunctionDecl{
		Name:     qualify(scope, n.Name),
		Simple:   n.Name,
		Mangled:  n.MangledName,
		Record:   record,
		Public:   access == "public",
		Static:   n.StorageClass == "static",
		Virtual:  n.Virtual || n.Pure,
		Inline:   n.Inline || n.ExplicitlyDefaulted != "",
		Deleted:  n.ExplicitlyDeleted,
		Variadic: n.Variadic,
	}

	switch n.Kind {
	case "CXXMethodDecl":
		fn.Kind = MethodFunction
	case "CXXConstructorDecl":
		fn.Kind = ConstructorFunction
	case "CXXDestructorDecl":
		fn.Kind = DestructorFunction
	case "CXXConversionDecl":
		fn.Kind = ConversionFunction
	default:
		fn.Kind = FreeFunction
	}

	if n.Type != nil {
		ret, qualifiers := splitFunctionType(n.Type.QualType)
		fn.Return = TypeRef{Spelling: ret, Scope: scope}
		if n.Type.DesugaredQualType != "" {
			fn.Return.Desugared, _ = splitFunctionType(n.Type.DesugaredQualType)
		}
		fn.Const = strings.Contains(qualifiers, "const")
	}

	for i := range n.Inner {
		child := &n.Inner[i]
		switch child.Kind {
		case "ParmVarDecl":
			fn.Params = append(fn.Params, ParamDecl{Name: child.Name, Type: typeRef(child.Type, scope)})
		case "CompoundStmt":
			// A body in the header is an inline definition.
			fn.Inline = true
		}
	}
	return fn
}

func typeRef(t *astType, scope string) TypeRef {
	if t == nil {
		return TypeRef{Spelling: "void", Scope: scope}
	}
	return TypeRef{Spelling: t.QualType, Desugared: t.DesugaredQualType, Scope: scope}
}

// splitFunctionType splits a function type spelling such as
// "seal::Plaintext (const seal::Ciphertext &) const" into its return type
// and the qualifiers after the parameter list.
func splitFunctionType(spelling string) (ret, qualifiers string) {
	depth := 0
	end := -1
	for i := len(spelling) - 1; i >= 0; i-- {
		switch spelling[i] {
		case ')':
			if depth == 0 && end < 0 {
				end = i
			}
			depth++
		case '(':
			depth--
			if depth == 0 && end >= 0 {
				return strings.TrimSpace(spelling[:i]), strings.TrimSpace(spelling[end+1:])
			}
		}
	}
	return strings.TrimSpace(spelling), ""
}
