package nativebind

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BindingModel is everything the generated Go file declares.
type BindingModel struct {
	Types     []*BoundType
	Enums     []*BoundEnum
	Functions []*BoundFunction
	Skipped   []SkippedSymbol
}

// BoundType is a record or opaque stand-in that crosses the boundary.
type BoundType struct {
	Native     string
	GoName     string
	CName      string
	Repr       TypeRepr
	Size       int // native size; 0 for handles
	Align      int // native alignment
	PassInRegs bool
}

// Structural returns the field list when the type is exposed structurally.
func (t *BoundType) Structural() (Structural, bool) {
	s, ok := t.Repr.(Structural)
	return s, ok
}

// Handle reports whether the type is only usable behind a pointer.
func (t *BoundType) Handle() bool {
	o, ok := t.Repr.(Opaque)
	return ok && o.Size == 0
}

// goAlign is the alignment of the Go rendering.
func (t *BoundType) goAlign() int {
	return min(max(t.Align, 1), goMaxAlign)
}

type BoundField struct {
	Native string
	GoName string
	Type   GoType
	Offset int
}

type BoundEnum struct {
	Native     string
	GoName     string
	Underlying GoType
	Constants  []BoundConstant
}

type BoundConstant struct {
	Native string
	GoName string
	Value  int64
}

// BoundFunction is a callable wrapper. Methods carry their receiver type;
// static member functions are rendered as plain functions.
type BoundFunction struct {
	Native    string
	GoName    string
	CName     string // identifier in the cgo preamble
	Symbol    string // linker symbol when it differs from CName
	Receiver  *BoundType
	RecvName  string
	ConstRecv bool
	Params    []BoundParam
	Result    GoType
}

type BoundParam struct {
	Native string
	GoName string
	Type   GoType
}

// SkippedSymbol records a public symbol left out of the binding and why.
type SkippedSymbol struct {
	Native string
	Reason string
}

func (s SkippedSymbol) String() string {
	return s.Native + ": " + s.Reason
}

type goKind int

const (
	goVoid goKind = iota
	goScalar
	goEnum
	goPointer
	goUnsafePointer
	goRecord
	goArray
)

// GoType is a type as both sides of the boundary spell it.
type GoType struct {
	Kind  goKind
	Go    string // Go spelling
	C     string // C spelling in the preamble, arrays excluded
	Cgo   string // spelling of the same type through cgo, e.g. C.int
	Size  int
	Align int
	Elem  *GoType // array element
	Len   int
	Named *BoundType
}

var (
	voidType   = GoType{Kind: goVoid, C: "void"}
	unsafeType = GoType{Kind: goUnsafePointer, Go: "unsafe.Pointer", C: "void*", Cgo: "unsafe.Pointer", Size: 8, Align: 8}
)

// cDecl declares name with type t in C.
func (t GoType) cDecl(name string) string {
	if t.Kind == goArray {
		return t.Elem.cDecl(name + "[" + strconv.Itoa(t.Len) + "]")
	}
	return t.C + " " + name
}

type position int

const (
	atField position = iota
	atParam
	atResult
)

type recordPlan struct {
	decl      *RecordDecl
	candidate bool
	reason    string
	fields    []*cType
	finishing bool
}

// binder turns a parsed header into a BindingModel. Binding runs in two
// passes around the layout probe: plan decides which types need a native
// layout, bind builds the model once the layouts are known.
type binder struct {
	h      *Header
	policy *SymbolPolicy
	prefix string
	goos   string

	records     map[string]*recordPlan
	recordOrder []string
	sized       map[string]bool
	sizedOrder  []string
	enumOrder   []string

	types    map[string]*BoundType
	enums    map[string]*BoundEnum
	handles  []*BoundType
	layouts  map[string]*Layout
	global   *namer
	cnames   *namer
	model    *BindingModel
	finished []*BoundType
}

func newBinder(h *Header, policy *SymbolPolicy, prefix, goos string) *binder {
	return &binder{
		h:       h,
		policy:  policy,
		prefix:  prefix,
		goos:    goos,
		records: make(map[string]*recordPlan),
		sized:   make(map[string]bool),
		types:   make(map[string]*BoundType),
		enums:   make(map[string]*BoundEnum),
		global:  newNamer(),
		cnames:  newNamer(),
	}
}

// plan classifies every record and enum and returns the layouts the bind
// pass will need.
func (b *binder) plan() []LayoutRequest {
	for _, name := range b.h.Order {
		if b.policy.Classify(name) != Bound {
			continue
		}
		if rec, ok := b.h.Records[name]; ok {
			b.planRecord(rec)
		} else if _, ok := b.h.Enums[name]; ok {
			b.enumOrder = append(b.enumOrder, name)
		}
	}

	var reqs []LayoutRequest
	for _, name := range b.recordOrder {
		rp := b.records[name]
		if !rp.decl.Complete {
			continue
		}
		req := LayoutRequest{Type: name}
		if rp.candidate {
			for _, f := range rp.decl.Fields {
				req.Fields = append(req.Fields, f.Name)
			}
		}
		reqs = append(reqs, req)
	}
	for _, name := range b.sizedOrder {
		reqs = append(reqs, LayoutRequest{Type: name})
	}
	return reqs
}

func (b *binder) planRecord(rec *RecordDecl) {
	rp := &recordPlan{decl: rec}
	b.records[rec.Name] = rp
	b.recordOrder = append(b.recordOrder, rec.Name)

	switch {
	case !rec.Complete:
		rp.reason = "incomplete type"
	case rec.Tag == "union":
		rp.reason = "union"
	case rec.Bases > 0:
		rp.reason = "has base classes"
	case rec.Polymorphic:
		rp.reason = "polymorphic"
	case rec.Bitfields:
		rp.reason = "has bit-fields"
	case rec.Anonymous:
		rp.reason = "has anonymous members"
	case len(rec.Fields) == 0:
		rp.reason = "has no fields"
	default:
		for _, f := range rec.Fields {
			if !f.Public {
				rp.reason = "has non-public fields"
				break
			}
			t := b.resolve(f.Type)
			if reason := b.planField(t); reason != "" {
				rp.reason = fmt.Sprintf("field %s: %s", f.Name, reason)
				break
			}
			rp.fields = append(rp.fields, t)
		}
	}
	rp.candidate = rp.reason == ""
	if !rp.candidate {
		rp.fields = nil
	}
}

// planField checks a field type held by value and registers opaque
// stand-ins whose size the containing record depends on.
func (b *binder) planField(t *cType) string {
	switch t.Kind {
	case cBuiltin, cPointer:
		return ""
	case cArray:
		if t.Len == 0 {
			return "zero-length array"
		}
		return b.planField(t.Elem)
	case cNamed:
		switch {
		case b.h.Enums[t.Name] != nil && b.policy.Classify(t.Name) == Bound:
			return ""
		case b.h.Records[t.Name] != nil && b.policy.Classify(t.Name) == Bound:
			if !b.h.Records[t.Name].Complete {
				return "incomplete type " + t.Name
			}
			return ""
		case b.policy.Classify(t.Name) == OpaqueOnly && b.visible(t.Name):
			if !b.sized[t.Name] {
				b.sized[t.Name] = true
				b.sizedOrder = append(b.sizedOrder, t.Name)
			}
			return ""
		}
		return "references a type outside the binding"
	}
	return "unsupported field type"
}

// visible reports whether a name, and every template argument in it, may
// appear in the binding.
func (b *binder) visible(name string) bool {
	if b.policy.Classify(name) == Hidden {
		return false
	}
	for _, arg := range templateArgs(name) {
		if !b.visibleArg(arg) {
			return false
		}
	}
	return true
}

func (b *binder) visibleArg(arg string) bool {
	if _, err := strconv.ParseInt(arg, 0, 64); err == nil || arg == "true" || arg == "false" {
		return true
	}
	t := parseCType(arg)
	for t.Kind == cPointer || t.Kind == cArray {
		t = t.Elem
	}
	switch t.Kind {
	case cVoid, cBuiltin:
		return true
	case cNamed:
		return b.visible(t.Name)
	}
	return false
}

// templateArgs splits the top-level template argument list of a name.
func templateArgs(name string) []string {
	open := strings.IndexByte(name, '<')
	if open < 0 || !strings.HasSuffix(name, ">") {
		return nil
	}
	inner := name[open+1 : len(name)-1]
	var args []string
	for {
		i := topLevelIndex(inner, ',')
		if i < 0 {
			break
		}
		args = append(args, strings.TrimSpace(inner[:i]))
		inner = inner[i+1:]
	}
	if s := strings.TrimSpace(inner); s != "" {
		args = append(args, s)
	}
	return args
}

// resolve parses a type reference and rewrites every named type to its
// qualified declaration name, looking through typedefs.
func (b *binder) resolve(ref TypeRef) *cType {
	spelling := ref.Spelling
	if ref.Desugared != "" {
		spelling = ref.Desugared
	}
	t := parseCType(spelling)
	b.resolveNames(t, ref.Scope, 0)
	return t
}

func (b *binder) resolveNames(t *cType, scope string, depth int) {
	switch t.Kind {
	case cPointer, cArray:
		b.resolveNames(t.Elem, scope, depth)
	case cNamed:
		name := b.lookup(t.Name, scope)
		if td, ok := b.h.Typedefs[name]; ok && depth < 8 {
			inner := b.resolveTypedef(td, depth+1)
			inner.Const = inner.Const || t.Const
			inner.Ref = t.Ref
			*t = *inner
			return
		}
		t.Name = name
	}
}

func (b *binder) resolveTypedef(td TypeRef, depth int) *cType {
	spelling := td.Spelling
	if td.Desugared != "" {
		spelling = td.Desugared
	}
	t := parseCType(spelling)
	b.resolveNames(t, td.Scope, depth)
	return t
}

// lookup finds the declaration a name written in scope refers to, walking
// outwards through enclosing scopes and using directives.
func (b *binder) lookup(name, scope string) string {
	if strings.HasPrefix(name, "::") {
		return b.qualifyArgs(strings.TrimPrefix(name, "::"), scope)
	}
	base := templateBase(name)
	for s := scope; ; s = parentScope(s) {
		if cand := qualify(s, base); b.known(cand) {
			return b.qualifyArgs(cand+name[len(base):], scope)
		}
		for _, u := range b.h.usings[s] {
			for _, ns := range []string{qualify(s, u), u} {
				if cand := qualify(ns, base); b.known(cand) {
					return b.qualifyArgs(cand+name[len(base):], scope)
				}
			}
		}
		if s == "" {
			break
		}
	}
	return b.qualifyArgs(name, scope)
}

// qualifyArgs resolves the named template arguments of a templated name.
func (b *binder) qualifyArgs(name, scope string) string {
	args := templateArgs(name)
	if len(args) == 0 {
		return name
	}
	for i, arg := range args {
		t := parseCType(arg)
		leaf := t
		for leaf.Kind == cPointer || leaf.Kind == cArray {
			leaf = leaf.Elem
		}
		if leaf.Kind == cNamed {
			resolved := b.lookup(leaf.Name, scope)
			if resolved != leaf.Name {
				args[i] = strings.Replace(arg, leaf.Name, resolved, 1)
			}
		}
	}
	return templateBase(name) + "<" + strings.Join(args, ", ") + ">"
}

func (b *binder) known(name string) bool {
	if _, ok := b.h.Records[name]; ok {
		return true
	}
	if _, ok := b.h.Enums[name]; ok {
		return true
	}
	if _, ok := b.h.Typedefs[name]; ok {
		return true
	}
	return b.h.Templates[name]
}

func parentScope(scope string) string {
	if i := strings.LastIndex(scope, "::"); i >= 0 {
		return scope[:i]
	}
	return ""
}

// bind builds the model from the planned declarations and probed layouts.
func (b *binder) bind(layouts map[string]*Layout) (*BindingModel, error) {
	b.layouts = layouts
	b.model = &BindingModel{}

	for _, name := range b.sizedOrder {
		l, ok := layouts[name]
		if !ok {
			return nil, fmt.Errorf("no layout for %s", name)
		}
		bt := &BoundType{
			Native: name,
			Size:   l.Size,
			Align:  l.Align,
			Repr:   Opaque{Size: l.Size, Align: l.Align, Reason: "opaque type"},
		}
		if l.Align > goMaxAlign {
			bt.Repr = overAligned(l.Align)
		}
		b.types[name] = bt
	}
	for _, name := range b.recordOrder {
		bt := &BoundType{Native: name, Align: 1, PassInRegs: b.records[name].decl.PassInRegs}
		if l, ok := layouts[name]; ok {
			bt.Size, bt.Align = l.Size, l.Align
		} else if b.records[name].decl.Complete {
			return nil, fmt.Errorf("no layout for %s", name)
		}
		b.types[name] = bt
	}

	// Types claim names before enums and functions, declaration order first.
	for _, name := range b.recordOrder {
		b.nameType(b.types[name])
	}
	for _, name := range b.sizedOrder {
		b.nameType(b.types[name])
	}
	for _, name := range b.enumOrder {
		b.bindEnum(b.h.Enums[name])
	}

	for _, name := range b.sizedOrder {
		b.finished = append(b.finished, b.types[name])
	}
	for _, name := range b.recordOrder {
		b.finishRecord(b.types[name])
	}

	b.bindFunctions()

	b.model.Types = append(b.model.Types, b.handles...)
	b.model.Types = append(b.model.Types, b.finished...)
	return b.model, nil
}

func (b *binder) nameType(bt *BoundType) {
	candidates := []string{typeGoName(bt.Native)}
	if !isTemplated(bt.Native) {
		candidates = append(candidates, exportedName(bt.Native))
	}
	bt.GoName = b.global.claim(candidates...)
	bt.CName = b.cnames.claim(b.prefix + "_" + cIdent(bt.Native))
}

func (b *binder) bindEnum(decl *EnumDecl) {
	under := parseCType(decl.Underlying.Spelling)
	if decl.Underlying.Desugared != "" {
		under = parseCType(decl.Underlying.Desugared)
	}
	bi, ok := lookupBuiltin(under.Name)
	if under.Kind != cBuiltin || !ok {
		bi = builtinTypes["int"]
	}

	e := &BoundEnum{Native: decl.Name}
	e.GoName = b.global.claim(typeGoName(decl.Name), exportedName(decl.Name))
	e.Underlying = GoType{Kind: goScalar, Go: bi.Go, C: bi.C, Cgo: "C." + bi.Cgo, Size: bi.Size, Align: bi.Align}
	for _, c := range decl.Constants {
		e.Constants = append(e.Constants, BoundConstant{
			Native: qualify(decl.Name, c.Name),
			GoName: b.global.claim(e.GoName + exportedName(c.Name)),
			Value:  c.Value,
		})
	}
	b.enums[decl.Name] = e
	b.model.Enums = append(b.model.Enums, e)
}

// finishRecord decides the representation of a planned record. Records it
// holds by value are finished first so that declarations come out in
// dependency order.
func (b *binder) finishRecord(bt *BoundType) {
	if bt.Repr != nil {
		return
	}
	rp := b.records[bt.Native]
	if rp.finishing {
		return
	}
	rp.finishing = true
	defer func() { rp.finishing = false }()

	if bt.Align > goMaxAlign {
		bt.Repr = overAligned(bt.Align)
		b.finished = append(b.finished, bt)
		return
	}
	if !rp.candidate {
		bt.Repr = Opaque{Size: bt.Size, Align: bt.Align, Reason: rp.reason}
		b.finished = append(b.finished, bt)
		return
	}

	fieldNames := newNamer()
	fields := make([]BoundField, 0, len(rp.fields))
	sizes := make([]int, 0, len(rp.fields))
	aligns := make([]int, 0, len(rp.fields))
	reason := ""
	for i, t := range rp.fields {
		gt, why := b.goType(t, atField)
		if why != "" {
			reason = fmt.Sprintf("field %s: %s", rp.decl.Fields[i].Name, why)
			break
		}
		fields = append(fields, BoundField{
			Native: rp.decl.Fields[i].Name,
			GoName: fieldNames.claim(exportedName(rp.decl.Fields[i].Name)),
			Type:   gt,
		})
		sizes = append(sizes, gt.Size)
		aligns = append(aligns, gt.Align)
	}

	if reason == "" {
		reason = b.checkLayout(bt, fields, sizes, aligns)
	}
	if reason != "" {
		bt.Repr = Opaque{Size: bt.Size, Align: bt.Align, Reason: reason}
	} else {
		bt.Repr = Structural{Fields: fields}
	}
	b.finished = append(b.finished, bt)
}

// overAligned is the representation of a type whose alignment Go storage
// cannot guarantee. It is pointer-only, so values must come from C.
func overAligned(align int) Opaque {
	return Opaque{Reason: fmt.Sprintf("over-aligned (%d bytes); obtain values from C", align)}
}

// checkLayout compares the Go layout of fields against the probed layout
// and fills in the offsets.
func (b *binder) checkLayout(bt *BoundType, fields []BoundField, sizes, aligns []int) string {
	probed := b.layouts[bt.Native]
	offsets, size, align := goStructLayout(sizes, aligns)
	for i := range fields {
		native, ok := probed.Offsets[fields[i].Native]
		if !ok || native != offsets[i] {
			return fmt.Sprintf("layout mismatch at field %s", fields[i].Native)
		}
		fields[i].Offset = offsets[i]
	}
	if size != probed.Size || align != probed.Align {
		return fmt.Sprintf("layout mismatch: native %d/%d, Go %d/%d", probed.Size, probed.Align, size, align)
	}
	return ""
}

// goType maps a resolved native type to its binding spelling. A non-empty
// reason means the type cannot cross the boundary at pos.
func (b *binder) goType(t *cType, pos position) (GoType, string) {
	switch t.Kind {
	case cVoid:
		if pos == atResult {
			return voidType, ""
		}
		return GoType{}, "void value"

	case cBuiltin:
		bi, _ := lookupBuiltin(t.Name)
		return GoType{Kind: goScalar, Go: bi.Go, C: bi.C, Cgo: "C." + bi.Cgo, Size: bi.Size, Align: bi.Align}, ""

	case cPointer:
		return b.pointerType(t.Elem), ""

	case cArray:
		if pos != atField {
			return b.pointerType(t.Elem), ""
		}
		elem, reason := b.goType(t.Elem, atField)
		if reason != "" {
			return GoType{}, reason
		}
		return GoType{
			Kind:  goArray,
			Go:    fmt.Sprintf("[%d]%s", t.Len, elem.Go),
			C:     elem.C,
			Size:  t.Len * elem.Size,
			Align: elem.Align,
			Elem:  &elem,
			Len:   t.Len,
		}, ""

	case cNamed:
		if e, ok := b.enums[t.Name]; ok {
			gt := e.Underlying
			gt.Kind = goEnum
			gt.Go = e.GoName
			return gt, ""
		}
		bt, ok := b.types[t.Name]
		if ok {
			if _, planned := b.records[t.Name]; planned {
				b.finishRecord(bt)
			}
		}
		if !ok || bt.Handle() {
			return GoType{}, "references " + b.describe(t.Name) + " by value"
		}
		if pos != atField && !b.abiSafe(bt, 0) {
			return GoType{}, "passes " + t.Name + " by value"
		}
		return GoType{
			Kind:  goRecord,
			Go:    bt.GoName,
			C:     bt.CName,
			Cgo:   "C." + bt.CName,
			Size:  bt.Size,
			Align: bt.goAlign(),
			Named: bt,
		}, ""
	}
	return GoType{}, "unsupported type"
}

// describe names a type for skip reasons without leaking hidden names.
func (b *binder) describe(name string) string {
	if b.visible(name) {
		return name
	}
	return "a type outside the binding"
}

// pointerType maps a pointer or reference to elem. Pointers to anything the
// binding cannot name become unsafe.Pointer.
func (b *binder) pointerType(elem *cType) GoType {
	switch elem.Kind {
	case cBuiltin:
		bi, _ := lookupBuiltin(elem.Name)
		return GoType{Kind: goPointer, Go: "*" + bi.Go, C: bi.C + "*", Cgo: "*C." + bi.Cgo, Size: 8, Align: 8}

	case cPointer:
		inner := b.pointerType(elem.Elem)
		if inner.Kind == goUnsafePointer {
			return GoType{Kind: goPointer, Go: "*unsafe.Pointer", C: "void**", Cgo: "*unsafe.Pointer", Size: 8, Align: 8}
		}
		return GoType{Kind: goPointer, Go: "*" + inner.Go, C: inner.C + "*", Cgo: "*" + inner.Cgo, Size: 8, Align: 8}

	case cNamed:
		if e, ok := b.enums[elem.Name]; ok {
			return GoType{Kind: goPointer, Go: "*" + e.GoName, C: e.Underlying.C + "*", Cgo: "*" + e.Underlying.Cgo, Size: 8, Align: 8}
		}
		bt, ok := b.types[elem.Name]
		if !ok {
			if !b.visible(elem.Name) || b.h.Enums[elem.Name] != nil {
				return unsafeType
			}
			bt = b.handle(elem.Name)
		}
		return GoType{Kind: goPointer, Go: "*" + bt.GoName, C: bt.CName + "*", Cgo: "*C." + bt.CName, Size: 8, Align: 8, Named: bt}
	}
	return unsafeType
}

// handle registers a visible type that is only referenced through pointers.
func (b *binder) handle(name string) *BoundType {
	bt := &BoundType{Native: name, Align: 1, Repr: Opaque{Reason: "only used by pointer"}}
	b.nameType(bt)
	b.types[name] = bt
	b.handles = append(b.handles, bt)
	return bt
}

// abiSafe reports whether a record can be passed by value through a C
// prototype: trivially copyable and made of scalars all the way down, so
// that the C compiler classifies it the way the C++ compiler does.
func (b *binder) abiSafe(bt *BoundType, depth int) bool {
	s, ok := bt.Structural()
	if !ok || depth > 8 || (depth == 0 && !bt.PassInRegs) {
		return false
	}
	for _, f := range s.Fields {
		t := f.Type
		for t.Kind == goArray {
			t = *t.Elem
		}
		if t.Kind == goRecord && !b.abiSafe(t.Named, depth+1) {
			return false
		}
	}
	return true
}

// bindFunctions wraps free functions and the public methods of bound
// records.
func (b *binder) bindFunctions() {
	for _, fn := range b.h.Functions {
		if !b.policy.Allows(fn.Name) || b.policy.IsOpaque(fn.Name) {
			continue
		}
		b.bindFunction(fn, nil, nil)
	}

	for _, name := range b.recordOrder {
		bt := b.types[name]
		methods := newNamer()
		if s, ok := bt.Structural(); ok {
			for _, f := range s.Fields {
				methods.used[f.GoName] = true
			}
		}
		for _, fn := range b.records[name].decl.Methods {
			if !fn.Public || !b.policy.Allows(fn.Name) || b.policy.IsOpaque(fn.Name) {
				continue
			}
			if fn.Static {
				b.bindFunction(fn, bt, nil)
				continue
			}
			b.bindFunction(fn, bt, methods)
		}
	}

	sort.SliceStable(b.model.Skipped, func(i, j int) bool {
		return b.model.Skipped[i].Native < b.model.Skipped[j].Native
	})
}

func (b *binder) skip(fn *FunctionDecl, reason string) {
	b.model.Skipped = append(b.model.Skipped, SkippedSymbol{Native: fn.Name, Reason: reason})
}

// unsupportedFunction returns why a declaration has no callable symbol, or
// "".
func unsupportedFunction(fn *FunctionDecl) string {
	switch {
	case fn.Kind == ConstructorFunction:
		return "constructor"
	case fn.Kind == DestructorFunction:
		return "destructor"
	case fn.Kind == ConversionFunction:
		return "conversion operator"
	case fn.Virtual:
		return "virtual"
	case fn.Deleted:
		return "deleted"
	case fn.Inline:
		return "inline, no exported symbol"
	case fn.Variadic:
		return "variadic"
	case fn.Internal:
		return "internal linkage"
	case !fn.CLinkage && fn.Mangled == "":
		return "no linker symbol"
	}
	return ""
}

// bindFunction binds one function. owner is the record for members; methods
// is the receiver's method namespace, nil for free and static functions.
func (b *binder) bindFunction(fn *FunctionDecl, owner *BoundType, methods *namer) {
	if reason := unsupportedFunction(fn); reason != "" {
		b.skip(fn, reason)
		return
	}
	base, ok := functionGoName(fn.Simple)
	if !ok {
		b.skip(fn, "operator has no Go name")
		return
	}

	result, reason := b.goType(b.resolve(fn.Return), atResult)
	if reason != "" {
		b.skip(fn, "result "+reason)
		return
	}

	bf := &BoundFunction{Native: fn.Name, Result: result}
	params := newNamer("unsafe", "ret", "C")
	if methods != nil {
		bf.Receiver = owner
		bf.ConstRecv = fn.Const
		bf.RecvName = params.claim(strings.ToLower(owner.GoName[:1]), "self")
	}
	for i, p := range fn.Params {
		gt, reason := b.goType(b.resolve(p.Type), atParam)
		if reason != "" {
			b.skip(fn, fmt.Sprintf("parameter %d %s", i+1, reason))
			return
		}
		bf.Params = append(bf.Params, BoundParam{
			Native: p.Name,
			GoName: params.claim(paramName(p.Name, i), "arg"+strconv.Itoa(i)),
			Type:   gt,
		})
	}

	switch {
	case methods != nil:
		bf.GoName = methods.claim(base)
	case owner != nil:
		bf.GoName = b.global.claim(owner.GoName + base)
	case isOperator(fn.Simple) && len(bf.Params) > 0 && bf.Params[0].Type.Named != nil:
		// Free operators are named after their first operand.
		bf.GoName = b.global.claim(bf.Params[0].Type.Named.GoName + base)
	default:
		bf.GoName = b.global.claim(base)
	}

	if fn.CLinkage && owner == nil {
		bf.CName = fn.Simple
		b.cnames.used[fn.Simple] = true
	} else {
		bf.CName = b.cnames.claim(b.prefix + "_" + cIdent(fn.Name))
		bf.Symbol = fn.Mangled
		if b.goos == "darwin" || b.goos == "ios" {
			bf.Symbol = "_" + fn.Mangled
		}
	}
	b.model.Functions = append(b.model.Functions, bf)
}

// BindHeader runs both binding passes, calling probe with the layout
// requests in between.
func BindHeader(h *Header, policy *SymbolPolicy, prefix, goos string, probe func([]LayoutRequest) (map[string]*Layout, error)) (*BindingModel, error) {
	b := newBinder(h, policy, prefix, goos)
	reqs := b.plan()
	layouts, err := probe(reqs)
	if err != nil {
		return nil, err
	}
	return b.bind(layouts)
}
