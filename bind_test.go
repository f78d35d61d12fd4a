package nativebind

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureLayouts is what the layout probe reports for testdata/lib_ast.json
// on an LP64 target.
const fixtureLayouts = "T\tlib::Point\t8\t4\n" +
	"F\tlib::Point\tx\t0\n" +
	"F\tlib::Point\ty\t4\n" +
	"T\tlib::Widget\t32\t8\n" +
	"F\tlib::Widget\titems\t0\n" +
	"F\tlib::Widget\tcount\t24\n" +
	"T\tlib::Holder\t8\t4\n" +
	"T\tstd::vector<int>\t24\t8\n"

func testPolicy(t *testing.T) *SymbolPolicy {
	t.Helper()
	policy, err := NewSymbolPolicy([]string{"lib::*"}, []string{"std::*"})
	require.NoError(t, err)
	return policy
}

// staticProbe answers layout requests from probe output text and records the
// requests it saw.
func staticProbe(t *testing.T, out string, seen *[]LayoutRequest) func([]LayoutRequest) (map[string]*Layout, error) {
	return func(reqs []LayoutRequest) (map[string]*Layout, error) {
		*seen = append(*seen, reqs...)
		layouts, err := parseProbeOutput([]byte(out))
		require.NoError(t, err)
		return layouts, nil
	}
}

func bindFixture(t *testing.T) (*BindingModel, []LayoutRequest) {
	t.Helper()
	var reqs []LayoutRequest
	model, err := BindHeader(loadHeader(t), testPolicy(t), "nb", "linux", staticProbe(t, fixtureLayouts, &reqs))
	require.NoError(t, err)
	return model, reqs
}

func findType(model *BindingModel, native string) *BoundType {
	for _, bt := range model.Types {
		if bt.Native == native {
			return bt
		}
	}
	return nil
}

func findFunction(model *BindingModel, native string) *BoundFunction {
	for _, fn := range model.Functions {
		if fn.Native == native {
			return fn
		}
	}
	return nil
}

func TestBindHeaderLayoutRequests(t *testing.T) {
	_, reqs := bindFixture(t)

	assert.Equal(t, []LayoutRequest{
		{Type: "lib::Point", Fields: []string{"x", "y"}},
		{Type: "lib::Widget", Fields: []string{"items", "count"}},
		{Type: "lib::Holder"},
		{Type: "std::vector<int>"},
	}, reqs)
}

func TestBindHeaderTypes(t *testing.T) {
	model, _ := bindFixture(t)

	var names []string
	for _, bt := range model.Types {
		names = append(names, bt.GoName)
	}
	assert.Equal(t, []string{"StdVectorInt", "Point", "Engine", "Widget", "Holder"}, names,
		"opaque stand-ins come before the records that hold them")

	vec := findType(model, "std::vector<int>")
	require.NotNil(t, vec)
	assert.Equal(t, "nb_std_vector_int", vec.CName)
	assert.Equal(t, Opaque{Size: 24, Align: 8, Reason: "opaque type"}, vec.Repr)

	point := findType(model, "lib::Point")
	require.NotNil(t, point)
	assert.Equal(t, "nb_lib_Point", point.CName)
	s, ok := point.Structural()
	require.True(t, ok)
	require.Len(t, s.Fields, 2)
	assert.Equal(t, "X", s.Fields[0].GoName)
	assert.Equal(t, "int32", s.Fields[0].Type.Go)
	assert.Equal(t, 4, s.Fields[1].Offset)

	engine := findType(model, "lib::Engine")
	require.NotNil(t, engine)
	assert.True(t, engine.Handle())
	assert.Equal(t, "incomplete type", engine.Repr.(Opaque).Reason)

	widget := findType(model, "lib::Widget")
	require.NotNil(t, widget)
	s, ok = widget.Structural()
	require.True(t, ok)
	require.Len(t, s.Fields, 2)
	assert.Equal(t, "Items", s.Fields[0].GoName)
	assert.Equal(t, "StdVectorInt", s.Fields[0].Type.Go)
	assert.Equal(t, "Count", s.Fields[1].GoName)
	assert.Equal(t, 24, s.Fields[1].Offset)

	holder := findType(model, "lib::Holder")
	require.NotNil(t, holder)
	assert.Equal(t, Opaque{Size: 8, Align: 4, Reason: "field secret: references a type outside the binding"}, holder.Repr)

	assert.Nil(t, findType(model, "hidden::Secret"))
}

func TestBindHeaderEnums(t *testing.T) {
	model, _ := bindFixture(t)

	require.Len(t, model.Enums, 1)
	color := model.Enums[0]
	assert.Equal(t, "Color", color.GoName)
	assert.Equal(t, "int32", color.Underlying.Go)
	assert.Equal(t, []BoundConstant{
		{Native: "lib::Color::Red", GoName: "ColorRed", Value: 0},
		{Native: "lib::Color::Green", GoName: "ColorGreen", Value: 5},
		{Native: "lib::Color::Blue", GoName: "ColorBlue", Value: 6},
	}, color.Constants)
}

func TestBindHeaderFunctions(t *testing.T) {
	model, _ := bindFixture(t)

	var names []string
	for _, fn := range model.Functions {
		names = append(names, fn.GoName)
	}
	assert.Equal(t, []string{"Add", "Translate", "Run", "Paint", "Size", "Equal"}, names)

	add := findFunction(model, "lib::add")
	require.NotNil(t, add)
	assert.Equal(t, "nb_lib_add", add.CName)
	assert.Equal(t, "_ZN3lib3addEii", add.Symbol)
	require.Len(t, add.Params, 2)
	assert.Equal(t, "a", add.Params[0].GoName)
	assert.Equal(t, "int32", add.Result.Go)

	translate := findFunction(model, "lib::translate")
	require.NotNil(t, translate)
	assert.Equal(t, goRecord, translate.Result.Kind)
	assert.Equal(t, "Point", translate.Params[0].Type.Go)

	run := findFunction(model, "lib::run")
	require.NotNil(t, run)
	assert.Equal(t, goVoid, run.Result.Kind)
	assert.Equal(t, "*Engine", run.Params[0].Type.Go)
	assert.Equal(t, "unsafe.Pointer", run.Params[1].Type.Go, "pointers to hidden types are untyped")

	paint := findFunction(model, "lib::paint")
	require.NotNil(t, paint)
	assert.Equal(t, goEnum, paint.Result.Kind)
	assert.Equal(t, "Color", paint.Params[0].Type.Go)

	size := findFunction(model, "lib::Widget::size")
	require.NotNil(t, size)
	assert.Equal(t, "lib::Widget", size.Receiver.Native)
	assert.Equal(t, "w", size.RecvName)
	assert.True(t, size.ConstRecv)
	assert.Equal(t, "uint64", size.Result.Go, "typedefs resolve to their underlying type")
	assert.Equal(t, "nb_lib_Widget_size", size.CName)

	eq := findFunction(model, "lib::Widget::operator==")
	require.NotNil(t, eq)
	assert.Equal(t, "Equal", eq.GoName)
	assert.Equal(t, "*Widget", eq.Params[0].Type.Go)
	assert.Equal(t, "bool", eq.Result.Go)
}

func TestBindHeaderSkipped(t *testing.T) {
	model, _ := bindFixture(t)

	var skipped []string
	for _, s := range model.Skipped {
		skipped = append(skipped, s.String())
	}
	assert.Equal(t, []string{
		"lib::Widget::Widget: constructor",
		"lib::Widget::operator<=>: operator has no Go name",
		"lib::Widget::~Widget: destructor",
		"lib::leak: parameter 1 references a type outside the binding by value",
		"lib::logf: variadic",
		"lib::make: result passes lib::Widget by value",
		"lib::twice: inline, no exported symbol",
	}, skipped)

	for _, s := range skipped {
		assert.NotContains(t, s, "hidden", "skip reasons must not name hidden types")
	}
}

func TestBindHeaderDarwinSymbols(t *testing.T) {
	var reqs []LayoutRequest
	model, err := BindHeader(loadHeader(t), testPolicy(t), "nb", "darwin", staticProbe(t, fixtureLayouts, &reqs))
	require.NoError(t, err)

	add := findFunction(model, "lib::add")
	require.NotNil(t, add)
	assert.Equal(t, "__ZN3lib3addEii", add.Symbol)
}

func TestBindHeaderLayoutMismatch(t *testing.T) {
	out := "T\tlib::Point\t12\t4\nF\tlib::Point\tx\t0\nF\tlib::Point\ty\t8\n" +
		"T\tlib::Widget\t32\t8\nF\tlib::Widget\titems\t0\nF\tlib::Widget\tcount\t24\n" +
		"T\tlib::Holder\t8\t4\nT\tstd::vector<int>\t24\t8\n"
	var reqs []LayoutRequest
	model, err := BindHeader(loadHeader(t), testPolicy(t), "nb", "linux", staticProbe(t, out, &reqs))
	require.NoError(t, err)

	point := findType(model, "lib::Point")
	require.NotNil(t, point)
	o, ok := point.Repr.(Opaque)
	require.True(t, ok)
	assert.Equal(t, "layout mismatch at field y", o.Reason)
	assert.Equal(t, 12, o.Size)

	assert.Nil(t, findFunction(model, "lib::translate"), "opaque records are not passed by value")
}

func TestBindHeaderOverAlignedTypeIsHandle(t *testing.T) {
	out := strings.Replace(fixtureLayouts, "T\tlib::Widget\t32\t8\n", "T\tlib::Widget\t32\t32\n", 1)
	var reqs []LayoutRequest
	model, err := BindHeader(loadHeader(t), testPolicy(t), "nb", "linux", staticProbe(t, out, &reqs))
	require.NoError(t, err)

	widget := findType(model, "lib::Widget")
	require.NotNil(t, widget)
	assert.True(t, widget.Handle())
	assert.Equal(t, Opaque{Reason: "over-aligned (32 bytes); obtain values from C"}, widget.Repr)
	assert.NotNil(t, findFunction(model, "lib::Widget::size"), "methods still bind through the pointer")

	src, err := RenderBinding(model, RenderOptions{Package: "lib", Filename: "lib.go"})
	require.NoError(t, err)
	assert.Contains(t, string(src), "typedef struct nb_lib_Widget nb_lib_Widget;")
	assert.NotContains(t, string(src), "_Alignas(8) unsigned char bytes[32]; } nb_lib_Widget;")
}

func TestBindHeaderProbeFailure(t *testing.T) {
	_, err := BindHeader(loadHeader(t), testPolicy(t), "nb", "linux", func([]LayoutRequest) (map[string]*Layout, error) {
		return nil, errors.New("probe exploded")
	})
	assert.EqualError(t, err, "probe exploded")
}

func TestBindHeaderMissingLayout(t *testing.T) {
	_, err := BindHeader(loadHeader(t), testPolicy(t), "nb", "linux", func([]LayoutRequest) (map[string]*Layout, error) {
		return map[string]*Layout{}, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no layout for")
}

func TestBindHeaderHandleForPointerOnlyType(t *testing.T) {
	h := &Header{
		Records:   map[string]*RecordDecl{},
		Enums:     map[string]*EnumDecl{},
		Typedefs:  map[string]TypeRef{},
		Templates: map[string]bool{"std::shared_ptr": true},
		Functions: []*FunctionDecl{{
			Name:    "lib::share",
			Simple:  "share",
			Mangled: "_ZN3lib5shareEPSt10shared_ptrIiE",
			Return:  TypeRef{Spelling: "void", Scope: "lib"},
			Params:  []ParamDecl{{Name: "p", Type: TypeRef{Spelling: "std::shared_ptr<int> *", Scope: "lib"}}},
		}},
		usings: map[string][]string{},
	}

	model, err := BindHeader(h, testPolicy(t), "nb", "linux", func(reqs []LayoutRequest) (map[string]*Layout, error) {
		assert.Empty(t, reqs)
		return map[string]*Layout{}, nil
	})
	require.NoError(t, err)

	require.Len(t, model.Types, 1)
	assert.Equal(t, "StdSharedPtrInt", model.Types[0].GoName)
	assert.True(t, model.Types[0].Handle())
	require.Len(t, model.Functions, 1)
	assert.Equal(t, "*StdSharedPtrInt", model.Functions[0].Params[0].Type.Go)
}

func TestBindHeaderCLinkageShim(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "seal_shim_ast.json"))
	require.NoError(t, err)
	h, err := ParseClangAST(data)
	require.NoError(t, err)

	policy, err := NewSymbolPolicy([]string{"bindings::*", "seal::*"}, []string{"std::*"})
	require.NoError(t, err)

	model, err := BindHeader(h, policy, "nb", "darwin", func(reqs []LayoutRequest) (map[string]*Layout, error) {
		assert.Empty(t, reqs, "the shim only passes pointers")
		return map[string]*Layout{}, nil
	})
	require.NoError(t, err)
	assert.Empty(t, model.Skipped)

	var names []string
	for _, fn := range model.Functions {
		names = append(names, fn.GoName)
		assert.Equal(t, strings.TrimPrefix(fn.Native, "bindings::"), fn.CName, "C functions keep their own name")
		assert.Empty(t, fn.Symbol, "no asm label for %s", fn.Native)
	}
	assert.Equal(t, []string{
		"BindingsLastError",
		"EncryptionParametersCreate",
		"EncryptionParametersDestroy",
		"SEALContextCreate",
		"EvaluatorCreate",
		"PlaintextCreate",
		"CiphertextSize",
	}, names)

	for _, native := range []string{"seal::EncryptionParameters", "seal::SEALContext", "seal::Evaluator", "seal::Plaintext", "seal::Ciphertext"} {
		bt := findType(model, native)
		require.NotNil(t, bt, native)
		assert.True(t, bt.Handle(), native)
	}

	create := findFunction(model, "bindings::EncryptionParameters_Create")
	require.NotNil(t, create)
	assert.Equal(t, "*EncryptionParameters", create.Result.Go)
	require.Len(t, create.Params, 1)
	assert.Equal(t, "uint8", create.Params[0].Type.Go)

	context := findFunction(model, "bindings::SEALContext_Create")
	require.NotNil(t, context)
	assert.Equal(t, "*SEALContext", context.Result.Go)
	require.Len(t, context.Params, 2)
	assert.Equal(t, "*EncryptionParameters", context.Params[0].Type.Go)
	assert.Equal(t, "bool", context.Params[1].Type.Go)

	evaluator := findFunction(model, "bindings::Evaluator_Create")
	require.NotNil(t, evaluator)
	assert.Equal(t, "*Evaluator", evaluator.Result.Go)
	assert.Equal(t, "*SEALContext", evaluator.Params[0].Type.Go)

	size := findFunction(model, "bindings::Ciphertext_Size")
	require.NotNil(t, size)
	assert.Equal(t, "uint64", size.Result.Go)

	src, err := RenderBinding(model, RenderOptions{Package: "seal", Filename: "binding.go"})
	require.NoError(t, err)
	assert.Contains(t, string(src), "nb_seal_Evaluator* Evaluator_Create(nb_seal_SEALContext*);")
	assert.Contains(t, string(src), "C.Evaluator_Create(")
	assert.NotContains(t, string(src), "__asm__")
}
