package nativebind

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/tools/imports"
)

// RenderOptions carries what the generated file needs besides the model.
type RenderOptions struct {
	Package  string
	Source   string   // upstream URL
	Revision string   // commit the archive was built from
	LDFlags  []string // #cgo LDFLAGS
	Filename string   // used in formatter errors
}

// RenderBinding writes the Go source of a binding model and formats it.
func RenderBinding(model *BindingModel, opts RenderOptions) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by nativebind from %s at %s. DO NOT EDIT.\n\n", opts.Source, opts.Revision)
	fmt.Fprintf(&b, "package %s\n\n", opts.Package)

	b.WriteString("/*\n")
	if len(opts.LDFlags) > 0 {
		fmt.Fprintf(&b, "#cgo LDFLAGS: %s\n", strings.Join(opts.LDFlags, " "))
	}
	b.WriteString("#include <stdbool.h>\n#include <stddef.h>\n#include <stdint.h>\n\n")
	for _, t := range model.Types {
		writeCType(&b, t)
	}
	if len(model.Types) > 0 {
		b.WriteByte('\n')
	}
	for _, fn := range model.Functions {
		writeCPrototype(&b, fn)
	}
	b.WriteString("*/\nimport \"C\"\n\n")

	var body bytes.Buffer
	for _, t := range model.Types {
		writeGoType(&body, t)
	}
	for _, e := range model.Enums {
		writeGoEnum(&body, e)
	}
	for _, fn := range model.Functions {
		writeGoFunction(&body, fn)
	}
	if bytes.Contains(body.Bytes(), []byte("unsafe.")) {
		b.WriteString("import \"unsafe\"\n\n")
	}
	b.Write(body.Bytes())

	src, err := imports.Process(opts.Filename, b.Bytes(), &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("format binding: %w", err)
	}
	return src, nil
}

func writeCType(b *bytes.Buffer, t *BoundType) {
	switch r := t.Repr.(type) {
	case Structural:
		fmt.Fprintf(b, "typedef struct {\n")
		for _, f := range r.Fields {
			fmt.Fprintf(b, "\t%s;\n", f.Type.cDecl(f.Native))
		}
		fmt.Fprintf(b, "} %s;\n", t.CName)
	case Opaque:
		if r.Size == 0 {
			fmt.Fprintf(b, "typedef struct %s %s;\n", t.CName, t.CName)
			return
		}
		fmt.Fprintf(b, "typedef struct { _Alignas(%d) unsigned char bytes[%d]; } %s;\n", max(r.Align, 1), r.Size, t.CName)
	}
}

func writeCPrototype(b *bytes.Buffer, fn *BoundFunction) {
	var params []string
	if fn.Receiver != nil {
		params = append(params, fn.Receiver.CName+"*")
	}
	for _, p := range fn.Params {
		params = append(params, strings.TrimSpace(p.Type.cDecl("")))
	}
	if len(params) == 0 {
		params = []string{"void"}
	}
	fmt.Fprintf(b, "%s %s(%s)", fn.Result.C, fn.CName, strings.Join(params, ", "))
	if fn.Symbol != "" {
		fmt.Fprintf(b, " __asm__(%q)", fn.Symbol)
	}
	b.WriteString(";\n")
}

func writeGoType(b *bytes.Buffer, t *BoundType) {
	fmt.Fprintf(b, "// %s is %s.\n", t.GoName, t.Native)
	switch r := t.Repr.(type) {
	case Structural:
		fmt.Fprintf(b, "type %s struct {\n", t.GoName)
		for _, f := range r.Fields {
			fmt.Fprintf(b, "\t%s %s\n", f.GoName, f.Type.Go)
		}
		b.WriteString("}\n\n")
	case Opaque:
		if r.Reason != "" {
			fmt.Fprintf(b, "//\n// Opaque: %s.\n", r.Reason)
		}
		fmt.Fprintf(b, "type %s struct {\n", t.GoName)
		if r.Size == 0 {
			b.WriteString("\t_ [0]byte\n}\n\n")
			return
		}
		if word := alignWord(t.goAlign()); word != "" {
			fmt.Fprintf(b, "\t_ [0]%s\n", word)
		}
		fmt.Fprintf(b, "\t_ [%d]byte\n}\n\n", r.Size)
	}
}

// alignWord is a zero-length array element type that gives a struct the
// requested alignment.
func alignWord(align int) string {
	switch {
	case align >= 8:
		return "uint64"
	case align >= 4:
		return "uint32"
	case align >= 2:
		return "uint16"
	}
	return ""
}

func writeGoEnum(b *bytes.Buffer, e *BoundEnum) {
	fmt.Fprintf(b, "// %s is %s.\ntype %s %s\n\n", e.GoName, e.Native, e.GoName, e.Underlying.Go)
	if len(e.Constants) == 0 {
		return
	}
	b.WriteString("const (\n")
	for _, c := range e.Constants {
		fmt.Fprintf(b, "\t%s %s = %d\n", c.GoName, e.GoName, c.Value)
	}
	b.WriteString(")\n\n")
}

func writeGoFunction(b *bytes.Buffer, fn *BoundFunction) {
	fmt.Fprintf(b, "// %s wraps %s.\n", fn.GoName, fn.Native)
	b.WriteString("func ")
	if fn.Receiver != nil {
		fmt.Fprintf(b, "(%s *%s) ", fn.RecvName, fn.Receiver.GoName)
	}
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.GoName + " " + p.Type.Go
	}
	fmt.Fprintf(b, "%s(%s)", fn.GoName, strings.Join(params, ", "))
	if fn.Result.Kind != goVoid {
		b.WriteString(" " + fn.Result.Go)
	}
	b.WriteString(" {\n")

	args := make([]string, 0, len(fn.Params)+1)
	if fn.Receiver != nil {
		args = append(args, fmt.Sprintf("(*C.%s)(unsafe.Pointer(%s))", fn.Receiver.CName, fn.RecvName))
	}
	for _, p := range fn.Params {
		args = append(args, toC(p.Type, p.GoName))
	}
	call := fmt.Sprintf("C.%s(%s)", fn.CName, strings.Join(args, ", "))

	switch fn.Result.Kind {
	case goVoid:
		fmt.Fprintf(b, "\t%s\n", call)
	case goRecord:
		fmt.Fprintf(b, "\tret := %s\n\treturn *(*%s)(unsafe.Pointer(&ret))\n", call, fn.Result.Go)
	default:
		fmt.Fprintf(b, "\treturn %s\n", fromC(fn.Result, call))
	}
	b.WriteString("}\n\n")
}

// toC converts a Go value to the cgo type of a parameter.
func toC(t GoType, expr string) string {
	switch t.Kind {
	case goScalar, goEnum:
		return fmt.Sprintf("%s(%s)", t.Cgo, expr)
	case goPointer:
		return fmt.Sprintf("(%s)(unsafe.Pointer(%s))", t.Cgo, expr)
	case goRecord:
		return fmt.Sprintf("*(*%s)(unsafe.Pointer(&%s))", t.Cgo, expr)
	}
	return expr
}

// fromC converts a cgo result to its Go type.
func fromC(t GoType, expr string) string {
	switch t.Kind {
	case goScalar, goEnum:
		return fmt.Sprintf("%s(%s)", t.Go, expr)
	case goPointer:
		return fmt.Sprintf("(%s)(unsafe.Pointer(%s))", t.Go, expr)
	}
	return expr
}
