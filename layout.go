package nativebind

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// goMaxAlign is the largest alignment a Go struct can express on 64-bit
// targets.
const goMaxAlign = 8

// Layout is the native size and alignment of a type, with the offsets of the
// fields that were asked for.
type Layout struct {
	Size    int
	Align   int
	Offsets map[string]int
}

// LayoutRequest asks for the layout of one type and, optionally, the offsets
// of some of its fields.
type LayoutRequest struct {
	Type   string
	Fields []string
}

// ProbeLayouts compiles and runs a program that prints sizeof, alignof and
// offsetof for every request, using the same dialect, include paths and
// defines as the library itself.
func ProbeLayouts(ctx context.Context, runner Runner, build *BuildConfiguration, header string, reqs []LayoutRequest, dir string) (map[string]*Layout, error) {
	if len(reqs) == 0 {
		return map[string]*Layout{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	src := filepath.Join(dir, "layout_probe.cpp")
	bin := filepath.Join(dir, "layout_probe")
	if err := os.WriteFile(src, probeSource(header, reqs), 0o644); err != nil {
		return nil, err
	}

	args := append(build.Args(), "-Wno-invalid-offsetof", "-o", bin, src)
	if out, err := runner.Run(ctx, Command{Name: build.Compiler, Args: args, Dir: dir}); err != nil {
		return nil, fmt.Errorf("compile layout probe: %w\n%s", err, strings.TrimSpace(string(out)))
	}

	out, err := runner.Run(ctx, Command{Name: bin, Dir: dir, StdoutOnly: true})
	if err != nil {
		return nil, fmt.Errorf("run layout probe: %w", err)
	}

	layouts, err := parseProbeOutput(out)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if _, ok := layouts[req.Type]; !ok {
			return nil, fmt.Errorf("layout probe did not report %s", req.Type)
		}
	}
	return layouts, nil
}

func probeSource(header string, reqs []LayoutRequest) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "#include %s\n", strconv.Quote(header))
	b.WriteString("#include <cstddef>\n#include <cstdio>\n\nint main() {\n")
	for _, req := range reqs {
		fmt.Fprintf(&b, "\tstd::printf(\"T\\t%%s\\t%%zu\\t%%zu\\n\", %s, sizeof(%s), alignof(%s));\n",
			strconv.Quote(req.Type), req.Type, req.Type)
		for _, field := range req.Fields {
			fmt.Fprintf(&b, "\tstd::printf(\"F\\t%%s\\t%%s\\t%%zu\\n\", %s, %s, offsetof(%s, %s));\n",
				strconv.Quote(req.Type), strconv.Quote(field), req.Type, field)
		}
	}
	b.WriteString("\treturn 0;\n}\n")
	return b.Bytes()
}

// parseProbeOutput reads lines of the form
//
//	T <type> <size> <align>
//	F <type> <field> <offset>
//
// separated by tabs.
func parseProbeOutput(out []byte) (map[string]*Layout, error) {
	layouts := make(map[string]*Layout)
	for _, line := range outputLines(out) {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		switch {
		case parts[0] == "T" && len(parts) == 4:
			size, err1 := strconv.Atoi(parts[2])
			align, err2 := strconv.Atoi(parts[3])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("layout probe: malformed line %q", line)
			}
			l := layouts[parts[1]]
			if l == nil {
				l = &Layout{Offsets: make(map[string]int)}
				layouts[parts[1]] = l
			}
			l.Size, l.Align = size, align

		case parts[0] == "F" && len(parts) == 4:
			offset, err := strconv.Atoi(parts[3])
			if err != nil {
				return nil, fmt.Errorf("layout probe: malformed line %q", line)
			}
			l := layouts[parts[1]]
			if l == nil {
				l = &Layout{Offsets: make(map[string]int)}
				layouts[parts[1]] = l
			}
			l.Offsets[parts[2]] = offset

		default:
			return nil, fmt.Errorf("layout probe: malformed line %q", line)
		}
	}
	return layouts, nil
}

// alignUp rounds n up to a multiple of align.
func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// goStructLayout computes the offsets, size and alignment Go gives a struct
// with the given field sizes and alignments.
func goStructLayout(sizes, aligns []int) (offsets []int, size, align int) {
	align = 1
	offset := 0
	offsets = make([]int, len(sizes))
	for i := range sizes {
		a := min(max(aligns[i], 1), goMaxAlign)
		offset = alignUp(offset, a)
		offsets[i] = offset
		offset += sizes[i]
		align = max(align, a)
	}
	return offsets, alignUp(offset, align), align
}
