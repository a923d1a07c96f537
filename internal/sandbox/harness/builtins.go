package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	"deskforge/internal/tabular"
)

// pathGuard confines the builtins: inputs are read-only and enumerated,
// everything writable lives under the output root. Builtin-level checks are
// what make "no path traversal outside the job directory" hold even if the
// static validator missed something.
type pathGuard struct {
	inputs     map[string]bool
	outputRoot string
}

func newPathGuard(inputPaths []string, outputDir string) (*pathGuard, error) {
	root, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("bad output dir: %w", err)
	}
	g := &pathGuard{inputs: make(map[string]bool), outputRoot: root}
	for _, p := range inputPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("bad input path %q: %w", p, err)
		}
		g.inputs[abs] = true
	}
	return g, nil
}

func (g *pathGuard) readable(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q", path)
	}
	if g.inputs[abs] {
		return abs, nil
	}
	// Re-reading something the script already wrote is allowed.
	if g.within(abs) {
		return abs, nil
	}
	return "", fmt.Errorf("read of %q is not permitted: only the job inputs are readable", path)
}

func (g *pathGuard) writable(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q", path)
	}
	if !g.within(abs) {
		return "", fmt.Errorf("write of %q is not permitted: only the job output directory is writable", path)
	}
	return abs, nil
}

func (g *pathGuard) within(abs string) bool {
	rel, err := filepath.Rel(g.outputRoot, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// predeclared builds the complete builtin environment. Its keys must match
// sandbox.BuiltinNames, which the validator resolves candidates against.
func predeclared(g *pathGuard) starlark.StringDict {
	return starlark.StringDict{
		"read_workbook":  starlark.NewBuiltin("read_workbook", g.readWorkbook),
		"write_workbook": starlark.NewBuiltin("write_workbook", g.writeWorkbook),
		"read_csv":       starlark.NewBuiltin("read_csv", g.readCSV),
		"write_csv":      starlark.NewBuiltin("write_csv", g.writeCSV),
		"write_text":     starlark.NewBuiltin("write_text", g.writeText),
		"chart_line":     starlark.NewBuiltin("chart_line", g.chartLine),
		"chart_bar":      starlark.NewBuiltin("chart_bar", g.chartBar),
	}
}

func (g *pathGuard) readWorkbook(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}
	abs, err := g.readable(path)
	if err != nil {
		return nil, err
	}
	wb, err := tabular.ReadWorkbook(abs)
	if err != nil {
		return nil, err
	}
	return workbookToStarlark(wb), nil
}

func (g *pathGuard) writeWorkbook(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	var sheets *starlark.Dict
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &path, &sheets); err != nil {
		return nil, err
	}
	abs, err := g.writable(path)
	if err != nil {
		return nil, err
	}
	wb, err := starlarkToWorkbook(sheets)
	if err != nil {
		return nil, err
	}
	if err := tabular.WriteWorkbook(abs, wb); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (g *pathGuard) readCSV(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}
	abs, err := g.readable(path)
	if err != nil {
		return nil, err
	}
	wb, err := tabular.ReadWorkbook(abs)
	if err != nil {
		return nil, err
	}
	if len(wb.Sheets) == 0 {
		return starlark.NewList(nil), nil
	}
	return rowsToStarlark(wb.Sheets[0].Rows), nil
}

func (g *pathGuard) writeCSV(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	var rows *starlark.List
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &path, &rows); err != nil {
		return nil, err
	}
	abs, err := g.writable(path)
	if err != nil {
		return nil, err
	}
	grid, err := starlarkToRows(rows)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	wb := &tabular.Workbook{Sheets: []tabular.Sheet{{Name: name, Rows: grid}}}
	if err := tabular.WriteWorkbook(abs, wb); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (g *pathGuard) writeText(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, text string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &path, &text); err != nil {
		return nil, err
	}
	abs, err := g.writable(path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %q: %w", path, err)
	}
	return starlark.None, nil
}
