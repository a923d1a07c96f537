// Package harness is the child-process side of the sandbox. It applies
// resource limits to its own process, interprets an accepted Starlark script
// with a closed set of path-guarded builtins, and writes the script's summary
// to summary.json in the output directory.
package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"go.starlark.net/starlark"

	"deskforge/internal/store"
)

// Config describes one harness run, decoded from argv by cmd/sandbox.
type Config struct {
	Kind       store.JobKind
	CodePath   string
	OutputDir  string
	InputPaths []string
	CPUSeconds int
	MemoryMB   int
}

// SummaryFilename is where the entry function's return value lands.
const SummaryFilename = "summary.json"

// Run executes the script and returns an error destined for stderr. The
// parent treats any non-zero exit as ExecutionFailed.
func Run(cfg Config) error {
	applyLimits(cfg.CPUSeconds, cfg.MemoryMB)

	source, err := os.ReadFile(cfg.CodePath)
	if err != nil {
		return fmt.Errorf("failed to read code: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	guard, err := newPathGuard(cfg.InputPaths, cfg.OutputDir)
	if err != nil {
		return err
	}

	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Println(msg)
		},
	}

	globals, err := starlark.ExecFile(thread, "generated.star", source, predeclared(guard))
	if err != nil {
		return fmt.Errorf("script failed: %w", err)
	}

	summary, err := callEntry(thread, globals, cfg)
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	summaryPath := filepath.Join(cfg.OutputDir, SummaryFilename)
	if err := os.WriteFile(summaryPath, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// callEntry invokes the kind's entry function with the argument shape the
// generator was instructed to expect.
func callEntry(thread *starlark.Thread, globals starlark.StringDict, cfg Config) (interface{}, error) {
	entryName := "analyze"
	if cfg.Kind == store.KindSpreadsheetTransform {
		entryName = "transform"
	}
	entry, ok := globals[entryName]
	if !ok {
		return nil, fmt.Errorf("%s() not found", entryName)
	}

	var args starlark.Tuple
	switch cfg.Kind {
	case store.KindSpreadsheetTransform:
		if len(cfg.InputPaths) != 1 {
			return nil, fmt.Errorf("transform expects exactly one input, got %d", len(cfg.InputPaths))
		}
		outputPath := filepath.Join(cfg.OutputDir, "output"+filepath.Ext(cfg.InputPaths[0]))
		args = starlark.Tuple{starlark.String(cfg.InputPaths[0]), starlark.String(outputPath)}
	case store.KindAnalytics:
		if len(cfg.InputPaths) != 1 {
			return nil, fmt.Errorf("analyze expects exactly one input, got %d", len(cfg.InputPaths))
		}
		args = starlark.Tuple{starlark.String(cfg.InputPaths[0]), starlark.String(cfg.OutputDir)}
	case store.KindReport:
		paths := make([]starlark.Value, len(cfg.InputPaths))
		for i, p := range cfg.InputPaths {
			paths[i] = starlark.String(p)
		}
		args = starlark.Tuple{starlark.NewList(paths), starlark.String(cfg.OutputDir)}
	default:
		return nil, fmt.Errorf("unknown job kind %q", cfg.Kind)
	}

	result, err := starlark.Call(thread, entry, args, nil)
	if err != nil {
		return nil, fmt.Errorf("%s() failed: %w", entryName, err)
	}

	summary, err := toGo(result)
	if err != nil {
		return nil, fmt.Errorf("%s() returned an unencodable value: %w", entryName, err)
	}
	if _, isMap := summary.(map[string]interface{}); !isMap {
		summary = map[string]interface{}{"summary": summary}
	}
	return summary, nil
}

// applyLimits is best effort: a platform refusing a limit must not turn into
// a job failure, the wall-clock kill in the parent still bounds the child.
func applyLimits(cpuSeconds, memoryMB int) {
	if cpuSeconds > 0 {
		limit := uint64(cpuSeconds)
		syscall.Setrlimit(syscall.RLIMIT_CPU, &syscall.Rlimit{Cur: limit, Max: limit})
	}
	if memoryMB > 0 {
		limit := uint64(memoryMB) * 1024 * 1024
		syscall.Setrlimit(syscall.RLIMIT_AS, &syscall.Rlimit{Cur: limit, Max: limit})
	}
}
