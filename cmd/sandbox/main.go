// Package main is the sandbox child process. The worker starts one per job
// execution; it applies resource limits to itself, interprets the generated
// script and exits non-zero on any failure.
package main

import (
	"flag"
	"fmt"
	"os"

	"deskforge/internal/sandbox/harness"
	"deskforge/internal/store"
)

func main() {
	kind := flag.String("kind", "", "Job kind")
	code := flag.String("code", "", "Path to the generated script")
	outputDir := flag.String("output-dir", "", "Directory the script may write to")
	cpuSeconds := flag.Int("cpu-seconds", 0, "CPU time limit, 0 for none")
	memoryMB := flag.Int("memory-mb", 0, "Address space limit in MB, 0 for none")
	flag.Parse()

	cfg := harness.Config{
		Kind:       store.JobKind(*kind),
		CodePath:   *code,
		OutputDir:  *outputDir,
		InputPaths: flag.Args(),
		CPUSeconds: *cpuSeconds,
		MemoryMB:   *memoryMB,
	}
	if !cfg.Kind.Valid() || cfg.CodePath == "" || cfg.OutputDir == "" || len(cfg.InputPaths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: deskforge-sandbox --kind K --code PATH --output-dir DIR input...")
		os.Exit(2)
	}

	if err := harness.Run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
