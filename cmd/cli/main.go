// Package main is the entry point for the deskctl CLI.
// The CLI is the terminal tool for submitting and tracking deskforge jobs.
package main

import (
	"os"

	"deskforge/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
