// Package sandbox holds the two independent defense layers around generated
// code: the static admission validator and the child-process executor.
package sandbox

import "go.starlark.net/resolve"

// BuiltinNames is the closed set of I/O builtins the harness predeclares for
// generated code. The validator resolves candidate scripts against exactly
// this set, so any other capability shows up as an undefined name before
// execution is ever attempted.
var BuiltinNames = []string{
	"read_workbook",
	"write_workbook",
	"read_csv",
	"write_csv",
	"write_text",
	"chart_line",
	"chart_bar",
}

// IsPredeclared reports whether name is one of the harness builtins.
func IsPredeclared(name string) bool {
	for _, n := range BuiltinNames {
		if n == name {
			return true
		}
	}
	return false
}

func init() {
	// Generated code may use set() literals and reassign module globals.
	resolve.AllowSet = true
	resolve.AllowGlobalReassign = true
}
