package sandbox

import (
	"fmt"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"deskforge/internal/codegen"
	"deskforge/internal/store"
)

// Issue is one machine-actionable admission failure. Line is zero when the
// issue is not tied to a specific position.
type Issue struct {
	Line    int32  `json:"line,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Line > 0 {
		return fmt.Sprintf("line %d: %s", i.Line, i.Message)
	}
	return i.Message
}

// FormatIssues renders issues one per line, the shape folded back into the
// next generation prompt.
func FormatIssues(issues []Issue) string {
	parts := make([]string, len(issues))
	for i, issue := range issues {
		parts[i] = issue.String()
	}
	return strings.Join(parts, "\n")
}

// deniedNames maps identifiers that signal a capability escape attempt to a
// specific rejection message. Resolution would reject them as undefined
// anyway; the explicit message keeps regeneration feedback actionable.
var deniedNames = map[string]string{
	"open":       "direct file access is not permitted; use read_workbook/read_csv on the provided paths",
	"fetch":      "network access is not permitted",
	"fetch_url":  "network access is not permitted",
	"urlopen":    "network access is not permitted",
	"http_get":   "network access is not permitted",
	"http_post":  "network access is not permitted",
	"socket":     "network access is not permitted",
	"requests":   "network access is not permitted",
	"subprocess": "process control is not permitted",
	"system":     "process control is not permitted",
	"popen":      "process control is not permitted",
	"os":         "operating system access is not permitted",
	"sys":        "operating system access is not permitted",
	"eval":       "dynamic code evaluation is not permitted",
	"exec":       "dynamic code evaluation is not permitted",
	"compile":    "dynamic code evaluation is not permitted",
	"getattr":    "reflective attribute access is not permitted",
	"setattr":    "reflective attribute access is not permitted",
	"__import__": "dynamic import is not permitted",
	"import":     "imports are not permitted",
}

// Validate admits or rejects candidate source before execution. An empty
// result means accepted. This is a static allow-list, not a runtime sandbox
// substitute; the process executor is the second, independent layer.
func Validate(source string, kind store.JobKind) []Issue {
	f, err := syntax.Parse("generated.star", source, 0)
	if err != nil {
		return parseIssues(err)
	}

	var issues []Issue
	entry := codegen.EntryFunction(kind)
	hasEntry := false

	syntax.Walk(f, func(n syntax.Node) bool {
		switch node := n.(type) {
		case *syntax.LoadStmt:
			issues = append(issues, Issue{
				Line:    node.Load.Line,
				Message: "load() of external modules is not permitted",
			})
		case *syntax.DefStmt:
			if node.Name.Name == entry {
				hasEntry = true
			}
		case *syntax.Ident:
			if msg, denied := deniedNames[node.Name]; denied {
				issues = append(issues, Issue{
					Line:    node.NamePos.Line,
					Message: fmt.Sprintf("use of %q: %s", node.Name, msg),
				})
			}
		}
		return true
	})

	// Resolve against the closed predeclared set; anything outside it is an
	// unavailable capability.
	denied := func(name string) bool { _, ok := deniedNames[name]; return ok }
	isUniversal := func(name string) bool {
		_, ok := starlark.Universe[name]
		return ok && !denied(name)
	}
	if err := resolve.File(f, IsPredeclared, isUniversal); err != nil {
		issues = append(issues, resolveIssues(err)...)
	}

	if !hasEntry {
		issues = append(issues, Issue{
			Message: fmt.Sprintf("missing required function: %s()", entry),
		})
	}
	return issues
}

func parseIssues(err error) []Issue {
	if e, ok := err.(syntax.Error); ok {
		return []Issue{{Line: e.Pos.Line, Message: "syntax error: " + e.Msg}}
	}
	return []Issue{{Message: "syntax error: " + err.Error()}}
}

func resolveIssues(err error) []Issue {
	if list, ok := err.(resolve.ErrorList); ok {
		issues := make([]Issue, 0, len(list))
		for _, e := range list {
			msg := e.Msg
			// Undefined names that match a denial rule already produced a
			// specific issue from the walk; skip the duplicate.
			if name, ok := undefinedName(msg); ok {
				if _, deny := deniedNames[name]; deny {
					continue
				}
				msg = fmt.Sprintf("undefined name %q: only the sandbox builtins are available", name)
			}
			issues = append(issues, Issue{Line: e.Pos.Line, Message: msg})
		}
		return issues
	}
	return []Issue{{Message: err.Error()}}
}

func undefinedName(msg string) (string, bool) {
	const prefix = "undefined: "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix), true
	}
	return "", false
}
