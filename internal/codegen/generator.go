package codegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"deskforge/internal/store"
	"deskforge/internal/tabular"
)

// Request carries everything a generation attempt depends on. Retries are
// fully determined by the accumulated Feedback, nothing else.
type Request struct {
	Kind     store.JobKind
	Schemas  []*tabular.FileSchema
	Prompt   string
	Feedback []string
}

// Result is one candidate produced by the backend.
type Result struct {
	Source string
	Notes  string
	Model  string
}

// ReportSpec carries the report-kind submission fields into composition.
type ReportSpec struct {
	Title    string
	Template string
	Notes    string
	Prompt   string
}

// Generator produces candidate Starlark source for a job.
type Generator struct {
	client *Client
}

// NewGenerator wraps a completion client.
func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// EntryFunction names the function the generated script must define per kind.
func EntryFunction(kind store.JobKind) string {
	if kind == store.KindSpreadsheetTransform {
		return "transform"
	}
	return "analyze"
}

var (
	jsonFenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	codeFenceRE = regexp.MustCompile("(?s)```[a-z]*\\s*(.*?)\\s*```")
)

// Generate asks the backend for a script satisfying the request.
// Empty or unparseable payloads count as malformed backend output.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	content, model, err := g.client.Complete(ctx, []Message{
		{Role: "system", Content: "You are a careful code generator for a sandboxed data pipeline."},
		{Role: "user", Content: buildPrompt(req)},
	})
	if err != nil {
		return nil, err
	}

	source, notes, err := extractCode(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Result{Source: source, Notes: notes, Model: model}, nil
}

// ComposeReport asks the backend for the report.md body given the execution
// summary. Returns the markdown and the serving model.
func (g *Generator) ComposeReport(ctx context.Context, spec ReportSpec, summary json.RawMessage) (string, string, error) {
	content, model, err := g.client.Complete(ctx, []Message{
		{Role: "system", Content: "You are a rigorous data analyst writing a report."},
		{Role: "user", Content: buildReportPrompt(spec, summary)},
	})
	if err != nil {
		return "", "", err
	}
	markdown := stripFence(content)
	if strings.TrimSpace(markdown) == "" {
		return "", "", fmt.Errorf("%w: backend returned empty report body", ErrUnavailable)
	}
	return markdown, model, nil
}

// builtinsDoc describes the only names available to generated code. It must
// stay in sync with the sandbox harness predeclared set.
const builtinsDoc = `Available builtins (the ONLY I/O primitives that exist):
- read_workbook(path) -> dict of sheet name to rows; each row is a list of strings, row 0 is the header
- write_workbook(path, sheets) where sheets is a dict of sheet name to rows
- read_csv(path) -> list of rows (lists of strings), row 0 is the header
- write_csv(path, rows)
- write_text(path, text)
- chart_line(path, title, labels, values) -> writes a PNG line chart
- chart_bar(path, title, labels, values) -> writes a PNG bar chart
Plus the Starlark universe: len, range, str, int, float, bool, enumerate, sorted, zip, reversed, min, max, abs, list, dict, tuple, set, any, all, print.
There is NO network, NO process control, NO imports/load, and NO file access outside the paths passed to your entry function.`

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Generate a Starlark script for a sandboxed tabular-data job.\n\n")
	b.WriteString("Hard constraints (violations are rejected before execution):\n")
	switch req.Kind {
	case store.KindSpreadsheetTransform:
		b.WriteString("1) Define transform(input_path, output_path) and return a dict summary.\n")
		b.WriteString("2) transform must write the transformed workbook to output_path via write_workbook or write_csv.\n")
		b.WriteString("3) Read only input_path; write only output_path.\n")
	case store.KindAnalytics:
		b.WriteString("1) Define analyze(input_path, output_dir) and return a dict summary.\n")
		b.WriteString("2) Include a \"rows\" field (data row count) in the summary.\n")
		b.WriteString("3) Charts are optional; write them as PNG files under output_dir via chart_line/chart_bar.\n")
	case store.KindReport:
		b.WriteString("1) Define analyze(input_paths, output_dir) where input_paths is a list, and return a dict summary.\n")
		b.WriteString("2) The summary must cover every input file: row counts, key columns, notable aggregates, anomalies.\n")
		b.WriteString("3) Charts are optional; write them as PNG files under output_dir via chart_line/chart_bar.\n")
	}
	b.WriteString("4) No load() statements and no names outside the builtin list below.\n\n")
	b.WriteString(builtinsDoc)
	b.WriteString("\n\nInput schema (sheet names, columns, inferred types, row counts, sample rows):\n")
	for _, s := range req.Schemas {
		enc, _ := json.Marshal(s)
		b.Write(enc)
		b.WriteByte('\n')
	}
	b.WriteString("\nUser request:\n")
	b.WriteString(req.Prompt)
	b.WriteByte('\n')
	if len(req.Feedback) > 0 {
		b.WriteString("\nYour previous attempts were rejected by the static validator. ")
		b.WriteString("Fix every issue below and return a corrected script:\n")
		for i, f := range req.Feedback {
			fmt.Fprintf(&b, "attempt %d:\n%s\n", i+1, f)
		}
	}
	b.WriteString("\nOutput format: JSON only, no prose: {\"code\": \"<starlark source>\", \"notes\": \"<optional>\"}\n")
	return b.String()
}

var reportOutlines = map[string][]string{
	"weekly":  {"Weekly Overview", "Key Figures", "Anomalies and Risks", "Conclusions and Next Week"},
	"monthly": {"Monthly Overview", "Key Metrics", "Anomalies and Attribution", "Recommendations and Targets"},
	"project": {"Background", "Findings", "Issues and Anomalies", "Lessons and Improvements"},
}

func buildReportPrompt(spec ReportSpec, summary json.RawMessage) string {
	outline, ok := reportOutlines[spec.Template]
	if !ok {
		outline = reportOutlines["weekly"]
	}

	var b strings.Builder
	b.WriteString("Write a Markdown report about the structured analysis results below.\n\n")
	b.WriteString("Requirements:\n")
	b.WriteString("1) Every number and conclusion must come from the analysis results; say \"uncertain\" when data is missing.\n")
	b.WriteString("2) Include at least two Markdown tables: a data overview table and an anomaly list table.\n")
	b.WriteString("3) If the analysis names chart files, embed them as ![](file.png).\n")
	b.WriteString("4) Output only the Markdown body, optionally fenced.\n\n")
	fmt.Fprintf(&b, "# %s\n\n", spec.Title)
	for _, section := range outline {
		fmt.Fprintf(&b, "## %s\n", section)
	}
	if strings.TrimSpace(spec.Notes) != "" {
		fmt.Fprintf(&b, "\nAdditional notes: %s\n", spec.Notes)
	}
	if strings.TrimSpace(spec.Prompt) != "" {
		fmt.Fprintf(&b, "\nUser request: %s\n", spec.Prompt)
	}
	payload := string(summary)
	if len(payload) > 24000 {
		payload = payload[:24000]
	}
	fmt.Fprintf(&b, "\nAnalysis results (JSON):\n%s\n", payload)
	return b.String()
}

// extractCode pulls the script out of the model output: a bare JSON object,
// a fenced JSON object, or as a last resort a fenced code block.
func extractCode(content string) (source, notes string, err error) {
	text := strings.TrimSpace(content)

	var payload struct {
		Code  string `json:"code"`
		Notes string `json:"notes"`
	}
	candidate := text
	if !strings.HasPrefix(candidate, "{") {
		if m := jsonFenceRE.FindStringSubmatch(text); m != nil {
			candidate = m[1]
		} else if i := strings.Index(text, "{"); i >= 0 {
			candidate = text[i:]
		}
	}
	if strings.HasPrefix(candidate, "{") {
		dec := json.NewDecoder(strings.NewReader(candidate))
		if decErr := dec.Decode(&payload); decErr == nil && strings.TrimSpace(payload.Code) != "" {
			return stripFence(payload.Code), payload.Notes, nil
		}
	}

	if m := codeFenceRE.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1]), "extracted from code fence", nil
	}

	return "", "", errors.New("model output contained no usable code payload")
}

// stripFence removes a surrounding markdown code fence if present.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if m := codeFenceRE.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
