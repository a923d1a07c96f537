package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"deskforge/internal/artifacts"
	"deskforge/internal/codegen"
	"deskforge/internal/queue"
	"deskforge/internal/sandbox"
	"deskforge/internal/store"
	"deskforge/internal/store/memory"
)

const validAnalyticsScript = `def analyze(input_path, output_dir):
    rows = read_csv(input_path)
    return {"rows": len(rows) - 1}
`

const bannedAnalyticsScript = `def analyze(input_path, output_dir):
    data = open(input_path)
    return {}
`

// fakeGenerator replays scripted sources, one per attempt, and records every
// request it sees.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []codegen.Request
	sources  []string
	reportMD string
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, req codegen.Request) (*codegen.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	source := f.sources[len(f.sources)-1]
	if n := len(f.requests); n <= len(f.sources) {
		source = f.sources[n-1]
	}
	return &codegen.Result{Source: source, Model: "test-model"}, nil
}

func (f *fakeGenerator) ComposeReport(_ context.Context, _ codegen.ReportSpec, _ json.RawMessage) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	if f.reportMD == "" {
		return "# Report\n", "test-model", nil
	}
	return f.reportMD, "test-model", nil
}

type fakeExecutor struct {
	run func(spec sandbox.ExecSpec) (*sandbox.ExecResult, error)
}

func (f *fakeExecutor) Execute(_ context.Context, spec sandbox.ExecSpec) (*sandbox.ExecResult, error) {
	return f.run(spec)
}

// succeedExecutor simulates a clean sandbox run by writing summary.json into
// the staging dir, plus any extra files.
func succeedExecutor(summary string, extra map[string]string) *fakeExecutor {
	return &fakeExecutor{run: func(spec sandbox.ExecSpec) (*sandbox.ExecResult, error) {
		if err := os.WriteFile(filepath.Join(spec.OutputDir, artifacts.SummaryFilename), []byte(summary), 0o644); err != nil {
			return nil, err
		}
		for name, content := range extra {
			if err := os.WriteFile(filepath.Join(spec.OutputDir, name), []byte(content), 0o644); err != nil {
				return nil, err
			}
		}
		return &sandbox.ExecResult{}, nil
	}}
}

func newTestOrchestrator(t *testing.T, gen Generator, exec sandbox.Executor) *Orchestrator {
	t.Helper()
	am, err := artifacts.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(memory.New(), queue.NewMemory(16), am, gen, exec, logger, Options{
		MaxGenAttempts: 3,
		JobDeadline:    time.Minute,
		SandboxTimeout: time.Second,
	})
}

func submitAnalytics(t *testing.T, o *Orchestrator, csv string) *store.Job {
	t.Helper()
	job, err := o.Submit(context.Background(), Submission{
		Kind:   store.KindAnalytics,
		Prompt: "count the rows",
		Files:  []Upload{{Filename: "metrics.csv", Reader: strings.NewReader(csv)}},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return job
}

func TestSubmit_JobIsImmediatelyQueued(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGenerator{sources: []string{validAnalyticsScript}}, succeedExecutor(`{}`, nil))

	job := submitAnalytics(t, o, "a,b\n1,2\n")

	got, err := o.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != store.StatusQueued {
		t.Errorf("expected queued, got %s", got.Status)
	}
	if got.StartedAt != nil || got.FinishedAt != nil {
		t.Error("timestamps must be unset before a worker claims the job")
	}
}

func TestSubmit_ValidationFailsSynchronously(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGenerator{}, succeedExecutor(`{}`, nil))
	ctx := context.Background()

	tests := []struct {
		name string
		sub  Submission
	}{
		{"empty prompt", Submission{
			Kind:  store.KindAnalytics,
			Files: []Upload{{Filename: "a.csv", Reader: strings.NewReader("x\n")}},
		}},
		{"unknown kind", Submission{
			Kind:   "mystery",
			Prompt: "p",
			Files:  []Upload{{Filename: "a.csv", Reader: strings.NewReader("x\n")}},
		}},
		{"no files", Submission{Kind: store.KindAnalytics, Prompt: "p"}},
		{"bad extension", Submission{
			Kind:   store.KindAnalytics,
			Prompt: "p",
			Files:  []Upload{{Filename: "a.pdf", Reader: strings.NewReader("x")}},
		}},
		{"two files for transform", Submission{
			Kind:   store.KindSpreadsheetTransform,
			Prompt: "p",
			Files: []Upload{
				{Filename: "a.csv", Reader: strings.NewReader("x\n")},
				{Filename: "b.csv", Reader: strings.NewReader("x\n")},
			},
		}},
		{"report without prompt or title", Submission{
			Kind:  store.KindReport,
			Files: []Upload{{Filename: "a.csv", Reader: strings.NewReader("x\n")}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Submit(ctx, tt.sub)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	jobs, err := o.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("rejected submissions must not be persisted, found %d jobs", len(jobs))
	}
}

func TestProcess_AnalyticsSucceeds(t *testing.T) {
	gen := &fakeGenerator{sources: []string{validAnalyticsScript}}
	o := newTestOrchestrator(t, gen, succeedExecutor(`{"rows": 3}`, nil))
	ctx := context.Background()

	job := submitAnalytics(t, o, "a,b\n1,2\n3,4\n5,6\n")
	o.process(ctx, job.ID)

	got, err := o.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (error %q)", got.Status, got.Error)
	}
	if got.LLMModel != "test-model" {
		t.Errorf("expected model recorded, got %q", got.LLMModel)
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(got.Summary, &summary); err != nil {
		t.Fatalf("summary not JSON: %v", err)
	}
	if summary["rows"] != float64(3) {
		t.Errorf("expected rows 3, got %v", summary["rows"])
	}

	infos, err := o.Artifacts(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]artifacts.Info{}
	for _, info := range infos {
		byName[info.Name] = info
	}
	if !byName[artifacts.SummaryFilename].Exists || !byName[artifacts.CodeFilename].Exists {
		t.Errorf("required artifacts missing from listing: %+v", infos)
	}

	code, err := o.Code(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(code) != validAnalyticsScript {
		t.Error("published code does not match the accepted script")
	}
}

func TestProcess_FeedbackCarriesValidatorIssuesVerbatim(t *testing.T) {
	gen := &fakeGenerator{sources: []string{bannedAnalyticsScript, validAnalyticsScript}}
	o := newTestOrchestrator(t, gen, succeedExecutor(`{}`, nil))
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	o.process(ctx, job.ID)

	got, err := o.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusSucceeded {
		t.Fatalf("expected success on the second attempt, got %s (%s)", got.Status, got.Error)
	}

	if len(gen.requests) != 2 {
		t.Fatalf("expected 2 generation attempts, got %d", len(gen.requests))
	}
	if len(gen.requests[0].Feedback) != 0 {
		t.Error("first attempt must carry no feedback")
	}
	issues := sandbox.Validate(bannedAnalyticsScript, store.KindAnalytics)
	if len(issues) == 0 {
		t.Fatal("fixture script should be rejected")
	}
	want := issues[0].String()
	found := false
	for _, fb := range gen.requests[1].Feedback {
		if fb == want {
			found = true
		}
	}
	if !found {
		t.Errorf("retry feedback %v does not carry issue %q verbatim", gen.requests[1].Feedback, want)
	}
}

func TestProcess_FeedbackAccumulatesAcrossRejections(t *testing.T) {
	const socketScript = `def analyze(input_path, output_dir):
    s = socket(input_path)
    return {}
`
	const urlopenScript = `def analyze(input_path, output_dir):
    data = urlopen(input_path)
    return {}
`
	gen := &fakeGenerator{sources: []string{socketScript, urlopenScript, validAnalyticsScript}}
	o := newTestOrchestrator(t, gen, succeedExecutor(`{}`, nil))
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	o.process(ctx, job.ID)

	got, err := o.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusSucceeded {
		t.Fatalf("expected success on the third attempt, got %s (%s)", got.Status, got.Error)
	}
	if len(gen.requests) != 3 {
		t.Fatalf("expected 3 generation attempts, got %d", len(gen.requests))
	}

	// The third prompt must still see the first rejection, not only the
	// most recent one.
	fb := gen.requests[2].Feedback
	if len(fb) != 2 {
		t.Fatalf("expected one feedback entry per rejected attempt, got %v", fb)
	}
	if !strings.Contains(fb[0], `"socket"`) {
		t.Errorf("feedback[0] = %q, should carry the first attempt's issue", fb[0])
	}
	if !strings.Contains(fb[1], `"urlopen"`) {
		t.Errorf("feedback[1] = %q, should carry the second attempt's issue", fb[1])
	}
}

func TestProcess_CodeRejectedAfterMaxAttempts(t *testing.T) {
	gen := &fakeGenerator{sources: []string{bannedAnalyticsScript}}
	o := newTestOrchestrator(t, gen, succeedExecutor(`{}`, nil))
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	o.process(ctx, job.ID)

	got, err := o.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.HasPrefix(got.Error, FailCodeRejected) {
		t.Errorf("expected %s failure, got %q", FailCodeRejected, got.Error)
	}
	if !strings.Contains(got.Detail, "line 2") {
		t.Errorf("detail should carry the validator issues, got %q", got.Detail)
	}
	if len(gen.requests) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(gen.requests))
	}
}

func TestProcess_GenerationUnavailable(t *testing.T) {
	gen := &fakeGenerator{err: codegen.ErrUnavailable}
	o := newTestOrchestrator(t, gen, succeedExecutor(`{}`, nil))
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	o.process(ctx, job.ID)

	got, _ := o.Get(ctx, job.ID)
	if got.Status != store.StatusFailed || !strings.HasPrefix(got.Error, FailGenerationUnavailable) {
		t.Errorf("expected %s failure, got %s %q", FailGenerationUnavailable, got.Status, got.Error)
	}
}

func TestProcess_ExecutionTimeout(t *testing.T) {
	gen := &fakeGenerator{sources: []string{validAnalyticsScript}}
	exec := &fakeExecutor{run: func(sandbox.ExecSpec) (*sandbox.ExecResult, error) {
		return nil, sandbox.ErrTimeout
	}}
	o := newTestOrchestrator(t, gen, exec)
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	o.process(ctx, job.ID)

	got, _ := o.Get(ctx, job.ID)
	if got.Status != store.StatusFailed || !strings.HasPrefix(got.Error, FailExecutionTimeout) {
		t.Errorf("expected %s failure, got %s %q", FailExecutionTimeout, got.Status, got.Error)
	}
}

func TestProcess_NonZeroExitCarriesStderr(t *testing.T) {
	gen := &fakeGenerator{sources: []string{validAnalyticsScript}}
	exec := &fakeExecutor{run: func(sandbox.ExecSpec) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{ExitCode: 1, Stderr: "script failed: boom"}, nil
	}}
	o := newTestOrchestrator(t, gen, exec)
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	o.process(ctx, job.ID)

	got, _ := o.Get(ctx, job.ID)
	if got.Status != store.StatusFailed || !strings.HasPrefix(got.Error, FailExecutionFailed) {
		t.Fatalf("expected %s failure, got %s %q", FailExecutionFailed, got.Status, got.Error)
	}
	if !strings.Contains(got.Detail, "boom") {
		t.Errorf("detail should carry stderr, got %q", got.Detail)
	}
}

func TestProcess_MissingRequiredArtifact(t *testing.T) {
	gen := &fakeGenerator{sources: []string{validAnalyticsScript}}
	exec := &fakeExecutor{run: func(sandbox.ExecSpec) (*sandbox.ExecResult, error) {
		// A clean exit that never wrote summary.json.
		return &sandbox.ExecResult{}, nil
	}}
	o := newTestOrchestrator(t, gen, exec)
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	o.process(ctx, job.ID)

	got, _ := o.Get(ctx, job.ID)
	if got.Status != store.StatusFailed || !strings.HasPrefix(got.Error, FailMissingRequiredArtifact) {
		t.Errorf("expected %s failure, got %s %q", FailMissingRequiredArtifact, got.Status, got.Error)
	}
	if !strings.Contains(got.Error, artifacts.SummaryFilename) {
		t.Errorf("error should name the missing artifact, got %q", got.Error)
	}
}

func TestProcess_EmptySummaryArtifactFails(t *testing.T) {
	gen := &fakeGenerator{sources: []string{validAnalyticsScript}}
	// A clean exit that wrote a zero-byte summary.json.
	o := newTestOrchestrator(t, gen, succeedExecutor("", nil))
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	o.process(ctx, job.ID)

	got, _ := o.Get(ctx, job.ID)
	if got.Status != store.StatusFailed || !strings.HasPrefix(got.Error, FailMissingRequiredArtifact) {
		t.Errorf("expected %s failure, got %s %q", FailMissingRequiredArtifact, got.Status, got.Error)
	}
	if len(got.Summary) != 0 {
		t.Errorf("failed job must not carry a summary, got %q", got.Summary)
	}
}

func TestProcess_ReportComposesMarkdown(t *testing.T) {
	gen := &fakeGenerator{
		sources:  []string{validAnalyticsScript},
		reportMD: "# Weekly Report\n\nAll good.\n",
	}
	o := newTestOrchestrator(t, gen, succeedExecutor(`{"rows": 2}`, nil))
	ctx := context.Background()

	job, err := o.Submit(ctx, Submission{
		Kind:  store.KindReport,
		Title: "Weekly Report",
		Files: []Upload{{Filename: "metrics.csv", Reader: strings.NewReader("a\n1\n2\n")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	o.process(ctx, job.ID)

	got, _ := o.Get(ctx, job.ID)
	if got.Status != store.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", got.Status, got.Error)
	}

	rc, err := o.OpenArtifact(ctx, job.ID, artifacts.ReportFilename)
	if err != nil {
		t.Fatalf("report.md not published: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if !strings.Contains(string(body), "Weekly Report") {
		t.Errorf("unexpected report body: %q", body)
	}
}

func TestProcess_DeletedWhileQueuedIsSkipped(t *testing.T) {
	gen := &fakeGenerator{sources: []string{validAnalyticsScript}}
	o := newTestOrchestrator(t, gen, succeedExecutor(`{}`, nil))
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	if err := o.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// The stale queue entry must not resurrect the job.
	o.process(ctx, job.ID)

	if _, err := o.Get(ctx, job.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected job to stay deleted, got %v", err)
	}
	if len(gen.requests) != 0 {
		t.Error("no generation should happen for a deleted job")
	}
}

func TestRun_DrainsQueue(t *testing.T) {
	gen := &fakeGenerator{sources: []string{validAnalyticsScript}}
	o := newTestOrchestrator(t, gen, succeedExecutor(`{"rows": 1}`, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := submitAnalytics(t, o, "a\n1\n")

	done := make(chan struct{})
	go func() {
		o.Run(ctx, 2)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		got, err := o.Get(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status.Terminal() {
			if got.Status != store.StatusSucceeded {
				t.Fatalf("expected succeeded, got %s (%s)", got.Status, got.Error)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop on cancel")
	}
}

func TestOpenArtifact_UnknownNameIs404(t *testing.T) {
	gen := &fakeGenerator{sources: []string{validAnalyticsScript}}
	o := newTestOrchestrator(t, gen, succeedExecutor(`{}`, nil))
	ctx := context.Background()

	job := submitAnalytics(t, o, "a\n1\n")
	o.process(ctx, job.ID)

	for _, name := range []string{"../../etc/passwd", "nope.bin", "inputs/other.csv"} {
		if _, err := o.OpenArtifact(ctx, job.ID, name); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("OpenArtifact(%q) = %v, want ErrNotFound", name, err)
		}
	}
}
