package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deskforge/internal/artifacts"
	"deskforge/internal/orchestrator"
	"deskforge/internal/store"
	"deskforge/pkg/api"
)

// fakeService scripts the orchestrator surface per test.
type fakeService struct {
	submitFn func(orchestrator.Submission) (*store.Job, error)
	jobs     map[string]*store.Job
	list     []*store.Job
	infos    []artifacts.Info
	artifact string
	deleteFn func(id string) error
}

func (f *fakeService) Submit(_ context.Context, sub orchestrator.Submission) (*store.Job, error) {
	return f.submitFn(sub)
}

func (f *fakeService) Get(_ context.Context, id string) (*store.Job, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeService) List(context.Context) ([]*store.Job, error) {
	return f.list, nil
}

func (f *fakeService) Delete(_ context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(id)
	}
	if _, ok := f.jobs[id]; !ok {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeService) Artifacts(_ context.Context, id string) ([]artifacts.Info, error) {
	if _, ok := f.jobs[id]; !ok {
		return nil, store.ErrNotFound
	}
	return f.infos, nil
}

func (f *fakeService) OpenArtifact(_ context.Context, id, name string) (io.ReadCloser, error) {
	if _, ok := f.jobs[id]; !ok {
		return nil, store.ErrNotFound
	}
	if f.artifact == "" {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(f.artifact)), nil
}

func (f *fakeService) Code(ctx context.Context, id string) ([]byte, error) {
	rc, err := f.OpenArtifact(ctx, id, artifacts.CodeFilename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func testJob(id string) *store.Job {
	return &store.Job{
		ID:        id,
		Kind:      store.KindSpreadsheetTransform,
		Status:    store.StatusQueued,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Input: store.InputDescriptor{
			Files:  []store.InputFile{{Filename: "sales.xlsx", SizeBytes: 100}},
			Prompt: "sum the totals",
		},
		Stage: "queued",
	}
}

func newTestHandlers(svc *fakeService, maxUpload int64) *Handlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ready := func(context.Context) error { return nil }
	return New(svc, ready, logger, maxUpload)
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestCreateJob_Accepted(t *testing.T) {
	var gotSub orchestrator.Submission
	svc := &fakeService{submitFn: func(sub orchestrator.Submission) (*store.Job, error) {
		gotSub = sub
		return testJob("job-1"), nil
	}}
	h := newTestHandlers(svc, 1<<20)

	body, contentType := multipartBody(t,
		map[string]string{"kind": "spreadsheet-transform", "prompt": "sum the totals"},
		map[string]string{"sales.xlsx": "bytes"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.CreateJob(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp api.CreateJobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID != "job-1" || resp.Status != "queued" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if gotSub.Kind != store.KindSpreadsheetTransform || gotSub.Prompt != "sum the totals" {
		t.Errorf("submission fields not forwarded: %+v", gotSub)
	}
	if len(gotSub.Files) != 1 || gotSub.Files[0].Filename != "sales.xlsx" {
		t.Errorf("file not forwarded: %+v", gotSub.Files)
	}
}

func TestCreateJob_ValidationErrorIs400(t *testing.T) {
	svc := &fakeService{submitFn: func(orchestrator.Submission) (*store.Job, error) {
		return nil, &orchestrator.ValidationError{Msg: "prompt is required"}
	}}
	h := newTestHandlers(svc, 1<<20)

	body, contentType := multipartBody(t,
		map[string]string{"kind": "analytics"},
		map[string]string{"a.csv": "x\n"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.CreateJob(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp api.ErrorResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error != "prompt is required" {
		t.Errorf("expected validation message, got %q", resp.Error)
	}
}

func TestCreateJob_OversizeUploadIs413(t *testing.T) {
	svc := &fakeService{submitFn: func(orchestrator.Submission) (*store.Job, error) {
		t.Fatal("submit must not be reached")
		return nil, nil
	}}
	h := newTestHandlers(svc, 128)

	body, contentType := multipartBody(t,
		map[string]string{"kind": "analytics", "prompt": "p"},
		map[string]string{"big.csv": strings.Repeat("x", 4096)})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	h.CreateJob(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestGetJob(t *testing.T) {
	svc := &fakeService{jobs: map[string]*store.Job{"job-1": testJob("job-1")}}
	h := newTestHandlers(svc, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	req.SetPathValue("id", "job-1")
	rr := httptest.NewRecorder()
	h.GetJob(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp api.JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID != "job-1" || resp.Status != "queued" || resp.InputFiles[0] != "sales.xlsx" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	h := newTestHandlers(&fakeService{}, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	req.SetPathValue("id", "missing")
	rr := httptest.NewRecorder()
	h.GetJob(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestDeleteJob(t *testing.T) {
	tests := []struct {
		name       string
		deleteErr  error
		wantStatus int
	}{
		{"deleted", nil, http.StatusNoContent},
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"running", store.ErrDeleteRunning, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{deleteFn: func(string) error { return tt.deleteErr }}
			h := newTestHandlers(svc, 1<<20)

			req := httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil)
			req.SetPathValue("id", "job-1")
			rr := httptest.NewRecorder()
			h.DeleteJob(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestListArtifacts(t *testing.T) {
	svc := &fakeService{
		jobs: map[string]*store.Job{"job-1": testJob("job-1")},
		infos: []artifacts.Info{
			{Name: "output.xlsx", Required: true, Exists: true, SizeBytes: 9},
			{Name: "summary.json", Required: true, Exists: true, SizeBytes: 2},
		},
	}
	h := newTestHandlers(svc, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/artifacts", nil)
	req.SetPathValue("id", "job-1")
	rr := httptest.NewRecorder()
	h.ListArtifacts(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp api.ListArtifactsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Artifacts) != 2 || !resp.Artifacts[0].Required {
		t.Errorf("unexpected listing: %+v", resp)
	}
}

func TestDownloadArtifact_TransformOutputRenamed(t *testing.T) {
	svc := &fakeService{
		jobs:     map[string]*store.Job{"job-1": testJob("job-1")},
		artifact: "workbook-bytes",
	}
	h := newTestHandlers(svc, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/artifacts/output.xlsx", nil)
	req.SetPathValue("id", "job-1")
	req.SetPathValue("name", "output.xlsx")
	rr := httptest.NewRecorder()
	h.DownloadArtifact(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "processed-sales.xlsx") {
		t.Errorf("expected processed-sales.xlsx disposition, got %q", got)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "spreadsheetml") {
		t.Errorf("unexpected content type %q", got)
	}
	if rr.Body.String() != "workbook-bytes" {
		t.Error("body not streamed")
	}
}

func TestGetCode(t *testing.T) {
	svc := &fakeService{
		jobs:     map[string]*store.Job{"job-1": testJob("job-1")},
		artifact: "def transform(i, o):\n    pass\n",
	}
	h := newTestHandlers(svc, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/code", nil)
	req.SetPathValue("id", "job-1")
	rr := httptest.NewRecorder()
	h.GetCode(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("expected text/plain, got %q", got)
	}
}

func TestReadyz(t *testing.T) {
	h := newTestHandlers(&fakeService{}, 1<<20)

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failing := New(&fakeService{}, func(context.Context) error { return errors.New("down") }, logger, 1<<20)
	rr = httptest.NewRecorder()
	failing.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}
