package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"deskforge/pkg/api"
)

func TestSubmitCommand_Success(t *testing.T) {
	resetViper()

	csvPath := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(csvPath, []byte("region,total\nnorth,10\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/api/jobs") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("expected multipart body: %v", err)
		}
		if got := r.FormValue("kind"); got != "analytics" {
			t.Errorf("expected kind analytics, got %q", got)
		}
		if got := r.FormValue("prompt"); got != "count rows" {
			t.Errorf("expected prompt forwarded, got %q", got)
		}
		files := r.MultipartForm.File["file"]
		if len(files) != 1 || files[0].Filename != "sales.csv" {
			t.Errorf("expected sales.csv part, got %+v", files)
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.CreateJobResponse{JobID: "job-42", Status: "queued"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"submit", "--kind", "analytics", "--prompt", "count rows", csvPath})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := stdout.String()
	if !strings.Contains(out, "job-42") || !strings.Contains(out, "queued") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSubmitCommand_ValidationErrorSurfaces(t *testing.T) {
	resetViper()

	csvPath := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(csvPath, []byte("a\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "prompt is required", Code: "400"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"submit", "--kind", "analytics", "--prompt", "", csvPath})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "prompt is required") {
		t.Errorf("expected API error in output, got: %s", stdout.String())
	}
}
