package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"deskforge/pkg/api"
)

// JobClient handles API calls to the deskforge server.
type JobClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewJobClient creates a new client with the given base URL.
func NewJobClient(baseURL string) *JobClient {
	return &JobClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func apiError(statusCode int, body []byte) error {
	var resp api.ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		return &APIError{StatusCode: statusCode, Message: resp.Error}
	}
	return &APIError{StatusCode: statusCode, Message: string(body)}
}

// SubmitOptions are the form fields for a submission.
type SubmitOptions struct {
	Kind     string
	Prompt   string
	Title    string
	Template string
	Notes    string
}

// SubmitJob sends POST /api/jobs with the files as multipart parts.
func (c *JobClient) SubmitJob(opts SubmitOptions, paths []string) (*api.CreateJobResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeSubmitForm(mw, opts, paths)
		mw.Close()
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/jobs", c.BaseURL), pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var result api.CreateJobResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func writeSubmitForm(mw *multipart.Writer, opts SubmitOptions, paths []string) error {
	fields := map[string]string{
		"kind":     opts.Kind,
		"prompt":   opts.Prompt,
		"title":    opts.Title,
		"template": opts.Template,
		"notes":    opts.Notes,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return err
		}
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			f.Close()
			return err
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	return nil
}

// GetJob sends GET /api/jobs/{id}.
func (c *JobClient) GetJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.getJSON(fmt.Sprintf("%s/api/jobs/%s", c.BaseURL, jobID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /api/jobs.
func (c *JobClient) ListJobs() ([]api.JobResponse, error) {
	var result api.ListJobsResponse
	if err := c.getJSON(fmt.Sprintf("%s/api/jobs", c.BaseURL), &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// ListArtifacts sends GET /api/jobs/{id}/artifacts.
func (c *JobClient) ListArtifacts(jobID string) ([]api.ArtifactInfo, error) {
	var result api.ListArtifactsResponse
	if err := c.getJSON(fmt.Sprintf("%s/api/jobs/%s/artifacts", c.BaseURL, jobID), &result); err != nil {
		return nil, err
	}
	return result.Artifacts, nil
}

// DownloadArtifact streams GET /api/jobs/{id}/artifacts/{name} into w.
func (c *JobClient) DownloadArtifact(jobID, name string, w io.Writer) (int64, error) {
	endpoint := fmt.Sprintf("%s/api/jobs/%s/artifacts/%s", c.BaseURL, jobID, name)
	resp, err := c.HTTPClient.Get(endpoint)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, apiError(resp.StatusCode, respBody)
	}
	return io.Copy(w, resp.Body)
}

// DeleteJob sends DELETE /api/jobs/{id}.
func (c *JobClient) DeleteJob(jobID string) error {
	httpReq, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/jobs/%s", c.BaseURL, jobID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, respBody)
	}
	return nil
}

func (c *JobClient) getJSON(endpoint string, out interface{}) error {
	resp, err := c.HTTPClient.Get(endpoint)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
