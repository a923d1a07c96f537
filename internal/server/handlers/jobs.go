package handlers

import (
	"errors"
	"net/http"

	"deskforge/internal/orchestrator"
	"deskforge/internal/store"
	"deskforge/pkg/api"
)

// CreateJob handles POST /api/jobs.
// The body is multipart form data: a kind field, prompt/title/template/notes
// fields and one or more file parts.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.httpError(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.httpError(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	sub := orchestrator.Submission{
		Kind:     store.JobKind(r.FormValue("kind")),
		Prompt:   r.FormValue("prompt"),
		Title:    r.FormValue("title"),
		Template: r.FormValue("template"),
		Notes:    r.FormValue("notes"),
	}
	for _, header := range r.MultipartForm.File["file"] {
		f, err := header.Open()
		if err != nil {
			h.httpError(w, "Failed to read uploaded file", http.StatusBadRequest)
			return
		}
		defer f.Close()
		sub.Files = append(sub.Files, orchestrator.Upload{Filename: header.Filename, Reader: f})
	}

	job, err := h.svc.Submit(ctx, sub)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.CreateJobResponse{
		JobID:  job.ID,
		Status: string(job.Status),
	})
}

// ListJobs handles GET /api/jobs, most recent first.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.List(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}

	resp := api.ListJobsResponse{Jobs: make([]api.JobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = jobResponse(job)
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetJob handles GET /api/jobs/{id}. Polling clients read status, stage and
// progress from this view.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, jobResponse(job))
}

// DeleteJob handles DELETE /api/jobs/{id}.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
