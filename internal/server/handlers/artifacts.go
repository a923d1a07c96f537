package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"deskforge/internal/artifacts"
	"deskforge/internal/store"
	"deskforge/pkg/api"
)

// ListArtifacts handles GET /api/jobs/{id}/artifacts.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	infos, err := h.svc.Artifacts(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	resp := api.ListArtifactsResponse{JobID: id, Artifacts: make([]api.ArtifactInfo, len(infos))}
	for i, info := range infos {
		resp.Artifacts[i] = api.ArtifactInfo{
			Name:      info.Name,
			Required:  info.Required,
			Exists:    info.Exists,
			SizeBytes: info.SizeBytes,
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}

// DownloadArtifact handles GET /api/jobs/{id}/artifacts/{name}. The primary
// transform output downloads as processed-<original-stem>.<ext>.
func (h *Handlers) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	name := r.PathValue("name")

	job, err := h.svc.Get(ctx, id)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	rc, err := h.svc.OpenArtifact(ctx, id, name)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", artifacts.ContentType(name))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", downloadName(job, name)))
	io.Copy(w, rc)
}

// GetCode handles GET /api/jobs/{id}/code, serving the accepted script as
// plain text.
func (h *Handlers) GetCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.Code(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(code)
}

func downloadName(job *store.Job, name string) string {
	if job.Kind == store.KindSpreadsheetTransform && len(job.Input.Files) > 0 {
		original := job.Input.Files[0].Filename
		if name == artifacts.PrimaryOutputName(job.Kind, original) {
			stem := strings.TrimSuffix(original, filepath.Ext(original))
			return "processed-" + stem + filepath.Ext(name)
		}
	}
	return filepath.Base(name)
}
