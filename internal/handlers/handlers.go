// Package handlers exposes the image library and enrichment trigger API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/imagevault/pipeline/internal/jobs"
	"github.com/imagevault/pipeline/internal/manager"
	pipelineerr "github.com/imagevault/pipeline/internal/pipeline"
	"github.com/imagevault/pipeline/internal/store"
	"github.com/imagevault/pipeline/pkg/pipeline"
)

// maxUploadBytes bounds a single multipart upload request.
const maxUploadBytes = 64 << 20

// Handler serves the /v1 API.
type Handler struct {
	mgr    *manager.Manager
	runner *jobs.Runner
	log    *zap.Logger
}

// New creates a Handler.
func New(mgr *manager.Manager, runner *jobs.Runner, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{mgr: mgr, runner: runner, log: log}
}

// Routes registers the API endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/images", h.handleImages)
	mux.HandleFunc("/v1/images/", h.handleImageByID)
	mux.HandleFunc("/v1/process", h.handleProcess)
	mux.HandleFunc("/v1/runs/", h.handleRunStatus)
	mux.HandleFunc("/v1/urls", h.handleURLs)
}

// recordView mirrors store.Record but carries metadata as raw JSON rather
// than base64-encoded bytes.
type recordView struct {
	ID        string          `json:"id"`
	Owner     string          `json:"owner"`
	BlobRef   string          `json:"blob_ref"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type listResponse struct {
	Records    []recordView      `json:"records"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	TotalCount int               `json:"total_count"`
	URLs       map[string]string `json:"urls"`
}

type uploadResponse struct {
	Records []recordView `json:"records"`
}

func (h *Handler) handleImages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleUpload(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("Invalid multipart request: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	owner := r.FormValue("owner")
	if owner == "" {
		owner = "anonymous"
	}

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		http.Error(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	var uploads []manager.FileUpload
	for _, part := range parts {
		f, err := part.Open()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read part %q: %v", part.Filename, err), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read part %q: %v", part.Filename, err), http.StatusBadRequest)
			return
		}
		uploads = append(uploads, manager.FileUpload{
			Name:        part.Filename,
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	created, err := h.mgr.Upload(r.Context(), owner, uploads)
	if err != nil {
		// Partial success still reports the records that made it in.
		h.log.Warn("upload failed", zap.Int("created", len(created)), zap.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Records: viewsOf(created)})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "page must be an integer", http.StatusBadRequest)
			return
		}
		page = n
	}

	window, err := h.mgr.List(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Records:    viewsOf(window.Records),
		Page:       window.Page,
		TotalPages: window.TotalPages,
		TotalCount: window.TotalCount,
		URLs:       h.mgr.DisplayURLs(r.Context(), window),
	})
}

func (h *Handler) handleImageByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Path[len("/v1/images/"):]
	if id == "" {
		http.Error(w, "record id is required", http.StatusBadRequest)
		return
	}

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "page must be an integer", http.StatusBadRequest)
			return
		}
		page = n
	}

	if err := h.mgr.Delete(r.Context(), page, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pipeline.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.RecordID == "" {
		http.Error(w, "record_id is required", http.StatusBadRequest)
		return
	}
	if req.Job == "" {
		http.Error(w, "job is required", http.StatusBadRequest)
		return
	}

	runID, err := h.runner.Dispatch(r.Context(), req.RecordID, req.Job)
	if err != nil {
		h.log.Warn("dispatch rejected",
			zap.String("record_id", req.RecordID),
			zap.String("job", req.Job),
			zap.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, pipeline.ProcessResponse{RunID: runID})
}

func (h *Handler) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := r.URL.Path[len("/v1/runs/"):]
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	status, err := h.runner.Status(runID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

type urlsRequest struct {
	Names []string `json:"names"`
}

type urlsResponse struct {
	URLs map[string]string `json:"urls"`
}

// handleURLs resolves display URLs for a batch of blob names. Names that
// cannot be resolved are absent from the response rather than failing it.
func (h *Handler) handleURLs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req urlsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Names) == 0 {
		http.Error(w, "names is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, urlsResponse{URLs: h.mgr.ResolveURLs(r.Context(), req.Names)})
}

func viewsOf(records []store.Record) []recordView {
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			ID:        rec.ID,
			Owner:     rec.Owner,
			BlobRef:   rec.BlobRef,
			Metadata:  json.RawMessage(rec.Metadata),
			CreatedAt: rec.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			UpdatedAt: rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipelineerr.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pipelineerr.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pipelineerr.ErrUnknownJob), errors.Is(err, pipelineerr.ErrOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, pipelineerr.ErrCorruptMetadata):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, pipelineerr.ErrUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
