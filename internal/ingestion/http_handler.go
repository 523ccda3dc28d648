package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/beneficiary/internal/auth"
	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/platform/logger"
	"github.com/rpattn/beneficiary/internal/repository"
	"github.com/rpattn/beneficiary/internal/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

// WorkflowResolver resolves the workflow named in an upload request.
type WorkflowResolver interface {
	Workflow(name string) (workflow.Workflow, error)
}

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	service         *Service
	workflows       WorkflowResolver
	defaultWorkflow string
}

// NewHTTPHandler wraps the service. defaultWorkflow is used when a request
// does not name one.
func NewHTTPHandler(service *Service, workflows WorkflowResolver, defaultWorkflow string) *Handler {
	return &Handler{service: service, workflows: workflows, defaultWorkflow: defaultWorkflow}
}

// Register mounts the upload routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/individual/upload", h.handleUpload)
	mux.HandleFunc("GET /api/individual/upload/{id}", h.handleStatus)
	mux.HandleFunc("GET /api/individual/upload/{id}/validation-log", h.handleValidationLog)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUser(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form data: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file required: %v", err))
		return
	}
	defer file.Close()

	workflowName := strings.TrimSpace(r.FormValue("workflow"))
	if workflowName == "" {
		workflowName = h.defaultWorkflow
	}
	wf, err := h.workflows.Workflow(workflowName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := ImportRequest{
		FileName: header.Filename,
		Workflow: wf,
		UserID:   userID,
	}
	if column := strings.TrimSpace(r.FormValue("groupAggregationColumn")); column != "" {
		req.GroupAggregationColumn = &column
	}
	if raw := strings.TrimSpace(r.FormValue("headerRowIndex")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid headerRowIndex: %v", err))
			return
		}
		req.HeaderRowIndex = &idx
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
		return
	}
	req.Data = bytes.NewReader(data)

	result, err := h.service.Import(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrParse), errors.Is(err, ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logger.FromContext(r.Context()).Error("import failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, result)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

type uploadResponse struct {
	ID         uuid.UUID           `json:"id"`
	SourceName string              `json:"source_name"`
	SourceType string              `json:"source_type"`
	Status     domain.UploadStatus `json:"status"`
	Error      domain.UploadError  `json:"error"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUploadID(w, r)
	if !ok {
		return
	}
	batch, err := h.service.Upload(r.Context(), id)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		ID:         batch.ID,
		SourceName: batch.SourceName,
		SourceType: batch.SourceType,
		Status:     batch.Status,
		Error:      batch.Error,
		CreatedAt:  batch.CreatedAt,
		UpdatedAt:  batch.UpdatedAt,
	})
}

func (h *Handler) handleValidationLog(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUploadID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.service.ValidationLog(r.Context(), id, limit, offset)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return value, nil
}

func parseUploadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid upload id: %v", err))
		return uuid.Nil, false
	}
	return id, true
}

func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "upload not found")
		return
	}
	logger.FromContext(r.Context()).Error("upload lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
