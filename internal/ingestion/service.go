package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/metrics"
	"github.com/rpattn/beneficiary/internal/platform/logger"
	"github.com/rpattn/beneficiary/internal/repository"
	schemavalidator "github.com/rpattn/beneficiary/internal/schema/validator"
	"github.com/rpattn/beneficiary/internal/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrParse is returned when an upload cannot be read as a non-empty table.
	// Nothing is persisted in that case.
	ErrParse = errors.New("upload could not be parsed")
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrInvalidRequest is returned for requests missing mandatory inputs.
	ErrInvalidRequest = errors.New("invalid import request")
)

// Service is the import orchestrator: it turns an uploaded file into a
// persisted batch of source records and schedules the batch's workflow.
type Service struct {
	uploads repository.UploadRepository
	logs    repository.ValidationLogRepository
	schema  string
	metrics *metrics.Metrics
}

// NewService creates a new import orchestrator. schema is the descriptor
// used to type declared columns; logs may be nil.
func NewService(uploads repository.UploadRepository, logs repository.ValidationLogRepository, schema string, m *metrics.Metrics) *Service {
	return &Service{
		uploads: uploads,
		logs:    logs,
		schema:  schema,
		metrics: m,
	}
}

// ImportRequest describes one upload.
type ImportRequest struct {
	FileName string
	Data     io.Reader
	Workflow workflow.Workflow
	// GroupAggregationColumn names the column clustering rows into households.
	GroupAggregationColumn *string
	// HeaderRowIndex selects the header row; the first non-blank row by default.
	HeaderRowIndex *int
	UserID         uuid.UUID
}

// ImportData carries the created batch identifier.
type ImportData struct {
	UploadUUID uuid.UUID `json:"upload_uuid"`
}

// ImportResult is returned to the upload caller.
type ImportResult struct {
	Success bool       `json:"success"`
	Data    ImportData `json:"data"`
}

// Import parses the file, persists the batch with status TRIGGERED together
// with its meta and records, and hands the batch to the workflow. It never
// waits for validation.
func (s *Service) Import(ctx context.Context, req ImportRequest) (ImportResult, error) {
	if req.UserID == uuid.Nil {
		return ImportResult{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if req.Workflow == nil {
		return ImportResult{}, fmt.Errorf("%w: workflow is required", ErrInvalidRequest)
	}
	if req.Data == nil {
		return ImportResult{}, fmt.Errorf("%w: data reader is required", ErrInvalidRequest)
	}

	schema, err := schemavalidator.ParseDescriptor(s.schema)
	if err != nil {
		return ImportResult{}, fmt.Errorf("individual schema: %w", err)
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: failed to read upload: %w", ErrParse, err)
	}
	if len(payload) == 0 {
		return ImportResult{}, fmt.Errorf("%w: file is empty", ErrParse)
	}

	table, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if len(table.rows) == 0 {
		return ImportResult{}, fmt.Errorf("%w: file has no data rows", ErrParse)
	}

	log := logger.FromContext(ctx).With(zap.String("workflow", req.Workflow.Name()))

	batch := domain.NewUploadBatch(req.FileName, req.UserID, domain.UploadStatusTriggered)
	meta := domain.UploadRecordMeta{
		UploadID: batch.ID,
		Workflow: req.Workflow.Name(),
		JSONExt:  map[string]any{domain.GroupAggregationColumnKey: groupColumnValue(req.GroupAggregationColumn)},
	}
	records := buildRecords(batch.ID, table, schema)

	if err := s.uploads.CreateUpload(ctx, batch, meta, records); err != nil {
		return ImportResult{}, fmt.Errorf("failed to persist upload: %w", err)
	}
	log = log.With(zap.String("upload_id", batch.ID.String()))

	trigger := workflow.TriggerPayload{UserUUID: req.UserID, UploadUUID: batch.ID}
	if err := req.Workflow.Run(ctx, trigger); err != nil {
		s.failDispatch(ctx, log, batch, err)
		return ImportResult{Success: false, Data: ImportData{UploadUUID: batch.ID}}, fmt.Errorf("failed to schedule workflow: %w", err)
	}

	s.metrics.ObserveUpload(len(records))
	log.Info("upload accepted", zap.Int("rows", len(records)))
	return ImportResult{Success: true, Data: ImportData{UploadUUID: batch.ID}}, nil
}

// failDispatch moves a batch nobody will process to FAIL so it does not sit
// in TRIGGERED forever. The write outlives a cancelled request.
func (s *Service) failDispatch(ctx context.Context, log *zap.Logger, batch domain.UploadBatch, cause error) {
	ctx, cancel := repository.DetachedContext(ctx)
	defer cancel()

	update := repository.StatusUpdate{
		UploadID: batch.ID,
		Expected: domain.UploadStatusTriggered,
		Next:     domain.UploadStatusFail,
		Error:    domain.UploadError{Message: fmt.Sprintf("Failed to schedule workflow: %v", cause)},
	}
	if err := s.uploads.UpdateStatus(ctx, update); err != nil {
		log.Error("failed to mark undispatched upload as failed", zap.Error(err))
	}
}

// Upload returns the current state of a batch.
func (s *Service) Upload(ctx context.Context, id uuid.UUID) (domain.UploadBatch, error) {
	return s.uploads.GetUpload(ctx, id)
}

// ValidationLog pages through the row failures recorded for a batch.
func (s *Service) ValidationLog(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.ValidationLogEntry, error) {
	if s.logs == nil {
		return []domain.ValidationLogEntry{}, nil
	}
	if _, err := s.uploads.GetUpload(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.List(ctx, id, limit, offset)
}

func groupColumnValue(column *string) any {
	if column == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*column)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

// buildRecords types each cell: declared columns by their schema type,
// other columns by profiling their contents.
func buildRecords(uploadID uuid.UUID, table tableData, schema domain.SchemaDescriptor) []domain.SourceRecord {
	types := make([]domain.FieldType, len(table.headers))
	for col, header := range table.headers {
		if field, ok := schema.Field(header); ok {
			types[col] = field.Type
			continue
		}
		types[col] = profileColumn(col, table.rows)
	}

	records := make([]domain.SourceRecord, 0, len(table.rows))
	for _, row := range table.rows {
		var fields domain.Fields
		for col, header := range table.headers {
			fields.Set(header, coerceCell(types[col], row[col]))
		}
		records = append(records, domain.NewSourceRecord(uploadID, fields))
	}
	return records
}
