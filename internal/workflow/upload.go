package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/location"
	"github.com/rpattn/beneficiary/internal/metrics"
	"github.com/rpattn/beneficiary/internal/platform/logger"
	"github.com/rpattn/beneficiary/internal/repository"
	schemavalidator "github.com/rpattn/beneficiary/internal/schema/validator"
	"github.com/rpattn/beneficiary/internal/tabular"
	"github.com/rpattn/beneficiary/pkg/validator"

	"go.uber.org/zap"
)

// UploadWorkflowName is the default name the individual import is registered under.
const UploadWorkflowName = "python_import"

// UploadOptions holds the per-deployment settings of the import workflow.
type UploadOptions struct {
	// Schema is the JSON schema descriptor rows are validated against.
	Schema string
	// MakerChecker parks valid batches in WAITING_FOR_VERIFICATION
	// instead of committing them.
	MakerChecker bool
}

// UploadWorkflow validates one batch and, when every row passes, commits it.
type UploadWorkflow struct {
	uploads   repository.UploadRepository
	locations repository.LocationRepository
	logs      repository.ValidationLogRepository
	committer *Committer
	validator *validator.SchemaValidator
	options   UploadOptions
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewUploadWorkflow wires the workflow. logs may be nil.
func NewUploadWorkflow(
	uploads repository.UploadRepository,
	locations repository.LocationRepository,
	logs repository.ValidationLogRepository,
	committer *Committer,
	options UploadOptions,
	m *metrics.Metrics,
	log *zap.Logger,
) *UploadWorkflow {
	if log == nil {
		log = zap.NewNop()
	}
	return &UploadWorkflow{
		uploads:   uploads,
		locations: locations,
		logs:      logs,
		committer: committer,
		validator: validator.NewSchemaValidator(),
		options:   options,
		metrics:   m,
		log:       log,
	}
}

// Process implements Processor. It returns an error only when the batch
// could not be processed at all; rejected rows end in status FAIL with a
// nil error.
func (w *UploadWorkflow) Process(ctx context.Context, payload TriggerPayload) error {
	start := time.Now()
	log := logger.WithContext(ctx, w.log).With(
		zap.String("upload_id", payload.UploadUUID.String()),
		zap.String("user_id", payload.UserUUID.String()),
	)

	batch, err := w.uploads.GetUpload(ctx, payload.UploadUUID)
	if err != nil {
		return fmt.Errorf("failed to load upload: %w", err)
	}
	if batch.Status != domain.UploadStatusTriggered && batch.Status != domain.UploadStatusPending {
		log.Info("upload already processed, skipping", zap.String("status", string(batch.Status)))
		return nil
	}

	schema, err := schemavalidator.ParseDescriptor(w.options.Schema)
	if err != nil {
		return fmt.Errorf("individual schema: %w", err)
	}

	meta, err := w.uploads.GetRecordMeta(ctx, batch.ID)
	if err != nil {
		return w.abort(ctx, log, batch, start, fmt.Errorf("failed to load upload meta: %w", err))
	}
	records, err := w.uploads.ListSourceRecords(ctx, batch.ID)
	if err != nil {
		return w.abort(ctx, log, batch, start, fmt.Errorf("failed to load source records: %w", err))
	}
	table := tabular.Load(records)

	filter, err := w.locationFilter(ctx, payload)
	if err != nil {
		return w.abort(ctx, log, batch, start, err)
	}

	rows, summary, err := w.validator.Validate(table, schema, filter)
	if err != nil {
		return fmt.Errorf("individual schema: %w", err)
	}

	var final domain.UploadStatus
	switch {
	case summary.InvalidItemsCount > 0:
		final = domain.UploadStatusFail
		err = w.reject(ctx, batch, rows, summary)
	case w.options.MakerChecker:
		final = domain.UploadStatusWaitingForVerification
		err = w.uploads.UpdateStatus(ctx, repository.StatusUpdate{
			UploadID: batch.ID,
			Expected: batch.Status,
			Next:     domain.UploadStatusWaitingForVerification,
		})
	default:
		final = domain.UploadStatusSuccess
		err = w.commit(ctx, batch, meta, rows, filter)
	}
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			log.Warn("upload status changed while processing", zap.Error(err))
			return nil
		}
		return w.abort(ctx, log, batch, start, err)
	}

	w.metrics.ObserveWorkflow(final, time.Since(start))
	log.Info("upload processed",
		zap.String("status", string(final)),
		zap.Int("rows", summary.TotalItemsCount),
		zap.Int("invalid_rows", summary.InvalidItemsCount),
	)
	return nil
}

// abort moves a batch that could not be processed to FAIL and returns cause.
// A commit that failed rolled back, so the batch has no links and FAIL
// describes it accurately. The write runs on a detached context so that a
// cancelled ctx still leaves the batch in FAIL.
func (w *UploadWorkflow) abort(ctx context.Context, log *zap.Logger, batch domain.UploadBatch, start time.Time, cause error) error {
	writeCtx, cancel := repository.DetachedContext(ctx)
	defer cancel()

	update := repository.StatusUpdate{
		UploadID: batch.ID,
		Expected: batch.Status,
		Next:     domain.UploadStatusFail,
		Error:    domain.UploadError{Message: fmt.Sprintf("Import failed: %v", cause)},
	}
	if err := w.uploads.UpdateStatus(writeCtx, update); err != nil {
		log.Error("failed to mark upload as failed", zap.Error(err), zap.NamedError("cause", cause))
	}
	w.metrics.ObserveWorkflow(domain.UploadStatusFail, time.Since(start))
	return cause
}

func (w *UploadWorkflow) locationFilter(ctx context.Context, payload TriggerPayload) (*location.Filter, error) {
	registry, err := w.locations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}
	permissions, err := w.locations.PermittedLocations(ctx, payload.UserUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load location permissions: %w", err)
	}
	return location.NewFilter(registry, permissions), nil
}

func (w *UploadWorkflow) commit(
	ctx context.Context,
	batch domain.UploadBatch,
	meta domain.UploadRecordMeta,
	rows []validator.ValidatedRow,
	filter *location.Filter,
) error {
	groupColumn, _ := meta.GroupAggregationColumn()
	_, err := w.committer.Commit(ctx, CommitRequest{
		UploadID:    batch.ID,
		Rows:        rows,
		GroupColumn: groupColumn,
		Locations:   filter,
		Status: &repository.StatusUpdate{
			UploadID: batch.ID,
			Expected: batch.Status,
			Next:     domain.UploadStatusSuccess,
		},
	})
	return err
}

// reject records the validation outcome. Validation already finished, so
// the writes run on a detached context.
func (w *UploadWorkflow) reject(ctx context.Context, batch domain.UploadBatch, rows []validator.ValidatedRow, summary validator.InvalidSummary) error {
	ctx, cancel := repository.DetachedContext(ctx)
	defer cancel()

	uploadErr, entries := buildUploadError(batch, rows, summary)
	for _, entry := range entries {
		w.metrics.IncrementValidationFailure(entry.RuleName)
	}

	if err := w.uploads.UpdateStatus(ctx, repository.StatusUpdate{
		UploadID: batch.ID,
		Expected: batch.Status,
		Next:     domain.UploadStatusFail,
		Error:    uploadErr,
	}); err != nil {
		return err
	}

	if w.logs != nil && len(entries) > 0 {
		if err := w.logs.Record(ctx, entries); err != nil {
			w.log.Warn("failed to record validation log",
				zap.String("upload_id", batch.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// buildUploadError lists, per field, the ids of records that failed at
// least one rule on that field. Only failing records ever appear.
func buildUploadError(batch domain.UploadBatch, rows []validator.ValidatedRow, summary validator.InvalidSummary) (domain.UploadError, []domain.ValidationLogEntry) {
	failing := map[string][]string{}
	var entries []domain.ValidationLogEntry
	now := time.Now().UTC()

	for _, row := range rows {
		failures := row.Failures()
		if len(failures) == 0 {
			continue
		}
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		seen := map[string]bool{}
		for _, name := range names {
			result := failures[name]
			entries = append(entries, domain.ValidationLogEntry{
				UploadID:       batch.ID,
				SourceRecordID: row.Row.ID,
				RuleName:       name,
				FieldName:      result.FieldName,
				Note:           result.Note,
				CreatedAt:      now,
			})
			if seen[result.FieldName] {
				continue
			}
			seen[result.FieldName] = true
			failing[result.FieldName] = append(failing[result.FieldName], row.Row.ID.String())
		}
	}

	return domain.UploadError{
		Message: fmt.Sprintf(
			"Invalid entries: %d of %d rows failed validation",
			summary.InvalidItemsCount, summary.TotalItemsCount,
		),
		FailingEntries: failing,
	}, entries
}
