package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/beneficiary/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a conditional status update finds the
	// batch in a different state than expected.
	ErrStatusConflict = errors.New("upload status changed concurrently")
	// ErrInvalidTransition is returned for moves the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid upload status transition")
)

// StatusWriteTimeout bounds a status write made on a detached context.
const StatusWriteTimeout = 5 * time.Second

// DetachedContext keeps the values of ctx but drops its cancellation. A
// batch is moved to FAIL through it after ctx itself was cancelled.
func DetachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), StatusWriteTimeout)
}

// StatusUpdate moves a batch from Expected to Next and replaces its error payload.
type StatusUpdate struct {
	UploadID uuid.UUID
	Expected domain.UploadStatus
	Next     domain.UploadStatus
	Error    domain.UploadError
}

// UploadRepository persists upload batches and their raw rows.
type UploadRepository interface {
	// CreateUpload stores the batch, its meta and all records atomically.
	CreateUpload(ctx context.Context, batch domain.UploadBatch, meta domain.UploadRecordMeta, records []domain.SourceRecord) error
	GetUpload(ctx context.Context, id uuid.UUID) (domain.UploadBatch, error)
	GetRecordMeta(ctx context.Context, uploadID uuid.UUID) (domain.UploadRecordMeta, error)
	ListSourceRecords(ctx context.Context, uploadID uuid.UUID) ([]domain.SourceRecord, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) error
}

// CommitTx is the unit of work used while committing a batch.
type CommitTx interface {
	ListSourceRecords(ctx context.Context, uploadID uuid.UUID) ([]domain.SourceRecord, error)
	CreateIndividual(ctx context.Context, individual domain.Individual) error
	// FindGroup returns the group an earlier commit of the upload created
	// for code.
	FindGroup(ctx context.Context, uploadID uuid.UUID, code string) (domain.Group, bool, error)
	CreateGroup(ctx context.Context, group domain.Group) error
	AddGroupMember(ctx context.Context, member domain.GroupIndividual) error
	// LinkSourceRecord sets the individual reference. It reports false and
	// changes nothing when the record is already linked.
	LinkSourceRecord(ctx context.Context, recordID uuid.UUID, individualID uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) error
}

// CommitStore runs fn in a transaction: every write of fn becomes visible
// together or not at all.
type CommitStore interface {
	WithinTx(ctx context.Context, fn func(tx CommitTx) error) error
}

// LocationRepository exposes the location registry and per-user scopes.
type LocationRepository interface {
	List(ctx context.Context) ([]domain.Location, error)
	PermittedLocations(ctx context.Context, userID uuid.UUID) (domain.LocationPermissions, error)
}

// ValidationLogRepository stores row level validation failures for reporting.
type ValidationLogRepository interface {
	Record(ctx context.Context, entries []domain.ValidationLogEntry) error
	List(ctx context.Context, uploadID uuid.UUID, limit int, offset int) ([]domain.ValidationLogEntry, error)
}
