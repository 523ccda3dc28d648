package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/beneficiary/internal/db"
	"github.com/rpattn/beneficiary/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type uploadRepository struct {
	pool *pgxpool.Pool
}

// NewUploadRepository wires an upload repository backed by pgxpool. The
// returned value also implements CommitStore.
func NewUploadRepository(pool *pgxpool.Pool) *uploadRepository {
	return &uploadRepository{pool: pool}
}

var (
	_ UploadRepository = (*uploadRepository)(nil)
	_ CommitStore      = (*uploadRepository)(nil)
)

func (r *uploadRepository) CreateUpload(ctx context.Context, batch domain.UploadBatch, meta domain.UploadRecordMeta, records []domain.SourceRecord) error {
	if r.pool == nil {
		return fmt.Errorf("upload repository not initialized")
	}

	errorJSON, err := json.Marshal(batch.Error)
	if err != nil {
		return fmt.Errorf("failed to marshal upload error: %w", err)
	}
	metaJSON, err := json.Marshal(meta.JSONExt)
	if err != nil {
		return fmt.Errorf("failed to marshal upload meta: %w", err)
	}

	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(
			ctx,
			`INSERT INTO individual_data_source_upload (id, source_name, source_type, status, error, user_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			batch.ID, batch.SourceName, batch.SourceType, string(batch.Status), errorJSON, batch.UserID, batch.CreatedAt, batch.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert upload: %w", err)
		}

		if _, err := tx.Exec(
			ctx,
			`INSERT INTO individual_data_upload_records (upload_id, workflow, json_ext) VALUES ($1, $2, $3)`,
			batch.ID, meta.Workflow, metaJSON,
		); err != nil {
			return fmt.Errorf("failed to insert upload meta: %w", err)
		}

		rows := make([][]any, 0, len(records))
		for idx, record := range records {
			fieldsJSON, err := json.Marshal(record.Fields)
			if err != nil {
				return fmt.Errorf("failed to marshal source record %s: %w", record.ID, err)
			}
			rows = append(rows, []any{record.ID, batch.ID, idx, fieldsJSON})
		}
		if _, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"individual_data_source"},
			[]string{"id", "upload_id", "row_index", "json_ext"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("failed to copy source records: %w", err)
		}
		return nil
	})
}

func (r *uploadRepository) GetUpload(ctx context.Context, id uuid.UUID) (domain.UploadBatch, error) {
	var (
		batch     domain.UploadBatch
		status    string
		errorJSON []byte
	)
	err := r.pool.QueryRow(
		ctx,
		`SELECT id, source_name, source_type, status, error, user_id, created_at, updated_at
		 FROM individual_data_source_upload WHERE id = $1`,
		id,
	).Scan(&batch.ID, &batch.SourceName, &batch.SourceType, &status, &errorJSON, &batch.UserID, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UploadBatch{}, fmt.Errorf("upload %s: %w", id, ErrNotFound)
		}
		return domain.UploadBatch{}, fmt.Errorf("failed to get upload: %w", err)
	}
	batch.Status = domain.UploadStatus(status)
	if len(errorJSON) > 0 {
		if err := json.Unmarshal(errorJSON, &batch.Error); err != nil {
			return domain.UploadBatch{}, fmt.Errorf("failed to decode upload error: %w", err)
		}
	}
	return batch, nil
}

func (r *uploadRepository) GetRecordMeta(ctx context.Context, uploadID uuid.UUID) (domain.UploadRecordMeta, error) {
	meta := domain.UploadRecordMeta{UploadID: uploadID}
	var extJSON []byte
	err := r.pool.QueryRow(
		ctx,
		`SELECT workflow, json_ext FROM individual_data_upload_records WHERE upload_id = $1`,
		uploadID,
	).Scan(&meta.Workflow, &extJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UploadRecordMeta{}, fmt.Errorf("upload meta %s: %w", uploadID, ErrNotFound)
		}
		return domain.UploadRecordMeta{}, fmt.Errorf("failed to get upload meta: %w", err)
	}
	if err := json.Unmarshal(extJSON, &meta.JSONExt); err != nil {
		return domain.UploadRecordMeta{}, fmt.Errorf("failed to decode upload meta: %w", err)
	}
	return meta, nil
}

func (r *uploadRepository) ListSourceRecords(ctx context.Context, uploadID uuid.UUID) ([]domain.SourceRecord, error) {
	return listSourceRecords(ctx, r.pool, uploadID, false)
}

func (r *uploadRepository) UpdateStatus(ctx context.Context, update StatusUpdate) error {
	return updateStatus(ctx, r.pool, update)
}

// WithinTx implements CommitStore.
func (r *uploadRepository) WithinTx(ctx context.Context, fn func(tx CommitTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&commitTx{tx: tx})
	})
}

func listSourceRecords(ctx context.Context, q querier, uploadID uuid.UUID, forUpdate bool) ([]domain.SourceRecord, error) {
	sql := `SELECT id, upload_id, json_ext, individual_id
		 FROM individual_data_source
		 WHERE upload_id = $1
		 ORDER BY row_index`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, sql, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source records: %w", err)
	}
	defer rows.Close()

	records := []domain.SourceRecord{}
	for rows.Next() {
		var (
			record       domain.SourceRecord
			fieldsJSON   []byte
			individualID *uuid.UUID
		)
		if scanErr := rows.Scan(&record.ID, &record.UploadID, &fieldsJSON, &individualID); scanErr != nil {
			return nil, fmt.Errorf("failed to scan source record: %w", scanErr)
		}
		if err := json.Unmarshal(fieldsJSON, &record.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode source record %s: %w", record.ID, err)
		}
		record.IndividualID = individualID
		records = append(records, record)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate source records: %w", rowsErr)
	}
	return records, nil
}

func updateStatus(ctx context.Context, q querier, update StatusUpdate) error {
	if !domain.CanTransition(update.Expected, update.Next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, update.Expected, update.Next)
	}
	errorJSON, err := json.Marshal(update.Error)
	if err != nil {
		return fmt.Errorf("failed to marshal upload error: %w", err)
	}

	tag, err := q.Exec(
		ctx,
		`UPDATE individual_data_source_upload
		 SET status = $3, error = $4, updated_at = $5
		 WHERE id = $1 AND status = $2`,
		update.UploadID, string(update.Expected), string(update.Next), errorJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %s not in status %s: %w", update.UploadID, update.Expected, ErrStatusConflict)
	}
	return nil
}
