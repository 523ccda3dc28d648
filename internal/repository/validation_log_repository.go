package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/beneficiary/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type validationLogRepository struct {
	pool *pgxpool.Pool
}

// NewValidationLogRepository creates a repository for row validation failures.
func NewValidationLogRepository(pool *pgxpool.Pool) ValidationLogRepository {
	return &validationLogRepository{pool: pool}
}

func (r *validationLogRepository) Record(ctx context.Context, entries []domain.ValidationLogEntry) error {
	if r.pool == nil {
		return fmt.Errorf("validation log repository not initialized")
	}
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, entry := range entries {
		id := entry.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := entry.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(
			`INSERT INTO upload_validation_log (id, upload_id, source_record_id, rule_name, field_name, note, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, entry.UploadID, entry.SourceRecordID, entry.RuleName, entry.FieldName, entry.Note, createdAt,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to record validation log: %w", err)
	}
	return nil
}

func (r *validationLogRepository) List(ctx context.Context, uploadID uuid.UUID, limit int, offset int) ([]domain.ValidationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, upload_id, source_record_id, rule_name, field_name, note, created_at
		 FROM upload_validation_log
		 WHERE upload_id = $1
		 ORDER BY created_at, field_name, id
		 LIMIT $2 OFFSET $3`,
		uploadID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation log: %w", err)
	}
	defer rows.Close()

	entries := []domain.ValidationLogEntry{}
	for rows.Next() {
		var entry domain.ValidationLogEntry
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.UploadID,
			&entry.SourceRecordID,
			&entry.RuleName,
			&entry.FieldName,
			&entry.Note,
			&entry.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan validation log entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate validation log: %w", rowsErr)
	}

	return entries, nil
}
