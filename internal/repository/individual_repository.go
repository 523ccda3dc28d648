package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpattn/beneficiary/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// commitTx implements CommitTx on top of a pgx transaction.
type commitTx struct {
	tx pgx.Tx
}

func (c *commitTx) ListSourceRecords(ctx context.Context, uploadID uuid.UUID) ([]domain.SourceRecord, error) {
	return listSourceRecords(ctx, c.tx, uploadID, true)
}

func (c *commitTx) CreateIndividual(ctx context.Context, individual domain.Individual) error {
	extJSON, err := json.Marshal(individual.JSONExt)
	if err != nil {
		return fmt.Errorf("failed to marshal individual json_ext: %w", err)
	}
	dob := pgtype.Date{}
	if !individual.Dob.IsZero() {
		dob = pgtype.Date{Time: individual.Dob, Valid: true}
	}

	_, err = c.tx.Exec(
		ctx,
		`INSERT INTO individual (id, first_name, last_name, dob, location_id, json_ext, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		individual.ID, individual.FirstName, individual.LastName, dob, individual.LocationID, extJSON, individual.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert individual: %w", err)
	}
	return nil
}

func (c *commitTx) FindGroup(ctx context.Context, uploadID uuid.UUID, code string) (domain.Group, bool, error) {
	var (
		group   domain.Group
		extJSON []byte
	)
	err := c.tx.QueryRow(
		ctx,
		`SELECT id, upload_id, code, location_id, json_ext, created_at
		 FROM individual_group
		 WHERE upload_id = $1 AND code = $2
		 FOR UPDATE`,
		uploadID, code,
	).Scan(&group.ID, &group.UploadID, &group.Code, &group.LocationID, &extJSON, &group.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Group{}, false, nil
	}
	if err != nil {
		return domain.Group{}, false, fmt.Errorf("failed to load group %s: %w", code, err)
	}
	group.JSONExt = map[string]any{}
	if len(extJSON) > 0 {
		if err := json.Unmarshal(extJSON, &group.JSONExt); err != nil {
			return domain.Group{}, false, fmt.Errorf("failed to decode group json_ext: %w", err)
		}
	}
	return group, true, nil
}

func (c *commitTx) CreateGroup(ctx context.Context, group domain.Group) error {
	extJSON, err := json.Marshal(group.JSONExt)
	if err != nil {
		return fmt.Errorf("failed to marshal group json_ext: %w", err)
	}
	_, err = c.tx.Exec(
		ctx,
		`INSERT INTO individual_group (id, upload_id, code, location_id, json_ext, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		group.ID, group.UploadID, group.Code, group.LocationID, extJSON, group.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

func (c *commitTx) AddGroupMember(ctx context.Context, member domain.GroupIndividual) error {
	var role, recipient *string
	if member.Role != "" {
		v := string(member.Role)
		role = &v
	}
	if member.RecipientType != "" {
		v := string(member.RecipientType)
		recipient = &v
	}
	_, err := c.tx.Exec(
		ctx,
		`INSERT INTO group_individual (id, group_id, individual_id, role, recipient_type)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (group_id, individual_id) DO NOTHING`,
		member.ID, member.GroupID, member.IndividualID, role, recipient,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group member: %w", err)
	}
	return nil
}

func (c *commitTx) LinkSourceRecord(ctx context.Context, recordID uuid.UUID, individualID uuid.UUID) (bool, error) {
	tag, err := c.tx.Exec(
		ctx,
		`UPDATE individual_data_source SET individual_id = $2 WHERE id = $1 AND individual_id IS NULL`,
		recordID, individualID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to link source record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (c *commitTx) UpdateStatus(ctx context.Context, update StatusUpdate) error {
	return updateStatus(ctx, c.tx, update)
}
