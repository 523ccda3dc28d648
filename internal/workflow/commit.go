package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/metrics"
	"github.com/rpattn/beneficiary/internal/repository"
	"github.com/rpattn/beneficiary/pkg/validator"

	"github.com/google/uuid"
)

// errLinkRace means a record was linked by someone else between the read and
// the update of the same transaction.
var errLinkRace = errors.New("source record linked concurrently")

// LocationResolver maps a location name, and optionally a code, to a
// registry entry.
type LocationResolver interface {
	Resolve(name, code string) (domain.Location, bool)
}

// CommitRequest describes one batch commit.
type CommitRequest struct {
	UploadID    uuid.UUID
	Rows        []validator.ValidatedRow
	GroupColumn string
	Locations   LocationResolver
	// Status, when set, is applied in the same transaction as the links.
	Status *repository.StatusUpdate
}

// CommitResult counts what a commit created.
type CommitResult struct {
	IndividualsCreated int
	GroupsCreated      int
	RecordsSkipped     int
}

// Committer turns validated rows into individuals and groups.
type Committer struct {
	store   repository.CommitStore
	metrics *metrics.Metrics
}

func NewCommitter(store repository.CommitStore, m *metrics.Metrics) *Committer {
	return &Committer{store: store, metrics: m}
}

// Commit creates one Individual per unlinked row and links the row's source
// record to it. Rows sharing a non-blank GroupColumn value join one Group.
// Records that are already linked are skipped, so a commit can be re-run.
// All writes happen in one transaction.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	var result CommitResult
	err := c.store.WithinTx(ctx, func(tx repository.CommitTx) error {
		result = CommitResult{}

		records, err := tx.ListSourceRecords(ctx, req.UploadID)
		if err != nil {
			return err
		}
		linked := make(map[uuid.UUID]bool, len(records))
		for _, record := range records {
			linked[record.ID] = record.Linked()
		}

		groups := map[string]domain.Group{}
		for _, row := range req.Rows {
			if linked[row.Row.ID] {
				result.RecordsSkipped++
				continue
			}

			individual := domain.NewIndividual(row.Row.Values)
			if loc, ok := c.resolveLocation(req.Locations, row); ok && loc.ID != uuid.Nil {
				id := loc.ID
				individual.LocationID = &id
			}
			if err := tx.CreateIndividual(ctx, individual); err != nil {
				return err
			}
			ok, err := tx.LinkSourceRecord(ctx, row.Row.ID, individual.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("record %s: %w", row.Row.ID, errLinkRace)
			}
			linked[row.Row.ID] = true
			result.IndividualsCreated++

			code, grouped := groupKey(row, req.GroupColumn)
			if !grouped {
				continue
			}
			group, exists := groups[code]
			if !exists {
				group, exists, err = tx.FindGroup(ctx, req.UploadID, code)
				if err != nil {
					return err
				}
			}
			if !exists {
				group = domain.NewGroup(req.UploadID, code)
				group.LocationID = individual.LocationID
				if err := tx.CreateGroup(ctx, group); err != nil {
					return err
				}
				result.GroupsCreated++
			}
			groups[code] = group
			if err := tx.AddGroupMember(ctx, newMember(group, individual, row)); err != nil {
				return err
			}
		}

		if req.Status != nil {
			return tx.UpdateStatus(ctx, *req.Status)
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit of upload %s failed: %w", req.UploadID, err)
	}
	c.metrics.AddIndividuals(result.IndividualsCreated)
	return result, nil
}

func (c *Committer) resolveLocation(resolver LocationResolver, row validator.ValidatedRow) (domain.Location, bool) {
	if resolver == nil {
		return domain.Location{}, false
	}
	name := row.Row.Get(domain.ColumnLocationName)
	if name.IsBlank() {
		return domain.Location{}, false
	}
	code := row.Row.Get(domain.ColumnLocationCode)
	if code.IsNull() {
		return resolver.Resolve(name.String(), "")
	}
	return resolver.Resolve(name.String(), code.String())
}

func groupKey(row validator.ValidatedRow, column string) (string, bool) {
	if column == "" {
		return "", false
	}
	value := row.Row.Get(column)
	if value.IsBlank() {
		return "", false
	}
	return strings.TrimSpace(value.String()), true
}

func newMember(group domain.Group, individual domain.Individual, row validator.ValidatedRow) domain.GroupIndividual {
	member := domain.GroupIndividual{
		ID:           uuid.New(),
		GroupID:      group.ID,
		IndividualID: individual.ID,
	}
	if role, ok := domain.ParseGroupRole(row.Row.Get(domain.ColumnIndividualRole).String()); ok {
		member.Role = role
	}
	if recipient, ok := domain.ParseRecipientInfo(row.Row.Get(domain.ColumnRecipientInfo)); ok {
		member.RecipientType = recipient
	}
	return member
}
