package memory

import (
	"context"
	"fmt"

	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/repository"

	"github.com/google/uuid"
)

type tx struct {
	state    *state
	failLink error
}

func (t *tx) ListSourceRecords(_ context.Context, uploadID uuid.UUID) ([]domain.SourceRecord, error) {
	return t.state.listRecords(uploadID), nil
}

func (t *tx) CreateIndividual(_ context.Context, individual domain.Individual) error {
	if _, exists := t.state.individuals[individual.ID]; exists {
		return fmt.Errorf("individual %s already exists", individual.ID)
	}
	t.state.individuals[individual.ID] = individual
	return nil
}

func (t *tx) FindGroup(_ context.Context, uploadID uuid.UUID, code string) (domain.Group, bool, error) {
	group, ok := t.findGroup(uploadID, code)
	return group, ok, nil
}

func (t *tx) findGroup(uploadID uuid.UUID, code string) (domain.Group, bool) {
	for _, group := range t.state.groups {
		if group.UploadID == uploadID && group.Code == code {
			return group, true
		}
	}
	return domain.Group{}, false
}

func (t *tx) CreateGroup(_ context.Context, group domain.Group) error {
	if _, exists := t.state.groups[group.ID]; exists {
		return fmt.Errorf("group %s already exists", group.ID)
	}
	if _, exists := t.findGroup(group.UploadID, group.Code); exists {
		return fmt.Errorf("group %s already exists for upload %s", group.Code, group.UploadID)
	}
	t.state.groups[group.ID] = group
	return nil
}

func (t *tx) AddGroupMember(_ context.Context, member domain.GroupIndividual) error {
	if _, ok := t.state.groups[member.GroupID]; !ok {
		return fmt.Errorf("group %s: %w", member.GroupID, repository.ErrNotFound)
	}
	if _, ok := t.state.individuals[member.IndividualID]; !ok {
		return fmt.Errorf("individual %s: %w", member.IndividualID, repository.ErrNotFound)
	}
	for _, existing := range t.state.members {
		if existing.GroupID == member.GroupID && existing.IndividualID == member.IndividualID {
			return nil
		}
	}
	t.state.members = append(t.state.members, member)
	return nil
}

func (t *tx) LinkSourceRecord(_ context.Context, recordID uuid.UUID, individualID uuid.UUID) (bool, error) {
	if t.failLink != nil {
		return false, t.failLink
	}
	for uploadID, records := range t.state.records {
		for i := range records {
			if records[i].ID != recordID {
				continue
			}
			if records[i].Linked() {
				return false, nil
			}
			id := individualID
			records[i].IndividualID = &id
			t.state.records[uploadID] = records
			return true, nil
		}
	}
	return false, fmt.Errorf("source record %s: %w", recordID, repository.ErrNotFound)
}

func (t *tx) UpdateStatus(_ context.Context, update repository.StatusUpdate) error {
	return t.state.updateStatus(update)
}
