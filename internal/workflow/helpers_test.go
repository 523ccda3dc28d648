package workflow

import (
	"context"
	"testing"

	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	userID   uuid.UUID
	batch    domain.UploadBatch
	records  []domain.SourceRecord
	workflow *UploadWorkflow
}

func newFixture(t *testing.T, options UploadOptions, groupColumn any, rows ...domain.Fields) *fixture {
	t.Helper()
	if options.Schema == "" {
		options.Schema = domain.DefaultIndividualSchema
	}

	store := memory.NewStore()
	userID := uuid.New()
	store.GrantLocations(userID, domain.LocationPermissions{Unrestricted: true})

	batch := domain.NewUploadBatch("people.csv", userID, domain.UploadStatusPending)
	records := make([]domain.SourceRecord, 0, len(rows))
	for _, fields := range rows {
		records = append(records, domain.NewSourceRecord(batch.ID, fields))
	}
	meta := domain.UploadRecordMeta{
		Workflow: UploadWorkflowName,
		JSONExt:  map[string]any{domain.GroupAggregationColumnKey: groupColumn},
	}
	require.NoError(t, store.CreateUpload(context.Background(), batch, meta, records))

	wf := NewUploadWorkflow(store, store, store.ValidationLog(), NewCommitter(store, nil), options, nil, nil)
	return &fixture{store: store, userID: userID, batch: batch, records: records, workflow: wf}
}

func (f *fixture) process(t *testing.T) domain.UploadBatch {
	t.Helper()
	err := f.workflow.Process(context.Background(), TriggerPayload{UserUUID: f.userID, UploadUUID: f.batch.ID})
	require.NoError(t, err)
	return f.upload(t)
}

func (f *fixture) upload(t *testing.T) domain.UploadBatch {
	t.Helper()
	batch, err := f.store.GetUpload(context.Background(), f.batch.ID)
	require.NoError(t, err)
	return batch
}

func (f *fixture) listRecords(t *testing.T) []domain.SourceRecord {
	t.Helper()
	records, err := f.store.ListSourceRecords(context.Background(), f.batch.ID)
	require.NoError(t, err)
	return records
}

func validPerson(first, email string) domain.Fields {
	return domain.NewFields(
		"first_name", first,
		"last_name", "Doe",
		"dob", "1980-01-01",
		"email", email,
	)
}
