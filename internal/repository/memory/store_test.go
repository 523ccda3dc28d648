package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUpload(t *testing.T, store *Store, rows ...domain.Fields) (domain.UploadBatch, []domain.SourceRecord) {
	t.Helper()
	batch := domain.NewUploadBatch("people.csv", uuid.New(), domain.UploadStatusTriggered)
	records := make([]domain.SourceRecord, 0, len(rows))
	for _, fields := range rows {
		records = append(records, domain.NewSourceRecord(batch.ID, fields))
	}
	meta := domain.UploadRecordMeta{Workflow: "python_import", JSONExt: map[string]any{}}
	require.NoError(t, store.CreateUpload(context.Background(), batch, meta, records))
	return batch, records
}

func TestCreateUploadKeepsRecordOrder(t *testing.T) {
	store := NewStore()
	batch, records := seedUpload(t, store,
		domain.NewFields("first_name", "Ada"),
		domain.NewFields("first_name", "Grace"),
	)

	listed, err := store.ListSourceRecords(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, records[0].ID, listed[0].ID)
	assert.Equal(t, records[1].ID, listed[1].ID)

	meta, err := store.GetRecordMeta(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "python_import", meta.Workflow)
}

func TestGetUploadNotFound(t *testing.T) {
	store := NewStore()
	_, err := store.GetUpload(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateStatusIsConditional(t *testing.T) {
	store := NewStore()
	batch, _ := seedUpload(t, store, domain.NewFields("first_name", "Ada"))
	ctx := context.Background()

	err := store.UpdateStatus(ctx, repository.StatusUpdate{
		UploadID: batch.ID,
		Expected: domain.UploadStatusPending,
		Next:     domain.UploadStatusSuccess,
	})
	assert.ErrorIs(t, err, repository.ErrStatusConflict)

	require.NoError(t, store.UpdateStatus(ctx, repository.StatusUpdate{
		UploadID: batch.ID,
		Expected: domain.UploadStatusTriggered,
		Next:     domain.UploadStatusSuccess,
	}))

	err = store.UpdateStatus(ctx, repository.StatusUpdate{
		UploadID: batch.ID,
		Expected: domain.UploadStatusSuccess,
		Next:     domain.UploadStatusFail,
	})
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	stored, err := store.GetUpload(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusSuccess, stored.Status)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	batch, records := seedUpload(t, store, domain.NewFields("first_name", "Ada"))
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx repository.CommitTx) error {
		individual := domain.NewIndividual(records[0].Fields)
		if err := tx.CreateIndividual(ctx, individual); err != nil {
			return err
		}
		if _, err := tx.LinkSourceRecord(ctx, records[0].ID, individual.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Empty(t, store.Individuals())
	listed, err := store.ListSourceRecords(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, listed[0].Linked())
}

func TestLinkSourceRecordOnlyOnce(t *testing.T) {
	store := NewStore()
	_, records := seedUpload(t, store, domain.NewFields("first_name", "Ada"))
	ctx := context.Background()

	var first, second bool
	err := store.WithinTx(ctx, func(tx repository.CommitTx) error {
		individual := domain.NewIndividual(records[0].Fields)
		require.NoError(t, tx.CreateIndividual(ctx, individual))
		var err error
		first, err = tx.LinkSourceRecord(ctx, records[0].ID, individual.ID)
		require.NoError(t, err)
		second, err = tx.LinkSourceRecord(ctx, records[0].ID, uuid.New())
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestValidationLogPagination(t *testing.T) {
	store := NewStore()
	batch, records := seedUpload(t, store, domain.NewFields("first_name", "Ada"))
	ctx := context.Background()
	logs := store.ValidationLog()

	entries := []domain.ValidationLogEntry{
		{UploadID: batch.ID, SourceRecordID: records[0].ID, RuleName: "dob_required", FieldName: "dob", Note: "'dob' Field is required"},
		{UploadID: batch.ID, SourceRecordID: records[0].ID, RuleName: "last_name_required", FieldName: "last_name", Note: "'last_name' Field is required"},
		{UploadID: uuid.New(), SourceRecordID: uuid.New(), RuleName: "dob_type", FieldName: "dob", Note: "other upload"},
	}
	require.NoError(t, logs.Record(ctx, entries))

	page, err := logs.List(ctx, batch.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "last_name", page[0].FieldName)
	assert.NotEqual(t, uuid.Nil, page[0].ID)

	empty, err := logs.List(ctx, batch.ID, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPermittedLocationsDefaultsToEmpty(t *testing.T) {
	store := NewStore()
	village := domain.Location{ID: uuid.New(), Code: "R1D1M1V1", Name: "Village 1", Type: domain.LocationTypeVillage}
	store.SeedLocations(village)
	userID := uuid.New()

	perms, err := store.PermittedLocations(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, perms.Allows(village))

	store.GrantLocations(userID, domain.LocationPermissions{Locations: []domain.Location{village}})
	perms, err = store.PermittedLocations(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, perms.Allows(village))
}

func TestUpdateStatusHonoursCancellation(t *testing.T) {
	store := NewStore()
	batch, _ := seedUpload(t, store, domain.NewFields("first_name", "Ada"))
	update := repository.StatusUpdate{
		UploadID: batch.ID,
		Expected: domain.UploadStatusTriggered,
		Next:     domain.UploadStatusFail,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, store.UpdateStatus(ctx, update), context.Canceled)

	detached, stop := repository.DetachedContext(ctx)
	defer stop()
	require.NoError(t, store.UpdateStatus(detached, update))

	stored, err := store.GetUpload(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusFail, stored.Status)
}

func TestFindGroupIsScopedToUpload(t *testing.T) {
	store := NewStore()
	batch, _ := seedUpload(t, store, domain.NewFields("first_name", "Ada"))
	other := uuid.New()

	err := store.WithinTx(context.Background(), func(tx repository.CommitTx) error {
		return tx.CreateGroup(context.Background(), domain.NewGroup(batch.ID, "H-1"))
	})
	require.NoError(t, err)

	err = store.WithinTx(context.Background(), func(tx repository.CommitTx) error {
		group, ok, err := tx.FindGroup(context.Background(), batch.ID, "H-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "H-1", group.Code)

		_, ok, err = tx.FindGroup(context.Background(), other, "H-1")
		require.NoError(t, err)
		assert.False(t, ok)

		return tx.CreateGroup(context.Background(), domain.NewGroup(batch.ID, "H-1"))
	})
	assert.Error(t, err, "a second group with the same code in one upload is rejected")
	assert.Len(t, store.Groups(), 1)
}
