// Package memory provides an in-process implementation of every repository
// interface. It backs tests and the single binary "memory" storage driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/repository"

	"github.com/google/uuid"
)

type state struct {
	uploads     map[uuid.UUID]domain.UploadBatch
	metas       map[uuid.UUID]domain.UploadRecordMeta
	records     map[uuid.UUID][]domain.SourceRecord
	individuals map[uuid.UUID]domain.Individual
	groups      map[uuid.UUID]domain.Group
	members     []domain.GroupIndividual
	logs        []domain.ValidationLogEntry
}

func newState() *state {
	return &state{
		uploads:     make(map[uuid.UUID]domain.UploadBatch),
		metas:       make(map[uuid.UUID]domain.UploadRecordMeta),
		records:     make(map[uuid.UUID][]domain.SourceRecord),
		individuals: make(map[uuid.UUID]domain.Individual),
		groups:      make(map[uuid.UUID]domain.Group),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.uploads {
		out.uploads[k] = v
	}
	for k, v := range s.metas {
		out.metas[k] = v
	}
	for k, v := range s.records {
		out.records[k] = append([]domain.SourceRecord(nil), v...)
	}
	for k, v := range s.individuals {
		out.individuals[k] = v
	}
	for k, v := range s.groups {
		out.groups[k] = v
	}
	out.members = append(out.members, s.members...)
	out.logs = append(out.logs, s.logs...)
	return out
}

// Store keeps all upload, registry and location data in memory.
type Store struct {
	mu    sync.Mutex
	state *state

	locations   []domain.Location
	permissions map[uuid.UUID]domain.LocationPermissions

	// FailLink, when set, is returned by LinkSourceRecord. Tests use it to
	// force a commit rollback.
	FailLink error
}

var (
	_ repository.UploadRepository        = (*Store)(nil)
	_ repository.CommitStore             = (*Store)(nil)
	_ repository.LocationRepository      = (*Store)(nil)
	_ repository.ValidationLogRepository = validationLog{}
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		state:       newState(),
		permissions: make(map[uuid.UUID]domain.LocationPermissions),
	}
}

// SeedLocations replaces the location registry.
func (s *Store) SeedLocations(locations ...domain.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append([]domain.Location(nil), locations...)
}

// GrantLocations sets the permitted scope of a user.
func (s *Store) GrantLocations(userID uuid.UUID, permissions domain.LocationPermissions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[userID] = permissions
}

func (s *Store) CreateUpload(ctx context.Context, batch domain.UploadBatch, meta domain.UploadRecordMeta, records []domain.SourceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.uploads[batch.ID]; exists {
		return fmt.Errorf("upload %s already exists", batch.ID)
	}
	stored := make([]domain.SourceRecord, len(records))
	for i, record := range records {
		record.UploadID = batch.ID
		record.Fields = record.Fields.Clone()
		stored[i] = record
	}
	meta.UploadID = batch.ID
	s.state.uploads[batch.ID] = batch
	s.state.metas[batch.ID] = meta
	s.state.records[batch.ID] = stored
	return nil
}

func (s *Store) GetUpload(_ context.Context, id uuid.UUID) (domain.UploadBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.state.uploads[id]
	if !ok {
		return domain.UploadBatch{}, fmt.Errorf("upload %s: %w", id, repository.ErrNotFound)
	}
	return batch, nil
}

func (s *Store) GetRecordMeta(_ context.Context, uploadID uuid.UUID) (domain.UploadRecordMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.state.metas[uploadID]
	if !ok {
		return domain.UploadRecordMeta{}, fmt.Errorf("upload meta %s: %w", uploadID, repository.ErrNotFound)
	}
	return meta, nil
}

func (s *Store) ListSourceRecords(_ context.Context, uploadID uuid.UUID) ([]domain.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listRecords(uploadID), nil
}

// UpdateStatus fails on a cancelled context the way a database write would.
func (s *Store) UpdateStatus(ctx context.Context, update repository.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateStatus(update)
}

// WithinTx runs fn against a private copy of the data and publishes the copy
// only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.CommitTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&tx{state: working, failLink: s.FailLink}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) List(_ context.Context) ([]domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Location(nil), s.locations...), nil
}

func (s *Store) PermittedLocations(_ context.Context, userID uuid.UUID) (domain.LocationPermissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	perms, ok := s.permissions[userID]
	if !ok {
		return domain.LocationPermissions{}, nil
	}
	perms.Locations = append([]domain.Location(nil), perms.Locations...)
	return perms, nil
}

func (s *Store) record(entries []domain.ValidationLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		s.state.logs = append(s.state.logs, entry)
	}
}

// ValidationLog returns the validation log view of the store.
func (s *Store) ValidationLog() repository.ValidationLogRepository {
	return validationLog{store: s}
}

// Individuals returns committed individuals ordered by first and last name.
func (s *Store) Individuals() []domain.Individual {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Individual, 0, len(s.state.individuals))
	for _, ind := range s.state.individuals {
		out = append(out, ind)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].LastName < out[j].LastName
	})
	return out
}

// Groups returns committed groups ordered by code.
func (s *Store) Groups() []domain.Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Group, 0, len(s.state.groups))
	for _, g := range s.state.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Members returns group memberships in insertion order.
func (s *Store) Members() []domain.GroupIndividual {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.GroupIndividual(nil), s.state.members...)
}

type validationLog struct {
	store *Store
}

func (v validationLog) Record(_ context.Context, entries []domain.ValidationLogEntry) error {
	v.store.record(entries)
	return nil
}

func (v validationLog) List(_ context.Context, uploadID uuid.UUID, limit int, offset int) ([]domain.ValidationLogEntry, error) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var matched []domain.ValidationLogEntry
	for _, entry := range v.store.state.logs {
		if entry.UploadID == uploadID {
			matched = append(matched, entry)
		}
	}
	if offset >= len(matched) {
		return []domain.ValidationLogEntry{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return append([]domain.ValidationLogEntry(nil), matched[offset:end]...), nil
}

func (s *state) listRecords(uploadID uuid.UUID) []domain.SourceRecord {
	records := s.records[uploadID]
	out := make([]domain.SourceRecord, len(records))
	for i, record := range records {
		record.Fields = record.Fields.Clone()
		out[i] = record
	}
	return out
}

func (s *state) updateStatus(update repository.StatusUpdate) error {
	if !domain.CanTransition(update.Expected, update.Next) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, update.Expected, update.Next)
	}
	batch, ok := s.uploads[update.UploadID]
	if !ok {
		return fmt.Errorf("upload %s: %w", update.UploadID, repository.ErrNotFound)
	}
	if batch.Status != update.Expected {
		return fmt.Errorf("upload %s is %s, expected %s: %w", batch.ID, batch.Status, update.Expected, repository.ErrStatusConflict)
	}
	batch.Status = update.Next
	batch.Error = update.Error
	batch.UpdatedAt = time.Now().UTC()
	s.uploads[batch.ID] = batch
	return nil
}
