package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceTypeIndividualImport tags batches created by the individual importer.
const SourceTypeIndividualImport = "individual import"

// GroupAggregationColumnKey is the UploadRecordMeta extension key naming the
// column that clusters rows into households.
const GroupAggregationColumnKey = "group_aggregation_column"

// UploadStatus is the lifecycle state of an upload batch.
type UploadStatus string

const (
	UploadStatusPending                UploadStatus = "PENDING"
	UploadStatusTriggered              UploadStatus = "TRIGGERED"
	UploadStatusWaitingForVerification UploadStatus = "WAITING_FOR_VERIFICATION"
	UploadStatusSuccess                UploadStatus = "SUCCESS"
	UploadStatusFail                   UploadStatus = "FAIL"
)

var uploadTransitions = map[UploadStatus][]UploadStatus{
	UploadStatusPending: {
		UploadStatusTriggered,
		UploadStatusSuccess,
		UploadStatusFail,
		UploadStatusWaitingForVerification,
	},
	UploadStatusTriggered: {
		UploadStatusSuccess,
		UploadStatusFail,
		UploadStatusWaitingForVerification,
	},
}

// CanTransition reports whether moving from one status to another keeps the
// lifecycle monotonic. Terminal states never move.
func CanTransition(from, to UploadStatus) bool {
	for _, next := range uploadTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the workflow has finished with the batch.
func (s UploadStatus) IsTerminal() bool {
	return len(uploadTransitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s UploadStatus) Valid() bool {
	switch s {
	case UploadStatusPending, UploadStatusTriggered, UploadStatusWaitingForVerification,
		UploadStatusSuccess, UploadStatusFail:
		return true
	}
	return false
}

// UploadBatch is one import attempt and the unit of atomic commit.
type UploadBatch struct {
	ID         uuid.UUID    `json:"id"`
	SourceName string       `json:"source_name"`
	SourceType string       `json:"source_type"`
	Status     UploadStatus `json:"status"`
	Error      UploadError  `json:"error"`
	UserID     uuid.UUID    `json:"user_id"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// NewUploadBatch creates a batch for an uploaded file owned by userID.
func NewUploadBatch(sourceName string, userID uuid.UUID, status UploadStatus) UploadBatch {
	now := time.Now().UTC()
	return UploadBatch{
		ID:         uuid.New(),
		SourceName: sourceName,
		SourceType: SourceTypeIndividualImport,
		Status:     status,
		UserID:     userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// UploadRecordMeta is the sidecar kept one-to-one with an UploadBatch.
type UploadRecordMeta struct {
	UploadID uuid.UUID      `json:"upload_id"`
	Workflow string         `json:"workflow"`
	JSONExt  map[string]any `json:"json_ext"`
}

// GroupAggregationColumn returns the configured household column, if any.
func (m UploadRecordMeta) GroupAggregationColumn() (string, bool) {
	raw, ok := m.JSONExt[GroupAggregationColumnKey]
	if !ok || raw == nil {
		return "", false
	}
	column, ok := raw.(string)
	if !ok || column == "" {
		return "", false
	}
	return column, true
}

// SourceRecord is one raw uploaded row.
type SourceRecord struct {
	ID           uuid.UUID  `json:"id"`
	UploadID     uuid.UUID  `json:"upload_id"`
	Fields       Fields     `json:"json_ext"`
	IndividualID *uuid.UUID `json:"individual_id,omitempty"`
}

// NewSourceRecord assigns a stable identifier to a parsed row.
func NewSourceRecord(uploadID uuid.UUID, fields Fields) SourceRecord {
	return SourceRecord{
		ID:       uuid.New(),
		UploadID: uploadID,
		Fields:   fields,
	}
}

// Linked reports whether the record already points at a created individual.
func (r SourceRecord) Linked() bool {
	return r.IndividualID != nil && *r.IndividualID != uuid.Nil
}

// ValidationResult is the outcome of one rule for one row.
type ValidationResult struct {
	Success   bool   `json:"success"`
	FieldName string `json:"field_name"`
	Note      string `json:"note,omitempty"`
}

// Passed builds a successful result for field.
func Passed(field string) ValidationResult {
	return ValidationResult{Success: true, FieldName: field}
}

// Failed builds a failed result for field with a note.
func Failed(field, note string) ValidationResult {
	return ValidationResult{Success: false, FieldName: field, Note: note}
}

// UploadError is the structured error payload of a failed batch. It
// serialises flat: {"error": "...", "failing_entries_<field>": [...]}.
type UploadError struct {
	Message        string
	FailingEntries map[string][]string
}

// FailingEntriesKey is the payload key listing failures for field.
func FailingEntriesKey(field string) string {
	return failingEntriesPrefix + field
}

const failingEntriesPrefix = "failing_entries_"

// IsEmpty reports whether the payload carries nothing.
func (e UploadError) IsEmpty() bool {
	return e.Message == "" && len(e.FailingEntries) == 0
}

// Map renders the flat payload.
func (e UploadError) Map() map[string]any {
	out := map[string]any{}
	if e.Message != "" {
		out["error"] = e.Message
	}
	fields := make([]string, 0, len(e.FailingEntries))
	for field := range e.FailingEntries {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		out[FailingEntriesKey(field)] = e.FailingEntries[field]
	}
	return out
}

func (e UploadError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}

func (e *UploadError) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := UploadError{}
	for key, value := range raw {
		if key == "error" {
			if err := json.Unmarshal(value, &out.Message); err != nil {
				return err
			}
			continue
		}
		field, ok := strings.CutPrefix(key, failingEntriesPrefix)
		if !ok || field == "" {
			continue
		}
		var ids []string
		if err := json.Unmarshal(value, &ids); err != nil {
			return err
		}
		if out.FailingEntries == nil {
			out.FailingEntries = map[string][]string{}
		}
		out.FailingEntries[field] = ids
	}
	*e = out
	return nil
}

// ValidationLogEntry captures one failed rule of one source record so that
// reporting screens can page through failures without re-running validation.
type ValidationLogEntry struct {
	ID             uuid.UUID `json:"id"`
	UploadID       uuid.UUID `json:"upload_id"`
	SourceRecordID uuid.UUID `json:"source_record_id"`
	RuleName       string    `json:"rule_name"`
	FieldName      string    `json:"field_name"`
	Note           string    `json:"note"`
	CreatedAt      time.Time `json:"created_at"`
}
