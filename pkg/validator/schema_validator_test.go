package validator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/beneficiary/internal/domain"
	schemavalidator "github.com/rpattn/beneficiary/internal/schema/validator"
	"github.com/rpattn/beneficiary/internal/tabular"
)

func buildTable(rows ...domain.Fields) tabular.Table {
	records := make([]domain.SourceRecord, len(rows))
	for i, fields := range rows {
		records[i] = domain.SourceRecord{ID: uuid.New(), Fields: fields}
	}
	return tabular.Load(records)
}

func mustSchema(t *testing.T, raw string) domain.SchemaDescriptor {
	t.Helper()
	schema, err := schemavalidator.ParseDescriptor(raw)
	require.NoError(t, err)
	return schema
}

func TestValidateAllRowsValid(t *testing.T) {
	schema := mustSchema(t, domain.DefaultIndividualSchema)
	table := buildTable(
		domain.NewFields("first_name", "John", "last_name", "Doe", "dob", "1980-01-01", "email", "john@example.com"),
		domain.NewFields("first_name", "Jane", "last_name", "Smith", "dob", "1982-01-01", "email", "jane@example.com"),
	)

	rows, summary, err := NewSchemaValidator().Validate(table, schema)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, 0, summary.InvalidItemsCount)
	assert.Equal(t, 2, summary.TotalItemsCount)
	for _, row := range rows {
		assert.True(t, row.Valid(), "unexpected failures: %+v", row.Failures())
		assert.NotEmpty(t, row.Validations)
	}
}

func TestValidateDuplicateValuesFailEveryOccurrence(t *testing.T) {
	schema := mustSchema(t, `{"properties": {"email": {"type": "string", "uniqueness": true}}}`)
	email := "john@example.com"
	table := buildTable(
		domain.NewFields("email", email),
		domain.NewFields("email", email),
		domain.NewFields("email", "other@example.com"),
	)

	rows, summary, err := NewSchemaValidator().Validate(table, schema)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.InvalidItemsCount)
	assert.Equal(t, 2, summary.FailuresByRule["email_uniqueness"])
	for _, row := range rows[:2] {
		result := row.Validations["email_uniqueness"]
		assert.False(t, result.Success)
		assert.Equal(t, "email", result.FieldName)
		assert.Equal(t, "'email' Field value 'john@example.com' is duplicated", result.Note)
	}
	assert.True(t, rows[2].Validations["email_uniqueness"].Success)
}

func TestValidateUniquenessIsCaseSensitiveAndIgnoresNull(t *testing.T) {
	schema := mustSchema(t, `{"properties": {"email": {"type": "string", "uniqueness": true}}}`)
	table := buildTable(
		domain.NewFields("email", "A@example.com"),
		domain.NewFields("email", "a@example.com"),
		domain.NewFields("email", nil),
		domain.NewFields("email", nil),
	)

	rows, summary, err := NewSchemaValidator().Validate(table, schema)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.InvalidItemsCount)
	for _, row := range rows {
		assert.True(t, row.Valid())
	}
}

func TestValidateRequiredAndMissingColumns(t *testing.T) {
	schema := mustSchema(t, domain.DefaultIndividualSchema)
	table := buildTable(
		domain.NewFields("first_name", "John", "last_name", "Doe", "dob", "1980-01-01"),
		domain.NewFields("first_name", "Jane Workflow"),
	)

	rows, summary, err := NewSchemaValidator().Validate(table, schema)
	require.NoError(t, err)

	assert.True(t, rows[0].Valid())
	assert.False(t, rows[1].Valid())
	assert.Equal(t, 1, summary.InvalidItemsCount)
	assert.Equal(t, 1, summary.FailuresByField["last_name"])
	assert.Equal(t, 1, summary.FailuresByField["dob"])
	assert.Zero(t, summary.FailuresByField["first_name"])

	lastName := rows[1].Validations["last_name_required"]
	assert.False(t, lastName.Success)
	assert.Equal(t, "'last_name' Field is required", lastName.Note)
	assert.True(t, rows[1].Validations["last_name_type"].Success, "null passes the type check")
}

func TestValidateTypeMismatch(t *testing.T) {
	schema := mustSchema(t, `{"properties": {"age": {"type": "integer"}, "active": {"type": "boolean"}, "name": {"type": "string"}, "score": {"type": "number"}}}`)
	table := buildTable(
		domain.NewFields("age", "thirty", "active", "maybe", "name", 12, "score", "high"),
		domain.NewFields("age", 30, "active", true, "name", "Bob", "score", 1.5),
		domain.NewFields("age", 31.0, "score", 2),
	)

	rows, summary, err := NewSchemaValidator().Validate(table, schema)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.InvalidItemsCount)
	assert.Equal(t, "'age' Field value 'thirty' must be of type integer", rows[0].Validations["age_type"].Note)
	assert.Equal(t, "'active' Field value 'maybe' must be of type boolean", rows[0].Validations["active_type"].Note)
	assert.Equal(t, "'name' Field value '12' must be of type string", rows[0].Validations["name_type"].Note)
	assert.False(t, rows[0].Validations["score_type"].Success)
	assert.True(t, rows[1].Valid())
	assert.True(t, rows[2].Valid())
}

func TestValidateDateFormat(t *testing.T) {
	schema := mustSchema(t, `{"properties": {"dob": {"type": "string", "format": "date"}}}`)
	table := buildTable(
		domain.NewFields("dob", "1980-13-45"),
		domain.NewFields("dob", "1980-01-01"),
	)

	rows, _, err := NewSchemaValidator().Validate(table, schema)
	require.NoError(t, err)

	assert.Equal(t, "'dob' Field value '1980-13-45' is not a valid date", rows[0].Validations["dob_type"].Note)
	assert.True(t, rows[1].Valid())
}

func TestValidatePluggableRule(t *testing.T) {
	schema := mustSchema(t, `{"properties": {"name": {"type": "string"}}}`)
	table := buildTable(
		domain.NewFields("name", "ok"),
		domain.NewFields("name", "blocked"),
	)
	rule := RuleFunc{
		RuleName: "not_blocked",
		Fn: func(row tabular.Row) domain.ValidationResult {
			if row.Get("name").String() == "blocked" {
				return domain.Failed("name", "blocked name")
			}
			return domain.Passed("name")
		},
	}

	rows, summary, err := NewSchemaValidator().Validate(table, schema, rule)
	require.NoError(t, err)

	assert.True(t, rows[0].Valid())
	assert.False(t, rows[1].Valid())
	assert.Equal(t, 1, summary.FailuresByRule["not_blocked"])
	assert.Equal(t, 1, summary.FailuresByField["name"])
}

func TestValidateNeverFailsOnMalformedRows(t *testing.T) {
	schema := mustSchema(t, domain.DefaultIndividualSchema)
	var rows []domain.Fields
	for i := 0; i < 20; i++ {
		rows = append(rows, domain.NewFields(fmt.Sprintf("junk_%d", i), i, "dob", i))
	}

	validated, summary, err := NewSchemaValidator().Validate(buildTable(rows...), schema)
	require.NoError(t, err)
	assert.Len(t, validated, 20)
	assert.Equal(t, 20, summary.InvalidItemsCount)
}

func TestValidateRejectsMalformedSchema(t *testing.T) {
	schema := domain.SchemaDescriptor{Fields: []domain.FieldDefinition{{Name: "x", Type: "uuid"}}}

	_, _, err := NewSchemaValidator().Validate(buildTable(domain.NewFields("x", "1")), schema)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemavalidator.ErrMalformedSchema))
}

func TestValidateEmptyTable(t *testing.T) {
	schema := mustSchema(t, domain.DefaultIndividualSchema)

	rows, summary, err := NewSchemaValidator().Validate(tabular.Table{}, schema)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, summary.InvalidItemsCount)
}
