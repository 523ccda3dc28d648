package validator

import (
	"fmt"
	"math"

	"github.com/rpattn/beneficiary/internal/domain"
	schemavalidator "github.com/rpattn/beneficiary/internal/schema/validator"
	"github.com/rpattn/beneficiary/internal/tabular"
)

// Rule is a pluggable per-row check. Its result is stored under Name() in
// the row's validation mapping.
type Rule interface {
	Name() string
	Evaluate(row tabular.Row) domain.ValidationResult
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc struct {
	RuleName string
	Fn       func(row tabular.Row) domain.ValidationResult
}

func (r RuleFunc) Name() string { return r.RuleName }

func (r RuleFunc) Evaluate(row tabular.Row) domain.ValidationResult { return r.Fn(row) }

// ValidatedRow is one table row together with every rule outcome computed for it.
type ValidatedRow struct {
	Row         tabular.Row                        `json:"row"`
	Validations map[string]domain.ValidationResult `json:"validations"`
}

// Valid reports whether every rule succeeded.
func (r ValidatedRow) Valid() bool {
	for _, result := range r.Validations {
		if !result.Success {
			return false
		}
	}
	return true
}

// Failures returns the names of failed rules.
func (r ValidatedRow) Failures() map[string]domain.ValidationResult {
	out := map[string]domain.ValidationResult{}
	for name, result := range r.Validations {
		if !result.Success {
			out[name] = result
		}
	}
	return out
}

// InvalidSummary aggregates failures over a batch.
type InvalidSummary struct {
	TotalItemsCount   int            `json:"total_items_count"`
	InvalidItemsCount int            `json:"invalid_items_count"`
	FailuresByField   map[string]int `json:"failures_by_field"`
	FailuresByRule    map[string]int `json:"failures_by_rule"`
}

// Rule name suffixes for schema-derived checks.
const (
	suffixRequired   = "_required"
	suffixType       = "_type"
	suffixUniqueness = "_uniqueness"
)

// RequiredRuleName, TypeRuleName and UniquenessRuleName name the schema
// checks of field inside ValidatedRow.Validations.
func RequiredRuleName(field string) string   { return field + suffixRequired }
func TypeRuleName(field string) string       { return field + suffixType }
func UniquenessRuleName(field string) string { return field + suffixUniqueness }

// SchemaValidator validates tables of uploaded rows against a descriptor.
type SchemaValidator struct{}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Validate checks every row against the schema and the extra rules. Row
// problems never produce an error; only a malformed descriptor does.
func (sv *SchemaValidator) Validate(table tabular.Table, schema domain.SchemaDescriptor, rules ...Rule) ([]ValidatedRow, InvalidSummary, error) {
	summary := InvalidSummary{
		TotalItemsCount: table.Len(),
		FailuresByField: map[string]int{},
		FailuresByRule:  map[string]int{},
	}
	if err := schemavalidator.ValidateFields(schema.Fields); err != nil {
		return nil, summary, err
	}

	validated := make([]ValidatedRow, len(table.Rows))
	for i, row := range table.Rows {
		validated[i] = ValidatedRow{
			Row:         row,
			Validations: make(map[string]domain.ValidationResult),
		}
		for _, field := range schema.Fields {
			value, present := row.Values.Get(field.Name)
			validated[i].Validations[RequiredRuleName(field.Name)] = sv.checkRequired(field, value, present)
			validated[i].Validations[TypeRuleName(field.Name)] = sv.checkType(field, value)
		}
	}

	for _, field := range schema.UniqueFields() {
		sv.checkUniqueness(field, validated)
	}

	for _, rule := range rules {
		for i := range validated {
			validated[i].Validations[rule.Name()] = rule.Evaluate(validated[i].Row)
		}
	}

	for _, row := range validated {
		failures := row.Failures()
		if len(failures) == 0 {
			continue
		}
		summary.InvalidItemsCount++
		fields := map[string]struct{}{}
		for name, result := range failures {
			summary.FailuresByRule[name]++
			fields[result.FieldName] = struct{}{}
		}
		for field := range fields {
			summary.FailuresByField[field]++
		}
	}

	return validated, summary, nil
}

func (sv *SchemaValidator) checkRequired(field domain.FieldDefinition, value domain.Value, present bool) domain.ValidationResult {
	if field.Required && (!present || value.IsBlank()) {
		return domain.Failed(field.Name, fmt.Sprintf("'%s' Field is required", field.Name))
	}
	return domain.Passed(field.Name)
}

// checkType dispatches on the declared tag. Null always passes; required-ness
// is reported separately.
func (sv *SchemaValidator) checkType(field domain.FieldDefinition, value domain.Value) domain.ValidationResult {
	if value.IsNull() {
		return domain.Passed(field.Name)
	}

	ok := false
	switch field.Type {
	case domain.FieldTypeString:
		_, ok = value.Str()
	case domain.FieldTypeBoolean:
		_, ok = value.Bool()
	case domain.FieldTypeInteger:
		ok = sv.isInteger(value)
	case domain.FieldTypeNumber:
		_, ok = value.Float()
	}
	if !ok {
		return domain.Failed(field.Name, fmt.Sprintf("'%s' Field value '%s' must be of type %s", field.Name, value, field.Type))
	}

	if field.Format == domain.FieldFormatDate {
		if _, err := domain.ParseDate(value.String()); err != nil {
			return domain.Failed(field.Name, fmt.Sprintf("'%s' Field value '%s' is not a valid date", field.Name, value))
		}
	}
	return domain.Passed(field.Name)
}

// checkUniqueness marks every member of a duplicate set, including the
// first occurrence.
func (sv *SchemaValidator) checkUniqueness(field domain.FieldDefinition, rows []ValidatedRow) {
	occurrences := make(map[string]int)
	for _, row := range rows {
		value := row.Row.Get(field.Name)
		if value.IsNull() {
			continue
		}
		occurrences[value.String()]++
	}

	for i := range rows {
		value := rows[i].Row.Get(field.Name)
		result := domain.Passed(field.Name)
		if !value.IsNull() && occurrences[value.String()] > 1 {
			result = domain.Failed(field.Name, fmt.Sprintf("'%s' Field value '%s' is duplicated", field.Name, value))
		}
		rows[i].Validations[UniquenessRuleName(field.Name)] = result
	}
}

func (sv *SchemaValidator) isInteger(value domain.Value) bool {
	if _, ok := value.Int(); ok {
		return true
	}
	if f, ok := value.Float(); ok {
		return f == math.Trunc(f) && !math.IsInf(f, 0)
	}
	return false
}
