package domain

// FieldType is the declared type tag of a schema field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeInteger FieldType = "integer"
	FieldTypeNumber  FieldType = "number"
)

// FieldFormatDate restricts a string field to calendar dates.
const FieldFormatDate = "date"

// FieldDefinition describes how one column of an upload is validated.
type FieldDefinition struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Required   bool      `json:"required"`
	Uniqueness bool      `json:"uniqueness"`
	Format     string    `json:"format,omitempty"`
}

// SchemaDescriptor is the runtime-loaded schema for individual uploads.
// Fields keep declaration order so validation output is stable.
type SchemaDescriptor struct {
	Fields []FieldDefinition `json:"fields"`
}

// Field looks up a definition by name.
func (s SchemaDescriptor) Field(name string) (FieldDefinition, bool) {
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldDefinition{}, false
}

// UniqueFields returns the fields marked for batch-wide uniqueness.
func (s SchemaDescriptor) UniqueFields() []FieldDefinition {
	var out []FieldDefinition
	for _, field := range s.Fields {
		if field.Uniqueness {
			out = append(out, field)
		}
	}
	return out
}

// DefaultIndividualSchema is used when no schema is configured. The base
// individual columns are always required.
const DefaultIndividualSchema = `{
  "properties": {
    "first_name": {"type": "string"},
    "last_name": {"type": "string"},
    "dob": {"type": "string", "format": "date"},
    "email": {"type": "string", "uniqueness": true},
    "able_bodied": {"type": "boolean"},
    "national_id": {"type": "string", "uniqueness": true},
    "educated_level": {"type": "string"},
    "chronic_illness": {"type": "boolean"},
    "national_id_type": {"type": "string"},
    "number_of_elderly": {"type": "integer"},
    "number_of_children": {"type": "integer"},
    "beneficiary_data_source": {"type": "string"}
  },
  "required": ["first_name", "last_name", "dob"]
}`
