// Package validator parses and checks the schema descriptor that drives
// upload validation. A descriptor that fails here is a configuration error,
// never a row failure.
package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/beneficiary/internal/domain"
)

// ErrMalformedSchema wraps every descriptor problem.
var ErrMalformedSchema = errors.New("malformed schema descriptor")

var supportedTypes = map[domain.FieldType]struct{}{
	domain.FieldTypeString:  {},
	domain.FieldTypeBoolean: {},
	domain.FieldTypeInteger: {},
	domain.FieldTypeNumber:  {},
}

var supportedFormats = map[string]struct{}{
	"":                     {},
	domain.FieldFormatDate: {},
}

type rawProperty struct {
	Type       string `json:"type"`
	Required   bool   `json:"required"`
	Uniqueness bool   `json:"uniqueness"`
	Format     string `json:"format"`
}

type rawDescriptor struct {
	Properties json.RawMessage `json:"properties"`
	Required   []string        `json:"required"`
}

// ParseDescriptor decodes the JSON descriptor
//
//	{"properties": {"<name>": {"type": "...", "required": bool, "uniqueness": bool}}, "required": ["<name>"]}
//
// keeping the declaration order of properties, then validates it.
func ParseDescriptor(raw string) (domain.SchemaDescriptor, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.SchemaDescriptor{}, fmt.Errorf("%w: empty descriptor", ErrMalformedSchema)
	}

	var doc rawDescriptor
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.SchemaDescriptor{}, fmt.Errorf("%w: %v", ErrMalformedSchema, err)
	}

	names, props, err := decodeProperties(doc.Properties)
	if err != nil {
		return domain.SchemaDescriptor{}, fmt.Errorf("%w: %v", ErrMalformedSchema, err)
	}

	required := make(map[string]bool, len(doc.Required))
	for _, name := range doc.Required {
		required[name] = true
	}

	descriptor := domain.SchemaDescriptor{}
	for _, name := range names {
		prop := props[name]
		descriptor.Fields = append(descriptor.Fields, domain.FieldDefinition{
			Name:       name,
			Type:       domain.FieldType(strings.ToLower(strings.TrimSpace(prop.Type))),
			Required:   prop.Required || required[name],
			Uniqueness: prop.Uniqueness,
			Format:     strings.ToLower(strings.TrimSpace(prop.Format)),
		})
		delete(required, name)
	}

	// Required names without a property entry are plain required strings.
	for _, name := range doc.Required {
		if !required[name] {
			continue
		}
		descriptor.Fields = append(descriptor.Fields, domain.FieldDefinition{
			Name:     name,
			Type:     domain.FieldTypeString,
			Required: true,
		})
		delete(required, name)
	}

	if err := ValidateFields(descriptor.Fields); err != nil {
		return domain.SchemaDescriptor{}, err
	}
	return descriptor, nil
}

// ValidateFields ensures every definition carries a usable name, type and format.
func ValidateFields(fields []domain.FieldDefinition) error {
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if strings.TrimSpace(field.Name) == "" {
			return fmt.Errorf("%w: field name is required", ErrMalformedSchema)
		}
		if _, dup := seen[field.Name]; dup {
			return fmt.Errorf("%w: field %s declared twice", ErrMalformedSchema, field.Name)
		}
		seen[field.Name] = struct{}{}

		if _, ok := supportedTypes[field.Type]; !ok {
			return fmt.Errorf("%w: field %s has unsupported type %q", ErrMalformedSchema, field.Name, field.Type)
		}
		if _, ok := supportedFormats[field.Format]; !ok {
			return fmt.Errorf("%w: field %s has unsupported format %q", ErrMalformedSchema, field.Name, field.Format)
		}
		if field.Format == domain.FieldFormatDate && field.Type != domain.FieldTypeString {
			return fmt.Errorf("%w: field %s cannot use format date with type %s", ErrMalformedSchema, field.Name, field.Type)
		}
	}
	return nil
}

func decodeProperties(data json.RawMessage) ([]string, map[string]rawProperty, error) {
	props := map[string]rawProperty{}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, props, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, errors.New("properties must be an object")
	}

	var names []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name := keyTok.(string)
		var prop rawProperty
		if err := dec.Decode(&prop); err != nil {
			return nil, nil, fmt.Errorf("property %s: %v", name, err)
		}
		names = append(names, name)
		props[name] = prop
	}
	return names, props, nil
}
