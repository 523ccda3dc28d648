// Package location applies row-level location permissions to uploads.
package location

import (
	"fmt"
	"strings"

	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/tabular"
)

// FieldName is both the checked column and the rule name.
const FieldName = domain.ColumnLocationName

// Filter decides whether a row's location is in the actor's scope. It works
// on a snapshot of the registry so a whole batch sees one consistent view.
type Filter struct {
	byName      map[string][]domain.Location
	permissions domain.LocationPermissions
}

// NewFilter indexes registry by name. Locations sharing a name are all kept,
// in registry order.
func NewFilter(registry []domain.Location, permissions domain.LocationPermissions) *Filter {
	byName := make(map[string][]domain.Location, len(registry))
	for _, loc := range registry {
		byName[loc.Name] = append(byName[loc.Name], loc)
	}
	return &Filter{byName: byName, permissions: permissions}
}

// Check validates a location name. A non-blank code narrows same-named
// locations down to the one carrying that code.
func (f *Filter) Check(name, code string) domain.ValidationResult {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Passed(FieldName)
	}

	candidates, ok := f.candidates(name, code)
	if !ok {
		return domain.Failed(FieldName, fmt.Sprintf(
			"'%s' value '%s' is not a valid location name. Please check the spelling against the list of locations in the system.",
			FieldName, name,
		))
	}
	if len(candidates) == 0 {
		return domain.Failed(FieldName, fmt.Sprintf(
			"'%s' value '%s' does not match '%s' value '%s'.",
			FieldName, name, domain.ColumnLocationCode, strings.TrimSpace(code),
		))
	}

	if _, ok := f.permitted(candidates); !ok {
		return domain.Failed(FieldName, fmt.Sprintf(
			"'%s' value '%s' is outside the current user's location permissions.",
			FieldName, name,
		))
	}
	return domain.Passed(FieldName)
}

// Resolve returns the registry entry for name and code. Among same-named
// locations a permitted one is preferred.
func (f *Filter) Resolve(name, code string) (domain.Location, bool) {
	candidates, ok := f.candidates(strings.TrimSpace(name), code)
	if !ok || len(candidates) == 0 {
		return domain.Location{}, false
	}
	if loc, ok := f.permitted(candidates); ok {
		return loc, true
	}
	return candidates[0], true
}

// candidates reports false when no location carries name. The returned set
// is empty when the name exists but none of its locations has code.
func (f *Filter) candidates(name, code string) ([]domain.Location, bool) {
	named, ok := f.byName[name]
	if !ok {
		return nil, false
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return named, true
	}
	var matched []domain.Location
	for _, loc := range named {
		if loc.Code == code {
			matched = append(matched, loc)
		}
	}
	return matched, true
}

func (f *Filter) permitted(candidates []domain.Location) (domain.Location, bool) {
	for _, loc := range candidates {
		if f.permissions.Allows(loc) {
			return loc, true
		}
	}
	return domain.Location{}, false
}

// Name implements validator.Rule.
func (f *Filter) Name() string { return FieldName }

// Evaluate implements validator.Rule. A missing or null column is treated
// as no location asserted.
func (f *Filter) Evaluate(row tabular.Row) domain.ValidationResult {
	value := row.Get(FieldName)
	if value.IsNull() {
		return domain.Passed(FieldName)
	}
	code := row.Get(domain.ColumnLocationCode)
	if code.IsNull() {
		return f.Check(value.String(), "")
	}
	return f.Check(value.String(), code.String())
}
