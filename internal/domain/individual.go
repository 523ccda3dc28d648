package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Columns with a dedicated Individual attribute. Everything else lands in JSONExt.
const (
	ColumnFirstName      = "first_name"
	ColumnLastName       = "last_name"
	ColumnDob            = "dob"
	ColumnLocationName   = "location_name"
	ColumnLocationCode   = "location_code"
	ColumnIndividualRole = "individual_role"
	ColumnRecipientInfo  = "recipient_info"
)

// Individual is a beneficiary created from a committed source record.
type Individual struct {
	ID         uuid.UUID      `json:"id"`
	FirstName  string         `json:"first_name"`
	LastName   string         `json:"last_name"`
	Dob        time.Time      `json:"dob"`
	LocationID *uuid.UUID     `json:"location_id,omitempty"`
	JSONExt    map[string]any `json:"json_ext"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewIndividual maps a validated row to an Individual. Dedicated columns are
// lifted out; the rest of the row is kept as extension data.
func NewIndividual(fields Fields) Individual {
	ind := Individual{
		ID:        uuid.New(),
		JSONExt:   map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
	for _, key := range fields.Keys() {
		value, _ := fields.Get(key)
		switch key {
		case ColumnFirstName:
			ind.FirstName = strings.TrimSpace(value.String())
		case ColumnLastName:
			ind.LastName = strings.TrimSpace(value.String())
		case ColumnDob:
			if dob, err := ParseDate(value.String()); err == nil {
				ind.Dob = dob
			}
		case "id":
		default:
			ind.JSONExt[key] = value.Any()
		}
	}
	return ind
}

// GroupRole is the position of an individual inside a household.
type GroupRole string

const (
	GroupRoleHead        GroupRole = "HEAD"
	GroupRoleSpouse      GroupRole = "SPOUSE"
	GroupRoleSon         GroupRole = "SON"
	GroupRoleDaughter    GroupRole = "DAUGHTER"
	GroupRoleGrandfather GroupRole = "GRANDFATHER"
	GroupRoleGrandmother GroupRole = "GRANDMOTHER"
	GroupRoleMother      GroupRole = "MOTHER"
	GroupRoleFather      GroupRole = "FATHER"
	GroupRoleGuardian    GroupRole = "GUARDIAN"
	GroupRoleOther       GroupRole = "OTHER"
)

// ParseGroupRole maps free text to a role. Unknown or blank text yields no role.
func ParseGroupRole(raw string) (GroupRole, bool) {
	role := GroupRole(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case GroupRoleHead, GroupRoleSpouse, GroupRoleSon, GroupRoleDaughter,
		GroupRoleGrandfather, GroupRoleGrandmother, GroupRoleMother,
		GroupRoleFather, GroupRoleGuardian, GroupRoleOther:
		return role, true
	}
	return "", false
}

// RecipientType marks who receives benefits on behalf of a group.
type RecipientType string

const (
	RecipientPrimary   RecipientType = "PRIMARY"
	RecipientSecondary RecipientType = "SECONDARY"
)

// ParseRecipientInfo follows the upload convention: 1 is primary, 2 secondary.
func ParseRecipientInfo(v Value) (RecipientType, bool) {
	switch strings.TrimSpace(v.String()) {
	case "1", "true":
		return RecipientPrimary, true
	case "2":
		return RecipientSecondary, true
	}
	return "", false
}

// Group is a household built from rows sharing a group aggregation value.
type Group struct {
	ID         uuid.UUID      `json:"id"`
	UploadID   uuid.UUID      `json:"upload_id"`
	Code       string         `json:"code"`
	LocationID *uuid.UUID     `json:"location_id,omitempty"`
	JSONExt    map[string]any `json:"json_ext"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewGroup creates a household keyed by code within one upload.
func NewGroup(uploadID uuid.UUID, code string) Group {
	return Group{
		ID:        uuid.New(),
		UploadID:  uploadID,
		Code:      code,
		JSONExt:   map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
}

// GroupIndividual is the membership of an individual in a group.
type GroupIndividual struct {
	ID            uuid.UUID     `json:"id"`
	GroupID       uuid.UUID     `json:"group_id"`
	IndividualID  uuid.UUID     `json:"individual_id"`
	Role          GroupRole     `json:"role,omitempty"`
	RecipientType RecipientType `json:"recipient_type,omitempty"`
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
}

// ParseDate accepts the date layouts seen in uploaded files.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var lastErr error
	for _, layout := range dateLayouts {
		ts, err := time.Parse(layout, raw)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
