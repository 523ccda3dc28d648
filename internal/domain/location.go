package domain

import "github.com/google/uuid"

// LocationTypeVillage is the lowest administrative level; individuals are
// attached to villages.
const LocationTypeVillage = "V"

// Location is one node of the administrative hierarchy.
type Location struct {
	ID       uuid.UUID  `json:"id"`
	Code     string     `json:"code"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

// LocationPermissions is the set of locations an actor may operate on.
// Unrestricted actors (administrators) are not limited to Locations.
type LocationPermissions struct {
	Unrestricted bool
	Locations    []Location
}

// Allows reports whether loc is inside the permitted set.
func (p LocationPermissions) Allows(loc Location) bool {
	if p.Unrestricted {
		return true
	}
	for _, permitted := range p.Locations {
		if permitted.Same(loc) {
			return true
		}
	}
	return false
}

// Same compares by identifier, falling back to the location code when either
// side has not been persisted yet.
func (l Location) Same(other Location) bool {
	if l.ID != uuid.Nil && other.ID != uuid.Nil {
		return l.ID == other.ID
	}
	return l.Code != "" && l.Code == other.Code
}
