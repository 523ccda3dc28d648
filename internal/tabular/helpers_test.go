package tabular

import "github.com/google/uuid"

func uuidOf(b byte) uuid.UUID {
	var id uuid.UUID
	id[15] = b
	return id
}
