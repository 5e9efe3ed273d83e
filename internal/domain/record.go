package domain

import "github.com/google/uuid"

// Record is one row read from the store: its identifier, its position in the
// entity hierarchy, and the materialized field values.
type Record struct {
	ID     uuid.UUID      `json:"id"`
	Path   string         `json:"path,omitempty"`
	Values map[string]any `json:"values"`
}

// Value returns a field value, treating the synthetic "id" field as the
// record identifier.
func (r Record) Value(field string) any {
	if field == "id" {
		return r.ID.String()
	}
	return r.Values[field]
}
