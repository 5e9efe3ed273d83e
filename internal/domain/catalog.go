package domain

import (
	"encoding/json"
	"strings"
)

// FieldType classifies a catalog field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeFloat    FieldType = "float"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDate     FieldType = "date"
	FieldTypeDatetime FieldType = "datetime"
	// FieldTypeRelation marks a to-one reference to another entity. Only
	// relation fields may appear in non-terminal field path segments.
	FieldTypeRelation FieldType = "relation"
)

// IsNumeric reports whether the field type supports sum/avg aggregation.
func (t FieldType) IsNumeric() bool {
	return t == FieldTypeInteger || t == FieldTypeFloat
}

// IsTemporal reports whether the field type supports group-by granularity.
func (t FieldType) IsTemporal() bool {
	return t == FieldTypeDate || t == FieldTypeDatetime
}

// FieldMetadata describes one field of a catalog entity.
type FieldMetadata struct {
	Name  string    `json:"name"`
	Label string    `json:"label,omitempty"`
	Type  FieldType `json:"type"`
	// Stored reports whether the value is materialized in the store. Fields
	// computed on read cannot be filtered, aggregated or grouped by.
	Stored bool `json:"stored"`
	// RelationTarget names the related entity for relation fields.
	RelationTarget string `json:"relation_target,omitempty"`
}

// EntityDefinition is the catalog-side description of one readable entity.
type EntityDefinition struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	// DisplayField names the field used as the human-readable label when a
	// relation value is resolved for output.
	DisplayField string `json:"display_field,omitempty"`
	// TenantField names the multi-tenant scoping field, when the entity has
	// one. Plans that do not constrain it draw a validation warning.
	TenantField string          `json:"tenant_field,omitempty"`
	ReadRoles   []string        `json:"read_roles,omitempty"`
	Synonyms    []string        `json:"synonyms,omitempty"`
	Fields      []FieldMetadata `json:"fields"`
}

// Field returns the metadata for a directly owned field by name.
func (d EntityDefinition) Field(name string) (FieldMetadata, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMetadata{}, false
}

// ReadableBy reports whether an identity holding the given roles may read the
// entity. An empty ReadRoles list means every authenticated caller may read.
func (d EntityDefinition) ReadableBy(roles []string) bool {
	if len(d.ReadRoles) == 0 {
		return true
	}
	for _, required := range d.ReadRoles {
		for _, held := range roles {
			if strings.EqualFold(required, held) {
				return true
			}
		}
	}
	return false
}

// FieldsToJSON marshals the field metadata into the JSONB layout stored in
// Postgres.
func (d EntityDefinition) FieldsToJSON() (json.RawMessage, error) {
	fields := d.Fields
	if fields == nil {
		fields = []FieldMetadata{}
	}
	return json.Marshal(fields)
}

// FieldsFromJSON unmarshals persisted field metadata.
func FieldsFromJSON(data []byte) ([]FieldMetadata, error) {
	if len(data) == 0 {
		return []FieldMetadata{}, nil
	}
	var fields []FieldMetadata
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
