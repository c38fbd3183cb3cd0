package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// marshalDocument converts a structured document (record payload or
// match-key params) to JSON TEXT for storage in a jsonb column.
func marshalDocument(doc map[string]any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// marshalNullableDocument is marshalDocument for columns that allow
// NULL; a nil map is stored as SQL NULL rather than the string "null".
func marshalNullableDocument(doc map[string]any) (any, error) {
	if doc == nil {
		return nil, nil
	}
	return marshalDocument(doc)
}

// unmarshalDocument parses stored JSON TEXT back to a map.
// NULL and empty values decode to a nil map.
func unmarshalDocument(data sql.NullString) (map[string]any, error) {
	if !data.Valid || data.String == "" || data.String == "null" {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(data.String), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}
