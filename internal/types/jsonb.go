package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure all JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*Payload)(nil)
	_ driver.Valuer = Payload(nil)
)

// Payload is the structured JSON blob attached to a scheduled action.
// It is stored in a JSONB column and carries handler-specific parameters
// plus the optional entityId used for deduplication.
type Payload map[string]any

// EntityID returns the entityId payload field when present and non-empty.
func (p Payload) EntityID() (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p[PayloadEntityIDKey].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	return scanJSONB(p, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}
