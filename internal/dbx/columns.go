package dbx

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// NullString maps "" to SQL NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// NullJSON encodes v as a JSON text column, or NULL when empty is true.
func NullJSON(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ScanJSON decodes a nullable JSON text column into dst. NULL leaves dst
// untouched.
func ScanJSON(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("malformed json column: %w", err)
	}
	return nil
}

// NullBool maps a *bool to a nullable INTEGER column.
func NullBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}
