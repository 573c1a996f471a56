package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique-constraint violation,
// across the dialects this service supports.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// ConstraintName extracts the violated constraint name from a duplicate-key
// error, best effort. Callers use it to distinguish which unique index fired
// when a table carries more than one.
func ConstraintName(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	if idx := strings.Index(msg, `unique constraint "`); idx >= 0 {
		rest := msg[idx+len(`unique constraint "`):]
		if end := strings.Index(rest, `"`); end > 0 {
			return rest[:end]
		}
	}
	if idx := strings.Index(msg, "UNIQUE constraint failed: "); idx >= 0 {
		rest := msg[idx+len("UNIQUE constraint failed: "):]
		if end := strings.IndexAny(rest, " ,;"); end > 0 {
			return rest[:end]
		}
		return rest
	}
	return ""
}
