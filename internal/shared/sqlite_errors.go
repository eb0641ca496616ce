// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// SQLiteErrorClass groups driver errors by how the store should react.
type SQLiteErrorClass int

const (
	SQLiteOK SQLiteErrorClass = iota
	// SQLiteContention covers SQLITE_BUSY and "database is locked"; retry.
	SQLiteContention
	// SQLiteConstraint covers UNIQUE and PRIMARY KEY violations; never retry.
	SQLiteConstraint
	SQLiteOther
)

var (
	contentionMarkers = []string{"SQLITE_BUSY", "database is locked"}
	constraintMarkers = []string{"UNIQUE constraint failed", "SQLITE_CONSTRAINT"}
)

// ClassifySQLite inspects the driver's error text. modernc.org/sqlite does
// not expose stable typed errors for these cases.
func ClassifySQLite(err error) SQLiteErrorClass {
	if err == nil {
		return SQLiteOK
	}
	msg := err.Error()
	switch {
	case containsAny(msg, contentionMarkers):
		return SQLiteContention
	case containsAny(msg, constraintMarkers):
		return SQLiteConstraint
	default:
		return SQLiteOther
	}
}

// IsSQLiteConflictError reports lock contention that warrants a retry.
func IsSQLiteConflictError(err error) bool {
	return ClassifySQLite(err) == SQLiteContention
}

// IsSQLiteConstraintError reports a UNIQUE or PRIMARY KEY violation.
func IsSQLiteConstraintError(err error) bool {
	return ClassifySQLite(err) == SQLiteConstraint
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
