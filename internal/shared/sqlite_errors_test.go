package shared

import (
	"errors"
	"testing"
)

func TestClassifySQLite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		class      SQLiteErrorClass
		conflict   bool
		constraint bool
	}{
		{name: "nil", err: nil, class: SQLiteOK},
		{name: "busy", err: errors.New("exec: SQLITE_BUSY (5)"), class: SQLiteContention, conflict: true},
		{name: "locked", err: errors.New("database is locked"), class: SQLiteContention, conflict: true},
		{name: "unique", err: errors.New("UNIQUE constraint failed: players.email"), class: SQLiteConstraint, constraint: true},
		{name: "other", err: errors.New("no such table"), class: SQLiteOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ClassifySQLite(tt.err); got != tt.class {
				t.Fatalf("ClassifySQLite = %v, want %v", got, tt.class)
			}
			if got := IsSQLiteConflictError(tt.err); got != tt.conflict {
				t.Fatalf("IsSQLiteConflictError = %v, want %v", got, tt.conflict)
			}
			if got := IsSQLiteConstraintError(tt.err); got != tt.constraint {
				t.Fatalf("IsSQLiteConstraintError = %v, want %v", got, tt.constraint)
			}
		})
	}
}
