// Package shared holds small helpers used by more than one package.
package shared

import "strings"

// The modernc driver reports lock contention as plain strings, so
// classification is substring matching on the two known forms.

// IsSQLiteBusyError reports a SQLITE_BUSY error: another connection
// holds the write lock.
func IsSQLiteBusyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError reports the "database is locked" variant.
func IsSQLiteLockedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports either contention error. Callers retry
// these with backoff; anything else is a real failure.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}
