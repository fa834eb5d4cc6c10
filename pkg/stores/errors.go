package stores

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUserExists is returned when registering a username that is taken.
	ErrUserExists = errors.New("username already exists")

	// ErrProtectedAccount is returned for mutations the administrator
	// account does not allow (deletion, demotion, deactivation).
	ErrProtectedAccount = errors.New("account is protected")

	// ErrOwnerNotFound is returned when a row references a user that does
	// not exist.
	ErrOwnerNotFound = errors.New("owner does not exist")

	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSchemaMismatch is returned when the database holds a layout no
	// migration step recognises.
	ErrSchemaMismatch = errors.New("unrecognized schema layout")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// ErrorClass classifies storage failures for logging and metrics.
type ErrorClass string

const (
	// ClassConstraint is a uniqueness or foreign-key violation. Non-fatal.
	ClassConstraint ErrorClass = "constraint"

	// ClassContention is a lock wait that outlasted the busy timeout.
	ClassContention ErrorClass = "contention"

	// ClassConnectivity is a failure to open or configure a connection.
	ClassConnectivity ErrorClass = "connectivity"

	// ClassMigration is a failure while evolving the schema.
	ClassMigration ErrorClass = "migration"

	// ClassInternal is anything else.
	ClassInternal ErrorClass = "internal"
)

// StorageError is a classified failure of the underlying engine.
type StorageError struct {
	Class ErrorClass
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("[%s] failed to %s: %v", e.Class, e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of a storage error, or "" when err carries none.
func ClassOf(err error) ErrorClass {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Class
	}
	return ""
}

// newStorageError classifies err by its SQLite result code.
func newStorageError(op string, err error) *StorageError {
	return &StorageError{Class: classify(err), Op: op, Err: err}
}

func classify(err error) ErrorClass {
	switch sqliteCode(err) & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return ClassConstraint
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return ClassContention
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_PERM:
		return ClassConnectivity
	default:
		return ClassInternal
	}
}

func isUniqueViolation(err error) bool {
	code := sqliteCode(err)
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isForeignKeyViolation(err error) bool {
	return sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}
