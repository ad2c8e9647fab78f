package yuvdb

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrRetriesExceeded is returned once a transaction kept conflicting with
// concurrent writers for every allowed attempt.
var ErrRetriesExceeded = errors.New("db tx retries exceeded")

// MapSQLError translates a driver error of either backend into one of the
// backend independent error types below. Other errors are returned as is.
func MapSQLError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:

			return &ErrSqlUniqueConstraintViolation{DbError: err}

		// Another connection holds the write lock.
		case sqlite3.SQLITE_BUSY:
			return &ErrSerializationError{DbError: err}
		}

		return fmt.Errorf("unknown sqlite error: %w", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return &ErrSqlUniqueConstraintViolation{DbError: err}

		case pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected:

			return &ErrSerializationError{DbError: err}
		}

		return fmt.Errorf("unknown postgres error: %w", err)
	}

	return err
}

// ErrSqlUniqueConstraintViolation reports an insert that collided with an
// existing row, for example a second fulfillment of the same HTLC.
type ErrSqlUniqueConstraintViolation struct {
	DbError error
}

// Unwrap returns the driver error.
func (e ErrSqlUniqueConstraintViolation) Unwrap() error {
	return e.DbError
}

func (e ErrSqlUniqueConstraintViolation) Error() string {
	return fmt.Sprintf("sql unique constraint violation: %v", e.DbError)
}

// ErrSerializationError reports a transaction that lost against a concurrent
// one. The transaction may be retried from the start.
type ErrSerializationError struct {
	DbError error
}

// Unwrap returns the driver error.
func (e ErrSerializationError) Unwrap() error {
	return e.DbError
}

func (e ErrSerializationError) Error() string {
	return fmt.Sprintf("serialization failure: %v", e.DbError)
}
