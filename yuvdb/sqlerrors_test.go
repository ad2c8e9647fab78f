package yuvdb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/stretchr/testify/require"
)

func TestMapPostgresError(t *testing.T) {
	t.Parallel()

	wrap := func(code string) error {
		return fmt.Errorf("insert htlc: %w", &pgconn.PgError{Code: code})
	}

	var unique *ErrSqlUniqueConstraintViolation
	require.ErrorAs(t, MapSQLError(wrap(pgerrcode.UniqueViolation)), &unique)

	for _, code := range []string{
		pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected,
	} {
		var serErr *ErrSerializationError
		require.ErrorAs(t, MapSQLError(wrap(code)), &serErr, code)
	}

	// Unmapped codes keep the driver error reachable.
	mapped := MapSQLError(wrap(pgerrcode.UndefinedTable))
	var pgErr *pgconn.PgError
	require.ErrorAs(t, mapped, &pgErr)
	require.ErrorContains(t, mapped, "unknown postgres error")

	// Errors of no driver pass through.
	plain := errors.New("boom")
	require.Equal(t, plain, MapSQLError(plain))
}
