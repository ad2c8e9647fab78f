//go:build !test_db_postgres

package yuvdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
)

// TestSqliteReopen tests that a database file can be opened again with its
// migrations already applied and that its data is kept.
func TestSqliteReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "yuv.db")

	policies := func(db *SqliteStore) *PolicyStore {
		txCreator := func(tx *sql.Tx) PolicyQueries {
			return db.WithTx(tx)
		}

		return NewPolicyStore(
			NewTransactionExecutor[PolicyQueries](db, txCreator),
		)
	}

	db, err := NewSqliteStore(&SqliteConfig{DatabaseFileName: dbPath})
	require.NoError(t, err)

	update := testUpdate(lnwire.NewShortChanIDFromInt(4))
	require.NoError(t, policies(db).UpsertPolicy(ctx, update))
	require.NoError(t, db.DB.Close())

	reopened := NewTestSqliteDbHandleFromPath(t, dbPath)
	stored, err := policies(reopened).FetchPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, update, stored[0])
}
