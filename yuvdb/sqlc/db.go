package sqlc

import (
	"context"
	"database/sql"
)

// DBTX is the set of methods shared by sql.DB and sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result,
		error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows,
		error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// New creates a Queries instance of an unknown backend.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries runs the queries of the daemon against a database or a
// transaction.
type Queries struct {
	db DBTX
}

// WithTx returns a copy of the queries that runs inside the given
// transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	if wtx, ok := q.db.(*wrappedTX); ok {
		return &Queries{db: &wrappedTX{tx, wtx.backendType}}
	}

	return &Queries{db: tx}
}
