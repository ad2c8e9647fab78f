package sqlc

import (
	"context"
	"database/sql"
	"time"
)

const insertInvoice = `
INSERT INTO invoices (
    payment_hash, preimage, amount, chroma, state, amount_paid, created_at,
    expires_at, settled_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9
)
RETURNING id
`

type InsertInvoiceParams struct {
	PaymentHash []byte
	Preimage    []byte
	Amount      int64
	Chroma      []byte
	State       int16
	AmountPaid  int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	SettledAt   sql.NullTime
}

func (q *Queries) InsertInvoice(ctx context.Context,
	arg InsertInvoiceParams) (int64, error) {

	row := q.db.QueryRowContext(ctx, insertInvoice,
		arg.PaymentHash,
		arg.Preimage,
		arg.Amount,
		arg.Chroma,
		arg.State,
		arg.AmountPaid,
		arg.CreatedAt,
		arg.ExpiresAt,
		arg.SettledAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const updateInvoice = `
UPDATE invoices
SET state = $2, amount_paid = $3, settled_at = $4
WHERE payment_hash = $1
RETURNING id
`

type UpdateInvoiceParams struct {
	PaymentHash []byte
	State       int16
	AmountPaid  int64
	SettledAt   sql.NullTime
}

func (q *Queries) UpdateInvoice(ctx context.Context,
	arg UpdateInvoiceParams) (int64, error) {

	row := q.db.QueryRowContext(ctx, updateInvoice,
		arg.PaymentHash,
		arg.State,
		arg.AmountPaid,
		arg.SettledAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const fetchInvoices = `
SELECT id, payment_hash, preimage, amount, chroma, state, amount_paid,
       created_at, expires_at, settled_at
FROM invoices
ORDER BY created_at DESC, id DESC
`

func (q *Queries) FetchInvoices(ctx context.Context) ([]Invoice, error) {
	rows, err := q.db.QueryContext(ctx, fetchInvoices)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Invoice
	for rows.Next() {
		var i Invoice
		if err := rows.Scan(
			&i.ID,
			&i.PaymentHash,
			&i.Preimage,
			&i.Amount,
			&i.Chroma,
			&i.State,
			&i.AmountPaid,
			&i.CreatedAt,
			&i.ExpiresAt,
			&i.SettledAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
