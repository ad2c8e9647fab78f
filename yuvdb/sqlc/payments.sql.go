package sqlc

import (
	"context"
	"database/sql"
	"time"
)

const fetchPayment = `
SELECT id, payment_hash, dest, amount, chroma, status, preimage, fulfilled,
       created_at, resolved_at
FROM payments
WHERE payment_hash = $1
`

func (q *Queries) FetchPayment(ctx context.Context,
	paymentHash []byte) (Payment, error) {

	row := q.db.QueryRowContext(ctx, fetchPayment, paymentHash)
	var i Payment
	err := row.Scan(
		&i.ID,
		&i.PaymentHash,
		&i.Dest,
		&i.Amount,
		&i.Chroma,
		&i.Status,
		&i.Preimage,
		&i.Fulfilled,
		&i.CreatedAt,
		&i.ResolvedAt,
	)
	return i, err
}

const deletePaymentShards = `
DELETE FROM payment_shards
WHERE payment_id = $1
`

func (q *Queries) DeletePaymentShards(ctx context.Context,
	paymentID int64) error {

	_, err := q.db.ExecContext(ctx, deletePaymentShards, paymentID)
	return err
}

const deletePayment = `
DELETE FROM payments
WHERE id = $1
`

func (q *Queries) DeletePayment(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deletePayment, id)
	return err
}

const insertPayment = `
INSERT INTO payments (
    payment_hash, dest, amount, chroma, status, preimage, fulfilled,
    created_at, resolved_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9
)
RETURNING id
`

type InsertPaymentParams struct {
	PaymentHash []byte
	Dest        []byte
	Amount      int64
	Chroma      []byte
	Status      int16
	Preimage    []byte
	Fulfilled   int64
	CreatedAt   time.Time
	ResolvedAt  sql.NullTime
}

func (q *Queries) InsertPayment(ctx context.Context,
	arg InsertPaymentParams) (int64, error) {

	row := q.db.QueryRowContext(ctx, insertPayment,
		arg.PaymentHash,
		arg.Dest,
		arg.Amount,
		arg.Chroma,
		arg.Status,
		arg.Preimage,
		arg.Fulfilled,
		arg.CreatedAt,
		arg.ResolvedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const updatePayment = `
UPDATE payments
SET status = $2, preimage = $3, fulfilled = $4, resolved_at = $5
WHERE payment_hash = $1
RETURNING id
`

type UpdatePaymentParams struct {
	PaymentHash []byte
	Status      int16
	Preimage    []byte
	Fulfilled   int64
	ResolvedAt  sql.NullTime
}

func (q *Queries) UpdatePayment(ctx context.Context,
	arg UpdatePaymentParams) (int64, error) {

	row := q.db.QueryRowContext(ctx, updatePayment,
		arg.PaymentHash,
		arg.Status,
		arg.Preimage,
		arg.Fulfilled,
		arg.ResolvedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const upsertPaymentShard = `
INSERT INTO payment_shards (
    payment_id, shard_id, round, route, amount, status, failure
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (payment_id, shard_id)
    DO UPDATE SET status = EXCLUDED.status,
                  failure = EXCLUDED.failure
`

type UpsertPaymentShardParams struct {
	PaymentID int64
	ShardID   int64
	Round     int32
	Route     []byte
	Amount    int64
	Status    int16
	Failure   sql.NullString
}

func (q *Queries) UpsertPaymentShard(ctx context.Context,
	arg UpsertPaymentShardParams) error {

	_, err := q.db.ExecContext(ctx, upsertPaymentShard,
		arg.PaymentID,
		arg.ShardID,
		arg.Round,
		arg.Route,
		arg.Amount,
		arg.Status,
		arg.Failure,
	)
	return err
}

const fetchPayments = `
SELECT id, payment_hash, dest, amount, chroma, status, preimage, fulfilled,
       created_at, resolved_at
FROM payments
ORDER BY created_at DESC, id DESC
`

func (q *Queries) FetchPayments(ctx context.Context) ([]Payment, error) {
	rows, err := q.db.QueryContext(ctx, fetchPayments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Payment
	for rows.Next() {
		var i Payment
		if err := rows.Scan(
			&i.ID,
			&i.PaymentHash,
			&i.Dest,
			&i.Amount,
			&i.Chroma,
			&i.Status,
			&i.Preimage,
			&i.Fulfilled,
			&i.CreatedAt,
			&i.ResolvedAt,
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

const fetchPaymentShards = `
SELECT id, payment_id, shard_id, round, route, amount, status, failure
FROM payment_shards
ORDER BY payment_id, shard_id
`

func (q *Queries) FetchPaymentShards(
	ctx context.Context) ([]PaymentShard, error) {

	rows, err := q.db.QueryContext(ctx, fetchPaymentShards)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PaymentShard
	for rows.Next() {
		var i PaymentShard
		if err := rows.Scan(
			&i.ID,
			&i.PaymentID,
			&i.ShardID,
			&i.Round,
			&i.Route,
			&i.Amount,
			&i.Status,
			&i.Failure,
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
