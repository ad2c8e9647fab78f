package sqlc

import (
	"context"
	"time"
)

const upsertChannel = `
INSERT INTO channels (
    chan_id, node1, node2, funding_txid, funding_index, status, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (chan_id)
    DO UPDATE SET status = EXCLUDED.status,
                  updated_at = EXCLUDED.updated_at
RETURNING id
`

type UpsertChannelParams struct {
	ChanID       int64
	Node1        []byte
	Node2        []byte
	FundingTxid  []byte
	FundingIndex int32
	Status       int16
	UpdatedAt    time.Time
}

func (q *Queries) UpsertChannel(ctx context.Context,
	arg UpsertChannelParams) (int64, error) {

	row := q.db.QueryRowContext(ctx, upsertChannel,
		arg.ChanID,
		arg.Node1,
		arg.Node2,
		arg.FundingTxid,
		arg.FundingIndex,
		arg.Status,
		arg.UpdatedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const upsertChannelBalance = `
INSERT INTO channel_balances (
    channel_id, chroma, capacity, local1, local2, in_flight1, in_flight2
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (channel_id, chroma)
    DO UPDATE SET capacity = EXCLUDED.capacity,
                  local1 = EXCLUDED.local1,
                  local2 = EXCLUDED.local2,
                  in_flight1 = EXCLUDED.in_flight1,
                  in_flight2 = EXCLUDED.in_flight2
`

type UpsertChannelBalanceParams struct {
	ChannelID int64
	Chroma    []byte
	Capacity  int64
	Local1    int64
	Local2    int64
	InFlight1 int64
	InFlight2 int64
}

func (q *Queries) UpsertChannelBalance(ctx context.Context,
	arg UpsertChannelBalanceParams) error {

	_, err := q.db.ExecContext(ctx, upsertChannelBalance,
		arg.ChannelID,
		arg.Chroma,
		arg.Capacity,
		arg.Local1,
		arg.Local2,
		arg.InFlight1,
		arg.InFlight2,
	)
	return err
}

const fetchChannels = `
SELECT id, chan_id, node1, node2, funding_txid, funding_index, status,
       updated_at
FROM channels
ORDER BY chan_id
`

func (q *Queries) FetchChannels(ctx context.Context) ([]Channel, error) {
	rows, err := q.db.QueryContext(ctx, fetchChannels)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Channel
	for rows.Next() {
		var i Channel
		if err := rows.Scan(
			&i.ID,
			&i.ChanID,
			&i.Node1,
			&i.Node2,
			&i.FundingTxid,
			&i.FundingIndex,
			&i.Status,
			&i.UpdatedAt,
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

const fetchChannelBalances = `
SELECT id, channel_id, chroma, capacity, local1, local2, in_flight1,
       in_flight2
FROM channel_balances
ORDER BY channel_id, chroma
`

func (q *Queries) FetchChannelBalances(
	ctx context.Context) ([]ChannelBalance, error) {

	rows, err := q.db.QueryContext(ctx, fetchChannelBalances)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ChannelBalance
	for rows.Next() {
		var i ChannelBalance
		if err := rows.Scan(
			&i.ID,
			&i.ChannelID,
			&i.Chroma,
			&i.Capacity,
			&i.Local1,
			&i.Local2,
			&i.InFlight1,
			&i.InFlight2,
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
