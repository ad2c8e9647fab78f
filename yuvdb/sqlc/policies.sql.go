package sqlc

import (
	"context"
)

const upsertChannelPolicy = `
INSERT INTO channel_policies (
    chan_id, node, chroma, update_time, base_fee, fee_rate, expiry_delta,
    min_htlc, disabled
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (chan_id, node, chroma)
    DO UPDATE SET update_time = EXCLUDED.update_time,
                  base_fee = EXCLUDED.base_fee,
                  fee_rate = EXCLUDED.fee_rate,
                  expiry_delta = EXCLUDED.expiry_delta,
                  min_htlc = EXCLUDED.min_htlc,
                  disabled = EXCLUDED.disabled
`

type UpsertChannelPolicyParams struct {
	ChanID      int64
	Node        []byte
	Chroma      []byte
	UpdateTime  int64
	BaseFee     int64
	FeeRate     int64
	ExpiryDelta int32
	MinHtlc     int64
	Disabled    bool
}

func (q *Queries) UpsertChannelPolicy(ctx context.Context,
	arg UpsertChannelPolicyParams) error {

	_, err := q.db.ExecContext(ctx, upsertChannelPolicy,
		arg.ChanID,
		arg.Node,
		arg.Chroma,
		arg.UpdateTime,
		arg.BaseFee,
		arg.FeeRate,
		arg.ExpiryDelta,
		arg.MinHtlc,
		arg.Disabled,
	)
	return err
}

const fetchChannelPolicies = `
SELECT id, chan_id, node, chroma, update_time, base_fee, fee_rate,
       expiry_delta, min_htlc, disabled
FROM channel_policies
ORDER BY chan_id, node, chroma
`

func (q *Queries) FetchChannelPolicies(
	ctx context.Context) ([]ChannelPolicy, error) {

	rows, err := q.db.QueryContext(ctx, fetchChannelPolicies)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ChannelPolicy
	for rows.Next() {
		var i ChannelPolicy
		if err := rows.Scan(
			&i.ID,
			&i.ChanID,
			&i.Node,
			&i.Chroma,
			&i.UpdateTime,
			&i.BaseFee,
			&i.FeeRate,
			&i.ExpiryDelta,
			&i.MinHtlc,
			&i.Disabled,
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
