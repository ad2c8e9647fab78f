package yuvdb

import (
	"context"
	"fmt"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/yuvdb/sqlc"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

type (
	// PolicyRow is a stored channel policy.
	PolicyRow = sqlc.ChannelPolicy

	// NewPolicy is the set of params to insert or update a policy.
	NewPolicy = sqlc.UpsertChannelPolicyParams
)

// PolicyQueries is the set of queries the policy store needs.
type PolicyQueries interface {
	// UpsertChannelPolicy inserts or replaces the policy of one channel
	// direction and dimension.
	UpsertChannelPolicy(ctx context.Context, arg NewPolicy) error

	// FetchChannelPolicies returns every stored policy.
	FetchChannelPolicies(ctx context.Context) ([]PolicyRow, error)
}

// BatchedPolicyQueries is a version of the PolicyQueries that's capable of
// batched database operations.
type BatchedPolicyQueries interface {
	PolicyQueries

	BatchedTx[PolicyQueries]
}

// PolicyStore persists the forwarding policies of the channel graph.
type PolicyStore struct {
	db BatchedPolicyQueries
}

// A compile-time assertion to make sure PolicyStore satisfies the
// graph.PolicyStore interface.
var _ graph.PolicyStore = (*PolicyStore)(nil)

// NewPolicyStore creates a new policy store.
func NewPolicyStore(db BatchedPolicyQueries) *PolicyStore {
	return &PolicyStore{
		db: db,
	}
}

// UpsertPolicy stores the latest policy of a channel direction.
func (p *PolicyStore) UpsertPolicy(ctx context.Context,
	update *graph.ChannelUpdate) error {

	return p.db.ExecTx(ctx, WriteTx(), func(q PolicyQueries) error {
		return q.UpsertChannelPolicy(ctx, NewPolicy{
			ChanID:      int64(update.ChannelID.ToUint64()),
			Node:        update.Node[:],
			Chroma:      update.Chroma.Bytes(),
			UpdateTime:  int64(update.Timestamp),
			BaseFee:     int64(update.Policy.BaseFee),
			FeeRate:     int64(update.Policy.FeeRate),
			ExpiryDelta: int32(update.Policy.ExpiryDelta),
			MinHtlc:     int64(update.Policy.MinHTLC),
			Disabled:    update.Policy.Disabled,
		})
	})
}

// FetchPolicies returns every stored policy.
func (p *PolicyStore) FetchPolicies(
	ctx context.Context) ([]*graph.ChannelUpdate, error) {

	var updates []*graph.ChannelUpdate
	err := p.db.ExecTx(ctx, ReadTx(), func(q PolicyQueries) error {
		updates = nil

		rows, err := q.FetchChannelPolicies(ctx)
		if err != nil {
			return fmt.Errorf("unable to fetch policies: %w", err)
		}

		for _, row := range rows {
			node, err := route.NewVertexFromBytes(row.Node)
			if err != nil {
				return fmt.Errorf("invalid node of policy "+
					"%d: %w", row.ID, err)
			}

			tag, err := chroma.FromBytes(row.Chroma)
			if err != nil {
				return err
			}

			updates = append(updates, &graph.ChannelUpdate{
				ChannelID: lnwire.NewShortChanIDFromInt(
					uint64(row.ChanID),
				),
				Node:      node,
				Chroma:    tag,
				Timestamp: uint32(row.UpdateTime),
				Policy: graph.Policy{
					BaseFee:     uint64(row.BaseFee),
					FeeRate:     uint64(row.FeeRate),
					ExpiryDelta: uint16(row.ExpiryDelta),
					MinHTLC:     uint64(row.MinHtlc),
					Disabled:    row.Disabled,
				},
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return updates, nil
}
