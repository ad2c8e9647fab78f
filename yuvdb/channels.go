package yuvdb

import (
	"context"
	"fmt"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/yuvdb/sqlc"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

type (
	// ChannelRow is a stored channel.
	ChannelRow = sqlc.Channel

	// BalanceRow is a stored balance of one dimension of a channel.
	BalanceRow = sqlc.ChannelBalance

	// NewChannel is the set of params to insert or update a channel.
	NewChannel = sqlc.UpsertChannelParams

	// NewBalance is the set of params to insert or update a balance.
	NewBalance = sqlc.UpsertChannelBalanceParams
)

// ChannelQueries is the set of queries the channel store needs.
type ChannelQueries interface {
	// UpsertChannel inserts or updates a channel and returns its primary
	// key.
	UpsertChannel(ctx context.Context, arg NewChannel) (int64, error)

	// UpsertChannelBalance inserts or updates one balance of a channel.
	UpsertChannelBalance(ctx context.Context, arg NewBalance) error

	// FetchChannels returns every channel.
	FetchChannels(ctx context.Context) ([]ChannelRow, error)

	// FetchChannelBalances returns every balance of every channel.
	FetchChannelBalances(ctx context.Context) ([]BalanceRow, error)
}

// BatchedChannelQueries is a version of the ChannelQueries that's capable of
// batched database operations.
type BatchedChannelQueries interface {
	ChannelQueries

	BatchedTx[ChannelQueries]
}

// ChannelStore persists the channel states of the ledger.
type ChannelStore struct {
	db    BatchedChannelQueries
	clock clock.Clock
}

// A compile-time assertion to make sure ChannelStore satisfies the
// ledger.Store interface.
var _ ledger.Store = (*ChannelStore)(nil)

// NewChannelStore creates a new channel store.
func NewChannelStore(db BatchedChannelQueries,
	clock clock.Clock) *ChannelStore {

	return &ChannelStore{
		db:    db,
		clock: clock,
	}
}

// UpsertChannel inserts or replaces the stored state of a channel including
// all of its balances.
func (c *ChannelStore) UpsertChannel(ctx context.Context,
	state *ledger.ChannelState) error {

	return c.db.ExecTx(ctx, WriteTx(), func(q ChannelQueries) error {
		chanID, err := q.UpsertChannel(ctx, NewChannel{
			ChanID:       int64(state.ChannelID.ToUint64()),
			Node1:        state.Node1[:],
			Node2:        state.Node2[:],
			FundingTxid:  state.FundingPoint.Hash[:],
			FundingIndex: int32(state.FundingPoint.Index),
			Status:       int16(state.Status),
			UpdatedAt:    c.clock.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("unable to upsert channel %v: %w",
				state.ChannelID, err)
		}

		for tag, balance := range state.Balances {
			err := q.UpsertChannelBalance(ctx, NewBalance{
				ChannelID: chanID,
				Chroma:    tag.Bytes(),
				Capacity:  int64(balance.Capacity),
				Local1:    int64(balance.Local[0]),
				Local2:    int64(balance.Local[1]),
				InFlight1: int64(balance.InFlight[0]),
				InFlight2: int64(balance.InFlight[1]),
			})
			if err != nil {
				return fmt.Errorf("unable to upsert balance "+
					"%v of channel %v: %w", tag.Short(),
					state.ChannelID, err)
			}
		}

		return nil
	})
}

// FetchChannels returns every stored channel.
func (c *ChannelStore) FetchChannels(
	ctx context.Context) ([]*ledger.ChannelState, error) {

	var states []*ledger.ChannelState
	err := c.db.ExecTx(ctx, ReadTx(), func(q ChannelQueries) error {
		states = nil

		rows, err := q.FetchChannels(ctx)
		if err != nil {
			return fmt.Errorf("unable to fetch channels: %w", err)
		}

		balances, err := q.FetchChannelBalances(ctx)
		if err != nil {
			return fmt.Errorf("unable to fetch balances: %w", err)
		}

		byID := make(map[int64]*ledger.ChannelState, len(rows))
		for _, row := range rows {
			state, err := parseChannel(row)
			if err != nil {
				return err
			}

			byID[row.ID] = state
			states = append(states, state)
		}

		for _, row := range balances {
			state, ok := byID[row.ChannelID]
			if !ok {
				return fmt.Errorf("balance %d of unknown "+
					"channel %d", row.ID, row.ChannelID)
			}

			tag, err := chroma.FromBytes(row.Chroma)
			if err != nil {
				return err
			}

			state.Balances[tag] = ledger.Balance{
				Capacity: uint64(row.Capacity),
				Local: [2]uint64{
					uint64(row.Local1), uint64(row.Local2),
				},
				InFlight: [2]uint64{
					uint64(row.InFlight1),
					uint64(row.InFlight2),
				},
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return states, nil
}

// parseChannel maps a stored channel to a channel state without balances.
func parseChannel(row ChannelRow) (*ledger.ChannelState, error) {
	node1, err := route.NewVertexFromBytes(row.Node1)
	if err != nil {
		return nil, fmt.Errorf("invalid node1 of channel %d: %w",
			row.ChanID, err)
	}

	node2, err := route.NewVertexFromBytes(row.Node2)
	if err != nil {
		return nil, fmt.Errorf("invalid node2 of channel %d: %w",
			row.ChanID, err)
	}

	txid, err := chainhash.NewHash(row.FundingTxid)
	if err != nil {
		return nil, fmt.Errorf("invalid funding txid of channel %d: %w",
			row.ChanID, err)
	}

	return &ledger.ChannelState{
		ChannelID:    lnwire.NewShortChanIDFromInt(uint64(row.ChanID)),
		Node1:        node1,
		Node2:        node2,
		FundingPoint: *wire.NewOutPoint(txid, uint32(row.FundingIndex)),
		Status:       ledger.Status(row.Status),
		Balances:     make(map[chroma.Chroma]ledger.Balance),
	}, nil
}
