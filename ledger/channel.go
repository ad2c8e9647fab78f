package ledger

import (
	"bytes"
	"fmt"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// Direction identifies which endpoint of a channel is sending.
type Direction uint8

const (
	// Forward is the direction in which Node1 sends to Node2.
	Forward Direction = 0

	// Backward is the direction in which Node2 sends to Node1.
	Backward Direction = 1
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	return 1 - d
}

// Status is the lifecycle state of a channel.
type Status uint8

const (
	// StatusPending marks a channel whose funding transaction has not
	// confirmed yet. Pending channels cannot carry HTLCs.
	StatusPending Status = 0

	// StatusOpen marks a channel that can carry HTLCs.
	StatusOpen Status = 1

	// StatusClosed marks a channel that has been closed. Its balances are
	// kept for historical queries only.
	StatusClosed Status = 2
)

// String returns a human readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Balance is the state of one dimension (base currency or a single asset) of a
// channel. The sum of both local balances and both in-flight amounts always
// equals the capacity.
type Balance struct {
	// Capacity is the total amount of this dimension locked in the
	// channel.
	Capacity uint64

	// Local is the amount each direction is able to send right now.
	Local [2]uint64

	// InFlight is the amount each direction has reserved for HTLCs that
	// are not resolved yet.
	InFlight [2]uint64
}

// Verify checks the balance invariant.
func (b Balance) Verify() error {
	parts := [4]uint64{b.Local[0], b.Local[1], b.InFlight[0], b.InFlight[1]}

	var sum uint64
	for _, part := range parts {
		if part > b.Capacity {
			return fmt.Errorf("%w: local=%v in_flight=%v "+
				"capacity=%d", ErrInvariantViolation, b.Local,
				b.InFlight, b.Capacity)
		}
		sum += part
	}
	if sum != b.Capacity {
		return fmt.Errorf("%w: local=%v in_flight=%v capacity=%d",
			ErrInvariantViolation, b.Local, b.InFlight, b.Capacity)
	}

	return nil
}

// CanSend returns the amount the given direction can send.
func (b Balance) CanSend(d Direction) uint64 {
	return b.Local[d]
}

// CanReceive returns the amount the given direction can receive.
func (b Balance) CanReceive(d Direction) uint64 {
	return b.Local[d.Opposite()]
}

// ChannelState is an immutable view of one channel of the ledger.
type ChannelState struct {
	// ChannelID is the stable identifier of the channel.
	ChannelID lnwire.ShortChannelID

	// Node1 is the endpoint with the lexicographically smaller key.
	Node1 route.Vertex

	// Node2 is the endpoint with the lexicographically larger key.
	Node2 route.Vertex

	// FundingPoint is the outpoint of the funding transaction.
	FundingPoint wire.OutPoint

	// Status is the lifecycle state of the channel.
	Status Status

	// Balances holds one balance per dimension carried by the channel.
	// The base currency is keyed by chroma.None.
	Balances map[chroma.Chroma]Balance
}

// Copy returns a deep copy of the channel state.
func (c *ChannelState) Copy() *ChannelState {
	cpy := *c
	cpy.Balances = make(map[chroma.Chroma]Balance, len(c.Balances))
	for k, v := range c.Balances {
		cpy.Balances[k] = v
	}

	return &cpy
}

// Direction returns the direction in which the given node sends.
func (c *ChannelState) Direction(from route.Vertex) (Direction, error) {
	switch from {
	case c.Node1:
		return Forward, nil
	case c.Node2:
		return Backward, nil
	default:
		return 0, fmt.Errorf("%w: %x not an endpoint of channel %v",
			ErrUnknownEndpoint, from[:], c.ChannelID)
	}
}

// Peer returns the endpoint opposite to the given one.
func (c *ChannelState) Peer(node route.Vertex) route.Vertex {
	if node == c.Node1 {
		return c.Node2
	}

	return c.Node1
}

// Endpoint returns the sending node of the given direction.
func (c *ChannelState) Endpoint(d Direction) route.Vertex {
	if d == Forward {
		return c.Node1
	}

	return c.Node2
}

// Verify checks that the endpoints are ordered and every balance satisfies
// its invariant.
func (c *ChannelState) Verify() error {
	if bytes.Compare(c.Node1[:], c.Node2[:]) >= 0 {
		return fmt.Errorf("%w: endpoints of channel %v not ordered",
			ErrInvariantViolation, c.ChannelID)
	}

	if _, ok := c.Balances[chroma.None]; !ok {
		return fmt.Errorf("%w: channel %v has no base balance",
			ErrInvariantViolation, c.ChannelID)
	}

	for tag, balance := range c.Balances {
		if err := balance.Verify(); err != nil {
			return fmt.Errorf("chroma %v: %w", tag.Short(), err)
		}
	}

	return nil
}

// NewChannelState creates the state of a freshly funded channel. The nodes
// may be given in any order. The initial balances are given as the amount
// each endpoint (in argument order) holds.
func NewChannelState(id lnwire.ShortChannelID, funding wire.OutPoint,
	a, b route.Vertex,
	amounts map[chroma.Chroma][2]uint64) *ChannelState {

	state := &ChannelState{
		ChannelID:    id,
		Node1:        a,
		Node2:        b,
		FundingPoint: funding,
		Status:       StatusPending,
		Balances:     make(map[chroma.Chroma]Balance, len(amounts)),
	}

	swap := bytes.Compare(a[:], b[:]) > 0
	if swap {
		state.Node1, state.Node2 = b, a
	}

	for tag, amt := range amounts {
		local := amt
		if swap {
			local[0], local[1] = amt[1], amt[0]
		}
		state.Balances[tag] = Balance{
			Capacity: local[0] + local[1],
			Local:    local,
		}
	}

	return state
}
