package graph

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// feeRateScale is the denominator of the proportional fee rate.
const feeRateScale = 1_000_000

// Policy is the forwarding policy a node applies to one direction of one of
// its channels for one dimension.
type Policy struct {
	// BaseFee is the flat fee charged per HTLC, denominated in the routed
	// dimension.
	BaseFee uint64

	// FeeRate is the proportional fee in parts per million.
	FeeRate uint64

	// ExpiryDelta is the number of blocks the forwarding node requires
	// between its incoming and outgoing HTLC expiry.
	ExpiryDelta uint16

	// MinHTLC is the smallest HTLC the forwarding node accepts.
	MinHTLC uint64

	// Disabled marks an edge that must not be routed over.
	Disabled bool
}

// Fee returns the fee for forwarding the given amount. A fee that doesn't
// fit into 64 bits saturates.
func (p Policy) Fee(amt uint64) uint64 {
	hi, lo := bits.Mul64(amt, p.FeeRate)
	if hi >= feeRateScale {
		return math.MaxUint64
	}
	proportional, _ := bits.Div64(hi, lo, feeRateScale)

	fee, carry := bits.Add64(p.BaseFee, proportional, 0)
	if carry != 0 {
		return math.MaxUint64
	}

	return fee
}

// ChannelUpdate is a policy announcement for one direction of a channel.
type ChannelUpdate struct {
	// ChannelID is the channel the policy applies to.
	ChannelID lnwire.ShortChannelID

	// Node is the announcing endpoint. The policy applies to HTLCs it
	// forwards over the channel.
	Node route.Vertex

	// Chroma is the dimension the policy applies to.
	Chroma chroma.Chroma

	// Timestamp orders updates of the same channel direction. Older or
	// equal timestamps are ignored.
	Timestamp uint32

	// Policy is the announced policy.
	Policy Policy
}

// String returns a short description of the update.
func (u *ChannelUpdate) String() string {
	return fmt.Sprintf("ChannelUpdate(chan=%v, node=%x, chroma=%v, ts=%d)",
		u.ChannelID, u.Node[:4], u.Chroma.Short(), u.Timestamp)
}

// PolicyStore persists channel policies.
type PolicyStore interface {
	// UpsertPolicy stores the latest policy of a channel direction.
	UpsertPolicy(ctx context.Context, update *ChannelUpdate) error

	// FetchPolicies returns every stored policy.
	FetchPolicies(ctx context.Context) ([]*ChannelUpdate, error)
}

// policyKey identifies one direction of one dimension of a channel.
type policyKey struct {
	chanID lnwire.ShortChannelID
	node   route.Vertex
	chroma chroma.Chroma
}

func keyOf(u *ChannelUpdate) policyKey {
	return policyKey{
		chanID: u.ChannelID,
		node:   u.Node,
		chroma: u.Chroma,
	}
}
