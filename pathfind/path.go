package pathfind

import (
	"fmt"
	"strings"

	"github.com/akitamiabtc/yuvln/graph"
	"github.com/lightningnetwork/lnd/routing/route"
)

// Path is an ordered sequence of edges from the source to the destination.
type Path struct {
	// Hops are the edges of the path. The first hop leaves the source.
	Hops []graph.Edge

	// Bottleneck is the smallest residual capacity along the path at the
	// time it was found.
	Bottleneck uint64

	// TotalFee is the fee charged by the forwarding nodes for the amount
	// tentatively assigned to the path.
	TotalFee uint64

	// TotalExpiryDelta is the sum of the expiry deltas of the forwarding
	// nodes.
	TotalExpiryDelta uint32
}

// Source returns the first node of the path.
func (p *Path) Source() route.Vertex {
	return p.Hops[0].From
}

// Dest returns the last node of the path.
func (p *Path) Dest() route.Vertex {
	return p.Hops[len(p.Hops)-1].To
}

// Nodes returns every node of the path in order, source included.
func (p *Path) Nodes() []route.Vertex {
	nodes := make([]route.Vertex, 0, len(p.Hops)+1)
	nodes = append(nodes, p.Source())
	for _, hop := range p.Hops {
		nodes = append(nodes, hop.To)
	}

	return nodes
}

// FeeFor returns the fee the forwarding nodes charge for the given amount.
// The source doesn't charge itself.
func (p *Path) FeeFor(amt uint64) uint64 {
	var fee uint64
	for _, hop := range p.Hops[1:] {
		fee += hop.Policy.Fee(amt)
	}

	return fee
}

// MinHTLC returns the smallest amount every hop of the path accepts.
func (p *Path) MinHTLC() uint64 {
	var minHTLC uint64
	for _, hop := range p.Hops {
		if hop.Policy.MinHTLC > minHTLC {
			minHTLC = hop.Policy.MinHTLC
		}
	}

	return minHTLC
}

// ExpiryDeltaAfter returns the expiry delta required by the forwarding nodes
// downstream of the given hop index.
func (p *Path) ExpiryDeltaAfter(hopIdx int) uint32 {
	var delta uint32
	for _, hop := range p.Hops[hopIdx+1:] {
		delta += uint32(hop.Policy.ExpiryDelta)
	}

	return delta
}

// String returns the channel sequence of the path.
func (p *Path) String() string {
	parts := make([]string, 0, len(p.Hops))
	for _, hop := range p.Hops {
		parts = append(parts, fmt.Sprintf("%x->%v->%x", hop.From[:3],
			hop.ChannelID, hop.To[:3]))
	}

	return fmt.Sprintf("[%s] bottleneck=%d fee=%d delta=%d",
		strings.Join(parts, " "), p.Bottleneck, p.TotalFee,
		p.TotalExpiryDelta)
}
