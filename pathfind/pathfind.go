package pathfind

import (
	"errors"
	"fmt"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/routing/route"
)

var (
	// ErrNoRouteFound is returned when no path at all connects the source
	// and the destination for the requested dimension.
	ErrNoRouteFound = errors.New("no route found")

	// ErrInsufficientAggregateCapacity is returned when paths exist but
	// their combined capacity is below the requested amount.
	ErrInsufficientAggregateCapacity = errors.New("insufficient " +
		"aggregate capacity")

	// ErrInvalidRequest is returned for malformed path requests.
	ErrInvalidRequest = errors.New("invalid path request")
)

// Request describes a path search.
type Request struct {
	// Source is the sending node.
	Source route.Vertex

	// Dest is the receiving node.
	Dest route.Vertex

	// Chroma is the dimension of the payment. It must match the graph.
	Chroma chroma.Chroma

	// Amount is the total amount to route.
	Amount uint64

	// MaxPaths bounds the number of returned paths.
	MaxPaths int

	// Carrier is the base currency each asset HTLC locks on every hop.
	// Edges that cannot carry another HTLC are skipped.
	Carrier uint64

	// RiskFactor converts one block of expiry delta into weight units.
	RiskFactor uint64

	// Exclude lists channels that must not be used.
	Exclude fn.Set[lnwire.ShortChannelID]
}

// edgeKey identifies one direction of a channel.
type edgeKey struct {
	chanID lnwire.ShortChannelID
	from   route.Vertex
}

// residual is a capacity overlay on top of an immutable snapshot.
type residual struct {
	capacity map[edgeKey]uint64
	carrier  map[edgeKey]uint64
}

func (r *residual) capacityOf(e graph.Edge) uint64 {
	key := edgeKey{chanID: e.ChannelID, from: e.From}
	if c, ok := r.capacity[key]; ok {
		return c
	}

	return e.Capacity
}

func (r *residual) carrierOf(e graph.Edge) uint64 {
	key := edgeKey{chanID: e.ChannelID, from: e.From}
	if c, ok := r.carrier[key]; ok {
		return c
	}

	return e.CarrierCapacity
}

// deduct lowers the residual capacity of every hop of the path.
func (r *residual) deduct(p *Path, amt, carrier uint64) {
	for _, hop := range p.Hops {
		key := edgeKey{chanID: hop.ChannelID, from: hop.From}
		r.capacity[key] = r.capacityOf(hop) - amt

		if carrier == 0 {
			continue
		}
		c := r.carrierOf(hop)
		if c < carrier {
			c = carrier
		}
		r.carrier[key] = c - carrier
	}
}

// FindPaths returns up to MaxPaths candidate paths in the order they were
// found. Every search runs against the snapshot with the capacity assigned to
// earlier paths deducted, so later paths only use what is left. The snapshot
// itself is never modified.
func FindPaths(g *graph.Graph, req *Request) ([]*Path, error) {
	switch {
	case req.Amount == 0:
		return nil, fmt.Errorf("%w: zero amount", ErrInvalidRequest)

	case req.Source == req.Dest:
		return nil, fmt.Errorf("%w: source equals destination",
			ErrInvalidRequest)

	case g.Chroma() != req.Chroma:
		return nil, fmt.Errorf("%w: snapshot of %v used for %v",
			ErrInvalidRequest, g.Chroma().Short(),
			req.Chroma.Short())
	}

	maxPaths := req.MaxPaths
	if maxPaths <= 0 {
		maxPaths = 1
	}

	overlay := &residual{
		capacity: make(map[edgeKey]uint64),
		carrier:  make(map[edgeKey]uint64),
	}

	var (
		paths     []*Path
		aggregate uint64
	)
	for len(paths) < maxPaths {
		path := search(g, req, overlay)
		if path == nil {
			break
		}

		// The whole bottleneck is tentatively assigned to the path,
		// so the next search only sees the capacity that is left.
		amt := path.Bottleneck
		if amt > req.Amount {
			amt = req.Amount
		}
		path.TotalFee = path.FeeFor(amt)
		overlay.deduct(path, path.Bottleneck, req.Carrier)
		aggregate += path.Bottleneck

		log.Debugf("Found path %d for %d of %v: %v", len(paths),
			req.Amount, req.Chroma.Short(), path)

		paths = append(paths, path)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %x -> %x for %v", ErrNoRouteFound,
			req.Source[:], req.Dest[:], req.Chroma.Short())
	}

	if aggregate < req.Amount {
		return nil, fmt.Errorf("%w: %d paths carry %d, need %d",
			ErrInsufficientAggregateCapacity, len(paths), aggregate,
			req.Amount)
	}

	return paths, nil
}

// search runs a best-first search from the source to the destination over
// the residual capacity. The weight of a hop is the fee its forwarding node
// charges for the requested amount plus its expiry delta scaled by the risk
// factor. Edges of the source are free.
func search(g *graph.Graph, req *Request, overlay *residual) *Path {

	var (
		pq      queue.PriorityQueue
		settled = make(map[route.Vertex]struct{})
		best    = make(map[route.Vertex]*label)
	)

	start := &label{node: req.Source}
	best[req.Source] = start
	pq.Push(start)

	for !pq.Empty() {
		current := pq.Pop().(*label)
		if _, ok := settled[current.node]; ok {
			continue
		}
		settled[current.node] = struct{}{}

		if current.node == req.Dest {
			return newPath(current, overlay)
		}

		for _, e := range g.Outgoing(current.node) {
			if _, ok := settled[e.To]; ok {
				continue
			}
			if !usable(e, req, overlay) {
				continue
			}

			var (
				weight uint64
				delta  uint32
			)
			if e.From != req.Source {
				weight = e.Policy.Fee(req.Amount) +
					uint64(e.Policy.ExpiryDelta)*
						req.RiskFactor
				delta = uint32(e.Policy.ExpiryDelta)
			}

			next := current.extend(e, weight, delta)
			if known, ok := best[e.To]; ok &&
				known.compare(next) <= 0 {

				continue
			}
			best[e.To] = next
			pq.Push(next)
		}
	}

	return nil
}

// usable returns true if an edge may carry part of the payment.
func usable(e graph.Edge, req *Request, overlay *residual) bool {
	if req.Exclude != nil && req.Exclude.Contains(e.ChannelID) {
		return false
	}
	if e.Chroma != req.Chroma || e.Policy.Disabled {
		return false
	}

	capacity := overlay.capacityOf(e)
	if capacity == 0 || capacity < e.Policy.MinHTLC {
		return false
	}

	if req.Carrier > 0 && overlay.carrierOf(e) < req.Carrier {
		return false
	}

	return true
}

// newPath turns the label of the destination into a path.
func newPath(l *label, overlay *residual) *Path {
	path := &Path{
		Hops:             l.hops,
		TotalExpiryDelta: l.delta,
	}

	for i, hop := range l.hops {
		c := overlay.capacityOf(hop)
		if i == 0 || c < path.Bottleneck {
			path.Bottleneck = c
		}
	}

	return path
}
