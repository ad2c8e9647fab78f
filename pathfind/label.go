package pathfind

import (
	"bytes"

	"github.com/akitamiabtc/yuvln/graph"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/routing/route"
)

// label is a tentative path from the source to node. Labels are ordered by
// weight, then total expiry delta, then lexicographically by hop sequence.
type label struct {
	node   route.Vertex
	weight uint64
	delta  uint32
	hops   []graph.Edge
}

// A compile-time assertion to make sure label satisfies the
// queue.PriorityQueueItem interface.
var _ queue.PriorityQueueItem = (*label)(nil)

// Less returns true if the label sorts before the other one.
//
// NOTE: This is part of the queue.PriorityQueueItem interface.
func (l *label) Less(other queue.PriorityQueueItem) bool {
	return l.compare(other.(*label)) < 0
}

// compare orders two labels.
func (l *label) compare(o *label) int {
	switch {
	case l.weight != o.weight:
		if l.weight < o.weight {
			return -1
		}
		return 1

	case l.delta != o.delta:
		if l.delta < o.delta {
			return -1
		}
		return 1
	}

	return compareHops(l.hops, o.hops)
}

// compareHops orders two hop sequences by the visited nodes and then by the
// channels used to reach them.
func compareHops(a, b []graph.Edge) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if cmp := bytes.Compare(a[i].To[:], b[i].To[:]); cmp != 0 {
			return cmp
		}

		ai, bi := a[i].ChannelID.ToUint64(), b[i].ChannelID.ToUint64()
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// extend returns a new label for the path of l followed by e.
func (l *label) extend(e graph.Edge, weight uint64, delta uint32) *label {
	hops := make([]graph.Edge, len(l.hops), len(l.hops)+1)
	copy(hops, l.hops)

	return &label{
		node:   e.To,
		weight: l.weight + weight,
		delta:  l.delta + delta,
		hops:   append(hops, e),
	}
}
