package graph

import (
	"bytes"
	"sort"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// Edge is a read-only projection of one direction of a channel for a single
// dimension.
type Edge struct {
	// ChannelID is the channel the edge belongs to.
	ChannelID lnwire.ShortChannelID

	// From is the sending endpoint.
	From route.Vertex

	// To is the receiving endpoint.
	To route.Vertex

	// Chroma is the dimension of the edge.
	Chroma chroma.Chroma

	// Capacity is the amount From could send at snapshot time.
	Capacity uint64

	// CarrierCapacity is the base currency From could send at snapshot
	// time. It bounds the number of asset HTLCs on the edge.
	CarrierCapacity uint64

	// Policy is the forwarding policy of From for this edge.
	Policy Policy
}

// Graph is an immutable snapshot of the channels carrying one dimension.
type Graph struct {
	chroma  chroma.Chroma
	version uint64

	nodes []route.Vertex
	edges map[route.Vertex][]Edge
}

// Chroma returns the dimension of the snapshot.
func (g *Graph) Chroma() chroma.Chroma {
	return g.chroma
}

// Version returns the ledger version the snapshot was taken at.
func (g *Graph) Version() uint64 {
	return g.version
}

// Outgoing returns the edges leaving the given node, ordered by destination
// vertex and then channel ID. The returned slice must not be modified.
func (g *Graph) Outgoing(node route.Vertex) []Edge {
	return g.edges[node]
}

// Nodes returns all vertices with at least one edge, in ascending order.
func (g *Graph) Nodes() []route.Vertex {
	return g.nodes
}

// NumEdges returns the number of directed edges in the snapshot.
func (g *Graph) NumEdges() int {
	var n int
	for _, edges := range g.edges {
		n += len(edges)
	}

	return n
}

// Edge returns the edge of a channel leaving the given node.
func (g *Graph) Edge(id lnwire.ShortChannelID, from route.Vertex) (Edge,
	bool) {

	for _, e := range g.edges[from] {
		if e.ChannelID == id {
			return e, true
		}
	}

	return Edge{}, false
}

// newGraph builds a snapshot from a set of edges, sorting adjacency lists so
// that traversal order only depends on the edge set.
func newGraph(c chroma.Chroma, version uint64, edges []Edge) *Graph {
	g := &Graph{
		chroma:  c,
		version: version,
		edges:   make(map[route.Vertex][]Edge),
	}

	seen := make(map[route.Vertex]struct{})
	addNode := func(v route.Vertex) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		g.nodes = append(g.nodes, v)
	}

	for _, e := range edges {
		g.edges[e.From] = append(g.edges[e.From], e)
		addNode(e.From)
		addNode(e.To)
	}

	for _, adj := range g.edges {
		sort.Slice(adj, func(i, j int) bool {
			cmp := bytes.Compare(adj[i].To[:], adj[j].To[:])
			if cmp != 0 {
				return cmp < 0
			}

			return adj[i].ChannelID.ToUint64() <
				adj[j].ChannelID.ToUint64()
		})
	}

	sort.Slice(g.nodes, func(i, j int) bool {
		return bytes.Compare(g.nodes[i][:], g.nodes[j][:]) < 0
	})

	return g
}

// NewGraph builds a snapshot directly from a set of edges.
func NewGraph(c chroma.Chroma, edges []Edge) *Graph {
	return newGraph(c, 0, edges)
}
