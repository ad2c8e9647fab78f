package pathfind

import (
	"testing"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	alice = route.Vertex{0x02, 0x01}
	bob   = route.Vertex{0x02, 0x02}
	carol = route.Vertex{0x02, 0x03}
	dan   = route.Vertex{0x02, 0x04}
	eve   = route.Vertex{0x02, 0x05}

	assetX = chroma.Chroma{0xaa}

	testPolicy = graph.Policy{
		BaseFee:     1,
		FeeRate:     1000,
		ExpiryDelta: 40,
	}
)

func scid(n uint32) lnwire.ShortChannelID {
	return lnwire.ShortChannelID{BlockHeight: 100, TxIndex: n}
}

func edge(id uint32, from, to route.Vertex, capacity uint64) graph.Edge {
	return graph.Edge{
		ChannelID:       scid(id),
		From:            from,
		To:              to,
		Chroma:          assetX,
		Capacity:        capacity,
		CarrierCapacity: 10_000,
		Policy:          testPolicy,
	}
}

// diamond is the Alice-Bob-Dan / Alice-Carol-Dan topology.
func diamond(capacity uint64) *graph.Graph {
	return graph.NewGraph(assetX, []graph.Edge{
		edge(1, alice, bob, capacity),
		edge(2, bob, dan, capacity),
		edge(3, alice, carol, capacity),
		edge(4, carol, dan, capacity),
	})
}

func request(amt uint64) *Request {
	return &Request{
		Source:     alice,
		Dest:       dan,
		Chroma:     assetX,
		Amount:     amt,
		MaxPaths:   4,
		RiskFactor: 1,
	}
}

func nodesOf(p *Path) []route.Vertex {
	return p.Nodes()
}

// TestSinglePath checks a direct channel.
func TestSinglePath(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph(assetX, []graph.Edge{
		edge(1, alice, dan, 5000),
	})

	paths, err := FindPaths(g, request(3000))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, uint64(5000), paths[0].Bottleneck)
	require.Zero(t, paths[0].TotalFee)
	require.Zero(t, paths[0].TotalExpiryDelta)
	require.Equal(t, []route.Vertex{alice, dan}, nodesOf(paths[0]))
}

// TestDiamondPaths checks the residual overlay and the tie-break rule on
// two symmetric paths.
func TestDiamondPaths(t *testing.T) {
	t.Parallel()

	paths, err := FindPaths(diamond(3000), request(4000))
	require.NoError(t, err)
	require.Len(t, paths, 2)

	// Equal weight and delta: the smaller hop sequence goes first.
	require.Equal(t, []route.Vertex{alice, bob, dan}, nodesOf(paths[0]))
	require.Equal(t, []route.Vertex{alice, carol, dan}, nodesOf(paths[1]))

	require.Equal(t, uint64(3000), paths[0].Bottleneck)
	require.Equal(t, uint64(3000), paths[1].Bottleneck)

	require.Equal(t, testPolicy.Fee(3000), paths[0].TotalFee)
	require.Equal(t, testPolicy.Fee(3000), paths[1].TotalFee)
	require.Equal(t, uint32(40), paths[0].TotalExpiryDelta)
}

// TestInsufficientAggregate checks the error when paths exist but cannot
// carry the amount together.
func TestInsufficientAggregate(t *testing.T) {
	t.Parallel()

	_, err := FindPaths(diamond(3000), request(7000))
	require.ErrorIs(t, err, ErrInsufficientAggregateCapacity)

	req := request(4000)
	req.MaxPaths = 1
	_, err = FindPaths(diamond(3000), req)
	require.ErrorIs(t, err, ErrInsufficientAggregateCapacity)
}

// TestNoRoute checks disconnected and excluded graphs.
func TestNoRoute(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph(assetX, []graph.Edge{
		edge(1, alice, bob, 3000),
		edge(2, carol, dan, 3000),
	})
	_, err := FindPaths(g, request(1))
	require.ErrorIs(t, err, ErrNoRouteFound)

	req := request(1)
	req.Exclude = fn.NewSet(scid(2), scid(4))
	_, err = FindPaths(diamond(3000), req)
	require.ErrorIs(t, err, ErrNoRouteFound)

	req = request(1)
	req.Exclude = fn.NewSet(scid(2))
	paths, err := FindPaths(diamond(3000), req)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, []route.Vertex{alice, carol, dan}, nodesOf(paths[0]))
}

// TestInvalidRequest checks request validation.
func TestInvalidRequest(t *testing.T) {
	t.Parallel()

	_, err := FindPaths(diamond(3000), request(0))
	require.ErrorIs(t, err, ErrInvalidRequest)

	req := request(10)
	req.Dest = alice
	_, err = FindPaths(diamond(3000), req)
	require.ErrorIs(t, err, ErrInvalidRequest)

	req = request(10)
	req.Chroma = chroma.None
	_, err = FindPaths(diamond(3000), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

// TestCheaperPathFirst checks that fees and expiry deltas drive the order.
func TestCheaperPathFirst(t *testing.T) {
	t.Parallel()

	expensive := edge(2, bob, dan, 3000)
	expensive.Policy.BaseFee = 100

	slow := edge(4, carol, dan, 3000)
	slow.Policy.ExpiryDelta = 144

	g := graph.NewGraph(assetX, []graph.Edge{
		edge(1, alice, bob, 3000),
		expensive,
		edge(3, alice, carol, 3000),
		slow,
	})

	// Without a risk factor the fee decides.
	req := request(1000)
	req.MaxPaths = 1
	req.RiskFactor = 0
	paths, err := FindPaths(g, req)
	require.NoError(t, err)
	require.Equal(t, []route.Vertex{alice, carol, dan}, nodesOf(paths[0]))

	// With a high risk factor the delta dominates.
	req.RiskFactor = 10
	paths, err = FindPaths(g, req)
	require.NoError(t, err)
	require.Equal(t, []route.Vertex{alice, bob, dan}, nodesOf(paths[0]))
}

// TestDeltaTieBreak checks that equal weights are broken by total expiry
// delta before the hop sequence.
func TestDeltaTieBreak(t *testing.T) {
	t.Parallel()

	// Bob's hop is cheaper in fee by exactly the weight its larger delta
	// adds, so both paths weigh the same.
	viaBob := edge(2, bob, dan, 3000)
	viaBob.Policy.ExpiryDelta = 50
	viaBob.Policy.BaseFee = 1

	viaCarol := edge(4, carol, dan, 3000)
	viaCarol.Policy.ExpiryDelta = 40
	viaCarol.Policy.BaseFee = 11

	g := graph.NewGraph(assetX, []graph.Edge{
		edge(1, alice, bob, 3000),
		viaBob,
		edge(3, alice, carol, 3000),
		viaCarol,
	})

	req := request(1000)
	req.MaxPaths = 1
	paths, err := FindPaths(g, req)
	require.NoError(t, err)
	require.Equal(t, []route.Vertex{alice, carol, dan}, nodesOf(paths[0]))
}

// TestCarrierConstraint checks that asset edges without base currency to
// carry an HTLC are skipped.
func TestCarrierConstraint(t *testing.T) {
	t.Parallel()

	starved := edge(2, bob, dan, 3000)
	starved.CarrierCapacity = 100

	g := graph.NewGraph(assetX, []graph.Edge{
		edge(1, alice, bob, 3000),
		starved,
		edge(3, alice, carol, 3000),
		edge(4, carol, dan, 3000),
	})

	req := request(1000)
	req.Carrier = 354
	paths, err := FindPaths(g, req)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, []route.Vertex{alice, carol, dan}, nodesOf(paths[0]))
}

// TestSnapshotUntouched makes sure the search never writes to the graph.
func TestSnapshotUntouched(t *testing.T) {
	t.Parallel()

	g := diamond(3000)
	_, err := FindPaths(g, request(6000))
	require.NoError(t, err)

	for _, node := range g.Nodes() {
		for _, e := range g.Outgoing(node) {
			require.Equal(t, uint64(3000), e.Capacity)
		}
	}
}

// TestFindPathsProperties checks determinism, simple paths and capacity
// bounds on random graphs.
func TestFindPathsProperties(t *testing.T) {
	t.Parallel()

	nodes := []route.Vertex{alice, bob, carol, dan, eve}

	rapid.Check(t, func(t *rapid.T) {
		numEdges := rapid.IntRange(1, 12).Draw(t, "numEdges")

		var edges []graph.Edge
		for i := 0; i < numEdges; i++ {
			from := rapid.IntRange(0, 4).Draw(t, "from")
			to := rapid.IntRange(0, 4).Draw(t, "to")
			if from == to {
				continue
			}

			e := edge(
				uint32(i+1), nodes[from], nodes[to],
				rapid.Uint64Range(1, 5000).Draw(t, "cap"),
			)
			e.Policy.BaseFee = rapid.Uint64Range(0, 20).Draw(
				t, "fee",
			)
			edges = append(edges, e)
		}

		g := graph.NewGraph(assetX, edges)
		req := request(rapid.Uint64Range(1, 8000).Draw(t, "amt"))

		first, err1 := FindPaths(g, req)
		second, err2 := FindPaths(g, req)
		require.Equal(t, err1, err2)
		require.Equal(t, first, second)

		if err1 != nil {
			return
		}

		var aggregate uint64
		for _, p := range first {
			seen := make(map[route.Vertex]struct{})
			for _, n := range p.Nodes() {
				_, dup := seen[n]
				require.False(t, dup, "repeated node")
				seen[n] = struct{}{}
			}

			require.Equal(t, alice, p.Source())
			require.Equal(t, dan, p.Dest())

			for _, hop := range p.Hops {
				require.LessOrEqual(t, p.Bottleneck,
					hop.Capacity)
			}
			aggregate += p.Bottleneck
		}
		require.GreaterOrEqual(t, aggregate, req.Amount)
	})
}
