package splitter

import (
	"testing"

	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/pathfind"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func path(bottleneck, fee uint64) *pathfind.Path {
	return &pathfind.Path{
		Bottleneck: bottleneck,
		TotalFee:   fee,
	}
}

func pathWithMinHTLC(bottleneck, fee, minHTLC uint64) *pathfind.Path {
	p := path(bottleneck, fee)
	p.Hops = []graph.Edge{
		{Policy: graph.Policy{}},
		{Policy: graph.Policy{MinHTLC: minHTLC}},
	}

	return p
}

func amounts(shards []*Shard) []uint64 {
	out := make([]uint64, len(shards))
	for i, s := range shards {
		out[i] = s.Amount
	}

	return out
}

func TestSplit(t *testing.T) {
	t.Parallel()

	cheap := path(3000, 1)
	pricey := path(3000, 5)
	tiny := path(40, 0)
	big := path(5000, 5)
	strict := pathWithMinHTLC(3000, 2, 1000)

	testCases := []struct {
		name        string
		amount      uint64
		paths       []*pathfind.Path
		floor       uint64
		expected    []uint64
		expectedErr error
	}{{
		name:     "single path",
		amount:   3000,
		paths:    []*pathfind.Path{path(5000, 0)},
		floor:    100,
		expected: []uint64{3000},
	}, {
		name:     "two paths fill in fee order",
		amount:   4000,
		paths:    []*pathfind.Path{pricey, cheap},
		floor:    100,
		expected: []uint64{3000, 1000},
	}, {
		name:        "short aggregate",
		amount:      7000,
		paths:       []*pathfind.Path{cheap, pricey},
		floor:       100,
		expectedErr: pathfind.ErrInsufficientAggregateCapacity,
	}, {
		name:     "micro shard redistributed",
		amount:   3000,
		paths:    []*pathfind.Path{tiny, cheap},
		floor:    100,
		expected: []uint64{3000},
	}, {
		name:        "trailing micro shard fails split",
		amount:      3050,
		paths:       []*pathfind.Path{cheap, tiny, big},
		floor:       100,
		expectedErr: pathfind.ErrInsufficientAggregateCapacity,
	}, {
		name:        "earlier shards keep their amount",
		amount:      3200,
		paths:       []*pathfind.Path{path(3000, 1), path(3000, 2)},
		floor:       500,
		expectedErr: pathfind.ErrInsufficientAggregateCapacity,
	}, {
		name:     "part below min htlc moves on",
		amount:   3500,
		paths:    []*pathfind.Path{cheap, strict, big},
		floor:    100,
		expected: []uint64{3000, 500},
	}, {
		name:        "part below min htlc without alternative",
		amount:      3500,
		paths:       []*pathfind.Path{cheap, strict},
		floor:       100,
		expectedErr: pathfind.ErrInsufficientAggregateCapacity,
	}, {
		name:     "floor capped at amount",
		amount:   20,
		paths:    []*pathfind.Path{tiny},
		floor:    100,
		expected: []uint64{20},
	}, {
		name:        "micro shard drop leaves shortfall",
		amount:      3020,
		paths:       []*pathfind.Path{cheap, tiny},
		floor:       100,
		expectedErr: pathfind.ErrInsufficientAggregateCapacity,
	}, {
		name:        "no paths",
		amount:      10,
		floor:       1,
		expectedErr: pathfind.ErrNoRouteFound,
	}, {
		name:        "zero amount",
		paths:       []*pathfind.Path{cheap},
		expectedErr: ErrZeroAmount,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			shards, err := Split(tc.amount, tc.paths, tc.floor)
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, amounts(shards))
			require.Equal(t, tc.amount, Total(shards))
		})
	}
}

// TestSplitStableOrder makes sure equal fee paths keep the finder order.
func TestSplitStableOrder(t *testing.T) {
	t.Parallel()

	first := path(3000, 2)
	second := path(3000, 2)

	shards, err := Split(4000, []*pathfind.Path{first, second}, 1)
	require.NoError(t, err)
	require.Len(t, shards, 2)
	require.Same(t, first, shards[0].Path)
	require.Equal(t, uint64(3000), shards[0].Amount)
	require.Same(t, second, shards[1].Path)
	require.Equal(t, uint64(1000), shards[1].Amount)
}

// TestSplitProperties checks the split invariants on random inputs.
func TestSplitProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "numPaths")

		var (
			paths     []*pathfind.Path
			aggregate uint64
		)
		for i := 0; i < n; i++ {
			p := path(
				rapid.Uint64Range(1, 5000).Draw(t, "bottleneck"),
				rapid.Uint64Range(0, 10).Draw(t, "fee"),
			)
			aggregate += p.Bottleneck
			paths = append(paths, p)
		}

		amount := rapid.Uint64Range(1, 20_000).Draw(t, "amount")
		floor := rapid.Uint64Range(0, 500).Draw(t, "floor")

		shards, err := Split(amount, paths, floor)
		if amount > aggregate {
			require.ErrorIs(
				t, err,
				pathfind.ErrInsufficientAggregateCapacity,
			)
			return
		}
		if err != nil {
			require.ErrorIs(
				t, err,
				pathfind.ErrInsufficientAggregateCapacity,
			)
			return
		}

		require.NotEmpty(t, shards)
		require.Equal(t, amount, Total(shards))

		effFloor := floor
		if effFloor > amount {
			effFloor = amount
		}

		used := make(map[*pathfind.Path]struct{})
		for _, s := range shards {
			require.LessOrEqual(t, s.Amount, s.Path.Bottleneck)
			require.GreaterOrEqual(t, s.Amount, effFloor)
			require.GreaterOrEqual(t, s.Amount, s.Path.MinHTLC())

			_, dup := used[s.Path]
			require.False(t, dup)
			used[s.Path] = struct{}{}
		}
	})
}
