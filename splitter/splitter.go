package splitter

import (
	"errors"
	"fmt"
	"sort"

	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/pathfind"
)

// ErrZeroAmount is returned when asked to split nothing.
var ErrZeroAmount = errors.New("cannot split zero amount")

// Shard is a part of a payment assigned to exactly one path.
type Shard struct {
	// Path is the path the shard is routed over.
	Path *pathfind.Path

	// Amount is the part of the payment the shard carries.
	Amount uint64
}

// Split partitions amount across the candidate paths. Paths are filled in
// ascending fee order, each up to its bottleneck, until the amount is
// covered. A path whose part would fall below the shard floor or below the
// smallest HTLC one of its hops accepts is dropped, and its part flows to the
// next path with capacity left. If the amount can't be covered that way the
// split fails. The floor never exceeds the amount itself, so a small payment
// still fits in one shard.
func Split(amount uint64, paths []*pathfind.Path,
	minShardFloor uint64) ([]*Shard, error) {

	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if len(paths) == 0 {
		return nil, pathfind.ErrNoRouteFound
	}

	floor := minShardFloor
	if floor > amount {
		floor = amount
	}

	ordered := fn.CopySlice(paths)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TotalFee < ordered[j].TotalFee
	})

	dropped := fn.NewSet[*pathfind.Path]()
	for {
		shards, remaining := assign(amount, ordered, dropped)
		if remaining > 0 {
			return nil, fmt.Errorf("%w: %d of %d unassigned after "+
				"dropping %d micro-shard paths",
				pathfind.ErrInsufficientAggregateCapacity,
				remaining, amount, len(dropped))
		}

		micro := firstBelow(shards, floor)
		if micro == nil {
			log.Debugf("Split %d into %d shards", amount,
				len(shards))

			return shards, nil
		}

		log.Debugf("Dropping shard of %d below floor %d or min HTLC "+
			"%d on %v", micro.Amount, floor, micro.Path.MinHTLC(),
			micro.Path)

		dropped.Add(micro.Path)
	}
}

// assign fills the paths greedily and returns the shards and the amount that
// could not be placed.
func assign(amount uint64, paths []*pathfind.Path,
	dropped fn.Set[*pathfind.Path]) ([]*Shard, uint64) {

	var (
		shards    []*Shard
		remaining = amount
	)
	for _, path := range paths {
		if remaining == 0 {
			break
		}
		if dropped.Contains(path) || path.Bottleneck == 0 {
			continue
		}

		amt := path.Bottleneck
		if amt > remaining {
			amt = remaining
		}
		remaining -= amt

		shards = append(shards, &Shard{
			Path:   path,
			Amount: amt,
		})
	}

	return shards, remaining
}

// firstBelow returns the first shard smaller than floor or than the minimum
// HTLC of its path.
func firstBelow(shards []*Shard, floor uint64) *Shard {
	for _, s := range shards {
		if s.Amount < floor || s.Amount < s.Path.MinHTLC() {
			return s
		}
	}

	return nil
}

// Total returns the sum of the shard amounts.
func Total(shards []*Shard) uint64 {
	return fn.Reduce(shards, func(acc uint64, s *Shard) uint64 {
		return acc + s.Amount
	})
}
