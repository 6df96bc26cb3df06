package engine

import "github.com/roach88/grove/internal/ir"

// DefaultMaxEvaluations bounds how often one node may be evaluated within a
// single write before the write is treated as cyclic.
const DefaultMaxEvaluations = 16

// evalGuard counts evaluations per node for one write.
//
// A node re-marked dirty by its own effects, or by a neighbour it in turn
// invalidates, keeps re-entering the settle loop. The guard turns that
// into a CYCLE_DETECTED error instead of a livelock.
type evalGuard struct {
	limit  int
	counts map[ir.NodeID]int
}

func newEvalGuard(limit int) *evalGuard {
	if limit <= 0 {
		limit = DefaultMaxEvaluations
	}
	return &evalGuard{limit: limit, counts: make(map[ir.NodeID]int)}
}

// Record counts one evaluation of id. Returns a cycle error once the count
// exceeds the limit.
func (g *evalGuard) Record(id ir.NodeID) error {
	g.counts[id]++
	if n := g.counts[id]; n > g.limit {
		return NewCycleError(id, n, g.limit)
	}
	return nil
}

// Count returns how many times id has been evaluated.
func (g *evalGuard) Count(id ir.NodeID) int {
	return g.counts[id]
}

// Total returns the number of evaluations recorded.
func (g *evalGuard) Total() int {
	n := 0
	for _, c := range g.counts {
		n += c
	}
	return n
}
