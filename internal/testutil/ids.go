package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/grove/internal/ir"
)

// SequentialIDs hands out prefix-0001, prefix-0002, ... as node ids.
// A fresh generator per run makes repeated runs of a scenario build
// identical trees.
//
// Thread-safety: all methods are safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix becomes "n".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "n"
	}
	return &SequentialIDs{prefix: prefix}
}

// NewID implements engine.IDGenerator.
func (g *SequentialIDs) NewID() ir.NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return ir.NodeID(fmt.Sprintf("%s-%04d", g.prefix, g.n))
}
