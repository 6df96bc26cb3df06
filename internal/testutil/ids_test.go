package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/engine"
	"github.com/roach88/grove/internal/ir"
)

var _ engine.IDGenerator = (*SequentialIDs)(nil)

func TestSequentialIDs_Sequence(t *testing.T) {
	ids := NewSequentialIDs("card")

	assert.Equal(t, ir.NodeID("card-0001"), ids.NewID())
	assert.Equal(t, ir.NodeID("card-0002"), ids.NewID())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, ir.NodeID("n-0001"), ids.NewID())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	ids := NewSequentialIDs("n")
	const workers = 20
	const perWorker = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[ir.NodeID]bool)
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := ids.NewID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
	assert.Equal(t, ir.NodeID("n-1001"), ids.NewID())
}
