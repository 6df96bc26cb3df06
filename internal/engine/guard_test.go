package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/ir"
)

// =============================================================================
// Evaluation guard
// =============================================================================

func TestEvalGuard_DefaultLimit(t *testing.T) {
	g := newEvalGuard(0)
	assert.Equal(t, DefaultMaxEvaluations, g.limit)
}

func TestEvalGuard_AllowsUpToLimit(t *testing.T) {
	g := newEvalGuard(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Record("a"))
	}
	err := g.Record("a")
	require.Error(t, err)
	assert.True(t, IsCycleError(err))
	assert.Equal(t, 4, g.Count("a"))
}

func TestEvalGuard_CountsPerNode(t *testing.T) {
	g := newEvalGuard(1)

	require.NoError(t, g.Record("a"))
	require.NoError(t, g.Record("b"))
	assert.Equal(t, 2, g.Total())
}

// =============================================================================
// Error helpers
// =============================================================================

func TestNewCycleError(t *testing.T) {
	err := NewCycleError("n-1", 17, 16)

	assert.Equal(t, ErrCodeCycleDetected, err.Code)
	assert.Equal(t, ir.NodeID("n-1"), err.Node)
	assert.Equal(t, "16", err.Details["limit"])
	assert.Contains(t, err.Error(), "CYCLE_DETECTED")
	assert.Contains(t, err.Error(), "node=n-1")
}

func TestIsCycleError(t *testing.T) {
	assert.True(t, IsCycleError(NewCycleError("a", 2, 1)))
	assert.True(t, IsCycleError(fmt.Errorf("wrapped: %w", NewCycleError("a", 2, 1))))
	assert.False(t, IsCycleError(errors.New("other")))
	assert.False(t, IsCycleError(nil))
}

func TestLifecycleErrors(t *testing.T) {
	wrapped := fmt.Errorf("%w: runtime stopped", ErrInactive)

	assert.ErrorIs(t, wrapped, ErrInactive)
	assert.True(t, IsLifecycleError(wrapped))
	assert.True(t, IsLifecycleError(ErrReentrantWrite))
	assert.False(t, IsLifecycleError(NewCycleError("a", 2, 1)))
	assert.True(t, IsConsistencyError(NewCycleError("a", 2, 1)))
}

func TestHandlerErrorKeepsRuntimeCodes(t *testing.T) {
	cause := errors.New("boom")
	err := handlerError("a", "update", cause)

	assert.ErrorIs(t, err, cause)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeHandler, re.Code)

	cyc := NewCycleError("a", 2, 1)
	assert.Same(t, cyc, handlerError("a", "update", cyc))
}
