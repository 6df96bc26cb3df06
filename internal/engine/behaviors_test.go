package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/behavior"
	"github.com/roach88/grove/internal/ir"
)

// tracker lets a test observe behaviors started by fetchNode.
type tracker struct {
	started  chan struct{}
	handles  chan *behavior.Handle
	cancels  atomic.Int32
	failures atomic.Int32
	result   any
	err      error
	block    bool
}

func newTracker() *tracker {
	return &tracker{
		started: make(chan struct{}, 8),
		handles: make(chan *behavior.Handle, 8),
	}
}

// fetchNode starts one async behavior when attached and stores the result.
type fetchNode struct {
	p *tracker
}

func (fetchNode) Schema() Schema {
	return Schema{
		Type: "fetch",
		Values: []ValueSpec{
			Value("result", ir.IRNull{}),
			Value("error", ir.IRString("")),
		},
	}
}

func (n fetchNode) Rules(c *Context) {
	p := n.p
	c.OnStart("load", func(tx *Tx) error {
		h := tx.Run(behavior.Async("load", func(ctx context.Context, _ any) (any, error) {
			p.started <- struct{}{}
			if p.block {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return p.result, p.err
		}), nil, Observer{
			OnSuccess: func(tx *Tx, v any) error {
				iv, err := ir.FromGo(v)
				if err != nil {
					return err
				}
				return tx.Set("result", iv)
			},
			OnFailure: func(tx *Tx, err error) error {
				p.failures.Add(1)
				return tx.Set("error", ir.IRString(err.Error()))
			},
			OnCancel: func(*Tx) error {
				p.cancels.Add(1)
				return nil
			},
		})
		p.handles <- h
		return nil
	})
}

func waitStarted(t *testing.T, p *tracker) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("behavior did not start")
	}
}

func TestBehavior_SuccessWritesState(t *testing.T) {
	p := newTracker()
	p.result = 42
	rt, _ := startRuntime(t, showNode{Child: fetchNode{p: p}})

	require.NoError(t, rt.Idle(testContext(t)))

	assert.Equal(t, ir.IRInt(42), readValue(t, rt, "n-0001", "result"))
}

func TestBehavior_FailureObserved(t *testing.T) {
	p := newTracker()
	p.err = errors.New("offline")
	rt, _ := startRuntime(t, showNode{Child: fetchNode{p: p}})

	require.NoError(t, rt.Idle(testContext(t)))

	assert.Equal(t, int32(1), p.failures.Load())
	assert.Equal(t, ir.IRString("offline"), readValue(t, rt, "n-0001", "error"))
}

func TestBehavior_CancelledWhenNodeDetached(t *testing.T) {
	p := newTracker()
	p.block = true
	rt, _ := startRuntime(t, showNode{Child: fetchNode{p: p}})
	waitStarted(t, p)
	h := <-p.handles

	setRoot(t, rt, "show", ir.IRBool(false))

	assert.Equal(t, behavior.Cancelled, h.Resolution().State(), "cancelled before the write returns")
	require.NoError(t, rt.Idle(testContext(t)))
	assert.Equal(t, int32(0), p.cancels.Load(), "detached node observes nothing")
}

func TestBehavior_ExplicitCancelDeliversOnCancel(t *testing.T) {
	p := newTracker()
	p.block = true
	rt, _ := startRuntime(t, showNode{Child: fetchNode{p: p}})
	waitStarted(t, p)
	h := <-p.handles

	h.Cancel()
	require.NoError(t, rt.Idle(testContext(t)))

	assert.Equal(t, int32(1), p.cancels.Load())
}

func TestBehavior_NotStartedWhenWriteRollsBack(t *testing.T) {
	rt, _ := startRuntime(t, counterNode{})
	var ran atomic.Bool
	var h *behavior.Handle

	err := rt.Update(testContext(t), func(tx *Tx) error {
		h = tx.Run(behavior.Sync("never", func(context.Context, any) (any, error) {
			ran.Store(true)
			return nil, nil
		}), nil, Observer{})
		return errors.New("abort")
	})
	require.Error(t, err)
	require.NoError(t, rt.Idle(testContext(t)))

	assert.False(t, ran.Load())
	assert.Equal(t, behavior.Cancelled, h.Resolution().State())
}

func TestBehavior_SyncResultApplied(t *testing.T) {
	rt, _ := startRuntime(t, counterNode{})

	require.NoError(t, rt.Update(testContext(t), func(tx *Tx) error {
		tx.Run(behavior.Sync("double", func(_ context.Context, in any) (any, error) {
			return in.(int) * 2, nil
		}), 3, Observer{
			OnSuccess: func(tx *Tx, v any) error {
				return tx.Set("count", ir.IRInt(v.(int)))
			},
		})
		return nil
	}))

	require.NoError(t, rt.Idle(testContext(t)))
	assert.Equal(t, ir.IRInt(6), readValue(t, rt, ir.RootID, "count"))
	assert.Equal(t, 2, rt.NodeCount())
}

func TestBehavior_StreamEmitsInOrder(t *testing.T) {
	rt, _ := startRuntime(t, listNode{})

	require.NoError(t, rt.Update(testContext(t), func(tx *Tx) error {
		tx.Run(behavior.Stream("ticks", func(_ context.Context, _ any, emit func(any)) error {
			for _, k := range []string{"a", "b", "c"} {
				emit(k)
			}
			return nil
		}), nil, Observer{
			OnEmit: func(tx *Tx, v any) error {
				cur, _ := tx.Get("keys").(ir.IRArray)
				next := append(ir.IRArray{}, cur...)
				return tx.Set("keys", append(next, ir.IRString(v.(string))))
			},
		})
		return nil
	}))
	require.NoError(t, rt.Idle(testContext(t)))

	assert.Equal(t, []ir.NodeID{itemID("a"), itemID("b"), itemID("c")}, children(t, rt, ir.RootID, "items"))
}

func TestBehavior_InterceptReplacesBody(t *testing.T) {
	p := newTracker()
	p.result = 1
	rt, _ := newTestRuntime(t)
	rt.Behaviors().Intercept("load", behavior.Sync("load", func(context.Context, any) (any, error) {
		return 99, nil
	}))
	require.NoError(t, rt.Start(testContext(t), showNode{Child: fetchNode{p: p}}))
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })

	require.NoError(t, rt.Idle(testContext(t)))
	assert.Equal(t, ir.IRInt(99), readValue(t, rt, "n-0001", "result"))
}

func TestBehavior_OutcomeAfterStopDropped(t *testing.T) {
	p := newTracker()
	p.block = true
	rt, _ := newTestRuntime(t)
	require.NoError(t, rt.Start(testContext(t), showNode{Child: fetchNode{p: p}}))
	waitStarted(t, p)
	h := <-p.handles

	require.NoError(t, rt.Stop(testContext(t)))

	assert.Equal(t, behavior.Cancelled, h.Resolution().State())
	assert.Equal(t, int32(0), p.cancels.Load())
	assert.ErrorIs(t, rt.Idle(testContext(t)), ErrInactive)
}

// fetchListNode shows one fetchNode per key, each with its own tracker.
type fetchListNode struct {
	trackers map[string]*tracker
}

func (fetchListNode) Schema() Schema {
	return Schema{
		Type:   "fetchlist",
		Values: []ValueSpec{Value("keys", keys("a", "b"))},
		Routes: []RouteSpec{Route("items", ir.RouteList)},
	}
}

func (n fetchListNode) Rules(c *Context) {
	ks, _ := c.Get("keys").(ir.IRArray)
	items := make([]Child, 0, len(ks))
	for _, k := range ks {
		key := string(k.(ir.IRString))
		items = append(items, Keyed(key, fetchNode{p: n.trackers[key]}))
	}
	c.List("items", items...)
}

func TestBehavior_CancelledWhenListKeyRemoved(t *testing.T) {
	a, b := newTracker(), newTracker()
	a.block, b.block = true, true
	rt, _ := startRuntime(t, fetchListNode{trackers: map[string]*tracker{"a": a, "b": b}})
	waitStarted(t, a)
	waitStarted(t, b)
	ha, hb := <-a.handles, <-b.handles

	setRoot(t, rt, "keys", keys("b"))

	assert.Equal(t, behavior.Cancelled, ha.Resolution().State(), "removed key cancels its behavior")
	assert.ErrorIs(t, ha.Resolution().Err(), behavior.ErrCancelled)
	assert.Equal(t, behavior.Running, hb.Resolution().State(), "surviving key keeps running")
	assert.Equal(t, int32(0), a.cancels.Load(), "detached node observes nothing")

	hb.Cancel()
	require.NoError(t, rt.Idle(testContext(t)))
	assert.Equal(t, int32(1), b.cancels.Load())
}
