package behavior

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCancelled is returned by Await for a cancelled resolution.
var ErrCancelled = errors.New("behavior cancelled")

// State is the lifecycle state of a Resolution.
type State int

const (
	Running State = iota
	Finished
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s != Running }

// Resolution is the observable outcome of one behavior run. Terminal states
// are sticky: the first transition out of Running wins and later events are
// dropped.
type Resolution struct {
	id ID

	mu        sync.Mutex
	state     State
	value     any
	err       error
	emitted   int
	done      chan struct{}
	onSuccess []func(any)
	onFailure []func(error)
	onCancel  []func()
	onEmit    []func(any)
}

func newResolution(id ID) *Resolution {
	return &Resolution{id: id, done: make(chan struct{})}
}

// Resolved returns a resolution already finished with value. Tests use it
// to stand in for a real run.
func Resolved(id ID, value any) *Resolution {
	r := newResolution(id)
	r.finish(value)
	return r
}

// ID returns the behavior id.
func (r *Resolution) ID() ID { return r.id }

// State returns the current state.
func (r *Resolution) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Value returns the finished value, or nil.
func (r *Resolution) Value() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Err returns the failure error, ErrCancelled, or nil.
func (r *Resolution) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Emitted returns how many stream values were delivered.
func (r *Resolution) Emitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitted
}

// Done is closed when the resolution reaches a terminal state.
func (r *Resolution) Done() <-chan struct{} { return r.done }

// Await blocks until the resolution is terminal or ctx is done.
func (r *Resolution) Await(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnSuccess registers fn for the finished value. If already finished, fn
// runs immediately.
func (r *Resolution) OnSuccess(fn func(any)) {
	r.mu.Lock()
	if r.state == Finished {
		v := r.value
		r.mu.Unlock()
		fn(v)
		return
	}
	r.onSuccess = append(r.onSuccess, fn)
	r.mu.Unlock()
}

// OnFailure registers fn for the failure error.
func (r *Resolution) OnFailure(fn func(error)) {
	r.mu.Lock()
	if r.state == Failed {
		err := r.err
		r.mu.Unlock()
		fn(err)
		return
	}
	r.onFailure = append(r.onFailure, fn)
	r.mu.Unlock()
}

// OnCancel registers fn for cancellation.
func (r *Resolution) OnCancel(fn func()) {
	r.mu.Lock()
	if r.state == Cancelled {
		r.mu.Unlock()
		fn()
		return
	}
	r.onCancel = append(r.onCancel, fn)
	r.mu.Unlock()
}

// OnEmit registers fn for each subsequent stream emission.
func (r *Resolution) OnEmit(fn func(any)) {
	r.mu.Lock()
	r.onEmit = append(r.onEmit, fn)
	r.mu.Unlock()
}

// emit delivers a stream value. Dropped once terminal.
func (r *Resolution) emit(v any) bool {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return false
	}
	r.emitted++
	fns := r.onEmit
	r.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
	return true
}

func (r *Resolution) finish(v any) bool {
	r.mu.Lock()
	if !r.settle(Finished) {
		r.mu.Unlock()
		return false
	}
	r.value = v
	fns := r.onSuccess
	r.clearCallbacks()
	r.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
	return true
}

func (r *Resolution) fail(err error) bool {
	r.mu.Lock()
	if !r.settle(Failed) {
		r.mu.Unlock()
		return false
	}
	r.err = err
	fns := r.onFailure
	r.clearCallbacks()
	r.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
	return true
}

func (r *Resolution) cancel() bool {
	r.mu.Lock()
	if !r.settle(Cancelled) {
		r.mu.Unlock()
		return false
	}
	r.err = ErrCancelled
	fns := r.onCancel
	r.clearCallbacks()
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return true
}

// settle moves to a terminal state. Caller holds mu.
func (r *Resolution) settle(to State) bool {
	if r.state.Terminal() {
		return false
	}
	r.state = to
	close(r.done)
	return true
}

func (r *Resolution) clearCallbacks() {
	r.onSuccess, r.onFailure, r.onCancel, r.onEmit = nil, nil, nil, nil
}
