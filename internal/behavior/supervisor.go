package behavior

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher re-serializes behavior events onto the tree's single writer.
// Dispatch returns false once the writer has shut down.
type Dispatcher interface {
	Dispatch(event func()) bool
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(event func()) bool

// Dispatch calls f(event).
func (f DispatchFunc) Dispatch(event func()) bool { return f(event) }

// Inline dispatches events on the calling goroutine. Useful when no
// runtime is involved, as in unit tests of behaviors themselves.
var Inline Dispatcher = DispatchFunc(func(event func()) bool {
	event()
	return true
})

// Observer receives a run's events on the dispatcher's context.
// Any field may be nil.
type Observer struct {
	OnSuccess func(value any)
	OnFailure func(err error)
	OnCancel  func()
	OnEmit    func(value any)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTracking retains every resolution so AwaitAll can wait on them.
func WithTracking(enabled bool) Option {
	return func(s *Supervisor) {
		s.tracking = enabled
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// Supervisor starts, intercepts and cancels behavior runs grouped by owner.
//
// Thread-safety: all methods are safe for concurrent use. Start, Cancel and
// CancelOwner are expected on the tree's writer; workers only call Dispatch.
type Supervisor struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	mu         sync.Mutex
	intercepts map[ID]Behavior
	owners     map[string]map[*Handle]struct{}
	tracking   bool
	tracked    []*Resolution
}

// NewSupervisor creates a supervisor delivering events through d.
func NewSupervisor(d Dispatcher, opts ...Option) *Supervisor {
	s := &Supervisor{
		dispatcher: d,
		logger:     slog.Default(),
		intercepts: make(map[ID]Behavior),
		owners:     make(map[string]map[*Handle]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Intercept substitutes replacement for every later run of id. The
// replacement keeps the original id.
func (s *Supervisor) Intercept(id ID, replacement Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replacement.ID = id
	s.intercepts[id] = replacement
}

// ClearIntercepts removes all substitutions.
func (s *Supervisor) ClearIntercepts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercepts = make(map[ID]Behavior)
}

// SetTracking toggles tracking mode. Disabling drops retained resolutions.
func (s *Supervisor) SetTracking(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking = enabled
	if !enabled {
		s.tracked = nil
	}
}

// Tracked returns the resolutions retained in tracking mode.
func (s *Supervisor) Tracked() []*Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Resolution(nil), s.tracked...)
}

// AwaitAll blocks until every tracked resolution is terminal. Resolutions
// created while waiting are included.
func (s *Supervisor) AwaitAll(ctx context.Context) error {
	waited := 0
	for {
		s.mu.Lock()
		pending := append([]*Resolution(nil), s.tracked[waited:]...)
		s.mu.Unlock()
		if len(pending) == 0 {
			return nil
		}
		for _, r := range pending {
			select {
			case <-r.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		waited += len(pending)
	}
}

// Prepare creates a handle for b owned by owner without starting it. A
// prepared handle that is cancelled before Start never runs.
func (s *Supervisor) Prepare(owner string, b Behavior, input any, obs Observer) *Handle {
	s.mu.Lock()
	if repl, ok := s.intercepts[b.ID]; ok {
		b = repl
	}
	h := &Handle{
		sup:      s,
		owner:    owner,
		behavior: b,
		input:    input,
		obs:      obs,
		res:      newResolution(b.ID),
	}
	if s.tracking {
		s.tracked = append(s.tracked, h.res)
	}
	set := s.owners[owner]
	if set == nil {
		set = make(map[*Handle]struct{})
		s.owners[owner] = set
	}
	set[h] = struct{}{}
	s.mu.Unlock()
	return h
}

// Run prepares and starts b in one step.
func (s *Supervisor) Run(owner string, b Behavior, input any, obs Observer) *Resolution {
	h := s.Prepare(owner, b, input, obs)
	h.Start()
	return h.Resolution()
}

// CancelOwner cancels every live handle owned by owner and returns how many
// were cancelled.
func (s *Supervisor) CancelOwner(owner string) int {
	s.mu.Lock()
	set := s.owners[owner]
	delete(s.owners, owner)
	s.mu.Unlock()

	n := 0
	for h := range set {
		if h.cancel() {
			n++
		}
	}
	return n
}

// Active returns the number of handles not yet terminal.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.owners {
		n += len(set)
	}
	return n
}

func (s *Supervisor) release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.owners[h.owner]; set != nil {
		delete(set, h)
		if len(set) == 0 {
			delete(s.owners, h.owner)
		}
	}
}

// dispatch sends an event to the writer. When the writer is gone the event
// still settles the resolution so awaiting callers are released.
func (s *Supervisor) dispatch(h *Handle, event func()) {
	if s.dispatcher.Dispatch(event) {
		return
	}
	s.logger.Debug("behavior event after shutdown", "behavior", h.behavior.ID, "owner", h.owner)
	h.res.cancel()
	s.release(h)
}

// Handle is one prepared or running behavior.
type Handle struct {
	sup      *Supervisor
	owner    string
	behavior Behavior
	input    any
	obs      Observer
	res      *Resolution

	mu      sync.Mutex
	started bool
	cancelF context.CancelFunc
}

// Resolution returns the handle's resolution.
func (h *Handle) Resolution() *Resolution { return h.res }

// Owner returns the owner key.
func (h *Handle) Owner() string { return h.owner }

// ID returns the behavior id (after interception).
func (h *Handle) ID() ID { return h.behavior.ID }

// Start begins execution. Starting twice, or after cancellation, is a no-op.
func (h *Handle) Start() {
	h.mu.Lock()
	if h.started || h.res.State().Terminal() {
		h.mu.Unlock()
		return
	}
	h.started = true
	ctx, cancel := context.WithCancel(context.Background())
	h.cancelF = cancel
	h.mu.Unlock()

	if err := h.behavior.validate(); err != nil {
		h.sup.dispatch(h, func() { h.failed(err) })
		return
	}

	h.sup.logger.Debug("behavior started", "behavior", h.behavior.ID, "mode", h.behavior.Mode.String(), "owner", h.owner)

	switch h.behavior.Mode {
	case ModeSync:
		v, err := h.call(ctx)
		h.complete(v, err)
	case ModeAsync:
		go func() {
			v, err := h.call(ctx)
			h.complete(v, err)
		}()
	case ModeStream:
		go func() {
			err := h.stream(ctx)
			h.complete(nil, err)
		}()
	}
}

// Cancel stops the run and marks it cancelled immediately. The OnCancel
// observer is delivered through the dispatcher.
func (h *Handle) Cancel() {
	if h.cancel() {
		if h.obs.OnCancel != nil {
			h.sup.dispatch(h, h.obs.OnCancel)
		}
	}
}

// Discard cancels without delivering OnCancel. Used when the request that
// created the handle is itself withdrawn.
func (h *Handle) Discard() {
	h.cancel()
}

func (h *Handle) cancel() bool {
	h.mu.Lock()
	if h.cancelF != nil {
		h.cancelF()
	}
	h.mu.Unlock()
	h.sup.release(h)
	if !h.res.cancel() {
		return false
	}
	h.sup.logger.Debug("behavior cancelled", "behavior", h.behavior.ID, "owner", h.owner)
	return true
}

func (h *Handle) call(ctx context.Context) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("behavior %s panicked: %v", h.behavior.ID, p)
		}
	}()
	return h.behavior.Run(ctx, h.input)
}

func (h *Handle) stream(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("behavior %s panicked: %v", h.behavior.ID, p)
		}
	}()
	emit := func(v any) {
		if ctx.Err() != nil {
			return
		}
		h.sup.dispatch(h, func() {
			if h.res.emit(v) && h.obs.OnEmit != nil {
				h.obs.OnEmit(v)
			}
		})
	}
	return h.behavior.Stream(ctx, h.input, emit)
}

// complete hands the terminal outcome to the writer. Context cancellation
// is reported as cancelled, not failed.
func (h *Handle) complete(v any, err error) {
	switch {
	case err == nil:
		h.sup.dispatch(h, func() { h.finished(v) })
	case errors.Is(err, context.Canceled):
		h.sup.dispatch(h, func() {
			if h.res.cancel() && h.obs.OnCancel != nil {
				h.obs.OnCancel()
			}
			h.sup.release(h)
		})
	default:
		h.sup.dispatch(h, func() { h.failed(err) })
	}
}

func (h *Handle) finished(v any) {
	defer h.sup.release(h)
	if h.res.finish(v) && h.obs.OnSuccess != nil {
		h.obs.OnSuccess(v)
	}
}

func (h *Handle) failed(err error) {
	defer h.sup.release(h)
	if !h.res.fail(err) {
		return
	}
	h.sup.logger.Debug("behavior failed", "behavior", h.behavior.ID, "owner", h.owner, "error", err)
	if h.obs.OnFailure != nil {
		h.obs.OnFailure(err)
	}
}
