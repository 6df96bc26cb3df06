package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/grove/internal/behavior"
	"github.com/roach88/grove/internal/intent"
	"github.com/roach88/grove/internal/ir"
	"github.com/roach88/grove/internal/store"
)

type runState int

const (
	stateUnstarted runState = iota
	stateActive
	stateStopped
)

func (s runState) String() string {
	switch s {
	case stateUnstarted:
		return "unstarted"
	case stateActive:
		return "active"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runtime hosts one reactive tree.
//
// Thread-safety: every exported method is safe for concurrent use. Writes
// are serialized. Handlers and Rules run with the runtime locked and should
// act through their Tx or Context. If they call exported methods anyway,
// writes and Snapshot fail with ErrReentrantWrite and the plain readers
// see the write in progress.
type Runtime struct {
	mu      sync.Mutex
	state   runState
	root    Node
	store   *store.Store
	scopes  map[ir.NodeID]*Scope
	readers map[ir.FieldID]map[*Scope]struct{}
	intent  *pendingIntent
	txn     *txn
	writer  atomic.Uint64 // goroutine holding mu for a write, 0 otherwise

	lastWrite WriteStats

	clock    *Clock
	ids      IDGenerator
	sup      *behavior.Supervisor
	queue    *eventQueue
	pumpDone chan struct{}

	logger       *slog.Logger
	sink         func(error)
	maxEvals     int
	checks       bool
	tracking     bool
	env          map[string]any
	archive      *store.Archive
	keep         int
	notifyBuffer int

	subMu      sync.Mutex
	subs       map[int]*subscription
	nextSub    int
	subsClosed bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithIDGenerator sets the generator for single and union child ids.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(rt *Runtime) { rt.ids = g }
}

// WithClock sets the logical clock. Default: a clock starting at 0.
func WithClock(c *Clock) Option {
	return func(rt *Runtime) { rt.clock = c }
}

// WithMaxEvaluations sets how often one node may be evaluated within a
// write before the write fails with a cycle error.
func WithMaxEvaluations(n int) Option {
	return func(rt *Runtime) { rt.maxEvals = n }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// WithErrorSink sets the function that receives errors of failed writes.
// Default: log at error level.
func WithErrorSink(fn func(error)) Option {
	return func(rt *Runtime) { rt.sink = fn }
}

// WithConsistencyChecks verifies the scope graph against the store before
// every commit. Intended for tests and debugging.
func WithConsistencyChecks(enabled bool) Option {
	return func(rt *Runtime) { rt.checks = enabled }
}

// WithTracking records every behavior resolution so Idle can await them.
func WithTracking(enabled bool) Option {
	return func(rt *Runtime) { rt.tracking = enabled }
}

// WithEnv sets the root environment.
func WithEnv(env map[string]any) Option {
	return func(rt *Runtime) { rt.env = env }
}

// WithArchive appends a snapshot to a after every committed write that
// changed state, keeping the newest keep entries (0 keeps all).
func WithArchive(a *store.Archive, keep int) Option {
	return func(rt *Runtime) {
		rt.archive = a
		rt.keep = keep
	}
}

// WithNotificationBuffer sets the per-subscriber channel capacity.
func WithNotificationBuffer(n int) Option {
	return func(rt *Runtime) { rt.notifyBuffer = n }
}

// New creates an unstarted runtime.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		store:        store.New(),
		scopes:       make(map[ir.NodeID]*Scope),
		readers:      make(map[ir.FieldID]map[*Scope]struct{}),
		clock:        NewClock(),
		ids:          UUIDv7Generator{},
		queue:        newEventQueue(),
		pumpDone:     make(chan struct{}),
		logger:       slog.Default(),
		maxEvals:     DefaultMaxEvaluations,
		notifyBuffer: DefaultNotificationBuffer,
		subs:         make(map[int]*subscription),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.sink == nil {
		logger := rt.logger
		rt.sink = func(err error) { logger.Error("write failed", "error", err) }
	}
	if rt.notifyBuffer <= 0 {
		rt.notifyBuffer = DefaultNotificationBuffer
	}
	rt.sup = behavior.NewSupervisor(rt,
		behavior.WithTracking(rt.tracking),
		behavior.WithLogger(rt.logger),
	)
	return rt
}

// Dispatch enqueues a behavior event for the pump. It implements
// behavior.Dispatcher.
func (rt *Runtime) Dispatch(ev func()) bool {
	return rt.queue.Enqueue(ev)
}

// Behaviors returns the supervisor, for interception and tracking.
func (rt *Runtime) Behaviors() *behavior.Supervisor {
	return rt.sup
}

// StartOption configures Start.
type StartOption func(*startConfig)

type startConfig struct {
	snapshot *ir.TreeStateRecord
	resume   bool
}

// FromSnapshot starts the tree from a previously captured state.
func FromSnapshot(tree ir.TreeStateRecord) StartOption {
	return func(c *startConfig) { c.snapshot = &tree }
}

// ResumeFromArchive starts from the newest archived snapshot, if the
// runtime has an archive holding one.
func ResumeFromArchive() StartOption {
	return func(c *startConfig) { c.resume = true }
}

type writeKey struct{}

func inWrite(ctx context.Context) bool {
	return ctx != nil && ctx.Value(writeKey{}) != nil
}

// reentrant reports whether the caller is already inside a write, either
// through the write's context or because it runs on the writing goroutine.
func (rt *Runtime) reentrant(ctx context.Context) bool {
	return inWrite(ctx) || rt.heldByCaller()
}

func (rt *Runtime) heldByCaller() bool {
	w := rt.writer.Load()
	return w != 0 && w == goroutineID()
}

// enterWrite marks the calling goroutine as the writer until the returned
// func runs.
func (rt *Runtime) enterWrite() func() {
	prev := rt.writer.Swap(goroutineID())
	return func() { rt.writer.Store(prev) }
}

// lockRead locks for a read. The writing goroutine already holds the lock
// and reads the state in progress.
func (rt *Runtime) lockRead() (unlock func()) {
	if rt.heldByCaller() {
		return func() {}
	}
	rt.mu.Lock()
	return rt.mu.Unlock
}

// goroutineID parses the current goroutine's id from its stack header,
// "goroutine 17 [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// Start attaches root and begins processing behavior events. The first
// write evaluates the whole initial tree.
func (rt *Runtime) Start(ctx context.Context, root Node, opts ...StartOption) error {
	if rt.reentrant(ctx) {
		return ErrReentrantWrite
	}
	if root == nil {
		return declarationError(ir.RootID, "nil root node")
	}
	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch rt.state {
	case stateActive:
		return ErrAlreadyStarted
	case stateStopped:
		return fmt.Errorf("%w: runtime stopped", ErrInactive)
	}

	if cfg.resume && cfg.snapshot == nil && rt.archive != nil {
		entry, tree, err := rt.archive.Latest(ctx)
		switch {
		case err == nil:
			rt.logger.Info("resuming from archive", "seq", entry.Seq, "digest", entry.Digest)
			cfg.snapshot = &tree
		case !errors.Is(err, store.ErrNoSnapshot):
			return fmt.Errorf("resume: %w", err)
		}
	}

	schema := root.Schema()
	if err := schema.Validate(); err != nil {
		return &RuntimeError{Code: ErrCodeDeclaration, Message: "invalid root schema", Node: ir.RootID, Err: err}
	}

	rt.root = root
	err := rt.transact(ctx, func() error {
		if cfg.snapshot != nil {
			return rt.restoreTree(root, *cfg.snapshot)
		}
		if err := rt.store.AddRecord(schema.record(ir.RootID)); err != nil {
			return err
		}
		rt.markDirty(rt.newScope(ir.RootID, root, schema, nil, rt.env))
		return nil
	})
	if err != nil {
		rt.root = nil
		return err
	}

	rt.state = stateActive
	go rt.pump()
	rt.logger.Info("runtime started", "nodes", len(rt.scopes), "type", schema.Type)
	return nil
}

// Stop detaches the whole tree, cancels outstanding behaviors and stops the
// event pump. Subscription channels are closed once the pump has drained.
func (rt *Runtime) Stop(ctx context.Context) error {
	if rt.reentrant(ctx) {
		return ErrReentrantWrite
	}
	rt.mu.Lock()
	if rt.state != stateActive {
		rt.mu.Unlock()
		return ErrInactive
	}
	err := rt.transact(ctx, func() error {
		if root, ok := rt.scopes[ir.RootID]; ok {
			return rt.dispose(root)
		}
		return nil
	})
	if err != nil {
		for _, s := range rt.scopes {
			rt.sup.CancelOwner(s.owner())
		}
	}
	rt.state = stateStopped
	rt.mu.Unlock()

	rt.queue.Close()
	select {
	case <-rt.pumpDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	rt.closeSubscriptions()
	rt.logger.Info("runtime stopped")
	return err
}

// Active reports whether the runtime has started and not stopped.
func (rt *Runtime) Active() bool {
	defer rt.lockRead()()
	return rt.state == stateActive
}

func (rt *Runtime) lockActive(ctx context.Context) error {
	if rt.reentrant(ctx) {
		return ErrReentrantWrite
	}
	rt.mu.Lock()
	if rt.state != stateActive {
		rt.mu.Unlock()
		return ErrInactive
	}
	return nil
}

// Update runs fn as one write anchored at the root.
func (rt *Runtime) Update(ctx context.Context, fn Handler) error {
	return rt.UpdateAt(ctx, ir.RootID, fn)
}

// UpdateAt runs fn as one write anchored at node.
func (rt *Runtime) UpdateAt(ctx context.Context, node ir.NodeID, fn Handler) error {
	if err := rt.lockActive(ctx); err != nil {
		return err
	}
	defer rt.mu.Unlock()
	s, ok := rt.scopes[node]
	if !ok {
		return &RuntimeError{Code: ErrCodeUnknownField, Message: "no live node", Node: node}
	}
	return rt.transact(ctx, func() error {
		return rt.runHandler(s, fn, "update")
	})
}

// Write sets one value field as a write.
func (rt *Runtime) Write(ctx context.Context, f ir.FieldID, v ir.IRValue) error {
	if err := rt.lockActive(ctx); err != nil {
		return err
	}
	defer rt.mu.Unlock()
	return rt.transact(ctx, func() error {
		return rt.writeField(f, v)
	})
}

// Set replaces the whole tree state. Nodes whose identity survives in the
// new state are adopted; the rest are detached.
func (rt *Runtime) Set(ctx context.Context, tree ir.TreeStateRecord) error {
	if err := rt.lockActive(ctx); err != nil {
		return err
	}
	defer rt.mu.Unlock()
	return rt.transact(ctx, func() error {
		return rt.restoreTree(rt.root, tree)
	})
}

// Signal replaces the pending intent and advances it as far as the
// current tree allows. An empty intent clears the pending one.
func (rt *Runtime) Signal(ctx context.Context, i intent.Intent) error {
	if err := rt.lockActive(ctx); err != nil {
		return err
	}
	defer rt.mu.Unlock()
	return rt.transact(ctx, func() error {
		rt.setIntent(i)
		return nil
	})
}

// Snapshot captures the committed tree state and pending intent.
func (rt *Runtime) Snapshot() (ir.TreeStateRecord, error) {
	if rt.heldByCaller() {
		return ir.TreeStateRecord{}, ErrReentrantWrite
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state != stateActive {
		return ir.TreeStateRecord{}, ErrInactive
	}
	return rt.snapshot(), nil
}

func (rt *Runtime) snapshot() ir.TreeStateRecord {
	return rt.store.Snapshot(ir.RootID, rt.intent.record())
}

// PendingIntent returns the unresolved steps, or nil.
func (rt *Runtime) PendingIntent() intent.Intent {
	defer rt.lockRead()()
	if rt.intent == nil {
		return nil
	}
	return rt.intent.steps.Clone()
}

// LastWrite summarizes the most recent committed write.
func (rt *Runtime) LastWrite() WriteStats {
	defer rt.lockRead()()
	return rt.lastWrite
}

// NodeCount returns the number of attached nodes.
func (rt *Runtime) NodeCount() int {
	defer rt.lockRead()()
	return len(rt.scopes)
}

// View returns a copy of one node's record.
func (rt *Runtime) View(id ir.NodeID) (ir.NodeRecord, bool) {
	defer rt.lockRead()()
	return rt.store.Record(id)
}

// Read returns a copy of one field's committed value.
func (rt *Runtime) Read(f ir.FieldID) (ir.IRValue, bool) {
	defer rt.lockRead()()
	return rt.store.Read(f)
}

// Field resolves a named value field of a live node.
func (rt *Runtime) Field(node ir.NodeID, name string) (ir.FieldID, error) {
	defer rt.lockRead()()
	return rt.fieldOf(node, name)
}

func (rt *Runtime) fieldOf(node ir.NodeID, name string) (ir.FieldID, error) {
	s, ok := rt.scopes[node]
	if !ok {
		return ir.FieldID{}, &RuntimeError{Code: ErrCodeUnknownField, Message: "no live node", Node: node}
	}
	off, ok := s.schema.ValueOffset(name)
	if !ok {
		return ir.FieldID{}, unknownFieldError(node, name)
	}
	return ir.ValueField(node, off), nil
}

// Children returns the ids attached under a named route of a live node.
func (rt *Runtime) Children(node ir.NodeID, route string) ([]ir.NodeID, error) {
	defer rt.lockRead()()
	s, ok := rt.scopes[node]
	if !ok {
		return nil, &RuntimeError{Code: ErrCodeUnknownField, Message: "no live node", Node: node}
	}
	off, ok := s.schema.RouteOffset(route)
	if !ok {
		return nil, unknownFieldError(node, route)
	}
	rec, _ := rt.store.ReadRoute(ir.RouteField(node, off))
	return rec.IDs(), nil
}

const idlePoll = time.Millisecond

// Idle waits until the event queue is empty and no behavior is running.
// A behavior that never finishes keeps Idle waiting until ctx is done.
func (rt *Runtime) Idle(ctx context.Context) error {
	if rt.reentrant(ctx) {
		return ErrReentrantWrite
	}
	for {
		if rt.tracking {
			if err := rt.sup.AwaitAll(ctx); err != nil {
				return err
			}
		}
		done := make(chan struct{})
		if !rt.queue.Enqueue(func() { close(done) }) {
			return ErrInactive
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if rt.queue.Len() == 0 && rt.sup.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idlePoll):
		}
	}
}

// pump applies queued behavior events, one write at a time, until the
// queue is closed and drained.
func (rt *Runtime) pump() {
	defer close(rt.pumpDone)
	for {
		if ev, ok := rt.queue.TryDequeue(); ok {
			rt.mu.Lock()
			leave := rt.enterWrite()
			ev()
			leave()
			rt.mu.Unlock()
			continue
		}
		if rt.queue.Drained() {
			return
		}
		<-rt.queue.Wait()
	}
}

// deliver runs a behavior observer as a write anchored at s. Called by the
// pump with the lock held.
func (rt *Runtime) deliver(s *Scope, id behavior.ID, kind string, fn Handler) {
	if rt.state != stateActive || rt.scopes[s.id] != s {
		rt.logger.Debug("behavior outcome dropped", "behavior", id, "node", s.id, "outcome", kind)
		return
	}
	_ = rt.transact(context.Background(), func() error {
		return rt.runHandler(s, fn, fmt.Sprintf("behavior %s %s", id, kind))
	})
}
