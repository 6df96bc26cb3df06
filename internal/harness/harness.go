package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/grove/internal/engine"
	"github.com/roach88/grove/internal/intent"
	"github.com/roach88/grove/internal/ir"
	"github.com/roach88/grove/internal/testutil"
)

// DefaultTimeout bounds a whole scenario run.
const DefaultTimeout = 10 * time.Second

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes runtime logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithTimeout bounds the run.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) {
		h.timeout = d
	}
}

// WithEngineOptions applies opts before the harness's own settings. The
// sequential ids, consistency checks, logger and the scenario's own
// max_evaluations and env take precedence.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(h *Harness) {
		h.engineOpts = append(h.engineOpts, opts...)
	}
}

// Harness drives one runtime through a scenario.
// Node ids come from a sequential generator so repeated runs build
// identical trees.
type Harness struct {
	scenario   *Scenario
	root       engine.Node
	ids        *testutil.SequentialIDs
	logger     *slog.Logger
	timeout    time.Duration
	engineOpts []engine.Option

	rt     *engine.Runtime
	notes  <-chan engine.Notification
	cancel func()

	result *Result
}

// Run executes a scenario against a fresh runtime and returns the result.
//
// Execution flow:
// 1. Start the runtime with the scenario's root node
// 2. Apply each step, checking its expected error code
// 3. Snapshot the final tree and stop the runtime
// 4. Evaluate expectations against the snapshot
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	root, ok := lookupNode(scenario.Root)
	if !ok {
		return nil, fmt.Errorf("unknown root node type %q", scenario.Root)
	}
	h := &Harness{
		scenario: scenario,
		root:     root,
		ids:      testutil.NewSequentialIDs(scenario.IDPrefix),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:  DefaultTimeout,
		result:   NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.start(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to start runtime: %w", err)
	}
	defer h.stop(context.Background())

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	tree, err := h.rt.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot: %w", err)
	}
	h.result.Tree = tree
	h.countNotifications()

	for _, msg := range EvaluateExpectations(h.result, scenario.Expect) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) options() []engine.Option {
	opts := append([]engine.Option(nil), h.engineOpts...)
	opts = append(opts,
		engine.WithIDGenerator(h.ids),
		engine.WithConsistencyChecks(true),
		engine.WithLogger(h.logger),
		engine.WithErrorSink(func(error) {}),
	)
	if h.scenario.MaxEvaluations > 0 {
		opts = append(opts, engine.WithMaxEvaluations(h.scenario.MaxEvaluations))
	}
	if len(h.scenario.Env) > 0 {
		env := make(map[string]any, len(h.scenario.Env))
		for k, v := range h.scenario.Env {
			env[k] = v
		}
		opts = append(opts, engine.WithEnv(env))
	}
	return opts
}

// start creates a runtime, optionally restored from tree.
func (h *Harness) start(ctx context.Context, tree *ir.TreeStateRecord) error {
	rt := engine.New(h.options()...)
	notes, cancel := rt.SubscribeAll()

	var startOpts []engine.StartOption
	if tree != nil {
		startOpts = append(startOpts, engine.FromSnapshot(*tree))
	}
	if err := rt.Start(ctx, h.root, startOpts...); err != nil {
		cancel()
		return err
	}
	h.rt, h.notes, h.cancel = rt, notes, cancel
	return nil
}

func (h *Harness) stop(ctx context.Context) {
	if h.rt == nil {
		return
	}
	h.countNotifications()
	h.cancel()
	if err := h.rt.Stop(ctx); err != nil {
		h.logger.Warn("runtime stop failed", "error", err)
	}
	h.rt = nil
}

func (h *Harness) countNotifications() {
	if h.notes == nil {
		return
	}
	h.result.Notifications += len(testutil.Drain(h.notes))
}

// execute applies one step and compares its outcome with step.Error.
func (h *Harness) execute(ctx context.Context, index int, step Step) error {
	trace := StepTrace{Index: index, Op: step.Op()}

	var err error
	switch trace.Op {
	case OpSet:
		trace.Node, trace.Detail, err = h.set(ctx, step)
	case OpSignal:
		trace.Detail = *step.Signal
		err = h.signal(ctx, *step.Signal)
	case OpRestart:
		err = h.restart(ctx)
	default:
		return fmt.Errorf("no operation")
	}

	var re *engine.RuntimeError
	if errors.As(err, &re) {
		trace.Error = string(re.Code)
		h.result.Codes = append(h.result.Codes, trace.Error)
	} else if err != nil {
		trace.Error = err.Error()
	}
	h.result.AddStep(trace)

	switch {
	case step.Error == "" && err != nil:
		h.result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", index, trace.Op, err))
	case step.Error != "" && err == nil:
		h.result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got none", index, trace.Op, step.Error))
	case step.Error != "" && trace.Error != step.Error:
		h.result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got %v", index, trace.Op, step.Error, err))
	}

	if h.rt == nil {
		return fmt.Errorf("runtime not running after %s", trace.Op)
	}
	if err := h.rt.Idle(ctx); err != nil {
		return fmt.Errorf("waiting for idle: %w", err)
	}
	h.countNotifications()

	h.logger.Debug("scenario step", "step", index, "op", trace.Op, "node", trace.Node, "error", trace.Error)
	return nil
}

func (h *Harness) set(ctx context.Context, step Step) (ir.NodeID, string, error) {
	tree, err := h.rt.Snapshot()
	if err != nil {
		return ir.InvalidID, "", err
	}
	id, err := ResolvePath(tree, step.At)
	if err != nil {
		return ir.InvalidID, "", err
	}

	names := make([]string, 0, len(step.Set))
	for name := range step.Set {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]ir.IRValue, len(names))
	for _, name := range names {
		v, err := ir.FromGo(step.Set[name])
		if err != nil {
			return id, "", fmt.Errorf("set %s: %w", name, err)
		}
		values[name] = v
	}

	err = h.rt.UpdateAt(ctx, id, func(tx *engine.Tx) error {
		for _, name := range names {
			if err := tx.Set(name, values[name]); err != nil {
				return err
			}
		}
		return nil
	})
	return id, fmt.Sprint(names), err
}

func (h *Harness) signal(ctx context.Context, wire string) error {
	i, err := intent.Decode(wire)
	if err != nil {
		return fmt.Errorf("decode intent: %w", err)
	}
	return h.rt.Signal(ctx, i)
}

// restart round-trips the tree through a snapshot into a new runtime.
func (h *Harness) restart(ctx context.Context) error {
	tree, err := h.rt.Snapshot()
	if err != nil {
		return err
	}
	h.stop(ctx)
	return h.start(ctx, &tree)
}
