package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/otelhelper"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/state"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds the steps executed by one Start or Resume call.
const DefaultMaxSteps = 100

// Checkpointer is the part of the checkpoint store the engine needs.
type Checkpointer interface {
	Put(ctx context.Context, threadID, parentID string, s *models.WorkflowState, meta models.CheckpointMetadata) (*models.Checkpoint, error)
	Latest(ctx context.Context, threadID string) (*models.Checkpoint, error)
	History(ctx context.Context, threadID string) ([]*models.Checkpoint, error)
}

// Interrupt describes the external input a suspended step is waiting for.
type Interrupt struct {
	Node    string `json:"node"`
	Payload any    `json:"payload"`
}

// Outcome is where a run stopped.
type Outcome struct {
	State        *models.WorkflowState
	CheckpointID string
	Next         string
	Interrupt    *Interrupt
}

// Done reports whether the run reached END.
func (o *Outcome) Done() bool {
	return o.Interrupt == nil && o.Next == END
}

// Engine runs a Definition against a checkpoint store. It holds no per-thread
// state and may be shared by concurrent runs of different threads.
type Engine struct {
	def       *Definition
	store     Checkpointer
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []Observer
	maxSteps  int
	now       func() time.Time
}

type Option func(*Engine)

func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine for def.
func NewEngine(def *Definition, store Checkpointer, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		def:      def,
		store:    store,
		logger:   logger.With("module", "graph_engine", "graph", def.Name()),
		tracer:   otelhelper.NoopTracer(),
		maxSteps: DefaultMaxSteps,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Definition returns the graph the engine runs.
func (e *Engine) Definition() *Definition {
	return e.def
}

// Start writes the initial state as an input checkpoint on top of parentID
// (empty for a new thread) and runs from the entry step.
func (e *Engine) Start(ctx context.Context, threadID, parentID string, initial *models.WorkflowState) (*Outcome, error) {
	step := -1

	head, err := e.store.Put(ctx, threadID, parentID, initial, models.CheckpointMetadata{
		Source: models.CheckpointSourceInput,
		Step:   &step,
		Next:   e.def.Entry(),
	})
	if err != nil {
		return nil, &PersistenceError{Op: "start", ThreadID: threadID, Err: err}
	}

	e.logger.InfoContext(ctx, "run started", "thread_id", threadID, "checkpoint_id", head.CheckpointID)

	return e.run(ctx, threadID, head, 0)
}

// Resume merges update (if any) on top of the last checkpoint and re-enters
// the graph at the step that checkpoint points to.
func (e *Engine) Resume(ctx context.Context, threadID string, update *state.Update) (*Outcome, error) {
	head, err := e.latest(ctx, threadID)
	if err != nil {
		return nil, err
	}

	step, err := e.lastStep(ctx, threadID, head)
	if err != nil {
		return nil, err
	}

	if head.Metadata.Next == "" || head.Metadata.Next == END {
		return &Outcome{State: head.State, CheckpointID: head.CheckpointID, Next: END}, nil
	}

	if !update.Empty() {
		merged, written := state.Merge(head.State, *update)

		head, err = e.store.Put(ctx, threadID, head.CheckpointID, merged, models.CheckpointMetadata{
			Source: models.CheckpointSourceResume,
			Step:   &step,
			Next:   head.Metadata.Next,
			Writes: state.FieldNames(written),
		})
		if err != nil {
			return nil, &PersistenceError{Op: "resume", ThreadID: threadID, Err: err}
		}
	}

	e.logger.InfoContext(ctx, "run resumed",
		"thread_id", threadID,
		"checkpoint_id", head.CheckpointID,
		"next", head.Metadata.Next,
		"with_input", !update.Empty(),
	)

	return e.run(ctx, threadID, head, step+1)
}

// UpdateState records an out-of-band correction without advancing the graph.
// The checkpoint carries no step index and keeps the resume point.
func (e *Engine) UpdateState(ctx context.Context, threadID string, update state.Update) (*models.Checkpoint, error) {
	head, err := e.latest(ctx, threadID)
	if err != nil {
		return nil, err
	}

	merged, written := state.Merge(head.State, update)

	cp, err := e.store.Put(ctx, threadID, head.CheckpointID, merged, models.CheckpointMetadata{
		Source: models.CheckpointSourceUpdate,
		Next:   head.Metadata.Next,
		Writes: state.FieldNames(written),
	})
	if err != nil {
		return nil, &PersistenceError{Op: "update", ThreadID: threadID, Err: err}
	}

	e.logger.InfoContext(ctx, "state updated", "thread_id", threadID, "checkpoint_id", cp.CheckpointID, "writes", cp.Metadata.Writes)

	return cp, nil
}

func (e *Engine) latest(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	head, err := e.store.Latest(ctx, threadID)
	if err != nil {
		if persistence.IsCheckpointNotFound(err) {
			return nil, fmt.Errorf("%w: %w", ErrNothingToResume, err)
		}

		return nil, &PersistenceError{Op: "load", ThreadID: threadID, Err: err}
	}

	return head, nil
}

// lastStep finds the step index of the newest checkpoint that has one.
func (e *Engine) lastStep(ctx context.Context, threadID string, head *models.Checkpoint) (int, error) {
	if head.Metadata.Step != nil {
		return *head.Metadata.Step, nil
	}

	history, err := e.store.History(ctx, threadID)
	if err != nil {
		return 0, &PersistenceError{Op: "load", ThreadID: threadID, Err: err}
	}

	for _, cp := range history {
		if cp.Metadata.Step != nil {
			return *cp.Metadata.Step, nil
		}
	}

	return -1, nil
}

func (e *Engine) run(ctx context.Context, threadID string, head *models.Checkpoint, step int) (*Outcome, error) {
	current := head.State
	parent := head.CheckpointID
	next := head.Metadata.Next

	for executed := 0; next != END; executed++ {
		if executed >= e.maxSteps {
			return e.haltRunaway(ctx, threadID, current, parent, next, step)
		}

		fn, ok := e.def.step(next)
		if !ok {
			return nil, fmt.Errorf("%w: checkpoint routes to unknown step %q", ErrInvalidDefinition, next)
		}

		node := next

		stepCtx, span := otelhelper.StartSpan(ctx, e.tracer, "graph.step",
			attribute.String(otelhelper.ThreadIDKey, threadID),
			attribute.String(otelhelper.StepNameKey, node),
			attribute.Int(otelhelper.StepIndexKey, step),
		)

		result := e.invoke(stepCtx, node, fn, current)

		if result.Suspended() {
			span.AddEvent("suspended")
			span.End()

			interrupt := Interrupt{Node: node, Payload: result.payload}

			e.logger.InfoContext(ctx, "run suspended", "thread_id", threadID, "step", node, "checkpoint_id", parent)

			for _, o := range e.observers {
				o.Suspended(ctx, threadID, interrupt)
			}

			return &Outcome{State: current, CheckpointID: parent, Next: node, Interrupt: &interrupt}, nil
		}

		update := result.update
		now := e.now()

		if result.err != nil {
			otelhelper.SetError(span, result.err, attribute.String(otelhelper.StepNameKey, node))

			e.logger.WarnContext(ctx, "step failed, recording error", "thread_id", threadID, "step", node, "error", result.err)

			update.AppendError(node, result.err, now)
			update.Status = state.Some(models.StatusFailed)
		}

		update.Meta().CurrentStep = state.Some(node)
		update.Meta().UpdatedAt = state.Some(&now)

		merged, written := state.Merge(current, update)

		edge, _ := e.def.Edge(node)

		target, err := edge.Next(merged)
		if err != nil {
			otelhelper.SetError(span, err)
			span.End()

			return nil, fmt.Errorf("step %s: %w", node, err)
		}

		index := step

		cp, err := e.store.Put(ctx, threadID, parent, merged, models.CheckpointMetadata{
			Source: models.CheckpointSourceLoop,
			Step:   &index,
			Node:   node,
			Next:   target,
			Writes: state.FieldNames(written),
		})
		if err != nil {
			otelhelper.SetError(span, err)
			span.End()

			return nil, &PersistenceError{Op: "checkpoint", ThreadID: threadID, Node: node, Err: err}
		}

		span.SetAttributes(
			attribute.String(otelhelper.CheckpointIDKey, cp.CheckpointID),
			attribute.String(otelhelper.NextStepKey, target),
		)
		span.End()

		e.logger.DebugContext(ctx, "step completed",
			"thread_id", threadID, "step", node, "index", step, "next", target, "checkpoint_id", cp.CheckpointID)

		for _, o := range e.observers {
			o.StepCompleted(ctx, threadID, step, node, cp)
		}

		current, parent, next = cp.State, cp.CheckpointID, target
		step++
	}

	e.logger.InfoContext(ctx, "run reached end", "thread_id", threadID, "checkpoint_id", parent, "status", current.Status)

	for _, o := range e.observers {
		o.Completed(ctx, threadID, current)
	}

	return &Outcome{State: current, CheckpointID: parent, Next: END}, nil
}

// invoke runs one step, turning a panic into a recorded failure.
func (e *Engine) invoke(ctx context.Context, node string, fn StepFunc, s *models.WorkflowState) (result StepResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "step panicked", "step", node, "panic", r)

			result = Fail(fmt.Errorf("step %s panicked: %v", node, r))
		}
	}()

	return fn(ctx, s.Clone())
}

// haltRunaway records the step-guard violation and ends the run.
func (e *Engine) haltRunaway(ctx context.Context, threadID string, current *models.WorkflowState, parent, next string, step int) (*Outcome, error) {
	e.logger.ErrorContext(ctx, "run exceeded step limit", "thread_id", threadID, "limit", e.maxSteps, "next", next)

	var update state.Update

	update.AppendError(next, fmt.Errorf("%w (%d)", ErrMaxStepsExceeded, e.maxSteps), e.now())
	update.Status = state.Some(models.StatusFailed)

	merged, written := state.Merge(current, update)

	cp, err := e.store.Put(ctx, threadID, parent, merged, models.CheckpointMetadata{
		Source: models.CheckpointSourceLoop,
		Step:   &step,
		Node:   next,
		Next:   END,
		Writes: state.FieldNames(written),
	})
	if err != nil {
		return nil, &PersistenceError{Op: "checkpoint", ThreadID: threadID, Node: next, Err: err}
	}

	for _, o := range e.observers {
		o.Completed(ctx, threadID, cp.State)
	}

	return &Outcome{State: cp.State, CheckpointID: cp.CheckpointID, Next: END}, nil
}

// IsStale reports whether err is a lost compare-and-swap on the thread head.
func IsStale(err error) bool {
	return errors.Is(err, persistence.ErrStaleCheckpoint)
}
