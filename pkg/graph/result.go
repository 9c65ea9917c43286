package graph

import "github.com/dukex/contentflow/pkg/state"

type resultKind int

const (
	kindContinue resultKind = iota
	kindSuspend
	kindFail
)

// StepResult is what a step hands back to the engine: exactly one of a partial
// update to merge, a request to suspend for external input, or a failure.
type StepResult struct {
	kind    resultKind
	update  state.Update
	payload any
	err     error
}

// Continue merges update into the state and follows the step's edge.
func Continue(update state.Update) StepResult {
	return StepResult{kind: kindContinue, update: update}
}

// Suspend halts the run and hands payload to the caller. Nothing is persisted
// and no edge is taken; resuming re-runs the same step.
func Suspend(payload any) StepResult {
	return StepResult{kind: kindSuspend, payload: payload}
}

// Fail records err on the state, marks it failed, and still follows the edge.
// update, if given, is merged before the error is recorded.
func Fail(err error, update ...state.Update) StepResult {
	r := StepResult{kind: kindFail, err: err}
	if len(update) > 0 {
		r.update = update[0]
	}

	return r
}

// Suspended reports whether the result asks the engine to halt.
func (r StepResult) Suspended() bool { return r.kind == kindSuspend }

// Err returns the failure carried by a Fail result.
func (r StepResult) Err() error { return r.err }

// Update returns the partial update carried by the result.
func (r StepResult) Update() state.Update { return r.update }

// Payload returns the suspend payload.
func (r StepResult) Payload() any { return r.payload }
