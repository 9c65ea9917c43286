package content

import (
	"context"
	"fmt"
	"slices"

	"github.com/dukex/contentflow/pkg/graph"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/state"
)

// Approval kinds carried by ApprovalRequest.
const (
	ApprovalConcept   = "concept"
	ApprovalSubtopics = "subtopics"
)

// ApprovalRequest is the suspend payload of the approval steps: what the
// caller must choose from before the thread can move on.
type ApprovalRequest struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Concepts  []models.Concept  `json:"concepts,omitempty"`
	Subtopics []models.Subtopic `json:"subtopics,omitempty"`
}

func (p *Pipeline) setAwaitApproval(_ context.Context, _ *models.WorkflowState) graph.StepResult {
	var u state.Update
	u.Meta().HumanApprovalPending = state.Some(true)

	return graph.Continue(u)
}

// noCandidates ends an approval step that has nothing to offer. The failure
// of the generation step is already recorded; otherwise one is recorded here.
func (p *Pipeline) noCandidates(ctx context.Context, s *models.WorkflowState, kind string) graph.StepResult {
	p.logger.WarnContext(ctx, "nothing to approve, ending the run", "thread_id", s.ThreadID, "kind", kind)

	var u state.Update
	u.Meta().HumanApprovalPending = state.Some(false)

	if s.Status == models.StatusFailed {
		return graph.Continue(u)
	}

	return graph.Fail(fmt.Errorf("%s approval: %w", kind, ErrNoCandidates), u)
}

// awaitConceptApproval lets a valid selection through, clears a stale one so
// the guard loops back here, and otherwise suspends for the caller's choice.
func (p *Pipeline) awaitConceptApproval(ctx context.Context, s *models.WorkflowState) graph.StepResult {
	if len(s.Concepts) == 0 {
		return p.noCandidates(ctx, s, ApprovalConcept)
	}

	if s.ConceptSelectionReady() {
		concepts := slices.Clone(s.Concepts)
		for i := range concepts {
			if concepts[i].ID == s.SelectedConceptID {
				concepts[i].UserAction = models.UserActionApprove
			}
		}

		u := state.Update{Concepts: state.Some(concepts)}
		u.Meta().HumanApprovalPending = state.Some(false)

		return graph.Continue(u)
	}

	if s.SelectedConceptID != "" {
		p.logger.WarnContext(ctx, "clearing stale concept selection",
			"thread_id", s.ThreadID, "selected_concept_id", s.SelectedConceptID)

		return graph.Continue(state.Update{SelectedConceptID: state.Some("")})
	}

	return graph.Suspend(ApprovalRequest{
		Kind:     ApprovalConcept,
		Message:  "Select one concept by setting selected_concept_id.",
		Concepts: s.Concepts,
	})
}

func (p *Pipeline) awaitSubtopicApproval(ctx context.Context, s *models.WorkflowState) graph.StepResult {
	if len(s.Subtopics) == 0 {
		return p.noCandidates(ctx, s, ApprovalSubtopics)
	}

	if s.SubtopicSelectionReady() {
		subtopics := slices.Clone(s.Subtopics)
		for i := range subtopics {
			subtopics[i].IsSelected = slices.Contains(s.SelectedSubtopicIDs, subtopics[i].ID)
		}

		u := state.Update{Subtopics: state.Some(subtopics)}
		u.Meta().HumanApprovalPending = state.Some(false)

		return graph.Continue(u)
	}

	if len(s.SelectedSubtopicIDs) > 0 {
		p.logger.WarnContext(ctx, "clearing stale subtopic selection",
			"thread_id", s.ThreadID, "stale_ids", s.StaleSubtopicIDs())

		return graph.Continue(state.Update{SelectedSubtopicIDs: state.Some([]string{})})
	}

	return graph.Suspend(ApprovalRequest{
		Kind:      ApprovalSubtopics,
		Message:   "Select at least one subtopic by setting selected_subtopic_ids.",
		Subtopics: s.Subtopics,
	})
}
