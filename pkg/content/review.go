package content

import (
	"context"
	"fmt"

	"github.com/dukex/contentflow/pkg/graph"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/qc"
	"github.com/dukex/contentflow/pkg/state"
)

// qualityControl runs the configured QC agents over the draft body and
// replaces the final article with the processed content.
func (p *Pipeline) qualityControl(ctx context.Context, s *models.WorkflowState) graph.StepResult {
	if s.ArticleDraft == nil {
		return graph.Fail(fmt.Errorf("quality control: %w", ErrNoDraft))
	}

	result, err := p.reviewer.Run(ctx, p.request(s, s.ArticleDraft.Body, p.qc.EnabledAgents), qc.Caller{
		UserID:   s.UserID,
		ThreadID: s.ThreadID,
	})
	if err != nil {
		draft := s.ArticleDraft.Clone()
		draft.RequiresHumanReview = true

		return graph.Fail(fmt.Errorf("quality control: %w", err), state.Update{ArticleDraft: state.Some(draft)})
	}

	score := result.OverallScore

	draft := s.ArticleDraft.Clone()
	draft.FinalArticle = result.ProcessedContent
	draft.WordCount = wordCount(result.ProcessedContent)
	draft.QualityScore = &score
	draft.RequiresHumanReview = result.RequiresHumanReview
	draft.UnresolvedConflicts = len(result.UnresolvedConflicts)

	u := state.Update{ArticleDraft: state.Some(draft)}
	u.Meta().Extensions = map[string]any{ExtQC: summarize(result)}

	return graph.Continue(u)
}

// checkBrandMatch scores the final article against the brand profile. Without
// a profile there is nothing to violate and the score is perfect.
func (p *Pipeline) checkBrandMatch(ctx context.Context, s *models.WorkflowState) graph.StepResult {
	return p.scoreWith(ctx, s, models.AgentBrandGuardian, func(d *models.ArticleDraft, score int) { d.BrandScore = &score })
}

func (p *Pipeline) verifyFacts(ctx context.Context, s *models.WorkflowState) graph.StepResult {
	return p.scoreWith(ctx, s, models.AgentFactChecker, func(d *models.ArticleDraft, score int) { d.FactScore = &score })
}

func (p *Pipeline) scoreWith(ctx context.Context, s *models.WorkflowState, agent models.AgentType, set func(*models.ArticleDraft, int)) graph.StepResult {
	if s.ArticleDraft == nil {
		return graph.Fail(fmt.Errorf("%s: %w", agent, ErrNoDraft))
	}

	result, err := p.reviewer.Run(ctx, p.request(s, s.ArticleDraft.FinalArticle, []models.AgentType{agent}), qc.Caller{
		UserID:   s.UserID,
		ThreadID: s.ThreadID,
	})
	if err != nil {
		return graph.Fail(fmt.Errorf("%s: %w", agent, err))
	}

	if msg, failed := result.AgentErrors[agent]; failed {
		return graph.Fail(fmt.Errorf("%s: %s", agent, msg))
	}

	draft := s.ArticleDraft.Clone()

	report, ran := result.Report(agent)
	if !ran {
		p.logger.InfoContext(ctx, "check skipped, scoring as passed", "thread_id", s.ThreadID, "agent", agent)

		set(draft, 100)
	} else {
		set(draft, report.Score)
	}

	return graph.Continue(state.Update{ArticleDraft: state.Some(draft)})
}

func (p *Pipeline) request(s *models.WorkflowState, text string, agents []models.AgentType) qc.Request {
	threshold := p.qc.AutoApplyThreshold

	return qc.Request{
		Content:            text,
		ContentType:        contentType(s),
		UserID:             s.UserID,
		GuidelineProfileID: extString(s, ExtGuidelineProfileID),
		EnabledAgents:      agents,
		AutoApplyThreshold: &threshold,
	}
}

// summarize keeps the QC figures worth checkpointing; the full QCState is discarded.
func summarize(result *models.QCState) map[string]any {
	scores := make(map[string]any, len(result.Reports))
	for agent, r := range result.Reports {
		scores[string(agent)] = r.Score
	}

	return map[string]any{
		"overall_score":        result.OverallScore,
		"agent_scores":         scores,
		"conflicts":            len(result.Conflicts),
		"unresolved_conflicts": len(result.UnresolvedConflicts),
		"applied_changes":      result.Summary.AppliedChanges,
		"skipped_changes":      result.Summary.SkippedChanges,
		"failed_agents":        len(result.AgentErrors),
	}
}
