package content

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/graph"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/state"
)

// Decide picks the quality decision for a reviewed draft. A missing score
// counts as zero, so a draft whose checks failed never completes.
func Decide(s *models.WorkflowState, policy config.QualityPolicy) models.QualityDecision {
	d := s.ArticleDraft

	passed := d != nil &&
		s.Status != models.StatusFailed &&
		scoreOf(d.BrandScore) >= policy.MinBrandScore &&
		scoreOf(d.FactScore) >= policy.MinFactScore &&
		d.UnresolvedConflicts == 0 &&
		!d.RequiresHumanReview

	switch {
	case passed:
		return models.QualityDecisionComplete
	case s.Metadata.RegenerationCount < policy.MaxRegenerations:
		return models.QualityDecisionRegenerate
	default:
		return models.QualityDecisionHumanReview
	}
}

func scoreOf(score *int) int {
	if score == nil {
		return 0
	}

	return *score
}

func (p *Pipeline) qualityDecision(ctx context.Context, s *models.WorkflowState) graph.StepResult {
	decision := Decide(s, p.quality)

	var u state.Update
	u.Meta().QualityDecision = state.Some(decision)

	p.logger.InfoContext(ctx, "quality decision",
		"thread_id", s.ThreadID,
		"decision", decision,
		"regeneration_count", s.Metadata.RegenerationCount)

	switch decision {
	case models.QualityDecisionRegenerate:
		u.Meta().RegenerationCount = state.Some(s.Metadata.RegenerationCount + 1)

	case models.QualityDecisionHumanReview:
		draft := s.ArticleDraft.Clone()
		if draft == nil {
			draft = &models.ArticleDraft{}
		}

		draft.RequiresHumanReview = true
		u.ArticleDraft = state.Some(draft)
		u.Meta().HumanApprovalPending = state.Some(true)

	case models.QualityDecisionComplete:
		draft := s.ArticleDraft.Clone()

		html, err := p.render(draft.FinalArticle)
		if err != nil {
			// Without HTML the article cannot be published as is.
			u.Meta().QualityDecision = state.Some(models.QualityDecisionHumanReview)
			u.Meta().HumanApprovalPending = state.Some(true)

			return graph.Fail(fmt.Errorf("render article: %w", err), u)
		}

		now := p.now()
		draft.FinalHTML = html
		u.ArticleDraft = state.Some(draft)
		u.Status = state.Some(models.StatusCompleted)
		u.Meta().HumanApprovalPending = state.Some(false)
		u.Meta().CompletedAt = state.Some(&now)
	}

	return graph.Continue(u)
}

func (p *Pipeline) render(markdown string) (string, error) {
	var buf bytes.Buffer

	err := p.markdown.Convert([]byte(markdown), &buf)
	if err != nil {
		return "", err
	}

	return buf.String(), nil
}
