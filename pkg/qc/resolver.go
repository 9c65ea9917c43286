package qc

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
)

// PreferenceStore is the learned-preference lookup the resolver consults first.
type PreferenceStore interface {
	FindPreference(ctx context.Context, userID, profileID, conflictType string) (*models.LearnedPreference, error)
	RecordUsage(ctx context.Context, id string, at time.Time) error
}

// ResolveInput is one arbitration request.
type ResolveInput struct {
	UserID             string
	GuidelineProfileID string
	AutoApplyThreshold int
	Suggestions        []models.QCChange
	Conflicts          []models.QCConflict
}

// ResolveOutput is the arbitration result.
type ResolveOutput struct {
	Resolved    []models.QCChange
	Resolutions []models.Resolution
	Unresolved  []models.QCConflict
}

// Resolver settles conflicts with learned preferences, then the severity
// priority table, then the confidence threshold.
type Resolver struct {
	prefs  PreferenceStore
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver builds a resolver. prefs may be nil, which disables learned preferences.
func NewResolver(prefs PreferenceStore, logger *slog.Logger) *Resolver {
	return &Resolver{prefs: prefs, logger: logger, now: time.Now}
}

type priorityRule struct {
	severity models.Severity
	agent    models.AgentType // empty matches any agent
}

// priorityTable is checked top to bottom; the first rule any change matches wins.
var priorityTable = []priorityRule{
	{models.SeverityCritical, models.AgentRegulatory},
	{models.SeverityCritical, models.AgentBrandGuardian},
	{models.SeverityCritical, ""},
	{models.SeverityHigh, models.AgentRegulatory},
	{models.SeverityHigh, models.AgentBrandGuardian},
	{models.SeverityHigh, ""},
}

// Resolve arbitrates every conflict. Suggestions outside any conflict pass
// straight into the resolved set. Output order depends only on the input values.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) ResolveOutput {
	inConflict := make(map[string]bool)

	for _, c := range in.Conflicts {
		for _, ch := range c.ConflictingChanges {
			inConflict[ch.ID] = true
		}
	}

	out := ResolveOutput{
		Resolved:    []models.QCChange{},
		Resolutions: []models.Resolution{},
		Unresolved:  []models.QCConflict{},
	}

	for _, ch := range in.Suggestions {
		if !inConflict[ch.ID] {
			out.Resolved = append(out.Resolved, ch)
		}
	}

	conflicts := slices.Clone(in.Conflicts)
	for i := range conflicts {
		conflicts[i].ConflictingChanges = candidates(conflicts[i].ConflictingChanges)
	}

	slices.SortStableFunc(conflicts, func(a, b models.QCConflict) int {
		return cmp.Or(
			cmp.Compare(firstStart(a), firstStart(b)),
			cmp.Compare(a.Type, b.Type),
		)
	})

	for _, c := range conflicts {
		conflictType := c.Type
		if conflictType == "" {
			conflictType = models.ConflictType(c.Agents())
		}

		selected, strategy := r.arbitrate(ctx, in, conflictType, c.ConflictingChanges)
		if selected == nil {
			out.Unresolved = append(out.Unresolved, c)
			out.Resolutions = append(out.Resolutions, models.Resolution{ConflictType: conflictType, Strategy: models.ResolutionNone})

			continue
		}

		out.Resolved = append(out.Resolved, *selected)
		out.Resolutions = append(out.Resolutions, models.Resolution{ConflictType: conflictType, Strategy: strategy, Selected: selected})
	}

	sortChanges(out.Resolved)

	return out
}

func (r *Resolver) arbitrate(ctx context.Context, in ResolveInput, conflictType string, changes []models.QCChange) (*models.QCChange, models.ResolutionStrategy) {
	if ch := r.byPreference(ctx, in, conflictType, changes); ch != nil {
		return ch, models.ResolutionLearnedPreference
	}

	if ch := byPriority(changes); ch != nil {
		return ch, models.ResolutionPriority
	}

	if ch := byConfidence(changes, in.AutoApplyThreshold); ch != nil {
		return ch, models.ResolutionConfidence
	}

	return nil, models.ResolutionNone
}

func (r *Resolver) byPreference(ctx context.Context, in ResolveInput, conflictType string, changes []models.QCChange) *models.QCChange {
	if r.prefs == nil || in.UserID == "" {
		return nil
	}

	pref, err := r.prefs.FindPreference(ctx, in.UserID, in.GuidelineProfileID, conflictType)
	if err != nil {
		if !errors.Is(err, persistence.ErrPreferenceNotFound) {
			r.logger.WarnContext(ctx, "learned preference lookup failed", "conflict_type", conflictType, "error", err)
		}

		return nil
	}

	if !pref.ApplyToFuture {
		return nil
	}

	idx := slices.IndexFunc(changes, func(ch models.QCChange) bool { return ch.AgentType == pref.PreferredAgentType })
	if idx < 0 {
		return nil
	}

	err = r.prefs.RecordUsage(ctx, pref.ID, r.now().UTC())
	if err != nil {
		r.logger.WarnContext(ctx, "failed to record learned preference usage", "preference_id", pref.ID, "error", err)
	}

	selected := changes[idx]

	return &selected
}

func byPriority(changes []models.QCChange) *models.QCChange {
	for _, rule := range priorityTable {
		idx := slices.IndexFunc(changes, func(ch models.QCChange) bool {
			return ch.Severity == rule.severity && (rule.agent == "" || ch.AgentType == rule.agent)
		})
		if idx >= 0 {
			selected := changes[idx]

			return &selected
		}
	}

	return nil
}

func byConfidence(changes []models.QCChange, threshold int) *models.QCChange {
	var selected *models.QCChange

	for i := range changes {
		if changes[i].Confidence < threshold {
			continue
		}

		if selected != nil {
			return nil
		}

		selected = &changes[i]
	}

	if selected == nil {
		return nil
	}

	ch := *selected

	return &ch
}

// candidates sorts a conflict's changes so every strategy scans them in the
// same order: most confident first, then by position, agent and id.
func candidates(changes []models.QCChange) []models.QCChange {
	out := slices.Clone(changes)

	slices.SortStableFunc(out, func(a, b models.QCChange) int {
		return cmp.Or(
			cmp.Compare(b.Confidence, a.Confidence),
			cmp.Compare(a.Location.Start, b.Location.Start),
			cmp.Compare(a.AgentType, b.AgentType),
			cmp.Compare(a.ID, b.ID),
		)
	})

	return out
}

func firstStart(c models.QCConflict) int {
	if len(c.ConflictingChanges) == 0 {
		return 0
	}

	start := c.ConflictingChanges[0].Location.Start
	for _, ch := range c.ConflictingChanges[1:] {
		start = min(start, ch.Location.Start)
	}

	return start
}
