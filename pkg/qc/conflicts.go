package qc

import (
	"cmp"
	"slices"

	"github.com/dukex/contentflow/pkg/models"
)

// sortChanges orders changes by position, then agent, then id.
func sortChanges(changes []models.QCChange) {
	slices.SortStableFunc(changes, func(a, b models.QCChange) int {
		return cmp.Or(
			cmp.Compare(a.Location.Start, b.Location.Start),
			cmp.Compare(a.Location.End, b.Location.End),
			cmp.Compare(a.AgentType, b.AgentType),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

// DetectConflicts groups suggestions whose spans overlap, transitively. Only
// groups holding changes from at least two different agents are conflicts.
func DetectConflicts(suggestions []models.QCChange) []models.QCConflict {
	sorted := slices.Clone(suggestions)
	sortChanges(sorted)

	var (
		conflicts []models.QCConflict
		cluster   []models.QCChange
	)

	flush := func() {
		c := models.QCConflict{ConflictingChanges: cluster}
		if agents := c.Agents(); len(agents) > 1 {
			c.Type = models.ConflictType(agents)
			conflicts = append(conflicts, c)
		}

		cluster = nil
	}

	for _, ch := range sorted {
		if len(cluster) > 0 && !overlapsAny(cluster, ch) {
			flush()
		}

		cluster = append(cluster, ch)
	}

	if len(cluster) > 0 {
		flush()
	}

	return conflicts
}

func overlapsAny(cluster []models.QCChange, ch models.QCChange) bool {
	return slices.ContainsFunc(cluster, func(o models.QCChange) bool {
		return o.Location.Overlaps(ch.Location)
	})
}
