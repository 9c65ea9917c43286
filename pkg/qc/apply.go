package qc

import (
	"cmp"
	"slices"

	"github.com/dukex/contentflow/pkg/models"
)

// Apply rewrites content with changes from right to left so earlier offsets
// stay valid. A change whose original text is no longer at its location, or
// that overlaps a change already applied, is skipped.
func Apply(content string, changes []models.QCChange) (string, int, int) {
	ordered := slices.Clone(changes)
	slices.SortStableFunc(ordered, func(a, b models.QCChange) int {
		return cmp.Or(
			cmp.Compare(b.Location.Start, a.Location.Start),
			cmp.Compare(b.Location.End, a.Location.End),
			cmp.Compare(a.ID, b.ID),
		)
	})

	text := []rune(content)
	boundary := len(text)
	applied, skipped := 0, 0

	for _, ch := range ordered {
		loc := ch.Location
		if loc.Start < 0 || loc.Start > loc.End || loc.End > boundary ||
			string(text[loc.Start:loc.End]) != ch.Original {
			skipped++

			continue
		}

		text = slices.Concat(text[:loc.Start], []rune(ch.Suggested), text[loc.End:])
		boundary = loc.Start
		applied++
	}

	return string(text), applied, skipped
}
