package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateWithCandidates() *WorkflowState {
	s := NewWorkflowState("remote work", "user-1")
	s.Concepts = []Concept{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	s.Subtopics = []Subtopic{
		{Concept: Concept{ID: "s1", Title: "One"}},
		{Concept: Concept{ID: "s2", Title: "Two"}},
		{Concept: Concept{ID: "s3", Title: "Three"}},
	}

	return s
}

func TestWorkflowState_ConceptSelection(t *testing.T) {
	s := stateWithCandidates()
	assert.False(t, s.ConceptSelectionReady())
	assert.True(t, s.SelectionInvariantHolds())

	s.SelectedConceptID = "z"
	assert.False(t, s.ConceptSelectionReady())
	assert.False(t, s.SelectionInvariantHolds())

	_, ok := s.SelectedConcept()
	assert.False(t, ok)

	s.SelectedConceptID = "b"
	assert.True(t, s.ConceptSelectionReady())

	c, ok := s.SelectedConcept()
	require.True(t, ok)
	assert.Equal(t, "B", c.Title)
}

func TestWorkflowState_SubtopicSelection(t *testing.T) {
	s := stateWithCandidates()
	assert.False(t, s.SubtopicSelectionReady())

	s.SelectedSubtopicIDs = []string{"s3", "gone", "s1"}
	assert.False(t, s.SubtopicSelectionReady())
	assert.Equal(t, []string{"gone"}, s.StaleSubtopicIDs())
	assert.False(t, s.SelectionInvariantHolds())

	s.SelectedSubtopicIDs = []string{"s3", "s1"}
	assert.True(t, s.SubtopicSelectionReady())
	assert.Empty(t, s.StaleSubtopicIDs())

	selected := s.SelectedSubtopics()
	require.Len(t, selected, 2)
	assert.Equal(t, "s1", selected[0].ID)
	assert.Equal(t, "s3", selected[1].ID)
}

func TestWorkflowState_EmptyIDsNeverMatch(t *testing.T) {
	s := NewWorkflowState("topic", "user-1")
	s.Concepts = []Concept{{Title: "untitled id"}}

	assert.False(t, s.HasConcept(""))

	_, ok := s.SelectedConcept()
	assert.False(t, ok)
}

func TestWorkflowState_CloneIsDeep(t *testing.T) {
	brand := 80
	now := time.Now()

	s := stateWithCandidates()
	s.SelectedSubtopicIDs = []string{"s1"}
	s.ArticleDraft = &ArticleDraft{
		SubtopicBriefs: map[string]string{"s1": "brief"},
		BrandScore:     &brand,
	}
	s.Metadata.StartedAt = &now
	s.Metadata.Extensions = map[string]any{"k": "v"}

	c := s.Clone()
	require.Equal(t, s, c)

	c.Concepts[0].Title = "changed"
	c.SelectedSubtopicIDs[0] = "s2"
	c.ArticleDraft.SubtopicBriefs["s1"] = "changed"
	*c.ArticleDraft.BrandScore = 10
	*c.Metadata.StartedAt = now.Add(time.Hour)
	c.Metadata.Extensions["k"] = "changed"

	assert.Equal(t, "A", s.Concepts[0].Title)
	assert.Equal(t, "s1", s.SelectedSubtopicIDs[0])
	assert.Equal(t, "brief", s.ArticleDraft.SubtopicBriefs["s1"])
	assert.Equal(t, 80, *s.ArticleDraft.BrandScore)
	assert.Equal(t, now, *s.Metadata.StartedAt)
	assert.Equal(t, "v", s.Metadata.Extensions["k"])

	var nilState *WorkflowState
	assert.Nil(t, nilState.Clone())
}

func TestLocation_Overlaps(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Location
		expected bool
	}{
		{name: "disjoint", a: Location{0, 5}, b: Location{5, 9}, expected: false},
		{name: "partial", a: Location{0, 6}, b: Location{5, 9}, expected: true},
		{name: "contained", a: Location{2, 3}, b: Location{0, 9}, expected: true},
		{name: "same insertion point", a: Location{4, 4}, b: Location{4, 4}, expected: true},
		{name: "different insertion points", a: Location{4, 4}, b: Location{5, 5}, expected: false},
		{name: "insertion inside span", a: Location{4, 4}, b: Location{2, 8}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.expected, tt.b.Overlaps(tt.a))
		})
	}
}

func TestConflictType_IsOrderIndependent(t *testing.T) {
	assert.Equal(t, "brand_guardian_vs_proofreader", ConflictType([]AgentType{AgentProofreader, AgentBrandGuardian}))
	assert.Equal(t, "brand_guardian_vs_proofreader", ConflictType([]AgentType{AgentBrandGuardian, AgentProofreader, AgentProofreader}))

	conflict := QCConflict{ConflictingChanges: []QCChange{
		{AgentType: AgentRegulatory},
		{AgentType: AgentFactChecker},
		{AgentType: AgentRegulatory},
	}}
	assert.Equal(t, []AgentType{AgentFactChecker, AgentRegulatory}, conflict.Agents())
}

func TestThread_Terminal(t *testing.T) {
	for status, terminal := range map[ThreadStatus]bool{
		ThreadStatusProcessing:  false,
		ThreadStatusSuspended:   false,
		ThreadStatusFailed:      false,
		ThreadStatusCompleted:   true,
		ThreadStatusHumanReview: true,
		ThreadStatusCancelled:   true,
	} {
		assert.Equal(t, terminal, (&Thread{Status: status}).Terminal(), status)
	}
}
