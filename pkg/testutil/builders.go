// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestState creates a pending WorkflowState with default values that can be overridden.
func CreateTestState(overrides ...func(*models.WorkflowState)) *models.WorkflowState {
	s := models.NewWorkflowState("Remote work for small teams", "user-"+uuid.NewString()[:8])
	s.SessionID = "session-1"

	for _, override := range overrides {
		override(s)
	}

	return s
}

// WithUser sets the state owner.
func WithUser(userID string) func(*models.WorkflowState) {
	return func(s *models.WorkflowState) {
		s.UserID = userID
	}
}

// WithConcepts fills the state with n ranked concept candidates c1..cn.
func WithConcepts(n int) func(*models.WorkflowState) {
	return func(s *models.WorkflowState) {
		s.Concepts = make([]models.Concept, 0, n)
		for i := 1; i <= n; i++ {
			s.Concepts = append(s.Concepts, models.Concept{
				ID:        fmt.Sprintf("c%d", i),
				Title:     fmt.Sprintf("Concept %d", i),
				Summary:   fmt.Sprintf("Summary of concept %d", i),
				RankOrder: i,
			})
		}
	}
}

// WithSubtopics fills the state with n subtopic candidates s1..sn.
func WithSubtopics(n int) func(*models.WorkflowState) {
	return func(s *models.WorkflowState) {
		s.Subtopics = make([]models.Subtopic, 0, n)
		for i := 1; i <= n; i++ {
			s.Subtopics = append(s.Subtopics, models.Subtopic{Concept: models.Concept{
				ID:        fmt.Sprintf("s%d", i),
				Title:     fmt.Sprintf("Subtopic %d", i),
				RankOrder: i,
			}})
		}
	}
}

// WithSelectedConcept selects a concept by id.
func WithSelectedConcept(id string) func(*models.WorkflowState) {
	return func(s *models.WorkflowState) {
		s.SelectedConceptID = id
	}
}

// WithSelectedSubtopics selects subtopics by id.
func WithSelectedSubtopics(ids ...string) func(*models.WorkflowState) {
	return func(s *models.WorkflowState) {
		s.SelectedSubtopicIDs = ids
	}
}

// CreateTestThread creates a pending thread owned by userID.
func CreateTestThread(userID string, overrides ...func(*models.Thread)) *models.Thread {
	now := time.Now().UTC()

	thread := &models.Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: "session-1",
		Status:    models.ThreadStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(thread)
	}

	return thread
}

// CreateTestCheckpoint creates a loop checkpoint for thread holding state.
func CreateTestCheckpoint(threadID, parentID string, state *models.WorkflowState, overrides ...func(*models.Checkpoint)) *models.Checkpoint {
	id, _ := uuid.NewV7()
	step := 0

	cp := &models.Checkpoint{
		ThreadID:           threadID,
		CheckpointID:       id.String(),
		ParentCheckpointID: parentID,
		State:              state,
		Metadata: models.CheckpointMetadata{
			Source: models.CheckpointSourceLoop,
			Step:   &step,
			Node:   "generate_concepts",
			Next:   "set_await_concept_approval",
			Writes: []string{"concepts"},
		},
		CreatedAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(cp)
	}

	return cp
}

// CreateTestProfile creates a brand guideline profile owned by userID.
func CreateTestProfile(userID string, overrides ...func(*models.GuidelineProfile)) *models.GuidelineProfile {
	profile := &models.GuidelineProfile{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        models.GuidelineBrand,
		Name:        "House style",
		Tone:        "friendly, direct",
		Audience:    "engineering managers",
		Rules:       []string{"Use active voice", "Avoid jargon"},
		BannedTerms: []string{"synergy"},
	}

	for _, override := range overrides {
		override(profile)
	}

	return profile
}

// WithRegulatoryKind turns a profile into a regulatory ruleset.
func WithRegulatoryKind(jurisdiction string) func(*models.GuidelineProfile) {
	return func(p *models.GuidelineProfile) {
		p.Kind = models.GuidelineRegulatory
		p.Name = "Regulatory " + jurisdiction
		p.Jurisdiction = jurisdiction
		p.RequiredDisclaimers = []string{"This is not financial advice."}
	}
}
