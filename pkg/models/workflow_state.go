// Package models defines the core domain models for the content-production workflow.
package models

import (
	"maps"
	"slices"
	"time"
)

// Status represents the lifecycle state of a workflow run as seen by its state snapshot.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// QualityDecision is the branch chosen by the quality gate after QC.
type QualityDecision string

const (
	QualityDecisionRegenerate  QualityDecision = "regenerate"
	QualityDecisionHumanReview QualityDecision = "human_review"
	QualityDecisionComplete    QualityDecision = "complete"
)

// UserAction records what a user did with a generated candidate.
type UserAction string

const (
	UserActionApprove UserAction = "approve"
	UserActionReject  UserAction = "reject"
	UserActionEdit    UserAction = "edit"
)

// WorkflowState is the single snapshot threaded through the content pipeline.
type WorkflowState struct {
	Topic     string `json:"topic"                validate:"required"`
	UserID    string `json:"user_id"              validate:"required"`
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`

	Concepts  []Concept  `json:"concepts"  validate:"dive"`
	Subtopics []Subtopic `json:"subtopics" validate:"dive"`

	SelectedConceptID   string   `json:"selected_concept_id,omitempty"`
	SelectedSubtopicIDs []string `json:"selected_subtopic_ids"`

	ArticleDraft *ArticleDraft `json:"article_draft,omitempty"`

	Errors   []ErrorEntry  `json:"errors"   validate:"dive"`
	Metadata StateMetadata `json:"metadata"`
	Status   Status        `json:"status"   validate:"required,oneof=pending processing completed failed"`
}

// Concept is a generated, ranked article idea.
type Concept struct {
	ID         string     `json:"id,omitempty"`
	Title      string     `json:"title"                 validate:"required"`
	Summary    string     `json:"summary"`
	RankOrder  int        `json:"rank_order"            validate:"min=0"`
	UserAction UserAction `json:"user_action,omitempty" validate:"omitempty,oneof=approve reject edit"`
	FeedbackID string     `json:"feedback_id,omitempty"`
}

// Subtopic is a generated section candidate for the selected concept.
type Subtopic struct {
	Concept

	IsSelected bool `json:"is_selected"`
}

// ArticleDraft accumulates the generated article across pipeline steps.
type ArticleDraft struct {
	MainBrief        string            `json:"main_brief,omitempty"`
	SubtopicBriefs   map[string]string `json:"subtopic_briefs,omitempty"`
	SubtopicContents map[string]string `json:"subtopic_contents,omitempty"`
	Body             string            `json:"body,omitempty"`
	FinalArticle     string            `json:"final_article,omitempty"`
	FinalHTML        string            `json:"final_html,omitempty"`

	WordCount           int  `json:"word_count"            validate:"min=0"`
	BrandScore          *int `json:"brand_score,omitempty"   validate:"omitempty,min=0,max=100"`
	FactScore           *int `json:"fact_score,omitempty"    validate:"omitempty,min=0,max=100"`
	QualityScore        *int `json:"quality_score,omitempty" validate:"omitempty,min=0,max=100"`
	RequiresHumanReview bool `json:"requires_human_review"`
	UnresolvedConflicts int  `json:"unresolved_conflicts"  validate:"min=0"`
}

// ErrorEntry is one recorded step failure. Entries are only ever appended.
type ErrorEntry struct {
	Step      string    `json:"step"      validate:"required"`
	Message   string    `json:"message"   validate:"required"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// StateMetadata holds the known step bookkeeping fields plus an extension map
// for forward-compatible keys.
type StateMetadata struct {
	CurrentStep          string          `json:"current_step,omitempty"`
	RegenerationCount    int             `json:"regeneration_count"         validate:"min=0"`
	QualityDecision      QualityDecision `json:"quality_decision,omitempty" validate:"omitempty,oneof=regenerate human_review complete"`
	HumanApprovalPending bool            `json:"human_approval_pending"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	UpdatedAt            *time.Time      `json:"updated_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	Extensions           map[string]any  `json:"extensions,omitempty"`
}

// NewWorkflowState returns a pending state for topic owned by userID.
func NewWorkflowState(topic, userID string) *WorkflowState {
	return &WorkflowState{
		Topic:               topic,
		UserID:              userID,
		Concepts:            []Concept{},
		Subtopics:           []Subtopic{},
		SelectedSubtopicIDs: []string{},
		Errors:              []ErrorEntry{},
		Status:              StatusPending,
	}
}

// HasConcept reports whether id names a concept in the current candidate list.
func (s *WorkflowState) HasConcept(id string) bool {
	if id == "" {
		return false
	}

	return slices.ContainsFunc(s.Concepts, func(c Concept) bool { return c.ID == id })
}

// HasSubtopic reports whether id names a subtopic in the current candidate list.
func (s *WorkflowState) HasSubtopic(id string) bool {
	if id == "" {
		return false
	}

	return slices.ContainsFunc(s.Subtopics, func(st Subtopic) bool { return st.ID == id })
}

// SelectedConcept returns the selected concept, if the selection is live.
func (s *WorkflowState) SelectedConcept() (Concept, bool) {
	for _, c := range s.Concepts {
		if c.ID != "" && c.ID == s.SelectedConceptID {
			return c, true
		}
	}

	return Concept{}, false
}

// SelectedSubtopics returns the selected subtopics in candidate-list order.
func (s *WorkflowState) SelectedSubtopics() []Subtopic {
	out := make([]Subtopic, 0, len(s.SelectedSubtopicIDs))

	for _, st := range s.Subtopics {
		if slices.Contains(s.SelectedSubtopicIDs, st.ID) {
			out = append(out, st)
		}
	}

	return out
}

// ConceptSelectionReady reports whether a concept is selected and that
// selection references a live candidate.
func (s *WorkflowState) ConceptSelectionReady() bool {
	return s.SelectedConceptID != "" && s.HasConcept(s.SelectedConceptID)
}

// SubtopicSelectionReady reports whether at least one subtopic is selected and
// every selected id references a live candidate.
func (s *WorkflowState) SubtopicSelectionReady() bool {
	if len(s.SelectedSubtopicIDs) == 0 {
		return false
	}

	for _, id := range s.SelectedSubtopicIDs {
		if !s.HasSubtopic(id) {
			return false
		}
	}

	return true
}

// StaleSubtopicIDs returns selected ids that are absent from the candidate list.
func (s *WorkflowState) StaleSubtopicIDs() []string {
	var stale []string

	for _, id := range s.SelectedSubtopicIDs {
		if !s.HasSubtopic(id) {
			stale = append(stale, id)
		}
	}

	return stale
}

// SelectionInvariantHolds reports whether every non-empty selection references
// a live candidate.
func (s *WorkflowState) SelectionInvariantHolds() bool {
	if s.SelectedConceptID != "" && !s.HasConcept(s.SelectedConceptID) {
		return false
	}

	return len(s.StaleSubtopicIDs()) == 0
}

// Clone returns a deep copy of the state.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}

	out := *s
	out.Concepts = slices.Clone(s.Concepts)
	out.Subtopics = slices.Clone(s.Subtopics)
	out.SelectedSubtopicIDs = slices.Clone(s.SelectedSubtopicIDs)
	out.Errors = slices.Clone(s.Errors)
	out.ArticleDraft = s.ArticleDraft.Clone()
	out.Metadata = s.Metadata.Clone()

	return &out
}

// Clone returns a deep copy of the draft.
func (d *ArticleDraft) Clone() *ArticleDraft {
	if d == nil {
		return nil
	}

	out := *d
	out.SubtopicBriefs = maps.Clone(d.SubtopicBriefs)
	out.SubtopicContents = maps.Clone(d.SubtopicContents)
	out.BrandScore = cloneInt(d.BrandScore)
	out.FactScore = cloneInt(d.FactScore)
	out.QualityScore = cloneInt(d.QualityScore)

	return &out
}

// Clone returns a copy of the metadata; the extension map is copied shallowly.
func (m StateMetadata) Clone() StateMetadata {
	out := m
	out.StartedAt = cloneTime(m.StartedAt)
	out.UpdatedAt = cloneTime(m.UpdatedAt)
	out.CompletedAt = cloneTime(m.CompletedAt)
	out.Extensions = maps.Clone(m.Extensions)

	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}
