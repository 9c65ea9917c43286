// Package state holds partial workflow-state updates and the merge policies
// that fold them into a WorkflowState.
package state

import (
	"encoding/json"
	"time"

	"github.com/dukex/contentflow/pkg/models"
)

// Opt is an optional field of an Update. A zero Opt means "leave unchanged",
// which lets an update set a list to empty without being mistaken for absent.
type Opt[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{Value: v, Set: true}
}

// IsZero lets encoding/json omit unset fields via the omitzero tag.
func (o Opt[T]) IsZero() bool {
	return !o.Set
}

func (o Opt[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value)
}

func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	o.Set = true

	return json.Unmarshal(data, &o.Value)
}

// Update is a partial WorkflowState produced by a step or supplied by a caller.
type Update struct {
	Topic     Opt[string] `json:"topic,omitzero"`
	UserID    Opt[string] `json:"user_id,omitzero"`
	SessionID Opt[string] `json:"session_id,omitzero"`
	ThreadID  Opt[string] `json:"thread_id,omitzero"`

	Concepts  Opt[[]models.Concept]  `json:"concepts,omitzero"`
	Subtopics Opt[[]models.Subtopic] `json:"subtopics,omitzero"`

	SelectedConceptID   Opt[string]   `json:"selected_concept_id,omitzero"`
	SelectedSubtopicIDs Opt[[]string] `json:"selected_subtopic_ids,omitzero"`

	ArticleDraft Opt[*models.ArticleDraft] `json:"article_draft,omitzero"`

	Errors   []models.ErrorEntry `json:"errors,omitempty"`
	Metadata *MetadataUpdate     `json:"metadata,omitempty"`
	Status   Opt[models.Status]  `json:"status,omitzero"`
}

// MetadataUpdate is a shallow patch over StateMetadata. Extension keys are
// merged key by key; the other fields replace when set.
type MetadataUpdate struct {
	CurrentStep          Opt[string]                 `json:"current_step,omitzero"`
	RegenerationCount    Opt[int]                    `json:"regeneration_count,omitzero"`
	QualityDecision      Opt[models.QualityDecision] `json:"quality_decision,omitzero"`
	HumanApprovalPending Opt[bool]                   `json:"human_approval_pending,omitzero"`
	StartedAt            Opt[*time.Time]             `json:"started_at,omitzero"`
	UpdatedAt            Opt[*time.Time]             `json:"updated_at,omitzero"`
	CompletedAt          Opt[*time.Time]             `json:"completed_at,omitzero"`
	Extensions           map[string]any              `json:"extensions,omitempty"`
}

// Empty reports whether the update would change nothing.
func (u *Update) Empty() bool {
	if u == nil {
		return true
	}

	return !u.Topic.Set && !u.UserID.Set && !u.SessionID.Set && !u.ThreadID.Set &&
		!u.Concepts.Set && !u.Subtopics.Set &&
		!u.SelectedConceptID.Set && !u.SelectedSubtopicIDs.Set &&
		!u.ArticleDraft.Set && len(u.Errors) == 0 && u.Metadata == nil && !u.Status.Set
}

// TouchesIdentity reports whether the update tries to change owner or thread identity.
func (u *Update) TouchesIdentity() bool {
	return u != nil && (u.UserID.Set || u.ThreadID.Set)
}

// Meta returns the metadata patch, creating it when absent.
func (u *Update) Meta() *MetadataUpdate {
	if u.Metadata == nil {
		u.Metadata = &MetadataUpdate{}
	}

	return u.Metadata
}

// AppendError records a step failure on the update.
func (u *Update) AppendError(step string, err error, at time.Time) {
	u.Errors = append(u.Errors, models.ErrorEntry{
		Step:      step,
		Message:   err.Error(),
		Timestamp: at.UTC(),
	})
}

// FromState builds an update that would replace every mergeable field with the
// values in s. Used to seed a thread from a caller-provided initial state.
func FromState(s *models.WorkflowState) Update {
	meta := s.Metadata.Clone()

	return Update{
		Topic:               Some(s.Topic),
		UserID:              Some(s.UserID),
		SessionID:           Some(s.SessionID),
		ThreadID:            Some(s.ThreadID),
		Concepts:            Some(s.Concepts),
		Subtopics:           Some(s.Subtopics),
		SelectedConceptID:   Some(s.SelectedConceptID),
		SelectedSubtopicIDs: Some(s.SelectedSubtopicIDs),
		ArticleDraft:        Some(s.ArticleDraft.Clone()),
		Errors:              s.Errors,
		Metadata: &MetadataUpdate{
			CurrentStep:          Some(meta.CurrentStep),
			RegenerationCount:    Some(meta.RegenerationCount),
			QualityDecision:      Some(meta.QualityDecision),
			HumanApprovalPending: Some(meta.HumanApprovalPending),
			StartedAt:            Some(meta.StartedAt),
			UpdatedAt:            Some(meta.UpdatedAt),
			CompletedAt:          Some(meta.CompletedAt),
			Extensions:           meta.Extensions,
		},
		Status: Some(s.Status),
	}
}
