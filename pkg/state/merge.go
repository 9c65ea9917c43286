package state

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/contentflow/pkg/models"
)

// Policy is how a field of an update combines with the current value.
type Policy string

const (
	Replace      Policy = "replace"
	Append       Policy = "append"
	ShallowMerge Policy = "shallow-merge"
)

// Field names a WorkflowState field by its JSON key.
type Field string

const (
	FieldTopic               Field = "topic"
	FieldUserID              Field = "user_id"
	FieldSessionID           Field = "session_id"
	FieldThreadID            Field = "thread_id"
	FieldConcepts            Field = "concepts"
	FieldSubtopics           Field = "subtopics"
	FieldSelectedConceptID   Field = "selected_concept_id"
	FieldSelectedSubtopicIDs Field = "selected_subtopic_ids"
	FieldArticleDraft        Field = "article_draft"
	FieldErrors              Field = "errors"
	FieldMetadata            Field = "metadata"
	FieldStatus              Field = "status"
)

// policies declares the combination rule of every WorkflowState field, once.
var policies = map[Field]Policy{
	FieldTopic:               Replace,
	FieldUserID:              Replace,
	FieldSessionID:           Replace,
	FieldThreadID:            Replace,
	FieldConcepts:            Replace,
	FieldSubtopics:           Replace,
	FieldSelectedConceptID:   Replace,
	FieldSelectedSubtopicIDs: Replace,
	FieldArticleDraft:        Replace,
	FieldErrors:              Append,
	FieldMetadata:            ShallowMerge,
	FieldStatus:              Replace,
}

// PolicyFor returns the declared policy of f.
func PolicyFor(f Field) (Policy, bool) {
	p, ok := policies[f]

	return p, ok
}

// Policies returns a copy of the whole policy table.
func Policies() map[Field]Policy {
	return maps.Clone(policies)
}

type rule struct {
	field Field
	apply func(dst *models.WorkflowState, u *Update) bool
}

// rules are built from the policy table; a constructor whose shape disagrees
// with the declared policy panics at package init.
var rules = []rule{
	replaceRule(FieldTopic, func(s *models.WorkflowState) *string { return &s.Topic }, func(u *Update) Opt[string] { return u.Topic }),
	replaceRule(FieldUserID, func(s *models.WorkflowState) *string { return &s.UserID }, func(u *Update) Opt[string] { return u.UserID }),
	replaceRule(FieldSessionID, func(s *models.WorkflowState) *string { return &s.SessionID }, func(u *Update) Opt[string] { return u.SessionID }),
	replaceRule(FieldThreadID, func(s *models.WorkflowState) *string { return &s.ThreadID }, func(u *Update) Opt[string] { return u.ThreadID }),
	replaceRule(FieldConcepts, func(s *models.WorkflowState) *[]models.Concept { return &s.Concepts }, func(u *Update) Opt[[]models.Concept] { return cloneSlice(u.Concepts) }),
	replaceRule(FieldSubtopics, func(s *models.WorkflowState) *[]models.Subtopic { return &s.Subtopics }, func(u *Update) Opt[[]models.Subtopic] { return cloneSlice(u.Subtopics) }),
	replaceRule(FieldSelectedConceptID, func(s *models.WorkflowState) *string { return &s.SelectedConceptID }, func(u *Update) Opt[string] { return u.SelectedConceptID }),
	replaceRule(FieldSelectedSubtopicIDs, func(s *models.WorkflowState) *[]string { return &s.SelectedSubtopicIDs }, func(u *Update) Opt[[]string] { return cloneSlice(u.SelectedSubtopicIDs) }),
	replaceRule(FieldArticleDraft, func(s *models.WorkflowState) **models.ArticleDraft { return &s.ArticleDraft }, func(u *Update) Opt[*models.ArticleDraft] {
		return Opt[*models.ArticleDraft]{Value: u.ArticleDraft.Value.Clone(), Set: u.ArticleDraft.Set}
	}),
	appendRule(FieldErrors, func(s *models.WorkflowState) *[]models.ErrorEntry { return &s.Errors }, func(u *Update) []models.ErrorEntry { return u.Errors }),
	{field: mustPolicy(FieldMetadata, ShallowMerge), apply: mergeMetadata},
	replaceRule(FieldStatus, func(s *models.WorkflowState) *models.Status { return &s.Status }, func(u *Update) Opt[models.Status] { return u.Status }),
}

func mustPolicy(f Field, want Policy) Field {
	if got := policies[f]; got != want {
		panic(fmt.Sprintf("state: field %s declared %q but merged as %q", f, got, want))
	}

	return f
}

func replaceRule[T any](f Field, dst func(*models.WorkflowState) *T, src func(*Update) Opt[T]) rule {
	return rule{
		field: mustPolicy(f, Replace),
		apply: func(s *models.WorkflowState, u *Update) bool {
			o := src(u)
			if !o.Set {
				return false
			}

			*dst(s) = o.Value

			return true
		},
	}
}

func appendRule[T any](f Field, dst func(*models.WorkflowState) *[]T, src func(*Update) []T) rule {
	return rule{
		field: mustPolicy(f, Append),
		apply: func(s *models.WorkflowState, u *Update) bool {
			items := src(u)
			if len(items) == 0 {
				return false
			}

			*dst(s) = append(slices.Clone(*dst(s)), items...)

			return true
		},
	}
}

func cloneSlice[T any](o Opt[[]T]) Opt[[]T] {
	if !o.Set {
		return o
	}

	v := slices.Clone(o.Value)
	if v == nil {
		v = []T{}
	}

	return Opt[[]T]{Value: v, Set: true}
}

func mergeMetadata(s *models.WorkflowState, u *Update) bool {
	m := u.Metadata
	if m == nil {
		return false
	}

	setIf(&s.Metadata.CurrentStep, m.CurrentStep)
	setIf(&s.Metadata.RegenerationCount, m.RegenerationCount)
	setIf(&s.Metadata.QualityDecision, m.QualityDecision)
	setIf(&s.Metadata.HumanApprovalPending, m.HumanApprovalPending)
	setIf(&s.Metadata.StartedAt, m.StartedAt)
	setIf(&s.Metadata.UpdatedAt, m.UpdatedAt)
	setIf(&s.Metadata.CompletedAt, m.CompletedAt)

	if len(m.Extensions) > 0 {
		merged := maps.Clone(s.Metadata.Extensions)
		if merged == nil {
			merged = make(map[string]any, len(m.Extensions))
		}

		maps.Copy(merged, m.Extensions)
		s.Metadata.Extensions = merged
	}

	return true
}

func setIf[T any](dst *T, o Opt[T]) {
	if o.Set {
		*dst = o.Value
	}
}

// Merge returns a new state with u folded into s according to the policy
// table, plus the fields that were written. s is not modified.
func Merge(s *models.WorkflowState, u Update) (*models.WorkflowState, []Field) {
	out := s.Clone()
	if out == nil {
		out = &models.WorkflowState{}
	}

	var written []Field

	for _, r := range rules {
		if r.apply(out, &u) {
			written = append(written, r.field)
		}
	}

	return out, written
}

// FieldNames renders written fields for checkpoint metadata.
func FieldNames(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}

	return out
}
