package state

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicies_CoverEveryStateField(t *testing.T) {
	typ := reflect.TypeOf(models.WorkflowState{})

	for i := range typ.NumField() {
		tag := strings.Split(typ.Field(i).Tag.Get("json"), ",")[0]
		require.NotEmpty(t, tag, "field %s has no json tag", typ.Field(i).Name)

		_, ok := PolicyFor(Field(tag))
		assert.True(t, ok, "no merge policy declared for %s", tag)
	}

	assert.Len(t, Policies(), typ.NumField())
}

func TestPolicies_DeclaredRules(t *testing.T) {
	p, _ := PolicyFor(FieldErrors)
	assert.Equal(t, Append, p)

	p, _ = PolicyFor(FieldMetadata)
	assert.Equal(t, ShallowMerge, p)

	p, _ = PolicyFor(FieldConcepts)
	assert.Equal(t, Replace, p)
}

func TestMerge_ReplacesListsWholesale(t *testing.T) {
	s := models.NewWorkflowState("topic", "user-1")
	s.Concepts = []models.Concept{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}

	out, written := Merge(s, Update{Concepts: Some([]models.Concept{{ID: "c", Title: "C"}})})

	require.Len(t, out.Concepts, 1)
	assert.Equal(t, "c", out.Concepts[0].ID)
	assert.Equal(t, []Field{FieldConcepts}, written)
	assert.Len(t, s.Concepts, 2, "input state must not be modified")
}

func TestMerge_SetToEmptyIsNotAbsent(t *testing.T) {
	s := models.NewWorkflowState("topic", "user-1")
	s.SelectedSubtopicIDs = []string{"x"}

	out, _ := Merge(s, Update{SelectedSubtopicIDs: Some([]string(nil))})
	assert.NotNil(t, out.SelectedSubtopicIDs)
	assert.Empty(t, out.SelectedSubtopicIDs)

	unchanged, written := Merge(s, Update{})
	assert.Equal(t, []string{"x"}, unchanged.SelectedSubtopicIDs)
	assert.Empty(t, written)
}

func TestMerge_AppendsErrors(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := models.NewWorkflowState("topic", "user-1")
	s.Errors = []models.ErrorEntry{{Step: "first", Message: "boom", Timestamp: now}}

	u := Update{}
	u.AppendError("second", errors.New("bang"), now)

	out, _ := Merge(s, u)
	require.Len(t, out.Errors, 2)
	assert.Equal(t, "first", out.Errors[0].Step)
	assert.Equal(t, "second", out.Errors[1].Step)
	assert.Len(t, s.Errors, 1)
}

func TestMerge_ShallowMergesMetadata(t *testing.T) {
	s := models.NewWorkflowState("topic", "user-1")
	s.Metadata.RegenerationCount = 2
	s.Metadata.HumanApprovalPending = true
	s.Metadata.Extensions = map[string]any{"keep": 1, "override": "old"}

	out, _ := Merge(s, Update{Metadata: &MetadataUpdate{
		HumanApprovalPending: Some(false),
		Extensions:           map[string]any{"override": "new", "added": true},
	}})

	assert.Equal(t, 2, out.Metadata.RegenerationCount)
	assert.False(t, out.Metadata.HumanApprovalPending)
	assert.Equal(t, map[string]any{"keep": 1, "override": "new", "added": true}, out.Metadata.Extensions)
	assert.Equal(t, "old", s.Metadata.Extensions["override"])
}

func TestUpdate_JSONDistinguishesAbsentFromEmpty(t *testing.T) {
	var u Update

	err := json.Unmarshal([]byte(`{"selected_subtopic_ids": [], "metadata": {"human_approval_pending": false}}`), &u)
	require.NoError(t, err)

	assert.True(t, u.SelectedSubtopicIDs.Set)
	assert.False(t, u.SelectedConceptID.Set)
	require.NotNil(t, u.Metadata)
	assert.True(t, u.Metadata.HumanApprovalPending.Set)
	assert.False(t, u.Empty())

	data, err := json.Marshal(Update{SelectedConceptID: Some("a")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"selected_concept_id":"a"}`, string(data))
}

func TestUpdate_TouchesIdentity(t *testing.T) {
	assert.False(t, (&Update{Topic: Some("x")}).TouchesIdentity())
	assert.True(t, (&Update{UserID: Some("other")}).TouchesIdentity())
	assert.True(t, (&Update{ThreadID: Some("t")}).TouchesIdentity())
}

func TestFromState_RebuildsEquivalentState(t *testing.T) {
	s := models.NewWorkflowState("topic", "user-1")
	s.Concepts = []models.Concept{{ID: "a", Title: "A"}}
	s.SelectedConceptID = "a"
	s.Metadata.Extensions = map[string]any{"k": "v"}

	out, _ := Merge(models.NewWorkflowState("", ""), FromState(s))
	assert.Equal(t, s, out)
}
