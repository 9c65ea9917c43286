package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/contentflow/pkg/graph"
	"github.com/dukex/contentflow/pkg/llm"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/state"
	"github.com/google/uuid"
)

var (
	// ErrNoSelection is recorded when a generation step runs without the selection it builds on.
	ErrNoSelection = errors.New("required selection is missing")

	// ErrNoDraft is recorded when a review step runs before an article was generated.
	ErrNoDraft = errors.New("no article draft")

	// ErrNoCandidates is recorded when an approval step has no concepts or subtopics to offer.
	ErrNoCandidates = errors.New("no candidates to approve")
)

const candidatesSchema = `{
	"type": "object",
	"required": ["%[1]s"],
	"properties": {
		"%[1]s": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["title"],
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"summary": {"type": "string"}
				}
			}
		}
	}
}`

var (
	conceptsSchema  = llm.MustSchema("concepts", fmt.Sprintf(candidatesSchema, "concepts"))
	subtopicsSchema = llm.MustSchema("subtopics", fmt.Sprintf(candidatesSchema, "subtopics"))

	briefSchema = llm.MustSchema("brief", `{
		"type": "object",
		"required": ["main_brief"],
		"properties": {
			"main_brief": {"type": "string", "minLength": 1},
			"subtopic_briefs": {"type": "object", "additionalProperties": {"type": "string"}}
		}
	}`)

	sectionSchema = llm.MustSchema("section", `{
		"type": "object",
		"required": ["content"],
		"properties": {"content": {"type": "string", "minLength": 1}}
	}`)
)

type candidate struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func (p *Pipeline) generateConcepts(ctx context.Context, s *models.WorkflowState) graph.StepResult {
	var out struct {
		Concepts []candidate `json:"concepts"`
	}

	err := p.complete(ctx, conceptsSchema, llm.Prompt{
		Name:   "concepts",
		System: `Propose article concepts for the topic. Answer {"concepts": [{"title", "summary"}]}, best first.`,
		User:   fmt.Sprintf("Topic: %s\nContent type: %s", s.Topic, contentType(s)),
	}, &out)
	if err != nil {
		return graph.Fail(fmt.Errorf("generate concepts: %w", err), p.started(s))
	}

	concepts := make([]models.Concept, 0, len(out.Concepts))
	for i, c := range out.Concepts {
		concepts = append(concepts, models.Concept{
			ID:        uuid.NewString(),
			Title:     c.Title,
			Summary:   c.Summary,
			RankOrder: i + 1,
		})
	}

	u := p.started(s)
	u.Concepts = state.Some(concepts)
	u.SelectedConceptID = state.Some("")
	u.Subtopics = state.Some([]models.Subtopic{})
	u.SelectedSubtopicIDs = state.Some([]string{})

	return graph.Continue(u)
}

func (p *Pipeline) generateSubtopics(ctx context.Context, s *models.WorkflowState) graph.StepResult {
	concept, ok := s.SelectedConcept()
	if !ok {
		return graph.Fail(fmt.Errorf("generate subtopics: %w", ErrNoSelection))
	}

	var out struct {
		Subtopics []candidate `json:"subtopics"`
	}

	err := p.complete(ctx, subtopicsSchema, llm.Prompt{
		Name:   "subtopics",
		System: `Propose sections for the article. Answer {"subtopics": [{"title", "summary"}]}, best first.`,
		User:   fmt.Sprintf("Topic: %s\nConcept: %s\n%s", s.Topic, concept.Title, concept.Summary),
	}, &out)
	if err != nil {
		return graph.Fail(fmt.Errorf("generate subtopics: %w", err))
	}

	subtopics := make([]models.Subtopic, 0, len(out.Subtopics))
	for i, c := range out.Subtopics {
		subtopics = append(subtopics, models.Subtopic{Concept: models.Concept{
			ID:        uuid.NewString(),
			Title:     c.Title,
			Summary:   c.Summary,
			RankOrder: i + 1,
		}})
	}

	return graph.Continue(state.Update{
		Subtopics:           state.Some(subtopics),
		SelectedSubtopicIDs: state.Some([]string{}),
		Status:              state.Some(models.StatusProcessing),
	})
}

// generateArticle writes a brief, then one section per selected subtopic, and
// stitches them into the draft body. A regeneration starts from a fresh draft.
func (p *Pipeline) generateArticle(ctx context.Context, s *models.WorkflowState) graph.StepResult {
	concept, ok := s.SelectedConcept()
	subtopics := s.SelectedSubtopics()

	if !ok || len(subtopics) == 0 {
		return graph.Fail(fmt.Errorf("generate article: %w", ErrNoSelection))
	}

	var outline strings.Builder
	for _, st := range subtopics {
		fmt.Fprintf(&outline, "- [%s] %s: %s\n", st.ID, st.Title, st.Summary)
	}

	user := fmt.Sprintf("Topic: %s\nConcept: %s\n%s\nSections:\n%s", s.Topic, concept.Title, concept.Summary, outline.String())
	if s.Metadata.RegenerationCount > 0 && s.ArticleDraft != nil {
		user += fmt.Sprintf("\nThis is attempt %d. The previous draft scored brand %s and facts %s; improve both.",
			s.Metadata.RegenerationCount+1, scoreText(s.ArticleDraft.BrandScore), scoreText(s.ArticleDraft.FactScore))
	}

	var brief struct {
		MainBrief      string            `json:"main_brief"`
		SubtopicBriefs map[string]string `json:"subtopic_briefs"`
	}

	err := p.complete(ctx, briefSchema, llm.Prompt{
		Name:   "brief",
		System: `Write the article brief. Answer {"main_brief": "...", "subtopic_briefs": {"<section id>": "..."}}.`,
		User:   user,
	}, &brief)
	if err != nil {
		return graph.Fail(fmt.Errorf("generate article brief: %w", err))
	}

	draft := &models.ArticleDraft{
		MainBrief:        brief.MainBrief,
		SubtopicBriefs:   make(map[string]string, len(subtopics)),
		SubtopicContents: make(map[string]string, len(subtopics)),
	}

	var body strings.Builder
	fmt.Fprintf(&body, "# %s\n\n%s\n", concept.Title, brief.MainBrief)

	for _, st := range subtopics {
		draft.SubtopicBriefs[st.ID] = brief.SubtopicBriefs[st.ID]

		var section struct {
			Content string `json:"content"`
		}

		err := p.complete(ctx, sectionSchema, llm.Prompt{
			Name:   "section",
			System: `Write one article section in markdown without its heading. Answer {"content": "..."}.`,
			User: fmt.Sprintf("Article: %s\nBrief: %s\nSection: %s\nSection brief: %s",
				concept.Title, brief.MainBrief, st.Title, brief.SubtopicBriefs[st.ID]),
		}, &section)
		if err != nil {
			return graph.Fail(fmt.Errorf("generate section %s: %w", st.ID, err))
		}

		draft.SubtopicContents[st.ID] = section.Content
		fmt.Fprintf(&body, "\n## %s\n\n%s\n", st.Title, strings.TrimSpace(section.Content))
	}

	draft.Body = body.String()
	draft.FinalArticle = draft.Body
	draft.WordCount = wordCount(draft.Body)

	return graph.Continue(state.Update{
		ArticleDraft: state.Some(draft),
		Status:       state.Some(models.StatusProcessing),
	})
}

func (p *Pipeline) complete(ctx context.Context, schema *llm.Schema, prompt llm.Prompt, out any) error {
	raw, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		return err
	}

	return schema.Decode(raw, out)
}

// started marks the run as processing and stamps its start time once.
func (p *Pipeline) started(s *models.WorkflowState) state.Update {
	u := state.Update{Status: state.Some(models.StatusProcessing)}

	if s.Metadata.StartedAt == nil {
		now := p.now()
		u.Meta().StartedAt = state.Some(&now)
	}

	return u
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func scoreText(score *int) string {
	if score == nil {
		return "n/a"
	}

	return fmt.Sprint(*score)
}
