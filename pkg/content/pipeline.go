// Package content is the content-production pipeline: the fixed set of steps
// and the routing table the graph engine runs over a WorkflowState.
package content

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/graph"
	"github.com/dukex/contentflow/pkg/llm"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/qc"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// GraphName names the pipeline graph in logs and traces.
const GraphName = "content_pipeline"

// Step names.
const (
	StepGenerateConcepts         = "generate_concepts"
	StepSetAwaitConceptApproval  = "set_await_concept_approval"
	StepAwaitConceptApproval     = "await_concept_approval"
	StepGenerateSubtopics        = "generate_subtopics"
	StepSetAwaitSubtopicApproval = "set_await_subtopic_approval"
	StepAwaitSubtopicApproval    = "await_subtopic_approval"
	StepGenerateArticle          = "generate_article"
	StepQualityControl           = "quality_control"
	StepCheckBrandMatch          = "check_brand_match"
	StepVerifyFacts              = "verify_facts"
	StepQualityDecision          = "quality_decision"
)

// Extension keys read from StateMetadata.Extensions.
const (
	ExtGuidelineProfileID = "guideline_profile_id"
	ExtContentType        = "content_type"
	ExtQC                 = "qc"
)

// DefaultContentType is used when a thread does not set ExtContentType.
const DefaultContentType = "blog_post"

// Reviewer runs quality control over a piece of content.
type Reviewer interface {
	Run(ctx context.Context, req qc.Request, caller qc.Caller) (*models.QCState, error)
}

// Deps are the collaborators of the pipeline steps.
type Deps struct {
	LLM      llm.Completer
	Reviewer Reviewer
	Quality  config.QualityPolicy
	QC       config.QCPolicy
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pipeline holds the step implementations.
type Pipeline struct {
	llm      llm.Completer
	reviewer Reviewer
	quality  config.QualityPolicy
	qc       config.QCPolicy
	logger   *slog.Logger
	now      func() time.Time
	markdown goldmark.Markdown
}

func NewPipeline(deps Deps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Pipeline{
		llm:      deps.LLM,
		reviewer: deps.Reviewer,
		quality:  deps.Quality,
		qc:       deps.QC,
		logger:   deps.Logger.With("module", "content_pipeline"),
		now:      now,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Branch keys of the conditional edges.
const (
	branchApproved     = "approved"
	branchWaiting      = "waiting"
	branchNoCandidates = "no_candidates"
)

// Graph builds the immutable pipeline definition.
func (p *Pipeline) Graph() (*graph.Definition, error) {
	return graph.NewBuilder(GraphName).
		Step(StepGenerateConcepts, p.generateConcepts).
		Step(StepSetAwaitConceptApproval, p.setAwaitApproval).
		Step(StepAwaitConceptApproval, p.awaitConceptApproval).
		Step(StepGenerateSubtopics, p.generateSubtopics).
		Step(StepSetAwaitSubtopicApproval, p.setAwaitApproval).
		Step(StepAwaitSubtopicApproval, p.awaitSubtopicApproval).
		Step(StepGenerateArticle, p.generateArticle).
		Step(StepQualityControl, p.qualityControl).
		Step(StepCheckBrandMatch, p.checkBrandMatch).
		Step(StepVerifyFacts, p.verifyFacts).
		Step(StepQualityDecision, p.qualityDecision).
		Entry(StepGenerateConcepts).
		Edge(StepGenerateConcepts, graph.Static(StepSetAwaitConceptApproval)).
		Edge(StepSetAwaitConceptApproval, graph.Static(StepAwaitConceptApproval)).
		Edge(StepAwaitConceptApproval, graph.Conditional(conceptGuard, map[string]string{
			branchApproved:     StepGenerateSubtopics,
			branchWaiting:      StepAwaitConceptApproval,
			branchNoCandidates: graph.END,
		})).
		Edge(StepGenerateSubtopics, graph.Static(StepSetAwaitSubtopicApproval)).
		Edge(StepSetAwaitSubtopicApproval, graph.Static(StepAwaitSubtopicApproval)).
		Edge(StepAwaitSubtopicApproval, graph.Conditional(subtopicGuard, map[string]string{
			branchApproved:     StepGenerateArticle,
			branchWaiting:      StepAwaitSubtopicApproval,
			branchNoCandidates: graph.END,
		})).
		Edge(StepGenerateArticle, graph.Static(StepQualityControl)).
		Edge(StepQualityControl, graph.Static(StepCheckBrandMatch)).
		Edge(StepCheckBrandMatch, graph.Static(StepVerifyFacts)).
		Edge(StepVerifyFacts, graph.Static(StepQualityDecision)).
		Edge(StepQualityDecision, graph.Conditional(decisionRoute, map[string]string{
			string(models.QualityDecisionRegenerate):  StepGenerateArticle,
			string(models.QualityDecisionComplete):    graph.END,
			string(models.QualityDecisionHumanReview): graph.END,
		})).
		Build()
}

func conceptGuard(s *models.WorkflowState) string {
	if len(s.Concepts) == 0 {
		return branchNoCandidates
	}

	if s.ConceptSelectionReady() {
		return branchApproved
	}

	return branchWaiting
}

func subtopicGuard(s *models.WorkflowState) string {
	if len(s.Subtopics) == 0 {
		return branchNoCandidates
	}

	if s.SubtopicSelectionReady() {
		return branchApproved
	}

	return branchWaiting
}

func decisionRoute(s *models.WorkflowState) string {
	return string(s.Metadata.QualityDecision)
}

func extString(s *models.WorkflowState, key string) string {
	v, _ := s.Metadata.Extensions[key].(string)

	return v
}

func contentType(s *models.WorkflowState) string {
	if ct := extString(s, ExtContentType); ct != "" {
		return ct
	}

	return DefaultContentType
}
