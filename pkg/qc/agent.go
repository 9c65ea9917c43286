// Package qc runs the quality-control critique agents over a piece of content
// and merges their possibly contradictory suggestions into one outcome.
package qc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/contentflow/pkg/llm"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/google/uuid"
)

// Input is what every agent sees for one invocation.
type Input struct {
	Content     string
	ContentType string
	Guidelines  models.GuidelineContext
}

// Agent is one critique function.
type Agent interface {
	Type() models.AgentType
	// Ready reports whether the context the agent needs is present. An agent
	// that is not ready is skipped and contributes nothing.
	Ready(in Input) bool
	Review(ctx context.Context, in Input) (models.QCAgentReport, error)
}

const reportSchema = `{
	"type": "object",
	"required": ["score"],
	"properties": {
		"score": {"type": "integer", "minimum": 0, "maximum": 100},
		"issues": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["severity", "description"],
				"properties": {
					"severity": {"enum": ["critical", "high", "medium", "low"]},
					"description": {"type": "string"},
					"confidence": {"type": "integer", "minimum": 0, "maximum": 100},
					"location": {"$ref": "#/definitions/location"}
				}
			}
		},
		"suggestions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["severity", "original", "suggested", "confidence", "location"],
				"properties": {
					"id": {"type": "string"},
					"severity": {"enum": ["critical", "high", "medium", "low"]},
					"original": {"type": "string"},
					"suggested": {"type": "string"},
					"reason": {"type": "string"},
					"confidence": {"type": "integer", "minimum": 0, "maximum": 100},
					"location": {"$ref": "#/definitions/location"}
				}
			}
		}
	},
	"definitions": {
		"location": {
			"type": "object",
			"required": ["start", "end"],
			"properties": {
				"start": {"type": "integer", "minimum": 0},
				"end": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

var agentReport = llm.MustSchema("qc_report", reportSchema)

// rawReport is the wire shape of an agent's completion.
type rawReport struct {
	Score  int `json:"score"`
	Issues []struct {
		Severity    models.Severity  `json:"severity"`
		Description string           `json:"description"`
		Confidence  int              `json:"confidence"`
		Location    *models.Location `json:"location"`
	} `json:"issues"`
	Suggestions []struct {
		ID         string          `json:"id"`
		Severity   models.Severity `json:"severity"`
		Original   string          `json:"original"`
		Suggested  string          `json:"suggested"`
		Reason     string          `json:"reason"`
		Confidence int             `json:"confidence"`
		Location   models.Location `json:"location"`
	} `json:"suggestions"`
}

// promptFunc renders the agent's instructions for one input.
type promptFunc func(in Input) llm.Prompt

// llmAgent is an Agent backed by a completion call.
type llmAgent struct {
	agentType models.AgentType
	llm       llm.Completer
	prompt    promptFunc
	ready     func(in Input) bool
	vacuous   func(in Input) bool
	logger    *slog.Logger
	now       func() time.Time
}

func (a *llmAgent) Type() models.AgentType { return a.agentType }

func (a *llmAgent) Ready(in Input) bool {
	return a.ready == nil || a.ready(in)
}

func (a *llmAgent) Review(ctx context.Context, in Input) (models.QCAgentReport, error) {
	started := a.now()

	if a.vacuous != nil && a.vacuous(in) {
		return models.QCAgentReport{
			AgentType:       a.agentType,
			Score:           100,
			ExecutionTimeMs: a.now().Sub(started).Milliseconds(),
			Issues:          []models.QCIssue{},
			Suggestions:     []models.QCChange{},
		}, nil
	}

	raw, err := a.llm.Complete(ctx, a.prompt(in))
	if err != nil {
		return models.QCAgentReport{}, fmt.Errorf("%s: %w", a.agentType, err)
	}

	var out rawReport

	err = agentReport.Decode(raw, &out)
	if err != nil {
		return models.QCAgentReport{}, fmt.Errorf("%s: %w", a.agentType, err)
	}

	report := a.toReport(in.Content, out)
	report.ExecutionTimeMs = a.now().Sub(started).Milliseconds()

	return report, nil
}

func (a *llmAgent) toReport(content string, out rawReport) models.QCAgentReport {
	report := models.QCAgentReport{
		AgentType:   a.agentType,
		Score:       out.Score,
		Issues:      make([]models.QCIssue, 0, len(out.Issues)),
		Suggestions: make([]models.QCChange, 0, len(out.Suggestions)),
	}

	for i, issue := range out.Issues {
		report.Issues = append(report.Issues, models.QCIssue{
			ID:          changeID(a.agentType, "issue", i, issue.Description),
			AgentType:   a.agentType,
			Severity:    issue.Severity,
			Description: issue.Description,
			Confidence:  issue.Confidence,
			Location:    issue.Location,
		})
	}

	text := []rune(content)

	for i, s := range out.Suggestions {
		loc, ok := locate(text, s.Original, s.Location)
		if !ok {
			a.logger.Debug("dropping suggestion that does not match the content",
				"agent", a.agentType, "original", s.Original)

			continue
		}

		id := s.ID
		if id == "" {
			id = changeID(a.agentType, "change", i, s.Original+"\x00"+s.Suggested)
		}

		report.Suggestions = append(report.Suggestions, models.QCChange{
			ID:         id,
			AgentType:  a.agentType,
			Severity:   s.Severity,
			Original:   s.Original,
			Suggested:  s.Suggested,
			Reason:     s.Reason,
			Confidence: s.Confidence,
			Location:   loc,
		})
	}

	return report
}

// changeID is stable for identical model output so repeated runs resolve identically.
func changeID(agent models.AgentType, kind string, index int, text string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s/%s/%d/%s", agent, kind, index, text)).String()
}

// locate checks that original sits at loc in text (offsets count runes) and,
// when it does not, moves loc to the occurrence of original nearest to it.
func locate(text []rune, original string, loc models.Location) (models.Location, bool) {
	want := []rune(original)

	if loc.Start >= 0 && loc.End <= len(text) && loc.Start <= loc.End &&
		string(text[loc.Start:loc.End]) == original {
		return loc, true
	}

	if len(want) == 0 {
		return models.Location{}, false
	}

	best, bestDist := -1, 0
	haystack := string(text)

	for offset := 0; ; {
		idx := strings.Index(haystack[offset:], original)
		if idx < 0 {
			break
		}

		byteAt := offset + idx
		at := len([]rune(haystack[:byteAt]))

		dist := at - loc.Start
		if dist < 0 {
			dist = -dist
		}

		if best < 0 || dist < bestDist {
			best, bestDist = at, dist
		}

		offset = byteAt + len(original)
	}

	if best < 0 {
		return models.Location{}, false
	}

	return models.Location{Start: best, End: best + len(want)}, true
}
