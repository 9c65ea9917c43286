package qc

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/contentflow/pkg/llm"
	"github.com/dukex/contentflow/pkg/models"
)

const reportInstructions = `Answer with one JSON object: {"score": 0-100, "issues": [...], "suggestions": [...]}.
Every suggestion needs severity (critical|high|medium|low), original, suggested, reason,
confidence 0-100 and location {start, end} as character offsets into the content.`

// NewAgents returns the four standard agents sharing one completion service.
func NewAgents(completer llm.Completer, logger *slog.Logger) []Agent {
	return []Agent{
		NewProofreader(completer, logger),
		NewBrandGuardian(completer, logger),
		NewFactChecker(completer, logger),
		NewRegulatory(completer, logger),
	}
}

func newAgent(agentType models.AgentType, completer llm.Completer, logger *slog.Logger, prompt promptFunc) *llmAgent {
	return &llmAgent{
		agentType: agentType,
		llm:       completer,
		prompt:    prompt,
		logger:    logger.With("agent", agentType),
		now:       time.Now,
	}
}

// NewProofreader checks spelling, grammar and style. It needs no context.
func NewProofreader(completer llm.Completer, logger *slog.Logger) Agent {
	return newAgent(models.AgentProofreader, completer, logger, func(in Input) llm.Prompt {
		return llm.Prompt{
			Name:   string(models.AgentProofreader),
			System: "You proofread marketing content. " + reportInstructions,
			User:   contentBlock(in),
		}
	})
}

// NewBrandGuardian checks adherence to the brand profile and is skipped without one.
func NewBrandGuardian(completer llm.Completer, logger *slog.Logger) Agent {
	a := newAgent(models.AgentBrandGuardian, completer, logger, func(in Input) llm.Prompt {
		b := in.Guidelines.Brand

		var sb strings.Builder
		fmt.Fprintf(&sb, "Brand: %s\n", b.Name)
		writeField(&sb, "Tone", b.Tone)
		writeField(&sb, "Audience", b.Audience)
		writeList(&sb, "Rules", b.Rules)
		writeList(&sb, "Banned terms", b.BannedTerms)
		sb.WriteString("\n")
		sb.WriteString(contentBlock(in))

		return llm.Prompt{
			Name:   string(models.AgentBrandGuardian),
			System: "You check content against brand guidelines. " + reportInstructions,
			User:   sb.String(),
		}
	})
	a.ready = func(in Input) bool { return in.Guidelines.Brand != nil }

	return a
}

// NewFactChecker checks factual claims.
func NewFactChecker(completer llm.Completer, logger *slog.Logger) Agent {
	return newAgent(models.AgentFactChecker, completer, logger, func(in Input) llm.Prompt {
		return llm.Prompt{
			Name:   string(models.AgentFactChecker),
			System: "You verify factual claims and flag unsupported ones. " + reportInstructions,
			User:   contentBlock(in),
		}
	})
}

// NewRegulatory checks the content against the user's regulatory rulesets.
// With no ruleset it reports a perfect score without calling the model.
func NewRegulatory(completer llm.Completer, logger *slog.Logger) Agent {
	a := newAgent(models.AgentRegulatory, completer, logger, func(in Input) llm.Prompt {
		var sb strings.Builder

		for _, p := range in.Guidelines.Regulatory {
			fmt.Fprintf(&sb, "Ruleset: %s\n", p.Name)
			writeField(&sb, "Jurisdiction", p.Jurisdiction)
			writeList(&sb, "Rules", p.Rules)
			writeList(&sb, "Banned terms", p.BannedTerms)
			writeList(&sb, "Required disclaimers", p.RequiredDisclaimers)
			sb.WriteString("\n")
		}

		sb.WriteString(contentBlock(in))

		return llm.Prompt{
			Name:   string(models.AgentRegulatory),
			System: "You check content for regulatory compliance. " + reportInstructions,
			User:   sb.String(),
		}
	})
	a.vacuous = func(in Input) bool { return len(in.Guidelines.Regulatory) == 0 }

	return a
}

func contentBlock(in Input) string {
	return fmt.Sprintf("Content type: %s\n\nContent:\n%s", in.ContentType, in.Content)
}

func writeField(sb *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(sb, "%s: %s\n", label, value)
	}
}

func writeList(sb *strings.Builder, label string, items []string) {
	if len(items) > 0 {
		fmt.Fprintf(sb, "%s:\n- %s\n", label, strings.Join(items, "\n- "))
	}
}
