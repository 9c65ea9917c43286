package qc

import (
	"math"

	"github.com/dukex/contentflow/pkg/models"
)

// Weights are the fixed per-agent weights of the overall score.
var Weights = map[models.AgentType]float64{
	models.AgentRegulatory:    2.0,
	models.AgentBrandGuardian: 1.5,
	models.AgentFactChecker:   1.0,
	models.AgentProofreader:   1.0,
}

// OverallScore is the weighted mean of the reports that ran, rounded, or 100
// when none did.
func OverallScore(reports map[models.AgentType]models.QCAgentReport) int {
	var sum, weights float64

	for _, agent := range models.AllAgents {
		r, ok := reports[agent]
		if !ok {
			continue
		}

		sum += float64(r.Score) * Weights[agent]
		weights += Weights[agent]
	}

	if weights == 0 {
		return 100
	}

	return int(math.Round(sum / weights))
}

// Summarize totals issues, suggestions and execution times across reports.
func Summarize(reports map[models.AgentType]models.QCAgentReport) models.QCSummary {
	summary := models.QCSummary{
		AgentsRun:       len(reports),
		ExecutionTimeMs: make(map[models.AgentType]int64, len(reports)),
	}

	for agent, r := range reports {
		summary.TotalIssues += len(r.Issues)
		summary.TotalSuggestions += len(r.Suggestions)
		summary.ExecutionTimeMs[agent] = r.ExecutionTimeMs
	}

	return summary
}
