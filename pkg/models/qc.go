package models

import (
	"slices"
	"strings"
	"time"
)

// AgentType identifies one QC critique agent.
type AgentType string

const (
	AgentProofreader   AgentType = "proofreader"
	AgentBrandGuardian AgentType = "brand_guardian"
	AgentFactChecker   AgentType = "fact_checker"
	AgentRegulatory    AgentType = "regulatory"
)

// AllAgents lists every agent type in a stable order.
var AllAgents = []AgentType{AgentProofreader, AgentBrandGuardian, AgentFactChecker, AgentRegulatory}

// Severity grades how serious an issue or suggested change is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ResolutionStrategy names the arbiter that settled a conflict.
type ResolutionStrategy string

const (
	ResolutionLearnedPreference ResolutionStrategy = "learned_preference"
	ResolutionPriority          ResolutionStrategy = "severity_priority"
	ResolutionConfidence        ResolutionStrategy = "confidence_threshold"
	ResolutionNone              ResolutionStrategy = "none"
)

// Location is a half-open [Start, End) character span in the source content.
type Location struct {
	Start int `json:"start" validate:"min=0"`
	End   int `json:"end"   validate:"gtefield=Start"`
}

// Overlaps reports whether two spans share at least one character, or are the
// same empty insertion point.
func (l Location) Overlaps(o Location) bool {
	if l.Start == l.End && o.Start == o.End {
		return l.Start == o.Start
	}

	return l.Start < o.End && o.Start < l.End
}

// QCChange is a located edit suggestion from one agent.
type QCChange struct {
	ID         string    `json:"id"`
	AgentType  AgentType `json:"agent_type"`
	Severity   Severity  `json:"severity"   validate:"oneof=critical high medium low"`
	Original   string    `json:"original"`
	Suggested  string    `json:"suggested"`
	Reason     string    `json:"reason"`
	Confidence int       `json:"confidence" validate:"min=0,max=100"`
	Location   Location  `json:"location"`
}

// QCIssue is a finding without a proposed replacement.
type QCIssue struct {
	ID          string    `json:"id"`
	AgentType   AgentType `json:"agent_type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Confidence  int       `json:"confidence"`
	Location    *Location `json:"location,omitempty"`
}

// QCConflict groups changes from different agents whose spans overlap.
type QCConflict struct {
	Type               string     `json:"type"`
	ConflictingChanges []QCChange `json:"conflicting_changes"`
}

// Agents returns the distinct agent types in the conflict, sorted.
func (c QCConflict) Agents() []AgentType {
	var agents []AgentType

	for _, ch := range c.ConflictingChanges {
		if !slices.Contains(agents, ch.AgentType) {
			agents = append(agents, ch.AgentType)
		}
	}

	slices.Sort(agents)

	return agents
}

// ConflictType derives the stable type key used to look up learned preferences.
func ConflictType(agents []AgentType) string {
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, string(a))
	}

	slices.Sort(names)
	names = slices.Compact(names)

	return strings.Join(names, "_vs_")
}

// Resolution records how one conflict was settled.
type Resolution struct {
	ConflictType string             `json:"conflict_type"`
	Strategy     ResolutionStrategy `json:"strategy"`
	Selected     *QCChange          `json:"selected,omitempty"`
}

// QCAgentReport is one agent's scored critique.
type QCAgentReport struct {
	AgentType       AgentType  `json:"agent_type"`
	Score           int        `json:"score"             validate:"min=0,max=100"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
	Issues          []QCIssue  `json:"issues"`
	Suggestions     []QCChange `json:"suggestions"`
}

// QCSummary carries observability totals for one QC invocation.
type QCSummary struct {
	AgentsRun        int                 `json:"agents_run"`
	TotalIssues      int                 `json:"total_issues"`
	TotalSuggestions int                 `json:"total_suggestions"`
	AppliedChanges   int                 `json:"applied_changes"`
	SkippedChanges   int                 `json:"skipped_changes"`
	ExecutionTimeMs  map[AgentType]int64 `json:"execution_time_ms"`
	TotalTimeMs      int64               `json:"total_time_ms"`
	CompletedAt      time.Time           `json:"completed_at"`
}

// QCState aggregates one quality-control invocation. It is discarded once its
// result is folded into the owning workflow state.
type QCState struct {
	Content             string                      `json:"content"`
	ContentType         string                      `json:"content_type"`
	EnabledAgents       []AgentType                 `json:"enabled_agents"`
	Reports             map[AgentType]QCAgentReport `json:"reports"`
	AllSuggestions      []QCChange                  `json:"all_suggestions"`
	Conflicts           []QCConflict                `json:"conflicts"`
	ResolvedChanges     []QCChange                  `json:"resolved_changes"`
	Resolutions         []Resolution                `json:"resolutions"`
	UnresolvedConflicts []QCConflict                `json:"unresolved_conflicts"`
	ProcessedContent    string                      `json:"processed_content"`
	OverallScore        int                         `json:"overall_score"`
	RequiresHumanReview bool                        `json:"requires_human_review"`
	AgentErrors         map[AgentType]string        `json:"agent_errors,omitempty"`
	Summary             QCSummary                   `json:"summary"`
}

// Report returns the report of agent, if it ran.
func (s *QCState) Report(agent AgentType) (QCAgentReport, bool) {
	r, ok := s.Reports[agent]

	return r, ok
}
