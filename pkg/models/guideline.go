package models

import "time"

// GuidelineKind separates brand voice profiles from regulatory rulesets.
type GuidelineKind string

const (
	GuidelineBrand      GuidelineKind = "brand"
	GuidelineRegulatory GuidelineKind = "regulatory"
)

// GuidelineProfile is a user-owned record of brand or regulatory rules consumed by QC agents.
type GuidelineProfile struct {
	ID                  string        `json:"id"                             yaml:"id"                             validate:"required"`
	UserID              string        `json:"user_id"                        yaml:"user_id"                        validate:"required"`
	Kind                GuidelineKind `json:"kind"                           yaml:"kind"                           validate:"required,oneof=brand regulatory"`
	Name                string        `json:"name"                           yaml:"name"                           validate:"required"`
	Tone                string        `json:"tone,omitempty"                 yaml:"tone,omitempty"`
	Audience            string        `json:"audience,omitempty"             yaml:"audience,omitempty"`
	Rules               []string      `json:"rules,omitempty"                yaml:"rules,omitempty"`
	BannedTerms         []string      `json:"banned_terms,omitempty"         yaml:"banned_terms,omitempty"`
	RequiredDisclaimers []string      `json:"required_disclaimers,omitempty" yaml:"required_disclaimers,omitempty"`
	Jurisdiction        string        `json:"jurisdiction,omitempty"         yaml:"jurisdiction,omitempty"`
}

// GuidelineContext is everything QC agents may consult for one invocation.
type GuidelineContext struct {
	Brand      *GuidelineProfile
	Regulatory []GuidelineProfile
}

// LearnedPreference is a saved human decision for a class of conflicts.
type LearnedPreference struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	GuidelineProfileID string     `json:"guideline_profile_id,omitempty"`
	ConflictType       string     `json:"conflict_type"`
	PreferredAgentType AgentType  `json:"preferred_agent_type"`
	ApplyToFuture      bool       `json:"apply_to_future"`
	UsageCount         int        `json:"usage_count"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}
