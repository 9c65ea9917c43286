package qc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/otelhelper"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidRequest is returned for a malformed QC request.
var ErrInvalidRequest = errors.New("invalid QC request")

// GuidelineSource resolves the guideline context of a request.
type GuidelineSource interface {
	GetProfile(ctx context.Context, userID, profileID string) (*models.GuidelineProfile, error)
	ListProfiles(ctx context.Context, userID string, kind models.GuidelineKind) ([]*models.GuidelineProfile, error)
}

// Request is one QC invocation. A nil AutoApplyThreshold uses the service default.
type Request struct {
	Content            string             `json:"content"                        validate:"required"`
	ContentType        string             `json:"content_type"`
	UserID             string             `json:"user_id"                        validate:"required"`
	GuidelineProfileID string             `json:"guideline_profile_id"`
	EnabledAgents      []models.AgentType `json:"enabled_agents"                 validate:"dive,oneof=proofreader brand_guardian fact_checker regulatory"`
	AutoApplyThreshold *int               `json:"auto_apply_threshold,omitempty" validate:"omitempty,min=0,max=100"`
}

// Caller identifies who asked for the invocation.
type Caller struct {
	UserID   string
	ThreadID string
}

// Service runs enabled agents concurrently, then resolves, applies and scores.
type Service struct {
	agents     []Agent
	guidelines GuidelineSource
	resolver   *Resolver
	validate   *validator.Validate
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *Metrics
	threshold  int
	limit      int
	now        func() time.Time
}

type ServiceOption func(*Service)

// WithTracer records a span per invocation and per agent.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

// WithMetrics records run counts and per-agent durations.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithDefaultThreshold sets the auto-apply threshold for requests that leave it unset.
func WithDefaultThreshold(threshold int) ServiceOption {
	return func(s *Service) { s.threshold = threshold }
}

// WithConcurrency caps how many agents run at once.
func WithConcurrency(n int) ServiceOption {
	return func(s *Service) { s.limit = n }
}

func NewService(agents []Agent, guidelines GuidelineSource, resolver *Resolver, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		agents:     agents,
		guidelines: guidelines,
		resolver:   resolver,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		tracer:     otelhelper.NoopTracer(),
		threshold:  85,
		limit:      len(agents),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run performs one QC invocation. Agent failures are recorded on the result
// and force human review; only invalid requests, guideline lookup failures and
// cancellation are returned as errors.
func (s *Service) Run(ctx context.Context, req Request, caller Caller) (*models.QCState, error) {
	if req.UserID == "" {
		req.UserID = caller.UserID
	}

	if caller.UserID != "" && caller.UserID != req.UserID {
		return nil, fmt.Errorf("%w: caller %s cannot review content of user %s", ErrInvalidRequest, caller.UserID, req.UserID)
	}

	err := s.validate.Struct(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	threshold := s.threshold
	if req.AutoApplyThreshold != nil {
		threshold = *req.AutoApplyThreshold
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "qc.run",
		attribute.String(otelhelper.UserIDKey, req.UserID),
		attribute.String(otelhelper.ThreadIDKey, caller.ThreadID),
		attribute.String(otelhelper.ContentTypeKey, req.ContentType),
	)
	defer span.End()

	started := s.now()
	logger := s.logger.With("user_id", req.UserID, "thread_id", caller.ThreadID)

	guidelines, err := s.loadGuidelines(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	in := Input{Content: req.Content, ContentType: req.ContentType, Guidelines: guidelines}

	reports, failures, err := s.runAgents(ctx, logger, req.EnabledAgents, in)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	result := &models.QCState{
		Content:        req.Content,
		ContentType:    req.ContentType,
		EnabledAgents:  slices.Clone(req.EnabledAgents),
		Reports:        reports,
		AllSuggestions: []models.QCChange{},
	}

	if len(failures) > 0 {
		result.AgentErrors = failures
	}

	for _, agent := range models.AllAgents {
		if r, ok := reports[agent]; ok {
			result.AllSuggestions = append(result.AllSuggestions, r.Suggestions...)
		}
	}

	result.Conflicts = DetectConflicts(result.AllSuggestions)

	resolved := s.resolver.Resolve(ctx, ResolveInput{
		UserID:             req.UserID,
		GuidelineProfileID: req.GuidelineProfileID,
		AutoApplyThreshold: threshold,
		Suggestions:        result.AllSuggestions,
		Conflicts:          result.Conflicts,
	})

	result.ResolvedChanges = resolved.Resolved
	result.Resolutions = resolved.Resolutions
	result.UnresolvedConflicts = resolved.Unresolved
	result.RequiresHumanReview = len(resolved.Unresolved) > 0 || len(failures) > 0

	processed, applied, skipped := Apply(req.Content, resolved.Resolved)
	result.ProcessedContent = processed
	result.OverallScore = OverallScore(reports)

	result.Summary = Summarize(reports)
	result.Summary.AppliedChanges = applied
	result.Summary.SkippedChanges = skipped
	result.Summary.CompletedAt = s.now().UTC()
	result.Summary.TotalTimeMs = result.Summary.CompletedAt.Sub(started).Milliseconds()

	span.SetAttributes(attribute.Int("contentflow.qc.overall_score", result.OverallScore))
	s.metrics.runFinished(ctx, result)

	logger.InfoContext(ctx, "quality control completed",
		"agents_run", result.Summary.AgentsRun,
		"overall_score", result.OverallScore,
		"conflicts", len(result.Conflicts),
		"unresolved", len(result.UnresolvedConflicts),
		"applied", applied,
		"skipped", skipped)

	return result, nil
}

func (s *Service) loadGuidelines(ctx context.Context, req Request) (models.GuidelineContext, error) {
	var gc models.GuidelineContext

	if s.guidelines == nil {
		return gc, nil
	}

	if req.GuidelineProfileID != "" {
		profile, err := s.guidelines.GetProfile(ctx, req.UserID, req.GuidelineProfileID)

		switch {
		case persistence.IsGuidelineNotFound(err):
			s.logger.WarnContext(ctx, "guideline profile not found, brand checks will be skipped",
				"guideline_profile_id", req.GuidelineProfileID)
		case err != nil:
			return gc, fmt.Errorf("load guideline profile: %w", err)
		case profile.Kind == models.GuidelineBrand:
			gc.Brand = profile
		}
	}

	regulatory, err := s.guidelines.ListProfiles(ctx, req.UserID, models.GuidelineRegulatory)
	if err != nil {
		return gc, fmt.Errorf("load regulatory rulesets: %w", err)
	}

	for _, p := range regulatory {
		gc.Regulatory = append(gc.Regulatory, *p)
	}

	return gc, nil
}

func (s *Service) runAgents(ctx context.Context, logger *slog.Logger, enabled []models.AgentType, in Input) (map[models.AgentType]models.QCAgentReport, map[models.AgentType]string, error) {
	var (
		mu       sync.Mutex
		reports  = make(map[models.AgentType]models.QCAgentReport)
		failures = make(map[models.AgentType]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}

	for _, agent := range s.agents {
		if !slices.Contains(enabled, agent.Type()) {
			continue
		}

		if !agent.Ready(in) {
			logger.InfoContext(ctx, "skipping agent without required context", "agent", agent.Type())

			continue
		}

		g.Go(func() error {
			actx, span := otelhelper.StartSpan(gctx, s.tracer, "qc.agent",
				attribute.String(otelhelper.AgentTypeKey, string(agent.Type())))
			defer span.End()

			done := s.metrics.agentStarted(actx, agent.Type(), s.now)
			report, err := agent.Review(actx, in)
			done(err)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}

				otelhelper.SetError(span, err, attribute.String(otelhelper.AgentTypeKey, string(agent.Type())))
				logger.ErrorContext(actx, "agent failed", "agent", agent.Type(), "error", err)
				failures[agent.Type()] = err.Error()

				return nil
			}

			reports[agent.Type()] = report

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, nil, err
	}

	return reports, failures, nil
}
