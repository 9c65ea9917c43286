package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/contentflow/pkg/checkpoint"
	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/content"
	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/graph"
	"github.com/dukex/contentflow/pkg/llm"
	"github.com/dukex/contentflow/pkg/otelhelper"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/qc"
	"github.com/dukex/contentflow/pkg/services"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "contentflow"

// Options selects the backends of an App.
type Options struct {
	DatabaseURL   string
	GuidelinesDir string
	RedisURL      string
	EventBus      string
	KafkaBrokers  []string
	OpenAIKey     string
	OpenAIBaseURL string
	Policy        config.Policy

	// Tracing exports traces and metrics over OTLP/HTTP.
	Tracing bool

	// Completer replaces the OpenAI chain when set.
	Completer llm.Completer

	// Meter replaces the telemetry meter when set.
	Meter metric.Meter
}

// App is the fully wired content service.
type App struct {
	Policy      config.Policy
	Persistence persistence.Persistence
	Bus         eventbus.EventBus
	Store       *checkpoint.Store
	Engine      *graph.Engine
	Threads     *services.Thread
	Reviewer    *services.Reviewer
	Reminders   *services.ReminderScheduler

	redis         *redis.Client
	stopTelemetry func(context.Context) error
	logger        *slog.Logger
}

// NewApp opens every backend named in opts and wires the services over them.
// The caller must Close the returned App.
func NewApp(ctx context.Context, logger *slog.Logger, opts Options) (*App, error) {
	app := &App{Policy: opts.Policy, logger: logger}

	err := app.open(ctx, opts)
	if err != nil {
		closeErr := app.Close(ctx)
		if closeErr != nil {
			logger.ErrorContext(ctx, "failed to release partially opened app", "error", closeErr)
		}

		return nil, err
	}

	return app, nil
}

func (a *App) open(ctx context.Context, opts Options) error {
	err := config.Validate(opts.Policy)
	if err != nil {
		return err
	}

	a.Persistence, err = NewPersistence(ctx, a.logger, opts.DatabaseURL, opts.GuidelinesDir)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	a.redis, err = NewRedisClient(ctx, opts.RedisURL)
	if err != nil {
		return err
	}

	a.Bus, err = NewEventBus(opts.EventBus, opts.KafkaBrokers, a.logger)
	if err != nil {
		return err
	}

	tracer := otelhelper.NoopTracer()
	meter := otelhelper.NoopMeter()

	if opts.Tracing {
		tracer, err = otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to create tracer: %w", err)
		}

		meter, a.stopTelemetry, err = otelhelper.NewMeter(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to create meter: %w", err)
		}
	}

	if opts.Meter != nil {
		meter = opts.Meter
	}

	llmMetrics, err := llm.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create completion metrics: %w", err)
	}

	qcMetrics, err := qc.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create QC metrics: %w", err)
	}

	completer := opts.Completer
	if completer == nil {
		completer, err = NewCompleter(opts.Policy.LLM, opts.OpenAIKey, opts.OpenAIBaseURL, a.redis, llmMetrics, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create completer: %w", err)
		}
	} else {
		completer = wrapCompleter(completer, opts.Policy.LLM, a.redis, llmMetrics, a.logger)
	}

	a.Store = checkpoint.NewStore(a.Persistence.CheckpointRepository(), a.logger.With("module", "checkpoint_store"))

	a.Reviewer = services.NewReviewer(
		newQCService(a.Persistence, completer, opts.Policy.QC, tracer, qcMetrics, a.logger),
		a.Bus,
		a.logger,
	)

	def, err := content.NewPipeline(content.Deps{
		LLM:      completer,
		Reviewer: a.Reviewer,
		Quality:  opts.Policy.Quality,
		QC:       opts.Policy.QC,
		Logger:   a.logger,
	}).Graph()
	if err != nil {
		return fmt.Errorf("failed to build content graph: %w", err)
	}

	a.Engine = graph.NewEngine(def, a.Store, a.logger,
		graph.WithMaxSteps(opts.Policy.Engine.MaxSteps),
		graph.WithObserver(services.NewStepPublisher(a.Bus, a.logger)),
		graph.WithTracer(tracer),
	)

	a.Threads = services.NewThread(a.Engine, a.Store, NewLocker(a.redis, a.logger), a.Bus, a.logger)

	a.Reminders, err = services.NewReminderScheduler(a.Store, a.Bus, opts.Policy.Reminders, a.logger)
	if err != nil {
		return err
	}

	return nil
}

func newQCService(p persistence.Persistence, completer llm.Completer, policy config.QCPolicy, tracer trace.Tracer, metrics *qc.Metrics, logger *slog.Logger) *qc.Service {
	opts := []qc.ServiceOption{
		qc.WithTracer(tracer),
		qc.WithMetrics(metrics),
		qc.WithDefaultThreshold(policy.AutoApplyThreshold),
	}
	if policy.Concurrency > 0 {
		opts = append(opts, qc.WithConcurrency(policy.Concurrency))
	}

	qcLogger := logger.With("module", "qc")

	return qc.NewService(
		qc.NewAgents(completer, qcLogger),
		p.GuidelineRepository(),
		qc.NewResolver(p.PreferenceRepository(), qcLogger),
		qcLogger,
		opts...,
	)
}

// Close releases the event bus, Redis, persistence and the metric exporter,
// in that order.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
	}

	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}

	if a.Persistence != nil {
		errs = append(errs, a.Persistence.Close(ctx))
	}

	if a.stopTelemetry != nil {
		errs = append(errs, a.stopTelemetry(ctx))
	}

	return errors.Join(errs...)
}
