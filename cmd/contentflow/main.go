package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/contentflow/pkg/cmd"
	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = newRootCommand().Run(ctx, os.Args)
	if err != nil {
		slog.Error("contentflow failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "contentflow",
		Usage:                 "Run human-in-the-loop content production threads",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (file://, sqlite://, postgres://)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the thread lock and completion cache (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "openai-api-key",
				Usage:   "OpenAI API key",
				Sources: cli.EnvVars("OPENAI_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "openai-base-url",
				Usage:   "OpenAI-compatible API base URL",
				Sources: cli.EnvVars("OPENAI_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "openai-model",
				Usage:   "Completion model, overrides the policy file",
				Sources: cli.EnvVars("OPENAI_MODEL"),
			},
			&cli.StringFlag{
				Name:    "policy-file",
				Usage:   "YAML policy file (defaults apply when missing)",
				Value:   "contentflow.yaml",
				Sources: cli.EnvVars("POLICY_FILE"),
			},
			&cli.StringFlag{
				Name:    "guidelines-dir",
				Usage:   "Directory of guideline profiles for the file backend",
				Sources: cli.EnvVars("GUIDELINES_DIR"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces and metrics over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			newStartCommand(),
			newResumeCommand(),
			newStateCommand(),
			newUpdateCommand(),
			newCancelCommand(),
			newHistoryCommand(),
			newDeleteCommand(),
			newQCCommand(),
			newSchedulerCommand(),
			newWatchCommand(),
			newMigrateCommand(),
		},
	}
}

// openApp wires the application from the root flags.
func openApp(ctx context.Context, command *cli.Command) (*cmd.App, *slog.Logger, error) {
	logger := log.WithModule("contentflow")

	policy, err := config.LoadOrDefault(command.String("policy-file"))
	if err != nil {
		return nil, nil, err
	}

	if model := command.String("openai-model"); model != "" {
		policy.LLM.Model = model
	}

	app, err := cmd.NewApp(ctx, logger, cmd.Options{
		DatabaseURL:   command.String("database-url"),
		GuidelinesDir: command.String("guidelines-dir"),
		RedisURL:      command.String("redis-url"),
		EventBus:      command.String("event-bus"),
		KafkaBrokers:  command.StringSlice("kafka-brokers"),
		OpenAIKey:     command.String("openai-api-key"),
		OpenAIBaseURL: command.String("openai-base-url"),
		Policy:        policy,
		Tracing:       command.Bool("tracing"),
	})
	if err != nil {
		return nil, nil, err
	}

	return app, logger, nil
}

// withApp runs fn against a freshly wired App and closes it afterwards.
func withApp(ctx context.Context, command *cli.Command, fn func(app *cmd.App, logger *slog.Logger) error) error {
	app, logger, err := openApp(ctx, command)
	if err != nil {
		return err
	}

	defer func() {
		err := app.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close application", "error", err)
		}
	}()

	return fn(app, logger)
}
