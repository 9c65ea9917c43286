package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/cmd"
	"github.com/dukex/contentflow/pkg/eventbus"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func newSchedulerCommand() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Send approval reminders for long-suspended threads until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single reminder pass and exit",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withApp(ctx, command, func(app *cmd.App, logger *slog.Logger) error {
				if command.Bool("once") {
					sent, err := app.Reminders.RunOnce(ctx)
					if err != nil {
						return err
					}

					logger.InfoContext(ctx, "Reminder pass finished", "sent", sent)

					return nil
				}

				err := app.Reminders.Start(ctx)
				if err != nil {
					return err
				}

				<-ctx.Done()

				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()

				return app.Reminders.Stop(stopCtx)
			})
		},
	}
}

func newWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print lifecycle events as JSON lines until interrupted",
		Action: func(ctx context.Context, command *cli.Command) error {
			return withApp(ctx, command, func(app *cmd.App, logger *slog.Logger) error {
				enc := json.NewEncoder(command.Root().Writer)

				for _, eventType := range eventbus.EventTypes() {
					err := app.Bus.Handle(eventType, func(_ context.Context, event any) error {
						return enc.Encode(event)
					})
					if err != nil {
						return err
					}
				}

				err := app.Bus.Subscribe(ctx)
				if err != nil {
					return err
				}

				logger.InfoContext(ctx, "Watching events")

				<-ctx.Done()

				return nil
			})
		},
	}
}

func newMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply storage migrations and check the backend",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := slog.With("module", "contentflow", "action", "migrate")

			p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.String("guidelines-dir"))
			if err != nil {
				return err
			}

			defer func() {
				err := p.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			err = p.HealthCheck(ctx)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Storage is up to date")

			return nil
		},
	}
}
