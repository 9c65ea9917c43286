package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dukex/contentflow/pkg/cmd"
	"github.com/dukex/contentflow/pkg/content"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/services"
	"github.com/dukex/contentflow/pkg/state"
	cli "github.com/urfave/cli/v3"
)

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "Id of the user who owns the thread",
		Required: true,
		Sources:  cli.EnvVars("CONTENTFLOW_USER"),
	}
}

func threadFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "thread",
		Aliases:  []string{"t"},
		Usage:    "Thread id",
		Required: required,
	}
}

func inputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "input",
		Usage: "JSON state update file, - for stdin",
	}
}

func callerOf(command *cli.Command) services.Caller {
	return services.Caller{
		UserID:    command.String("user"),
		SessionID: command.String("session"),
		ThreadID:  command.String("thread"),
	}
}

func newStartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start a new content thread for a topic",
		Flags: []cli.Flag{
			userFlag(),
			threadFlag(false),
			&cli.StringFlag{
				Name:     "topic",
				Usage:    "Topic to write about",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Client session id",
			},
			&cli.StringFlag{
				Name:  "guideline-profile",
				Usage: "Guideline profile id used by quality control",
			},
			&cli.StringFlag{
				Name:  "content-type",
				Usage: "Content type passed to quality control",
				Value: content.DefaultContentType,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withApp(ctx, command, func(app *cmd.App, logger *slog.Logger) error {
				caller := callerOf(command)

				initial := models.NewWorkflowState(command.String("topic"), caller.UserID)
				initial.SessionID = caller.SessionID
				initial.ThreadID = caller.ThreadID
				initial.Metadata.Extensions = map[string]any{
					content.ExtContentType: command.String("content-type"),
				}

				if profile := command.String("guideline-profile"); profile != "" {
					initial.Metadata.Extensions[content.ExtGuidelineProfileID] = profile
				}

				result, err := app.Threads.Start(ctx, initial, caller)
				if err != nil {
					return err
				}

				logger.InfoContext(ctx, "Thread started", "thread_id", result.ThreadID, "status", result.Status)

				return printJSON(command, result)
			})
		},
	}
}

func newResumeCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume a suspended thread, optionally with an approval",
		Flags: []cli.Flag{
			userFlag(),
			threadFlag(true),
			&cli.StringFlag{
				Name:  "concept",
				Usage: "Approve the concept with this id",
			},
			&cli.StringSliceFlag{
				Name:  "subtopic",
				Usage: "Approve the subtopic with this id (repeatable)",
			},
			inputFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			update, err := updateFromFlags(command)
			if err != nil {
				return err
			}

			return withApp(ctx, command, func(app *cmd.App, _ *slog.Logger) error {
				result, err := app.Threads.Resume(ctx, command.String("thread"), callerOf(command), update)
				if err != nil {
					return err
				}

				return printJSON(command, result)
			})
		},
	}
}

func newStateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Print the latest state of a thread",
		Flags: []cli.Flag{userFlag(), threadFlag(true)},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withApp(ctx, command, func(app *cmd.App, _ *slog.Logger) error {
				s, err := app.Threads.GetState(ctx, command.String("thread"), callerOf(command))
				if err != nil {
					return err
				}

				return printJSON(command, s)
			})
		},
	}
}

func newUpdateCommand() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Apply a state update to a thread without running it",
		Flags: []cli.Flag{
			userFlag(),
			threadFlag(true),
			&cli.StringFlag{
				Name:  "concept",
				Usage: "Select the concept with this id",
			},
			&cli.StringSliceFlag{
				Name:  "subtopic",
				Usage: "Select the subtopic with this id (repeatable)",
			},
			inputFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			update, err := updateFromFlags(command)
			if err != nil {
				return err
			}

			if update == nil {
				return fmt.Errorf("nothing to update: pass --concept, --subtopic or --input")
			}

			return withApp(ctx, command, func(app *cmd.App, _ *slog.Logger) error {
				result, err := app.Threads.UpdateState(ctx, command.String("thread"), callerOf(command), *update)
				if err != nil {
					return err
				}

				return printJSON(command, result)
			})
		},
	}
}

func newCancelCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "Cancel a thread",
		Flags: []cli.Flag{
			userFlag(),
			threadFlag(true),
			&cli.StringFlag{
				Name:  "reason",
				Usage: "Why the thread is cancelled",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withApp(ctx, command, func(app *cmd.App, logger *slog.Logger) error {
				threadID := command.String("thread")

				err := app.Threads.Cancel(ctx, threadID, callerOf(command), command.String("reason"))
				if err != nil {
					return err
				}

				logger.InfoContext(ctx, "Thread cancelled", "thread_id", threadID)

				return nil
			})
		},
	}
}

// historyEntry is one line of the history listing.
type historyEntry struct {
	CheckpointID string                  `json:"checkpoint_id"`
	Parent       string                  `json:"parent_checkpoint_id,omitempty"`
	Source       models.CheckpointSource `json:"source"`
	Step         *int                    `json:"step,omitempty"`
	Node         string                  `json:"node,omitempty"`
	Next         string                  `json:"next,omitempty"`
	Status       models.Status           `json:"status"`
	CreatedAt    time.Time               `json:"created_at"`
}

func newHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List the checkpoints of a thread, newest first",
		Flags: []cli.Flag{
			userFlag(),
			threadFlag(true),
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Print full checkpoints including state",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withApp(ctx, command, func(app *cmd.App, _ *slog.Logger) error {
				history, err := app.Threads.History(ctx, command.String("thread"), callerOf(command))
				if err != nil {
					return err
				}

				if command.Bool("full") {
					return printJSON(command, history)
				}

				entries := make([]historyEntry, 0, len(history))
				for _, cp := range history {
					entries = append(entries, historyEntry{
						CheckpointID: cp.CheckpointID,
						Parent:       cp.ParentCheckpointID,
						Source:       cp.Metadata.Source,
						Step:         cp.Metadata.Step,
						Node:         cp.Metadata.Node,
						Next:         cp.Metadata.Next,
						Status:       cp.State.Status,
						CreatedAt:    cp.CreatedAt,
					})
				}

				return printJSON(command, entries)
			})
		},
	}
}

// updateFromFlags builds a state update from --input, --concept and
// --subtopic. It returns nil when none is given.
func updateFromFlags(command *cli.Command) (*state.Update, error) {
	var update *state.Update

	if path := command.String("input"); path != "" {
		u, err := readUpdate(command, path)
		if err != nil {
			return nil, err
		}

		update = u
	}

	concept := command.String("concept")
	subtopics := command.StringSlice("subtopic")

	if concept == "" && len(subtopics) == 0 {
		return update, nil
	}

	if update == nil {
		update = &state.Update{}
	}

	if concept != "" {
		update.SelectedConceptID = state.Some(concept)
	}

	if len(subtopics) > 0 {
		update.SelectedSubtopicIDs = state.Some(subtopics)
	}

	return update, nil
}

func readUpdate(command *cli.Command, path string) (*state.Update, error) {
	var r io.Reader

	if path == "-" {
		r = command.Root().Reader
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open update file: %w", err)
		}
		defer f.Close()

		r = f
	}

	var update state.Update

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	err := dec.Decode(&update)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state update: %w", err)
	}

	return &update, nil
}

func printJSON(command *cli.Command, v any) error {
	enc := json.NewEncoder(command.Root().Writer)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func newDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete a thread and its checkpoint history",
		Flags: []cli.Flag{userFlag(), threadFlag(true)},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withApp(ctx, command, func(app *cmd.App, logger *slog.Logger) error {
				threadID := command.String("thread")

				err := app.Threads.Delete(ctx, threadID, callerOf(command))
				if err != nil {
					return err
				}

				logger.InfoContext(ctx, "Thread deleted", "thread_id", threadID)

				return nil
			})
		},
	}
}
