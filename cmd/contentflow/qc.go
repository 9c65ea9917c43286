package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dukex/contentflow/pkg/cmd"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/qc"
	cli "github.com/urfave/cli/v3"
)

func newQCCommand() *cli.Command {
	return &cli.Command{
		Name:  "qc",
		Usage: "Run quality control over a piece of content",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{
				Name:  "file",
				Usage: "Content file, - for stdin",
				Value: "-",
			},
			&cli.StringFlag{
				Name:  "guideline-profile",
				Usage: "Guideline profile id",
			},
			&cli.StringFlag{
				Name:  "content-type",
				Usage: "Content type, e.g. blog_post",
			},
			&cli.StringSliceFlag{
				Name:  "agent",
				Usage: "Enabled agent, repeatable",
				Value: []string{
					string(models.AgentProofreader),
					string(models.AgentBrandGuardian),
					string(models.AgentFactChecker),
					string(models.AgentRegulatory),
				},
			},
			&cli.IntFlag{
				Name:  "threshold",
				Usage: "Auto-apply confidence threshold, defaults to the policy value",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			text, err := readContent(command, command.String("file"))
			if err != nil {
				return err
			}

			agents := make([]models.AgentType, 0, len(command.StringSlice("agent")))
			for _, a := range command.StringSlice("agent") {
				agents = append(agents, models.AgentType(a))
			}

			req := qc.Request{
				Content:            text,
				ContentType:        command.String("content-type"),
				UserID:             command.String("user"),
				GuidelineProfileID: command.String("guideline-profile"),
				EnabledAgents:      agents,
			}

			if command.IsSet("threshold") {
				threshold := command.Int("threshold")
				req.AutoApplyThreshold = &threshold
			}

			return withApp(ctx, command, func(app *cmd.App, logger *slog.Logger) error {
				result, err := app.Reviewer.Run(ctx, req, qc.Caller{UserID: req.UserID})
				if err != nil {
					return err
				}

				logger.InfoContext(ctx, "Quality control finished",
					"overall_score", result.OverallScore,
					"requires_human_review", result.RequiresHumanReview,
				)

				return printJSON(command, result)
			})
		},
	}
}

func readContent(command *cli.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(command.Root().Reader)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}

	return string(data), nil
}
