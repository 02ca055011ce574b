package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/di"
	"github.com/savaki/stack-deployer/internal/handlers"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/urfave/cli/v2"
)

type HandlerFunc func(context.Context, events.SQSEvent) (events.SQSEventResponse, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		ctx = logger.WithContext(ctx)
		return handler(ctx, event)
	}
}

func newHandler(ctx context.Context, env string) (*handlers.SupersessionHandler, error) {
	container, err := di.New(env,
		di.WithContext(ctx),
		di.WithProviders(
			di.ProvideSupersessionHandler,
		),
	)
	if err != nil {
		return nil, err
	}
	return di.MustGet[*handlers.SupersessionHandler](container), nil
}

func lambdaAction(c *cli.Context) error {
	logger := di.ProvideLogger().With().Str("lambda", "check-supersession").Logger()
	ctx := logger.WithContext(c.Context)

	handler, err := newHandler(ctx, c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	lambda.Start(withLogger(handler.HandleSQS, logger))
	return nil
}

func newRequest(pipeline, commitTime, token string) (models.SupersessionRequest, error) {
	ts, err := time.Parse(time.RFC3339, commitTime)
	if err != nil {
		return models.SupersessionRequest{}, fmt.Errorf("invalid commit-time, %v: %w", commitTime, err)
	}

	data, err := json.Marshal(models.SupersessionRequest{
		Pipeline:        pipeline,
		CommitTimestamp: ts,
		Token:           token,
	})
	if err != nil {
		return models.SupersessionRequest{}, err
	}
	return handlers.ParseSupersessionRequest(string(data))
}

func runAction(c *cli.Context) error {
	logger := di.ProvideLogger().With().Str("lambda", "check-supersession").Logger()
	ctx := logger.WithContext(c.Context)

	request, err := newRequest(c.String("pipeline"), c.String("commit-time"), c.String("token"))
	if err != nil {
		return err
	}

	handler, err := newHandler(ctx, c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	result, err := handler.Check(ctx, request)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func main() {
	app := &cli.App{
		Name:           "check-supersession",
		Usage:          "Decide whether a pipeline trigger has been superseded",
		DefaultCommand: "lambda",
		Commands: []*cli.Command{
			{
				Name:  "lambda",
				Usage: "Start Lambda handler",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "env",
						Usage:    "Environment",
						EnvVars:  []string{"ENV"},
						Required: true,
					},
				},
				Action: lambdaAction,
			},
			{
				Name:  "run",
				Usage: "Check a single trigger locally",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "env",
						Usage:    "Environment",
						EnvVars:  []string{"ENV"},
						Required: true,
					},
					&cli.StringFlag{
						Name:     "pipeline",
						Usage:    "Pipeline name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "commit-time",
						Usage:    "Commit timestamp, RFC3339",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Workflow task token to signal",
						Required: true,
					},
				},
				Action: runAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
