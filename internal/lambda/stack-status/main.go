package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/di"
	"github.com/savaki/stack-deployer/internal/handlers"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/urfave/cli/v2"
)

type HandlerFunc func(context.Context, events.SNSEvent) error

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, event events.SNSEvent) error {
		ctx = logger.WithContext(ctx)
		return handler(ctx, event)
	}
}

func newHandler(ctx context.Context, env string) (*handlers.StatusHandler, error) {
	container, err := di.New(env,
		di.WithContext(ctx),
		di.WithProviders(
			di.ProvideStatusHandler,
		),
	)
	if err != nil {
		return nil, err
	}
	return di.MustGet[*handlers.StatusHandler](container), nil
}

func lambdaAction(c *cli.Context) error {
	logger := di.ProvideLogger().With().Str("lambda", "stack-status").Logger()
	ctx := logger.WithContext(c.Context)

	handler, err := newHandler(ctx, c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	lambda.Start(withLogger(handler.HandleSNS, logger))
	return nil
}

// readEvent parses a raw stack notification, as published to the topic, from r
func readEvent(r io.Reader, topicArn string) (models.StatusEvent, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.StatusEvent{}, fmt.Errorf("failed to read notification: %w", err)
	}

	event, err := handlers.ParseStatusEvent(string(data))
	if err != nil {
		return models.StatusEvent{}, err
	}
	event.SourceTopic = topicArn
	return event, nil
}

func runAction(c *cli.Context) error {
	logger := di.ProvideLogger().With().Str("lambda", "stack-status").Logger()
	ctx := logger.WithContext(c.Context)

	var r io.Reader = os.Stdin
	if filename := c.String("notification"); filename != "-" {
		f, err := os.Open(filename)
		if err != nil {
			return fmt.Errorf("failed to open notification: %w", err)
		}
		defer f.Close()
		r = f
	}

	event, err := readEvent(r, c.String("topic-arn"))
	if err != nil {
		return err
	}

	handler, err := newHandler(ctx, c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	return handler.HandleEvent(ctx, event)
}

func main() {
	app := &cli.App{
		Name:           "stack-status",
		Usage:          "Resolve stack notifications back to their workflow",
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
				Usage: "Process a single stack notification locally",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "env",
						Usage:    "Environment",
						EnvVars:  []string{"ENV"},
						Required: true,
					},
					&cli.StringFlag{
						Name:  "notification",
						Usage: "File holding the notification message, - for stdin",
						Value: "-",
					},
					&cli.StringFlag{
						Name:    "topic-arn",
						Usage:   "Topic the notification is treated as arriving on",
						EnvVars: []string{"NOTIFICATION_TOPIC_ARN"},
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
