package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/di"
	"github.com/savaki/stack-deployer/internal/handlers"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"
)

type HandlerFunc func(context.Context, events.SQSEvent) (events.SQSEventResponse, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		ctx = logger.WithContext(ctx)
		return handler(ctx, event)
	}
}

func newHandler(ctx context.Context, env string) (*handlers.DeployHandler, error) {
	container, err := di.New(env,
		di.WithContext(ctx),
		di.WithProviders(
			di.ProvideDeployHandler,
		),
	)
	if err != nil {
		return nil, err
	}
	return di.MustGet[*handlers.DeployHandler](container), nil
}

func lambdaAction(c *cli.Context) error {
	logger := di.ProvideLogger().With().Str("lambda", "deploy-stack").Logger()
	ctx := logger.WithContext(c.Context)

	handler, err := newHandler(ctx, c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	lambda.Start(withLogger(handler.HandleSQS, logger))
	return nil
}

// readMessage wraps a deployment request read from r in an SQS message that
// appears to come from queueArn
func readMessage(r io.Reader, queueArn string) (events.SQSMessage, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return events.SQSMessage{}, fmt.Errorf("failed to read request: %w", err)
	}
	if _, err := handlers.ParseDeploymentRequest(string(body)); err != nil {
		return events.SQSMessage{}, err
	}

	id := ksuid.New().String()
	return events.SQSMessage{
		MessageId:      id,
		ReceiptHandle:  "local-" + id,
		Body:           string(body),
		EventSourceARN: queueArn,
	}, nil
}

func runAction(c *cli.Context) error {
	logger := di.ProvideLogger().With().Str("lambda", "deploy-stack").Logger()
	ctx := logger.WithContext(c.Context)

	var r io.Reader = os.Stdin
	if filename := c.String("request"); filename != "-" {
		f, err := os.Open(filename)
		if err != nil {
			return fmt.Errorf("failed to open request: %w", err)
		}
		defer f.Close()
		r = f
	}

	message, err := readMessage(r, c.String("queue-arn"))
	if err != nil {
		return err
	}

	handler, err := newHandler(ctx, c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	if err := handler.HandleMessage(ctx, message); err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]string{"message_id": message.MessageId})
}

func main() {
	app := &cli.App{
		Name:           "deploy-stack",
		Usage:          "Create or update stacks from deployment requests",
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
				Usage: "Run a single deployment request locally",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "env",
						Usage:    "Environment",
						EnvVars:  []string{"ENV"},
						Required: true,
					},
					&cli.StringFlag{
						Name:  "request",
						Usage: "Deployment request JSON file, - for stdin",
						Value: "-",
					},
					&cli.StringFlag{
						Name:     "queue-arn",
						Usage:    "Queue the request is treated as coming from",
						EnvVars:  []string{"QUEUE_ARN"},
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
