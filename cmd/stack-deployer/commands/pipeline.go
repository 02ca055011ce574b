package commands

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/workflow"
	"github.com/urfave/cli/v2"
)

// PipelineCommand returns the pipeline command for starting executions
func PipelineCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "pipeline",
		Usage: "Start pipeline executions",
		Subcommands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start an execution of the pipeline state machine",
				Description: `Starts an execution for an artifact that is already uploaded.

Examples:
  stack-deployer pipeline start \
    --state-machine-arn arn:aws:states:us-east-1:123456789012:stateMachine:deploy \
    --pipeline api \
    --zip-location s3://my-artifacts/api/abc123.zip \
    --stack-name dev-api --environment dev \
    --owner acme --repo api --ref abc123`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "state-machine-arn",
						Usage:    "Pipeline state machine",
						Required: true,
						EnvVars:  []string{"STATE_MACHINE_ARN"},
					},
					&cli.StringFlag{
						Name:     "pipeline",
						Aliases:  []string{"p"},
						Usage:    "Pipeline name",
						Required: true,
						EnvVars:  []string{"PIPELINE"},
					},
					&cli.StringFlag{
						Name:     "zip-location",
						Aliases:  []string{"z"},
						Usage:    "Artifact location, s3://bucket/key or S3 object ARN",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "commit-time",
						Usage: "Commit timestamp, RFC3339; defaults to now",
					},
					&cli.StringFlag{
						Name:  "stack-name",
						Usage: "Stack to deploy",
					},
					&cli.StringFlag{
						Name:    "environment",
						Usage:   "Environment being deployed to",
						EnvVars: []string{"TARGET_ENV"},
					},
					&cli.StringFlag{
						Name:  "owner",
						Usage: "GitHub owner of the commit",
					},
					&cli.StringFlag{
						Name:  "repo",
						Usage: "GitHub repository of the commit",
					},
					&cli.StringFlag{
						Name:  "ref",
						Usage: "Commit SHA",
					},
				},
				Action: startAction,
			},
		},
	}
}

func newExecutionInput(c *cli.Context, now time.Time) (workflow.ExecutionInput, error) {
	commitTime, err := parseCommitTime(c.String("commit-time"))
	if err != nil {
		return workflow.ExecutionInput{}, err
	}
	if commitTime.IsZero() {
		commitTime = now
	}

	return workflow.ExecutionInput{
		Pipeline:        c.String("pipeline"),
		CommitTimestamp: commitTime.UTC(),
		ZipLocation:     c.String("zip-location"),
		StackName:       c.String("stack-name"),
		EnvironmentName: c.String("environment"),
		CommitInfo: models.CommitInfo{
			GithubOwner:      c.String("owner"),
			GithubRepository: c.String("repo"),
			GithubRef:        c.String("ref"),
		},
	}, nil
}

func startAction(c *cli.Context) error {
	input, err := newExecutionInput(c, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadAWSConfig(c.Context)
	if err != nil {
		return err
	}

	orchestrator := workflow.New(sfn.NewFromConfig(cfg), c.String("state-machine-arn"))
	executionArn, err := orchestrator.StartExecution(c.Context, input)
	if err != nil {
		return err
	}

	fmt.Println(executionArn)
	return nil
}
