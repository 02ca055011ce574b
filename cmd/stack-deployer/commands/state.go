package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/state"
	"github.com/urfave/cli/v2"
)

// StateCommand returns the state command for inspecting pipeline state
func StateCommand(logger *zerolog.Logger) *cli.Command {
	bucketFlag := &cli.StringFlag{
		Name:     "bucket",
		Aliases:  []string{"b"},
		Usage:    "State bucket",
		Required: true,
		EnvVars:  []string{"STATE_BUCKET"},
	}
	pipelineFlag := &cli.StringFlag{
		Name:     "pipeline",
		Aliases:  []string{"p"},
		Usage:    "Pipeline name",
		Required: true,
		EnvVars:  []string{"PIPELINE"},
	}

	return &cli.Command{
		Name:  "state",
		Usage: "Inspect and reset pipeline state",
		Description: `Pipeline state records the newest commit timestamp seen by a pipeline.
Triggers carrying an older timestamp are reported as superseded.

Examples:
  # Show the last commit recorded for a pipeline
  stack-deployer state show --bucket my-state --pipeline api

  # Rewind a pipeline so an older commit may deploy again
  stack-deployer state reset --bucket my-state --pipeline api --commit-time 2024-01-01T00:00:00Z`,
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the last commit recorded for a pipeline",
				Flags:  []cli.Flag{bucketFlag, pipelineFlag},
				Action: showStateAction,
			},
			{
				Name:  "reset",
				Usage: "Overwrite the last commit recorded for a pipeline",
				Flags: []cli.Flag{
					bucketFlag,
					pipelineFlag,
					&cli.StringFlag{
						Name:  "commit-time",
						Usage: "Commit timestamp to record, RFC3339; empty rewinds to the beginning",
					},
				},
				Action: resetStateAction,
			},
		},
	}
}

func createStateStore(ctx context.Context, bucket string) (*state.Store, error) {
	objects, err := createObjectStore(ctx)
	if err != nil {
		return nil, err
	}
	return state.New(objects, bucket)
}

type stateOutput struct {
	Pipeline            string    `json:"pipeline"`
	Key                 string    `json:"key"`
	Exists              bool      `json:"exists"`
	ETag                string    `json:"etag,omitempty"`
	LastCommitTimestamp time.Time `json:"last_commit_timestamp"`
}

func newStateOutput(pipeline string, snapshot state.Snapshot) stateOutput {
	return stateOutput{
		Pipeline:            pipeline,
		Key:                 state.Key(pipeline),
		Exists:              snapshot.Exists,
		ETag:                snapshot.ETag,
		LastCommitTimestamp: snapshot.Info.LastCommitTimestamp,
	}
}

func showStateAction(c *cli.Context) error {
	pipeline := c.String("pipeline")

	store, err := createStateStore(c.Context, c.String("bucket"))
	if err != nil {
		return err
	}

	snapshot, err := store.Load(c.Context, pipeline)
	if err != nil {
		return err
	}
	return displayJSON(os.Stdout, newStateOutput(pipeline, snapshot))
}

func parseCommitTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid commit-time, %v: %w", s, err)
	}
	return ts, nil
}

func resetStateAction(c *cli.Context) error {
	logger := zerolog.Ctx(c.Context)
	pipeline := c.String("pipeline")

	commitTime, err := parseCommitTime(c.String("commit-time"))
	if err != nil {
		return err
	}

	store, err := createStateStore(c.Context, c.String("bucket"))
	if err != nil {
		return err
	}

	if err := store.Reset(c.Context, pipeline, models.StateInfo{LastCommitTimestamp: commitTime}); err != nil {
		return fmt.Errorf("failed to reset state for pipeline %s: %w", pipeline, err)
	}

	logger.Info().
		Str("bucket", store.Bucket()).
		Str("pipeline", pipeline).
		Time("commit_time", commitTime).
		Msg("Reset pipeline state")

	return nil
}
