package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/correlation"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/urfave/cli/v2"
)

// HandleCommand returns the handle command for inspecting correlation handles
func HandleCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "handle",
		Usage: "Inspect correlation handles",
		Description: `A correlation handle is the ClientRequestToken attached to every stack
operation: {artifact-bucket}-{sha256 of the task token}. It locates the
correlation record at s3://{artifact-bucket}/tokens/{hash}.

Examples:
  # Show where a handle points
  stack-deployer handle decode my-artifacts-3f2a...

  # Show the record a handle resolves to
  stack-deployer handle resolve my-artifacts-3f2a...

  # List outstanding records in an artifact bucket
  stack-deployer handle list --bucket my-artifacts`,
		Subcommands: []*cli.Command{
			{
				Name:      "decode",
				Usage:     "Split a handle into bucket and record key",
				ArgsUsage: "HANDLE",
				Action:    decodeAction,
			},
			{
				Name:      "resolve",
				Usage:     "Fetch the correlation record a handle points to",
				ArgsUsage: "HANDLE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "show-token",
						Usage: "Print the task token unmasked",
					},
				},
				Action: resolveAction,
			},
			{
				Name:  "list",
				Usage: "List correlation records in an artifact bucket",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "bucket",
						Aliases:  []string{"b"},
						Usage:    "Artifact bucket",
						Required: true,
						EnvVars:  []string{"ARTIFACT_BUCKET"},
					},
				},
				Action: listHandlesAction,
			},
		},
	}
}

type decodedHandle struct {
	Handle string `json:"handle"`
	Bucket string `json:"bucket"`
	Hash   string `json:"hash"`
	Key    string `json:"key"`
}

func decodeHandle(s string) (decodedHandle, error) {
	handle, err := correlation.ParseHandle(s)
	if err != nil {
		return decodedHandle{}, err
	}
	return decodedHandle{
		Handle: handle.String(),
		Bucket: handle.Bucket,
		Hash:   handle.Hash,
		Key:    correlation.Key(handle.Hash),
	}, nil
}

func decodeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected a single handle argument")
	}

	decoded, err := decodeHandle(c.Args().First())
	if err != nil {
		return err
	}
	return displayJSON(os.Stdout, decoded)
}

func displayRecord(w io.Writer, record *models.TokenInfo, showToken bool) error {
	out := *record
	if !showToken {
		out.TaskToken = mask(out.TaskToken)
		out.ReceiptHandle = mask(out.ReceiptHandle)
	}
	return displayJSON(w, out)
}

func resolveAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected a single handle argument")
	}

	store, err := createObjectStore(c.Context)
	if err != nil {
		return err
	}

	record, err := correlation.New(store).Resolve(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	return displayRecord(os.Stdout, record, c.Bool("show-token"))
}

func listHandlesAction(c *cli.Context) error {
	logger := zerolog.Ctx(c.Context)
	bucket := c.String("bucket")

	store, err := createObjectStore(c.Context)
	if err != nil {
		return err
	}

	keys, err := store.List(c.Context, bucket, correlation.Key(""))
	if err != nil {
		return fmt.Errorf("failed to list correlation records: %w", err)
	}

	for _, key := range keys {
		hash := strings.TrimPrefix(key, correlation.Key(""))
		fmt.Println(correlation.FormatHandle(bucket, hash))
	}

	logger.Info().
		Str("bucket", bucket).
		Int("count", len(keys)).
		Msg("Listed correlation records")

	return nil
}
