package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/dao/deploymentdao"
	"github.com/urfave/cli/v2"
)

// JournalCommand returns the journal command for reviewing deployment history
func JournalCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "Review the deployment journal",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List deployment attempts for a stack",
				Description: `Examples:
  stack-deployer journal list --env dev --stack-name dev-api
  stack-deployer journal list --env dev --stack-name dev-api --json`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "env",
						Aliases:  []string{"e"},
						Usage:    "Stack deployer environment - determines which DynamoDB table to use",
						Required: true,
						EnvVars:  []string{"ENV"},
					},
					&cli.StringFlag{
						Name:    "table",
						Usage:   "Journal table, overrides the name derived from --env",
						EnvVars: []string{"JOURNAL_TABLE"},
					},
					&cli.StringFlag{
						Name:     "stack-name",
						Aliases:  []string{"s"},
						Usage:    "Stack name",
						Required: true,
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: listJournalAction,
			},
			PruneCommand(logger),
		},
	}
}

func journalTable(env, table string) string {
	if table != "" {
		return table
	}
	return deploymentdao.TableName(env)
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func displayJournal(w *tabwriter.Writer, records []deploymentdao.Record) error {
	fmt.Fprintln(w, "CREATED\tSTATUS\tSTACK STATUS\tREF\tHANDLE")
	for _, record := range records {
		stackStatus := record.StackStatus
		if stackStatus == "" {
			stackStatus = "-"
		}
		ref := record.GithubRef
		if ref == "" {
			ref = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatUnix(record.CreatedAt),
			record.Status,
			stackStatus,
			ref,
			record.Handle,
		)
	}
	return w.Flush()
}

func listJournalAction(c *cli.Context) error {
	logger := zerolog.Ctx(c.Context)
	stackName := c.String("stack-name")

	cfg, err := loadAWSConfig(c.Context)
	if err != nil {
		return err
	}

	tableName := journalTable(c.String("env"), c.String("table"))
	dao := deploymentdao.New(dynamodb.NewFromConfig(cfg), tableName)

	records, err := dao.Query(c.Context, stackName)
	if err != nil {
		return fmt.Errorf("failed to query journal: %w", err)
	}

	if c.Bool("json") {
		if err := displayJSON(os.Stdout, records); err != nil {
			return err
		}
	} else if err := displayJournal(tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0), records); err != nil {
		return err
	}

	logger.Info().
		Str("table", tableName).
		Str("stack_name", stackName).
		Int("count", len(records)).
		Msg("Listed deployment journal")

	return nil
}
