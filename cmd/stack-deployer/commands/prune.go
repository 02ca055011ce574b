package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/dao/deploymentdao"
	"github.com/savaki/stack-deployer/internal/di"
	"github.com/urfave/cli/v2"
)

// requestDelay paces DescribeStacks calls to stay under CloudFormation rate limits
const requestDelay = 300 * time.Millisecond

type stackChecker interface {
	Exists(ctx context.Context, roleArn, stackName string) (bool, error)
}

type journalStore interface {
	Query(ctx context.Context, stackName string) ([]deploymentdao.Record, error)
	Delete(ctx context.Context, id deploymentdao.ID) error
}

// PruneCommand returns the prune command for removing journal records of
// deleted stacks
func PruneCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Remove journal records of stacks that no longer exist",
		Description: `Checks each named stack and removes its deployment journal when the stack
has been deleted.

Examples:
  # Dry run - show what would be deleted (default)
  stack-deployer journal prune --env dev --stack-name dev-api --stack-name dev-web

  # Execute deletion
  stack-deployer journal prune --env dev --stack-name dev-api --execute

  # Skip confirmation prompt
  stack-deployer journal prune --env dev --stack-name dev-api --execute --force`,
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
			&cli.StringSliceFlag{
				Name:     "stack-name",
				Aliases:  []string{"s"},
				Usage:    "Stack to check (can be specified multiple times)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "role-arn",
				Usage: "Role assumed to describe stacks",
			},
			&cli.BoolFlag{
				Name:    "execute",
				Aliases: []string{"x"},
				Usage:   "Actually perform deletions (default is dry-run)",
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Skip confirmation prompt",
			},
		},
		Action: pruneAction,
	}
}

// findDeletedStacks returns the stacks in stackNames that no longer exist. A
// stack whose existence cannot be determined is kept.
func findDeletedStacks(ctx context.Context, checker stackChecker, roleArn string, stackNames []string, delay time.Duration) []string {
	logger := zerolog.Ctx(ctx)

	var deleted []string
	for i, stackName := range stackNames {
		if i > 0 {
			time.Sleep(delay)
		}

		exists, err := checker.Exists(ctx, roleArn, stackName)
		if err != nil {
			logger.Warn().Err(err).Str("stack_name", stackName).Msg("Error checking stack, assuming it exists")
			continue
		}
		if !exists {
			deleted = append(deleted, stackName)
		}
	}

	return deleted
}

// pruneJournal deletes every journal record of stackName and returns how many
// were removed
func pruneJournal(ctx context.Context, journal journalStore, stackName string) (int, error) {
	logger := zerolog.Ctx(ctx)

	records, err := journal.Query(ctx, stackName)
	if err != nil {
		return 0, fmt.Errorf("failed to query journal for %s: %w", stackName, err)
	}

	var removed int
	for _, record := range records {
		if err := journal.Delete(ctx, record.GetID()); err != nil {
			logger.Warn().Err(err).Str("id", record.GetID().String()).Msg("Failed to delete deployment")
			continue
		}
		removed++
	}

	return removed, nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	var response string
	fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "yes" || response == "y"
}

func pruneAction(c *cli.Context) error {
	ctx := c.Context
	logger := zerolog.Ctx(ctx)

	cfg, err := loadAWSConfig(ctx)
	if err != nil {
		return err
	}

	deleted := findDeletedStacks(ctx, di.ProvideStackDeployer(cfg), c.String("role-arn"), c.StringSlice("stack-name"), requestDelay)
	if len(deleted) == 0 {
		fmt.Println("No deleted stacks found. Every stack still exists.")
		return nil
	}

	fmt.Printf("Found %d deleted stack(s):\n", len(deleted))
	for _, stackName := range deleted {
		fmt.Printf("  - %s\n", stackName)
	}
	fmt.Println()

	if !c.Bool("execute") {
		fmt.Println("DRY RUN: No data was deleted. Use --execute to actually delete.")
		return nil
	}

	if !c.Bool("force") && !confirm(fmt.Sprintf("About to delete the journal of %d stack(s). Are you sure? (yes/no): ", len(deleted))) {
		fmt.Println("Deletion cancelled")
		return nil
	}

	tableName := journalTable(c.String("env"), c.String("table"))
	dao := deploymentdao.New(dynamodb.NewFromConfig(cfg), tableName)

	for _, stackName := range deleted {
		removed, err := pruneJournal(ctx, dao, stackName)
		if err != nil {
			return err
		}

		logger.Info().
			Str("table", tableName).
			Str("stack_name", stackName).
			Int("removed", removed).
			Msg("Pruned deployment journal")
	}

	return nil
}
