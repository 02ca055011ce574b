package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/dao/deploymentdao"
	"github.com/savaki/stack-deployer/internal/handlers"
	"github.com/savaki/stack-deployer/internal/services"
)

// ProvideJournal returns the deployment journal, or nil when no table is
// configured
func ProvideJournal(ctx context.Context, client *dynamodb.Client, config *services.Config) handlers.Journal {
	if config.JournalTable == "" {
		zerolog.Ctx(ctx).Info().Msg("Deployment journal disabled")
		return nil
	}
	return deploymentdao.New(client, config.JournalTable)
}
