package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/notify"
	"github.com/savaki/stack-deployer/internal/services"
)

func ProvideSecretsManager(config aws.Config) *services.SecretsManagerService {
	return services.NewSecretsManagerService(secretsmanager.NewFromConfig(config))
}

// ProvideNotifier returns a GitHub commit status notifier when a PAT secret is
// configured. Notification is best effort, so a missing secret downgrades to
// notify.Nop rather than failing startup.
func ProvideNotifier(ctx context.Context, secrets *services.SecretsManagerService, config *services.Config) notify.Notifier {
	logger := zerolog.Ctx(ctx)

	if config.GitHubSecretName == "" {
		logger.Info().Msg("Commit statuses disabled, no GitHub secret configured")
		return notify.Nop{}
	}

	token, err := secrets.GetGitHubPAT(ctx, config.GitHubSecretName)
	if err != nil {
		logger.Warn().Err(err).Msg("Commit statuses disabled, unable to load GitHub PAT")
		return notify.Nop{}
	}

	github := notify.NewGitHub(token, notify.WithContextPrefix(config.StatusContext))
	return notify.FireAndForget(github)
}
