package di

import (
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/savaki/stack-deployer/internal/correlation"
	"github.com/savaki/stack-deployer/internal/handlers"
	"github.com/savaki/stack-deployer/internal/notify"
	"github.com/savaki/stack-deployer/internal/objectstore"
	"github.com/savaki/stack-deployer/internal/services"
	"github.com/savaki/stack-deployer/internal/stack"
	"github.com/savaki/stack-deployer/internal/state"
	"github.com/savaki/stack-deployer/internal/workflow"
)

func ProvideDeployHandler(
	objects *objectstore.Store,
	correlator *correlation.Correlator,
	deployer *stack.Deployer,
	orchestrator *workflow.Orchestrator,
	notifier notify.Notifier,
	journal handlers.Journal,
	config *services.Config,
) *handlers.DeployHandler {
	return handlers.NewDeployHandler(objects, correlator, deployer, orchestrator, notifier, journal, config.NotificationArns())
}

func ProvideStatusHandler(
	correlator *correlation.Correlator,
	deployer *stack.Deployer,
	orchestrator *workflow.Orchestrator,
	queue *sqs.Client,
	notifier notify.Notifier,
	journal handlers.Journal,
) *handlers.StatusHandler {
	return handlers.NewStatusHandler(correlator, deployer, orchestrator, queue, notifier, journal)
}

func ProvideSupersessionHandler(store *state.Store, orchestrator *workflow.Orchestrator) *handlers.SupersessionHandler {
	return handlers.NewSupersessionHandler(store, orchestrator)
}
