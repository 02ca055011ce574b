package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/correlation"
	"github.com/savaki/stack-deployer/internal/dao/deploymentdao"
	"github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/location"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/notify"
	"github.com/savaki/stack-deployer/internal/objectstore"
	"github.com/savaki/stack-deployer/internal/stack"
	"github.com/savaki/stack-deployer/internal/utils"
)

// DeployHandler starts a create or update for each deployment request.
// Completion is reported by StatusHandler unless the outcome is known
// immediately.
type DeployHandler struct {
	objects          *objectstore.Store
	correlator       *correlation.Correlator
	deployer         StackDeployer
	workflow         Workflow
	notifier         notify.Notifier
	journal          Journal
	notificationArns []string
}

func NewDeployHandler(
	objects *objectstore.Store,
	correlator *correlation.Correlator,
	deployer StackDeployer,
	workflow Workflow,
	notifier notify.Notifier,
	journal Journal,
	notificationArns []string,
) *DeployHandler {
	return &DeployHandler{
		objects:          objects,
		correlator:       correlator,
		deployer:         deployer,
		workflow:         workflow,
		notifier:         notifier,
		journal:          journal,
		notificationArns: notificationArns,
	}
}

// HandleSQS processes every deployment request in the batch
func (h *DeployHandler) HandleSQS(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	return eachMessage(ctx, event, h.HandleMessage), nil
}

// ParseDeploymentRequest decodes and validates a deployment request body
func ParseDeploymentRequest(body string) (models.DeploymentRequest, error) {
	var request models.DeploymentRequest
	if err := json.Unmarshal([]byte(body), &request); err != nil {
		return models.DeploymentRequest{}, fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
	}

	switch {
	case request.ZipLocation == "":
		return models.DeploymentRequest{}, fmt.Errorf("%w: ZipLocation is required", errors.ErrMalformedEvent)
	case request.TemplateFileName == "":
		return models.DeploymentRequest{}, fmt.Errorf("%w: TemplateFileName is required", errors.ErrMalformedEvent)
	case request.StackName == "":
		return models.DeploymentRequest{}, fmt.Errorf("%w: StackName is required", errors.ErrMalformedEvent)
	case request.Token == "":
		return models.DeploymentRequest{}, fmt.Errorf("%w: Token is required", errors.ErrMalformedEvent)
	}

	return request, nil
}

// HandleMessage processes a single deployment request
func (h *DeployHandler) HandleMessage(ctx context.Context, message events.SQSMessage) (err error) {
	request, err := ParseDeploymentRequest(message.Body)
	if err != nil {
		return err
	}

	logger := zerolog.Ctx(ctx).With().
		Str("stack_name", request.StackName).
		Str("environment", request.EnvironmentName).
		Logger()
	ctx = logger.WithContext(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Dur("duration", time.Since(begin)).
			Msg("Handled deployment request")
	}(time.Now())

	h.notify(ctx, notify.StatePending, request, "")

	input, err := h.prepare(ctx, request)
	if err != nil {
		return h.fail(ctx, request, "", ErrorArtifactNotFound, err)
	}

	handle, err := h.correlator.Generate(ctx, message, request)
	if err != nil {
		return err
	}
	input.ClientRequestToken = handle

	hash := correlation.Hash(request.Token)
	h.record(ctx, request, hash, handle)

	result, err := h.deployer.Deploy(ctx, input)
	switch {
	case stderrors.Is(err, stack.ErrNoUpdates):
		return h.succeed(ctx, request, hash)
	case err != nil:
		return h.fail(ctx, request, hash, ErrorDeploymentFailed, fmt.Errorf("%w: %w", errors.ErrDeploymentFailed, err))
	}

	logger.Info().
		Str("stack_id", result.StackID).
		Str("operation", result.Operation).
		Str("handle", handle).
		Msg("Awaiting stack completion")

	h.update(ctx, deploymentdao.UpdateInput{
		StackName: request.StackName,
		Hash:      hash,
		Status:    deploymentdao.StatusInProgress,
		StackID:   result.StackID,
	})

	return nil
}

// prepare reads the template and configuration from the artifact. Every
// failure is reported as errors.ErrArtifactNotFound.
func (h *DeployHandler) prepare(ctx context.Context, request models.DeploymentRequest) (stack.DeployContext, error) {
	artifact, err := location.Parse(request.ZipLocation)
	if err != nil {
		return stack.DeployContext{}, fmt.Errorf("%w: %w", errors.ErrArtifactNotFound, err)
	}

	template, err := h.objects.ReadArtifactFile(ctx, artifact, request.TemplateFileName)
	if err != nil {
		return stack.DeployContext{}, fmt.Errorf("%w: template %s: %w", errors.ErrArtifactNotFound, request.TemplateFileName, err)
	}

	config := &TemplateConfiguration{}
	if name := request.TemplateConfigurationFileName; name != "" {
		data, err := h.objects.ReadArtifactFile(ctx, artifact, name)
		if err != nil {
			return stack.DeployContext{}, fmt.Errorf("%w: configuration %s: %w", errors.ErrArtifactNotFound, name, err)
		}
		if config, err = ParseTemplateConfiguration(data); err != nil {
			return stack.DeployContext{}, fmt.Errorf("%w: configuration %s: %w", errors.ErrArtifactNotFound, name, err)
		}
	}

	policy, err := config.StackPolicyBody()
	if err != nil {
		return stack.DeployContext{}, fmt.Errorf("%w: %w", errors.ErrArtifactNotFound, err)
	}

	return stack.DeployContext{
		StackName:        request.StackName,
		TemplateBody:     string(template),
		RoleArn:          request.RoleArn,
		Parameters:       utils.ApplyOverrides(config.Parameters, request.ParameterOverrides),
		Capabilities:     request.Capabilities,
		Tags:             config.Tags,
		NotificationArns: h.notificationArns,
		StackPolicyBody:  policy,
	}, nil
}

// succeed completes the task for an update that changed nothing
func (h *DeployHandler) succeed(ctx context.Context, request models.DeploymentRequest, hash string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().Msg("No updates to perform, completing task")

	outputs, err := h.deployer.Outputs(ctx, request.RoleArn, request.StackName)
	if err != nil {
		return err
	}

	closed, err := signal(ctx, func() error { return h.workflow.SendSuccess(ctx, request.Token, outputs) })
	if err != nil || closed {
		return err
	}

	h.notify(ctx, notify.StateSuccess, request, "No changes to deploy")
	h.update(ctx, deploymentdao.UpdateInput{
		StackName: request.StackName,
		Hash:      hash,
		Status:    deploymentdao.StatusSuccess,
	})
	return nil
}

// fail reports cause to the workflow. The message itself was handled, so
// fail only returns an error when the workflow could not be told.
func (h *DeployHandler) fail(ctx context.Context, request models.DeploymentRequest, hash, errCode string, cause error) error {
	zerolog.Ctx(ctx).Error().
		Err(cause).
		Str("error_code", errCode).
		Msg("Deployment failed")

	closed, err := signal(ctx, func() error { return h.workflow.SendFailure(ctx, request.Token, errCode, cause.Error()) })
	if err != nil || closed {
		return err
	}

	h.notify(ctx, notify.StateFailure, request, cause.Error())
	if hash != "" {
		h.update(ctx, deploymentdao.UpdateInput{
			StackName: request.StackName,
			Hash:      hash,
			Status:    deploymentdao.StatusFailed,
			ErrorMsg:  cause.Error(),
		})
	}
	return nil
}

func (h *DeployHandler) notify(ctx context.Context, state notify.State, request models.DeploymentRequest, description string) {
	notifyStatus(ctx, h.notifier, state, request.CommitInfo, request.EnvironmentName, request.StackName, description)
}

func (h *DeployHandler) record(ctx context.Context, request models.DeploymentRequest, hash, handle string) {
	if h.journal == nil {
		return
	}

	_, err := h.journal.Create(ctx, deploymentdao.CreateInput{
		StackName:        request.StackName,
		Hash:             hash,
		Handle:           handle,
		Environment:      request.EnvironmentName,
		ZipLocation:      request.ZipLocation,
		GithubOwner:      request.CommitInfo.GithubOwner,
		GithubRepository: request.CommitInfo.GithubRepository,
		GithubRef:        request.CommitInfo.GithubRef,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to record deployment")
	}
}

func (h *DeployHandler) update(ctx context.Context, input deploymentdao.UpdateInput) {
	if h.journal == nil {
		return
	}
	if err := h.journal.UpdateStatus(ctx, input); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("status", string(input.Status)).Msg("Failed to update deployment record")
	}
}
