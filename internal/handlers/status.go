package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/correlation"
	"github.com/savaki/stack-deployer/internal/dao/deploymentdao"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/notify"
	"github.com/savaki/stack-deployer/internal/stack"
)

// StatusHandler completes the workflow task of a deployment once its stack
// reaches a terminal status
type StatusHandler struct {
	correlator *correlation.Correlator
	deployer   StackDeployer
	workflow   Workflow
	queue      SQSAPI
	notifier   notify.Notifier
	journal    Journal
}

func NewStatusHandler(
	correlator *correlation.Correlator,
	deployer StackDeployer,
	workflow Workflow,
	queue SQSAPI,
	notifier notify.Notifier,
	journal Journal,
) *StatusHandler {
	return &StatusHandler{
		correlator: correlator,
		deployer:   deployer,
		workflow:   workflow,
		queue:      queue,
		notifier:   notifier,
		journal:    journal,
	}
}

// HandleSNS processes every stack notification in event. The first failure
// is returned so the invocation is retried.
func (h *StatusHandler) HandleSNS(ctx context.Context, event events.SNSEvent) error {
	for _, record := range event.Records {
		statusEvent, err := ParseStatusEvent(record.SNS.Message)
		if err != nil {
			return fmt.Errorf("message %s: %w", record.SNS.MessageID, err)
		}
		statusEvent.SourceTopic = record.SNS.TopicArn

		if err := h.HandleEvent(ctx, statusEvent); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent processes a single stack notification
func (h *StatusHandler) HandleEvent(ctx context.Context, event models.StatusEvent) (err error) {
	logger := zerolog.Ctx(ctx).With().
		Str("stack_name", event.StackName).
		Str("resource_status", event.ResourceStatus).
		Logger()
	ctx = logger.WithContext(ctx)

	if !Actionable(event) {
		logger.Debug().
			Str("resource_type", event.ResourceType).
			Str("logical_resource_id", event.LogicalResourceId).
			Msg("Ignoring stack event")
		return nil
	}

	outcome := stack.Classify(event.ResourceStatus)
	if outcome == stack.OutcomeIgnored {
		logger.Debug().Msg("Ignoring non-terminal stack event")
		return nil
	}

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Stringer("outcome", outcome).
			Str("source_topic", event.SourceTopic).
			Dur("duration", time.Since(begin)).
			Msg("Handled stack event")
	}(time.Now())

	record, err := h.correlator.Resolve(ctx, event.ClientRequestToken)
	if err != nil {
		return err
	}

	closed, err := h.complete(ctx, event, outcome, record)
	if err != nil {
		return err
	}

	if err := h.deleteMessage(ctx, record); err != nil {
		return err
	}

	// a later terminal event, such as DELETE_COMPLETE after a failed create,
	// must not overwrite the outcome already reported
	if closed {
		logger.Info().Msg("Task already completed, outcome not reported again")
		return nil
	}

	state, description := notify.StateSuccess, event.ResourceStatus
	if outcome == stack.OutcomeFailure {
		state = notify.StateFailure
		if event.ResourceStatusReason != "" {
			description = event.ResourceStatus + ": " + event.ResourceStatusReason
		}
	}
	notifyStatus(ctx, h.notifier, state, record.CommitInfo(), record.EnvironmentName, event.StackName, description)

	h.update(ctx, event, outcome)

	return nil
}

func (h *StatusHandler) complete(ctx context.Context, event models.StatusEvent, outcome stack.Outcome, record *models.TokenInfo) (bool, error) {
	if outcome == stack.OutcomeFailure {
		return signal(ctx, func() error {
			return h.workflow.SendFailure(ctx, record.TaskToken, ErrorDeploymentFailed, event.ResourceStatus)
		})
	}

	stackName := event.StackId
	if stackName == "" {
		stackName = event.StackName
	}

	outputs, err := h.deployer.Outputs(ctx, record.RoleArn, stackName)
	if err != nil {
		return false, err
	}

	return signal(ctx, func() error {
		return h.workflow.SendSuccess(ctx, record.TaskToken, outputs)
	})
}

// deleteMessage acknowledges the deployment request. A receipt handle that is
// no longer valid means the message is already gone.
func (h *StatusHandler) deleteMessage(ctx context.Context, record *models.TokenInfo) error {
	if record.QueueUrl == "" || record.ReceiptHandle == "" {
		return nil
	}

	_, err := h.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(record.QueueUrl),
		ReceiptHandle: aws.String(record.ReceiptHandle),
	})
	if err == nil {
		return nil
	}
	if isReceiptHandleInvalid(err) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("queue_url", record.QueueUrl).Msg("Deployment request already deleted")
		return nil
	}
	return fmt.Errorf("failed to delete deployment request from %s: %w", record.QueueUrl, err)
}

func (h *StatusHandler) update(ctx context.Context, event models.StatusEvent, outcome stack.Outcome) {
	if h.journal == nil {
		return
	}

	handle, err := correlation.ParseHandle(event.ClientRequestToken)
	if err != nil {
		return
	}

	input := deploymentdao.UpdateInput{
		StackName:   event.StackName,
		Hash:        handle.Hash,
		Status:      deploymentdao.StatusSuccess,
		StackID:     event.StackId,
		StackStatus: event.ResourceStatus,
	}
	if outcome == stack.OutcomeFailure {
		input.Status = deploymentdao.StatusFailed
		input.ErrorMsg = event.ResourceStatus
	}

	if err := h.journal.UpdateStatus(ctx, input); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to update deployment record")
	}
}

func isReceiptHandleInvalid(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	if stderrors.As(err, &invalid) {
		return true
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ReceiptHandleIsInvalid"
	}
	return false
}
