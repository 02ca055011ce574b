// Package handlers contains the message handlers behind each Lambda function.
//
// DeployHandler starts stack operations, StatusHandler completes the waiting
// workflow task when CloudFormation reports a terminal status, and
// SupersessionHandler discards triggers older than the newest one recorded for
// a pipeline.
package handlers

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/dao/deploymentdao"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/notify"
	"github.com/savaki/stack-deployer/internal/stack"
	"github.com/savaki/stack-deployer/internal/workflow"
)

// Error codes reported to the workflow on task failure
const (
	ErrorArtifactNotFound = "ArtifactNotFound"
	ErrorDeploymentFailed = "DeploymentFailed"
)

// Workflow completes task tokens
type Workflow interface {
	SendSuccess(ctx context.Context, token string, output any) error
	SendFailure(ctx context.Context, token, errCode, cause string) error
}

// StackDeployer creates or updates stacks and reads their outputs
type StackDeployer interface {
	Deploy(ctx context.Context, input stack.DeployContext) (*stack.DeployResult, error)
	Outputs(ctx context.Context, roleArn, stackName string) (map[string]string, error)
}

// Journal records deployment attempts. A nil Journal disables recording.
type Journal interface {
	Create(ctx context.Context, input deploymentdao.CreateInput) (deploymentdao.Record, error)
	UpdateStatus(ctx context.Context, input deploymentdao.UpdateInput) error
}

// SQSAPI is the subset of the SQS client used to acknowledge messages
type SQSAPI interface {
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// PipelineState arbitrates triggers for a pipeline
type PipelineState interface {
	Advance(ctx context.Context, pipeline string, commitTime time.Time) (superseded bool, err error)
}

// eachMessage runs fn for every message and reports the ones that failed so
// only those are redelivered
func eachMessage(ctx context.Context, event events.SQSEvent, fn func(context.Context, events.SQSMessage) error) events.SQSEventResponse {
	var response events.SQSEventResponse
	for _, message := range event.Records {
		logger := zerolog.Ctx(ctx).With().Str("message_id", message.MessageId).Logger()
		if err := fn(logger.WithContext(ctx), message); err != nil {
			logger.Error().Err(err).Msg("Failed to process message")
			response.BatchItemFailures = append(response.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: message.MessageId,
			})
		}
	}
	return response
}

// signal tolerates tokens the workflow has already closed; redelivered
// messages routinely signal a second time. closed reports that the task's
// outcome was settled by an earlier signal, so nothing further should be
// reported for it.
func signal(ctx context.Context, fn func() error) (closed bool, err error) {
	err = fn()
	if err != nil && workflow.IsTaskClosed(err) {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Task already closed, ignoring")
		return true, nil
	}
	return false, err
}

func notifyStatus(ctx context.Context, notifier notify.Notifier, state notify.State, commit models.CommitInfo, environment, stackName, description string) {
	_ = notifier.Notify(ctx, notify.Status{
		State:       state,
		Commit:      commit,
		Environment: environment,
		StackName:   stackName,
		Description: description,
	})
}
