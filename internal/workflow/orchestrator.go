package workflow

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/segmentio/ksuid"
)

// maxExecutionName is the longest execution name Step Functions accepts
const maxExecutionName = 80

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SFNAPI is the subset of the Step Functions client used by Orchestrator
type SFNAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// ExecutionInput is the input payload of a pipeline execution
type ExecutionInput struct {
	Pipeline        string            `json:"Pipeline"`
	CommitTimestamp time.Time         `json:"CommitTimestamp"`
	ZipLocation     string            `json:"ZipLocation"`
	StackName       string            `json:"StackName,omitempty"`
	EnvironmentName string            `json:"EnvironmentName,omitempty"`
	CommitInfo      models.CommitInfo `json:"CommitInfo"`
}

// Orchestrator starts pipeline executions and completes the task tokens they
// wait on
type Orchestrator struct {
	sfnClient       SFNAPI
	stateMachineArn string
}

// New creates a new Orchestrator instance
func New(sfnClient SFNAPI, stateMachineArn string) *Orchestrator {
	return &Orchestrator{
		sfnClient:       sfnClient,
		stateMachineArn: stateMachineArn,
	}
}

// ExecutionName returns a unique execution name for pipeline
func ExecutionName(pipeline string) string {
	id := ksuid.New().String()
	prefix := invalidNameChars.ReplaceAllString(pipeline, "-")
	if max := maxExecutionName - len(id) - 1; len(prefix) > max {
		prefix = prefix[:max]
	}
	return prefix + "-" + id
}

// StartExecution starts a pipeline execution and returns its ARN
func (o *Orchestrator) StartExecution(ctx context.Context, input ExecutionInput) (string, error) {
	if o.stateMachineArn == "" {
		return "", fmt.Errorf("state machine arn not configured")
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution input: %w", err)
	}

	executionName := ExecutionName(input.Pipeline)

	result, err := o.sfnClient.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(o.stateMachineArn),
		Name:            aws.String(executionName),
		Input:           aws.String(string(inputJSON)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start step function execution: %w", err)
	}

	executionArn := aws.ToString(result.ExecutionArn)

	zerolog.Ctx(ctx).Info().
		Str("pipeline", input.Pipeline).
		Str("execution_arn", executionArn).
		Msg("Started execution")

	return executionArn, nil
}

// SendSuccess completes the task with output encoded as JSON
func (o *Orchestrator) SendSuccess(ctx context.Context, token string, output any) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal task output: %w", err)
	}

	_, err = o.sfnClient.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(token),
		Output:    aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}
	return nil
}

// SendFailure fails the task with the given error code and cause
func (o *Orchestrator) SendFailure(ctx context.Context, token, errCode, cause string) error {
	_, err := o.sfnClient.SendTaskFailure(ctx, &sfn.SendTaskFailureInput{
		TaskToken: aws.String(token),
		Error:     aws.String(errCode),
		Cause:     aws.String(truncate(cause, 32768)),
	})
	if err != nil {
		return fmt.Errorf("failed to send task failure: %w", err)
	}
	return nil
}

// IsTaskClosed reports whether err means the task token was already completed
// or has expired. Redelivered events hit this routinely.
func IsTaskClosed(err error) bool {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TaskTimedOut", "InvalidToken", "TaskDoesNotExist":
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
