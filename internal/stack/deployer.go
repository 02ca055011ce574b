// Package stack creates and updates CloudFormation stacks and reports their
// outputs. It holds no state between calls.
package stack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/clients"
	deployerrors "github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/utils"
)

const (
	OperationCreate = "CREATE"
	OperationUpdate = "UPDATE"

	noUpdatesMessage = "No updates are to be performed."
)

// ErrNoUpdates is returned by Deploy when an update would change nothing.
// No stack event will follow, so callers must treat it as a completed success.
var ErrNoUpdates = errors.New("no updates are to be performed")

// CloudFormationAPI is the subset of the CloudFormation client used here
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
}

// DeployContext describes a single create or update
type DeployContext struct {
	StackName          string
	TemplateBody       string
	RoleArn            string // role assumed for every CloudFormation call
	Parameters         map[string]string
	Capabilities       []string // defaults to CAPABILITY_IAM and CAPABILITY_NAMED_IAM
	Tags               map[string]string
	NotificationArns   []string
	StackPolicyBody    string
	ClientRequestToken string // correlation handle echoed back on every stack event
}

type DeployResult struct {
	StackName string `json:"stack_name"`
	StackID   string `json:"stack_id"`
	Operation string `json:"operation"`
}

// Deployer issues create and update calls
type Deployer struct {
	factory clients.Factory[CloudFormationAPI]
}

func NewDeployer(factory clients.Factory[CloudFormationAPI]) *Deployer {
	return &Deployer{
		factory: factory,
	}
}

// Deploy creates the stack when it does not exist and updates it otherwise
func (d *Deployer) Deploy(ctx context.Context, input DeployContext) (*DeployResult, error) {
	logger := zerolog.Ctx(ctx)

	client, err := d.factory.Create(ctx, input.RoleArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create CloudFormation client: %w", err)
	}

	if d.stackExists(ctx, client, input.StackName) {
		logger.Info().Str("stack_name", input.StackName).Msg("Updating stack")
		return d.updateStack(ctx, client, input)
	}

	logger.Info().Str("stack_name", input.StackName).Msg("Creating stack")
	return d.createStack(ctx, client, input)
}

// stackExists treats any failure of the check itself as "does not exist"
func (d *Deployer) stackExists(ctx context.Context, client CloudFormationAPI, stackName string) bool {
	result, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("stack_name", stackName).Msg("Stack existence check failed")
		return false
	}
	return len(result.Stacks) > 0
}

func (d *Deployer) createStack(ctx context.Context, client CloudFormationAPI, input DeployContext) (*DeployResult, error) {
	params := &cloudformation.CreateStackInput{
		StackName:          aws.String(input.StackName),
		TemplateBody:       aws.String(input.TemplateBody),
		Parameters:         utils.MergeParameters(input.Parameters),
		Capabilities:       capabilities(input.Capabilities),
		Tags:               tags(input.Tags),
		NotificationARNs:   input.NotificationArns,
		OnFailure:          types.OnFailureDelete,
		ClientRequestToken: optional(input.ClientRequestToken),
		StackPolicyBody:    optional(input.StackPolicyBody),
	}

	result, err := client.CreateStack(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stack %s: %w", input.StackName, err)
	}

	return &DeployResult{
		StackName: input.StackName,
		StackID:   aws.ToString(result.StackId),
		Operation: OperationCreate,
	}, nil
}

func (d *Deployer) updateStack(ctx context.Context, client CloudFormationAPI, input DeployContext) (*DeployResult, error) {
	params := &cloudformation.UpdateStackInput{
		StackName:          aws.String(input.StackName),
		TemplateBody:       aws.String(input.TemplateBody),
		Parameters:         utils.MergeParameters(input.Parameters),
		Capabilities:       capabilities(input.Capabilities),
		Tags:               tags(input.Tags),
		NotificationARNs:   input.NotificationArns,
		ClientRequestToken: optional(input.ClientRequestToken),
		StackPolicyBody:    optional(input.StackPolicyBody),
	}

	result, err := client.UpdateStack(ctx, params)
	if err != nil {
		if isNoUpdates(err) {
			zerolog.Ctx(ctx).Info().Str("stack_name", input.StackName).Msg("No updates needed for stack")
			return nil, ErrNoUpdates
		}
		return nil, fmt.Errorf("failed to update stack %s: %w", input.StackName, err)
	}

	return &DeployResult{
		StackName: input.StackName,
		StackID:   aws.ToString(result.StackId),
		Operation: OperationUpdate,
	}, nil
}

// Outputs describes the stack and returns its outputs
func (d *Deployer) Outputs(ctx context.Context, roleArn, stackName string) (map[string]string, error) {
	client, err := d.factory.Create(ctx, roleArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create CloudFormation client: %w", err)
	}

	result, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(result.Stacks) == 0 {
		return nil, fmt.Errorf("%w: %s", deployerrors.ErrStackNotFound, stackName)
	}

	return utils.Outputs(result.Stacks[0].Outputs), nil
}

// Exists reports whether stackName exists. Failures other than the stack being
// absent are returned.
func (d *Deployer) Exists(ctx context.Context, roleArn, stackName string) (bool, error) {
	client, err := d.factory.Create(ctx, roleArn)
	if err != nil {
		return false, fmt.Errorf("failed to create CloudFormation client: %w", err)
	}

	result, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if isStackNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	return len(result.Stacks) > 0, nil
}

func isStackNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return strings.Contains(apiErr.ErrorMessage(), noUpdatesMessage)
	}
	return strings.Contains(err.Error(), noUpdatesMessage)
}

func capabilities(names []string) []types.Capability {
	if len(names) == 0 {
		return []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		}
	}

	results := make([]types.Capability, 0, len(names))
	for _, name := range names {
		results = append(results, types.Capability(name))
	}
	return results
}

func tags(m map[string]string) []types.Tag {
	merged := map[string]string{"ManagedBy": "stack-deployer"}
	for k, v := range m {
		merged[k] = v
	}
	return utils.Tags(merged)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
