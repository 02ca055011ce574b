package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/savaki/stack-deployer/internal/clients"
	"github.com/savaki/stack-deployer/internal/objectstore"
	"github.com/savaki/stack-deployer/internal/services"
	"github.com/savaki/stack-deployer/internal/stack"
	"github.com/savaki/stack-deployer/internal/state"
	"github.com/savaki/stack-deployer/internal/workflow"
)

func ProvideAWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx)
}

func ProvideS3Client(config aws.Config) *s3.Client {
	return s3.NewFromConfig(config)
}

func ProvideObjectStore(client *s3.Client) *objectstore.Store {
	return objectstore.New(client)
}

func ProvideStateStore(objects *objectstore.Store, config *services.Config) (*state.Store, error) {
	store, err := state.New(objects, config.StateBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}
	return store, nil
}

// ProvideStackDeployer builds a deployer whose CloudFormation clients assume
// the role named by each request
func ProvideStackDeployer(config aws.Config) *stack.Deployer {
	factory := clients.New(config, sts.NewFromConfig(config), func(cfg aws.Config) stack.CloudFormationAPI {
		return cloudformation.NewFromConfig(cfg)
	})
	return stack.NewDeployer(factory)
}

func ProvideStepFunctions(config aws.Config) *sfn.Client {
	return sfn.NewFromConfig(config)
}

func ProvideOrchestrator(sfnClient *sfn.Client, config *services.Config) *workflow.Orchestrator {
	return workflow.New(sfnClient, config.StateMachineArn)
}

func ProvideSQSClient(config aws.Config) *sqs.Client {
	return sqs.NewFromConfig(config)
}

func ProvideDynamoDB(config aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(config)
}
