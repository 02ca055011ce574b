package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/clients"
	"github.com/savaki/stack-deployer/internal/correlation"
	"github.com/savaki/stack-deployer/internal/dao/deploymentdao"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/notify"
	"github.com/savaki/stack-deployer/internal/objectstore"
	"github.com/savaki/stack-deployer/internal/objectstore/objectstoretest"
	"github.com/savaki/stack-deployer/internal/stack"
	"github.com/stretchr/testify/require"
)

const (
	artifactBucket = "my-artifacts"
	artifactKey    = "builds/foo.zip"
	queueArn       = "arn:aws:sqs:us-east-1:123456789012:deployments"
	queueURL       = "https://sqs.us-east-1.amazonaws.com/123456789012/deployments"
	topicArn       = "arn:aws:sns:us-east-1:123456789012:stack-events"
)

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

// mockCloudFormation implements stack.CloudFormationAPI
type mockCloudFormation struct {
	describeStacks func(ctx context.Context, params *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error)
	createStack    func(ctx context.Context, params *cloudformation.CreateStackInput) (*cloudformation.CreateStackOutput, error)
	updateStack    func(ctx context.Context, params *cloudformation.UpdateStackInput) (*cloudformation.UpdateStackOutput, error)
}

func (m *mockCloudFormation) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	return m.describeStacks(ctx, params)
}

func (m *mockCloudFormation) CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	return m.createStack(ctx, params)
}

func (m *mockCloudFormation) UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	return m.updateStack(ctx, params)
}

func newDeployer(cfn *mockCloudFormation) *stack.Deployer {
	return stack.NewDeployer(clients.Static[stack.CloudFormationAPI]{Client: cfn})
}

// mockDeployer implements StackDeployer
type mockDeployer struct {
	deploy  func(ctx context.Context, input stack.DeployContext) (*stack.DeployResult, error)
	outputs func(ctx context.Context, roleArn, stackName string) (map[string]string, error)

	deployed []stack.DeployContext
}

func (m *mockDeployer) Deploy(ctx context.Context, input stack.DeployContext) (*stack.DeployResult, error) {
	m.deployed = append(m.deployed, input)
	return m.deploy(ctx, input)
}

func (m *mockDeployer) Outputs(ctx context.Context, roleArn, stackName string) (map[string]string, error) {
	return m.outputs(ctx, roleArn, stackName)
}

type success struct {
	Token  string
	Output any
}

type failure struct {
	Token   string
	ErrCode string
	Cause   string
}

// recordingWorkflow implements Workflow
type recordingWorkflow struct {
	mu        sync.Mutex
	err       error
	successes []success
	failures  []failure
}

func (r *recordingWorkflow) SendSuccess(_ context.Context, token string, output any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, success{Token: token, Output: output})
	return r.err
}

func (r *recordingWorkflow) SendFailure(_ context.Context, token, errCode, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure{Token: token, ErrCode: errCode, Cause: cause})
	return r.err
}

func (r *recordingWorkflow) signals() int {
	return len(r.successes) + len(r.failures)
}

// recordingQueue implements SQSAPI
type recordingQueue struct {
	err     error
	deleted []*sqs.DeleteMessageInput
}

func (r *recordingQueue) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	r.deleted = append(r.deleted, params)
	if r.err != nil {
		return nil, r.err
	}
	return &sqs.DeleteMessageOutput{}, nil
}

// recordingNotifier implements notify.Notifier
type recordingNotifier struct {
	statuses []notify.Status
}

func (r *recordingNotifier) Notify(_ context.Context, status notify.Status) error {
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *recordingNotifier) states() []notify.State {
	var states []notify.State
	for _, status := range r.statuses {
		states = append(states, status.State)
	}
	return states
}

// memoryJournal implements Journal
type memoryJournal struct {
	records map[deploymentdao.ID]deploymentdao.Record
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{records: map[deploymentdao.ID]deploymentdao.Record{}}
}

func (m *memoryJournal) Create(_ context.Context, input deploymentdao.CreateInput) (deploymentdao.Record, error) {
	record := deploymentdao.Record{
		PK:          deploymentdao.PK(input.StackName),
		SK:          deploymentdao.SK(input.Hash),
		Handle:      input.Handle,
		Environment: input.Environment,
		ZipLocation: input.ZipLocation,
		Status:      deploymentdao.StatusInProgress,
	}
	m.records[record.GetID()] = record
	return record, nil
}

func (m *memoryJournal) UpdateStatus(_ context.Context, input deploymentdao.UpdateInput) error {
	id := deploymentdao.NewID(input.StackName, input.Hash)
	record := m.records[id]
	record.Status = input.Status
	if input.StackID != "" {
		record.StackID = input.StackID
	}
	if input.StackStatus != "" {
		record.StackStatus = input.StackStatus
	}
	if input.ErrorMsg != "" {
		record.ErrorMsg = input.ErrorMsg
	}
	m.records[id] = record
	return nil
}

func (m *memoryJournal) find(stackName, token string) deploymentdao.Record {
	return m.records[deploymentdao.NewID(stackName, correlation.Hash(token))]
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

const template = `AWSTemplateFormatVersion: "2010-09-09"
Parameters:
  Env:
    Type: String
  Version:
    Type: String
Resources: {}
Outputs:
  Endpoint:
    Value: https://example.com
`

const templateConfiguration = `{
  "Parameters": {"Env": "dev", "Version": "1.0.0"},
  "Tags": {"Team": "platform"},
  "StackPolicy": {"Statement": [{"Effect": "Allow", "Action": "Update:*", "Principal": "*", "Resource": "*"}]}
}`

func putArtifact(t *testing.T, fake *objectstoretest.S3) {
	fake.Set(artifactBucket, artifactKey, zipArchive(t, map[string]string{
		"template.yml": template,
		"config.json":  templateConfiguration,
	}))
}

func deploymentRequest(token string) models.DeploymentRequest {
	return models.DeploymentRequest{
		ZipLocation:                   "s3://" + artifactBucket + "/" + artifactKey,
		TemplateFileName:              "template.yml",
		TemplateConfigurationFileName: "config.json",
		StackName:                     "foo",
		RoleArn:                       "arn:aws:iam::123456789012:role/deployer",
		Token:                         token,
		ParameterOverrides:            map[string]string{"Version": "2.0.0", "Undeclared": "x"},
		EnvironmentName:               "dev",
		CommitInfo: models.CommitInfo{
			GithubOwner:      "savaki",
			GithubRepository: "foo",
			GithubRef:        "abc123",
		},
	}
}

func sqsMessage(t *testing.T, id string, body any) events.SQSMessage {
	data, err := json.Marshal(body)
	require.NoError(t, err)

	return events.SQSMessage{
		MessageId:      id,
		ReceiptHandle:  "receipt-" + id,
		Body:           string(data),
		EventSourceARN: queueArn,
	}
}

func newObjects() (*objectstore.Store, *objectstoretest.S3) {
	fake := objectstoretest.New()
	return objectstore.New(fake), fake
}
