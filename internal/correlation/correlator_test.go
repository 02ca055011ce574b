package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	deployerrors "github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/objectstore"
	"github.com/savaki/stack-deployer/internal/objectstore/objectstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func TestHash(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Hash("abc"))

	assert.Equal(t, Hash("token-1"), Hash("token-1"))
	assert.NotEqual(t, Hash("token-1"), Hash("token-2"))

	for i := 0; i < 100; i++ {
		h := Hash(fmt.Sprintf("token-%d", i))
		assert.Len(t, h, 64)
		assert.NotContains(t, h, "-")
		assert.Equal(t, strings.ToLower(h), h)
	}
}

func TestHandleRoundTrip(t *testing.T) {
	buckets := []string{"artifacts", "my-artifact-bucket", "a-b-c-d", "bucket.with.dots", "x"}
	tokens := []string{"", "token", "AAAA-BBBB-CCCC", "eyJ0b2tlbiI6InZhbHVlIn0="}

	for _, bucket := range buckets {
		for _, token := range tokens {
			want := Handle{Bucket: bucket, Hash: Hash(token)}

			got, err := ParseHandle(want.String())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	}
}

func TestParseHandle_Malformed(t *testing.T) {
	tests := []string{
		"",
		"no-hyphen-hash",
		"-" + Hash("x"),
		"bucket-" + strings.ToUpper(Hash("x")),
		"bucket-" + Hash("x")[:63],
		"bucket-" + Hash("x") + "0",
		"bucket" + Hash("x"),
	}

	for _, handle := range tests {
		t.Run(handle, func(t *testing.T) {
			_, err := ParseHandle(handle)
			assert.True(t, errors.Is(err, deployerrors.ErrMalformedHandle), "got %v", err)
		})
	}
}

func testRequest(token string) models.DeploymentRequest {
	return models.DeploymentRequest{
		ZipLocation:      "s3://my-artifacts/builds/app.zip",
		TemplateFileName: "template.yml",
		StackName:        "foo",
		RoleArn:          "arn:aws:iam::123456789012:role/deployer",
		Token:            token,
		EnvironmentName:  "dev",
		CommitInfo: models.CommitInfo{
			GithubOwner:      "savaki",
			GithubRepository: "app",
			GithubRef:        "abc123",
		},
	}
}

func testMessage() events.SQSMessage {
	return events.SQSMessage{
		MessageId:      "message-1",
		ReceiptHandle:  "receipt-1",
		EventSourceARN: "arn:aws:sqs:us-east-1:123456789012:deployments",
	}
}

func TestGenerate(t *testing.T) {
	ctx := testContext()
	fake := objectstoretest.New()
	correlator := New(objectstore.New(fake))

	handle, err := correlator.Generate(ctx, testMessage(), testRequest("task-token-1"))
	require.NoError(t, err)

	hash := Hash("task-token-1")
	assert.Equal(t, "my-artifacts-"+hash, handle)

	body, ok := fake.Object("my-artifacts", "tokens/"+hash)
	require.True(t, ok, "record should be stored in the artifact bucket")

	var record models.TokenInfo
	require.NoError(t, json.Unmarshal(body, &record))
	assert.Equal(t, models.TokenInfo{
		TaskToken:        "task-token-1",
		QueueUrl:         "https://sqs.us-east-1.amazonaws.com/123456789012/deployments",
		ReceiptHandle:    "receipt-1",
		RoleArn:          "arn:aws:iam::123456789012:role/deployer",
		GithubOwner:      "savaki",
		GithubRepository: "app",
		GithubRef:        "abc123",
		EnvironmentName:  "dev",
	}, record)

	// same token, same handle
	again, err := correlator.Generate(ctx, testMessage(), testRequest("task-token-1"))
	require.NoError(t, err)
	assert.Equal(t, handle, again)

	other, err := correlator.Generate(ctx, testMessage(), testRequest("task-token-2"))
	require.NoError(t, err)
	assert.NotEqual(t, handle, other)
}

func TestGenerate_StorageFailure(t *testing.T) {
	fake := objectstoretest.New()
	fake.PutErr = errors.New("AccessDenied")

	_, err := New(objectstore.New(fake)).Generate(testContext(), testMessage(), testRequest("task-token"))
	assert.Error(t, err)
}

func TestGenerate_InvalidInput(t *testing.T) {
	correlator := New(objectstore.New(objectstoretest.New()))

	request := testRequest("task-token")
	request.ZipLocation = "not-a-location"
	_, err := correlator.Generate(testContext(), testMessage(), request)
	assert.True(t, errors.Is(err, deployerrors.ErrInvalidLocation))

	message := testMessage()
	message.EventSourceARN = ""
	_, err = correlator.Generate(testContext(), message, testRequest("task-token"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	ctx := testContext()
	correlator := New(objectstore.New(objectstoretest.New()))

	handle, err := correlator.Generate(ctx, testMessage(), testRequest("task-token-1"))
	require.NoError(t, err)

	record, err := correlator.Resolve(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "task-token-1", record.TaskToken)
	assert.Equal(t, "receipt-1", record.ReceiptHandle)
	assert.Equal(t, models.CommitInfo{GithubOwner: "savaki", GithubRepository: "app", GithubRef: "abc123"}, record.CommitInfo())

	_, err = correlator.Resolve(ctx, Handle{Bucket: "my-artifacts", Hash: Hash("unknown")}.String())
	assert.True(t, errors.Is(err, deployerrors.ErrCorrelationNotFound))

	_, err = correlator.Resolve(ctx, "garbage")
	assert.True(t, errors.Is(err, deployerrors.ErrMalformedHandle))
}
