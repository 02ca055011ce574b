package deploymentdao

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/ddb/v2/ddbtest"
	"github.com/savaki/stack-deployer/internal/errors"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
)

type Data struct {
	DAO *DAO
}

// localEndpoint returns the DynamoDB Local endpoint, skipping the test in
// short mode or when nothing is listening there.
// Set DYNAMODB_ENDPOINT to override http://localhost:8000.
func localEndpoint(t *testing.T) string {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:8000"
	}
	if !reachable(endpoint) {
		t.Skipf("Skipping integration test, no DynamoDB at %v", endpoint)
	}
	return endpoint
}

func reachable(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return false
	}
	conn, err := net.DialTimeout("tcp", u.Host, 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func setup(t *testing.T) (ctx context.Context, data Data, cleanup func()) {
	endpoint := localEndpoint(t)
	ctx = context.Background()

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion("us-west-2"),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("blah", "blah", ""),
		),
	)
	assert.NoError(t, err)

	var (
		client    = dynamodb.NewFromConfig(cfg)
		db        = ddb.New(client)
		tableName = fmt.Sprintf("deployments-test-%v", ksuid.New().String())
		table     = db.MustTable(tableName, Record{})
		dao       = New(client, tableName)
	)

	err = table.CreateTableIfNotExists(ctx)
	assert.NoError(t, err)

	return ctx, Data{DAO: dao}, func() {
		_ = table.DeleteTableIfExists(ctx)
	}
}

func TestReachable(t *testing.T) {
	server := httptest.NewServer(nil)
	assert.True(t, reachable(server.URL))

	server.Close()
	assert.False(t, reachable(server.URL))
	assert.False(t, reachable("not a url"))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		id        ID
		stackName string
		hash      string
		wantErr   bool
	}{
		{id: NewID("foo", "abc"), stackName: "foo", hash: "abc"},
		{id: NewID("my-stack", "0123"), stackName: "my-stack", hash: "0123"},
		{id: "foo", wantErr: true},
		{id: ":abc", wantErr: true},
		{id: "foo:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			stackName, hash, err := ParseID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.stackName, stackName)
			assert.Equal(t, tt.hash, hash)
		})
	}
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "stack-deployer-dev-deployments", TableName("dev"))
}

func TestDAO(t *testing.T) {
	ddbtest.WithTable[Data](t, setup, func(t *testing.T, ctx context.Context, data Data) {
		dao := data.DAO

		t.Run("Create", func(t *testing.T) {
			hash := ksuid.New().String()

			created, err := dao.Create(ctx, CreateInput{
				StackName:        "foo",
				Hash:             hash,
				Handle:           "artifacts-" + hash,
				Environment:      "dev",
				ZipLocation:      "s3://artifacts/foo.zip",
				GithubOwner:      "savaki",
				GithubRepository: "foo",
				GithubRef:        "abc123",
			})
			assert.NoError(t, err)

			record, err := dao.Find(ctx, created.GetID())
			assert.NoError(t, err)
			assert.Equal(t, "foo", record.PK.String())
			assert.Equal(t, hash, record.SK.String())
			assert.Equal(t, "artifacts-"+hash, record.Handle)
			assert.Equal(t, "abc123", record.GithubRef)
			assert.Equal(t, StatusInProgress, record.Status)
			assert.NotZero(t, record.CreatedAt)
			assert.Zero(t, record.FinishedAt)
		})

		t.Run("Find_NotFound", func(t *testing.T) {
			_, err := dao.Find(ctx, NewID("non-existent", "abc"))
			assert.True(t, stderrors.Is(err, errors.ErrRecordNotFound))
		})

		t.Run("UpdateStatus_Success", func(t *testing.T) {
			hash := ksuid.New().String()
			created, err := dao.Create(ctx, CreateInput{StackName: "bar", Hash: hash})
			assert.NoError(t, err)

			err = dao.UpdateStatus(ctx, UpdateInput{
				StackName:   "bar",
				Hash:        hash,
				Status:      StatusSuccess,
				StackID:     "arn:aws:cloudformation:us-east-1:123456789012:stack/bar/1",
				StackStatus: "CREATE_COMPLETE",
			})
			assert.NoError(t, err)

			record, err := dao.Find(ctx, created.GetID())
			assert.NoError(t, err)
			assert.Equal(t, StatusSuccess, record.Status)
			assert.Equal(t, "CREATE_COMPLETE", record.StackStatus)
			assert.NotZero(t, record.FinishedAt)
		})

		t.Run("UpdateStatus_Failed", func(t *testing.T) {
			hash := ksuid.New().String()
			created, err := dao.Create(ctx, CreateInput{StackName: "baz", Hash: hash})
			assert.NoError(t, err)

			err = dao.UpdateStatus(ctx, UpdateInput{
				StackName:   "baz",
				Hash:        hash,
				Status:      StatusFailed,
				StackStatus: "UPDATE_ROLLBACK_COMPLETE",
				ErrorMsg:    "UPDATE_ROLLBACK_COMPLETE",
			})
			assert.NoError(t, err)

			record, err := dao.Find(ctx, created.GetID())
			assert.NoError(t, err)
			assert.Equal(t, StatusFailed, record.Status)
			assert.Equal(t, "UPDATE_ROLLBACK_COMPLETE", record.ErrorMsg)
			assert.NotZero(t, record.FinishedAt)
		})

		t.Run("Query", func(t *testing.T) {
			stackName := "query-" + ksuid.New().String()
			for i := 0; i < 3; i++ {
				_, err := dao.Create(ctx, CreateInput{StackName: stackName, Hash: ksuid.New().String()})
				assert.NoError(t, err)
			}

			records, err := dao.Query(ctx, stackName)
			assert.NoError(t, err)
			assert.Len(t, records, 3)
		})

		t.Run("Delete", func(t *testing.T) {
			hash := ksuid.New().String()
			created, err := dao.Create(ctx, CreateInput{StackName: "qux", Hash: hash})
			assert.NoError(t, err)

			err = dao.Delete(ctx, created.GetID())
			assert.NoError(t, err)

			_, err = dao.Find(ctx, created.GetID())
			assert.True(t, stderrors.Is(err, errors.ErrRecordNotFound))
		})
	})
}
