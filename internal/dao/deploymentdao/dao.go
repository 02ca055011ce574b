package deploymentdao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/savaki/stack-deployer/internal/errors"
)

// TableName returns the default journal table for env
func TableName(env string) string {
	return fmt.Sprintf("stack-deployer-%s-deployments", env)
}

// PK represents the partition key: {StackName}
type PK string

// String returns the string representation
func (pk PK) String() string {
	return string(pk)
}

// SK represents the sort key: the correlation hash of the task token
type SK string

// String returns the string representation
func (sk SK) String() string {
	return string(sk)
}

// ID represents a deployment ID in format {stackName}:{hash}
type ID string

// NewID creates an ID from a stack name and correlation hash
func NewID(stackName, hash string) ID {
	return ID(fmt.Sprintf("%s:%s", stackName, hash))
}

// ParseID parses an ID into stack name and hash components
func ParseID(id ID) (stackName, hash string, err error) {
	s := string(id)
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("invalid ID format: %s, expected {stackName}:{hash}", s)
	}
	return s[:i], s[i+1:], nil
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// DeploymentStatus represents the status of a deployment
type DeploymentStatus string

const (
	StatusInProgress DeploymentStatus = "IN_PROGRESS"
	StatusSuccess    DeploymentStatus = "SUCCESS"
	StatusFailed     DeploymentStatus = "FAILED"
)

// Record is a single deployment attempt of a stack
type Record struct {
	PK               PK               `ddb:"hash" dynamodbav:"pk"`               // {StackName}
	SK               SK               `ddb:"range" dynamodbav:"sk"`              // sha256 of the task token
	Environment      string           `dynamodbav:"environment,omitempty"`       // environment name
	Handle           string           `dynamodbav:"handle"`                      // correlation handle
	ZipLocation      string           `dynamodbav:"zip_location"`                // artifact location
	GithubOwner      string           `dynamodbav:"github_owner,omitempty"`      // commit provenance
	GithubRepository string           `dynamodbav:"github_repository,omitempty"` // commit provenance
	GithubRef        string           `dynamodbav:"github_ref,omitempty"`        // commit provenance
	Status           DeploymentStatus `dynamodbav:"status"`                      // IN_PROGRESS|SUCCESS|FAILED
	StackID          string           `dynamodbav:"stack_id,omitempty"`          // CloudFormation stack ID
	StackStatus      string           `dynamodbav:"stack_status,omitempty"`      // terminal CloudFormation status
	ErrorMsg         string           `dynamodbav:"error_msg,omitempty"`         // failure cause
	CreatedAt        int64            `dynamodbav:"created_at"`                  // Unix timestamp
	UpdatedAt        int64            `dynamodbav:"updated_at"`                  // Unix timestamp
	FinishedAt       int64            `dynamodbav:"finished_at,omitempty"`       // Unix timestamp
}

// GetID returns the ID for this record
func (r *Record) GetID() ID {
	return NewID(r.PK.String(), r.SK.String())
}

// CreateInput contains fields for creating a deployment record
type CreateInput struct {
	StackName        string
	Hash             string
	Handle           string
	Environment      string
	ZipLocation      string
	GithubOwner      string
	GithubRepository string
	GithubRef        string
}

// DAO provides data access operations for the deployment journal
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Create records a deployment attempt with IN_PROGRESS status. A redelivered
// request overwrites the previous attempt for the same token.
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	now := time.Now().Unix()

	record := Record{
		PK:               PK(input.StackName),
		SK:               SK(input.Hash),
		Environment:      input.Environment,
		Handle:           input.Handle,
		ZipLocation:      input.ZipLocation,
		GithubOwner:      input.GithubOwner,
		GithubRepository: input.GithubRepository,
		GithubRef:        input.GithubRef,
		Status:           StatusInProgress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := d.table.Put(&record).RunWithContext(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create deployment record: %w", err)
	}

	return record, nil
}

// Find returns the record for id, or errors.ErrRecordNotFound
func (d *DAO) Find(ctx context.Context, id ID) (Record, error) {
	stackName, hash, err := ParseID(id)
	if err != nil {
		return Record{}, err
	}

	var record Record
	err = d.table.Get(stackName).
		Range(hash).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return Record{}, fmt.Errorf("%w: %s", errors.ErrRecordNotFound, id)
		}
		return Record{}, fmt.Errorf("failed to get deployment: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("%w: %s", errors.ErrRecordNotFound, id)
	}

	return record, nil
}

// UpdateInput contains fields for updating a deployment record
type UpdateInput struct {
	StackName   string
	Hash        string
	Status      DeploymentStatus
	StackID     string
	StackStatus string
	ErrorMsg    string
}

// UpdateStatus moves a deployment record to a new status
func (d *DAO) UpdateStatus(ctx context.Context, input UpdateInput) error {
	now := time.Now().Unix()

	update := d.table.Update(input.StackName).
		Range(input.Hash).
		Set("#Status = ?", string(input.Status)).
		Set("#UpdatedAt = ?", now)

	if input.StackID != "" {
		update = update.Set("#StackID = ?", input.StackID)
	}

	if input.StackStatus != "" {
		update = update.Set("#StackStatus = ?", input.StackStatus)
	}

	if input.ErrorMsg != "" {
		update = update.Set("#ErrorMsg = ?", input.ErrorMsg)
	}

	// Set finished_at for terminal states
	if input.Status == StatusSuccess || input.Status == StatusFailed {
		update = update.Set("#FinishedAt = ?", now)
	}

	err := update.RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update deployment status: %w", err)
	}

	return nil
}

// Query returns every recorded deployment of a stack
func (d *DAO) Query(ctx context.Context, stackName string) ([]Record, error) {
	var records []Record

	err := d.table.Query("#PK = ?", stackName).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}

	return records, nil
}

// Delete removes a deployment record
func (d *DAO) Delete(ctx context.Context, id ID) error {
	stackName, hash, err := ParseID(id)
	if err != nil {
		return err
	}

	err = d.table.Delete(stackName).
		Range(hash).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	return nil
}
