// Package correlation ties an in-flight stack operation back to the workflow
// task waiting on it.
//
// Each deployment stores a TokenInfo record at tokens/{sha256(taskToken)} in
// the artifact bucket and passes the handle "{bucket}-{sha256(taskToken)}" to
// CloudFormation as the ClientRequestToken. CloudFormation echoes the handle on
// every stack event, which lets the status handler find the record again.
package correlation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/location"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/objectstore"
)

const (
	tokensPrefix = "tokens/"
	hashLength   = sha256.Size * 2
)

// Hash returns the lowercase hex sha256 of a task token
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Key returns the object key of the record for hash
func Key(hash string) string {
	return tokensPrefix + hash
}

// Handle is a parsed correlation handle
type Handle struct {
	Bucket string
	Hash   string
}

// String formats the handle as {bucket}-{hash}
func (h Handle) String() string {
	return FormatHandle(h.Bucket, h.Hash)
}

func FormatHandle(bucket, hash string) string {
	return bucket + "-" + hash
}

// ParseHandle splits a handle on its last hyphen. Bucket names may contain
// hyphens; the hash never does.
func ParseHandle(s string) (Handle, error) {
	i := strings.LastIndex(s, "-")
	if i <= 0 {
		return Handle{}, fmt.Errorf("%w: %q", errors.ErrMalformedHandle, s)
	}

	h := Handle{Bucket: s[:i], Hash: s[i+1:]}
	if !isHash(h.Hash) {
		return Handle{}, fmt.Errorf("%w: %q: expected %d lowercase hex characters after the last hyphen", errors.ErrMalformedHandle, s, hashLength)
	}
	return h, nil
}

func isHash(s string) bool {
	if len(s) != hashLength {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// Correlator writes and resolves correlation records
type Correlator struct {
	store *objectstore.Store
}

func New(store *objectstore.Store) *Correlator {
	return &Correlator{
		store: store,
	}
}

// Generate stores the correlation record for request in the bucket holding its
// artifact and returns the handle to pass to CloudFormation. It must complete
// before the stack is created or updated.
func (c *Correlator) Generate(ctx context.Context, message events.SQSMessage, request models.DeploymentRequest) (string, error) {
	artifact, err := location.Parse(request.ZipLocation)
	if err != nil {
		return "", err
	}

	queueURL, err := location.QueueURL(message.EventSourceARN)
	if err != nil {
		return "", fmt.Errorf("failed to resolve source queue: %w", err)
	}

	hash := Hash(request.Token)
	record := models.TokenInfo{
		TaskToken:        request.Token,
		QueueUrl:         queueURL,
		ReceiptHandle:    message.ReceiptHandle,
		RoleArn:          request.RoleArn,
		GithubOwner:      request.CommitInfo.GithubOwner,
		GithubRepository: request.CommitInfo.GithubRepository,
		GithubRef:        request.CommitInfo.GithubRef,
		EnvironmentName:  request.EnvironmentName,
	}

	if err := c.store.PutJSON(ctx, artifact.Bucket, Key(hash), record); err != nil {
		return "", fmt.Errorf("failed to store correlation record: %w", err)
	}

	handle := Handle{Bucket: artifact.Bucket, Hash: hash}.String()

	zerolog.Ctx(ctx).Info().
		Str("bucket", artifact.Bucket).
		Str("key", Key(hash)).
		Str("handle", handle).
		Msg("Stored correlation record")

	return handle, nil
}

// Resolve returns the record referenced by handle
func (c *Correlator) Resolve(ctx context.Context, handle string) (*models.TokenInfo, error) {
	h, err := ParseHandle(handle)
	if err != nil {
		return nil, err
	}

	var record models.TokenInfo
	if _, err := c.store.GetJSON(ctx, h.Bucket, Key(h.Hash), &record); err != nil {
		if stderrors.Is(err, errors.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", errors.ErrCorrelationNotFound, handle)
		}
		return nil, fmt.Errorf("failed to load correlation record %s: %w", handle, err)
	}

	return &record, nil
}
