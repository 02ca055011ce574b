// Package location parses the object and queue identifiers that travel through
// deployment messages.
package location

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/savaki/stack-deployer/internal/errors"
)

// Object identifies a single object in a bucket
type Object struct {
	Bucket string
	Key    string
}

// String returns the s3:// form of the object
func (o Object) String() string {
	return fmt.Sprintf("s3://%s/%s", o.Bucket, o.Key)
}

// Parse accepts either s3://bucket/key or arn:aws:s3:::bucket/key
func Parse(s string) (Object, error) {
	switch {
	case strings.HasPrefix(s, "s3://"):
		return split(s, strings.TrimPrefix(s, "s3://"))

	case arn.IsARN(s):
		a, err := arn.Parse(s)
		if err != nil {
			return Object{}, fmt.Errorf("%w: %s: %w", errors.ErrInvalidLocation, s, err)
		}
		if a.Service != "s3" {
			return Object{}, fmt.Errorf("%w: %s: expected s3 arn, got %s", errors.ErrInvalidLocation, s, a.Service)
		}
		return split(s, a.Resource)

	default:
		return Object{}, fmt.Errorf("%w: %s: expected s3:// uri or s3 arn", errors.ErrInvalidLocation, s)
	}
}

func split(original, path string) (Object, error) {
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return Object{}, fmt.Errorf("%w: %s: expected {bucket}/{key}", errors.ErrInvalidLocation, original)
	}
	return Object{Bucket: bucket, Key: key}, nil
}

// QueueURL converts an SQS queue arn, as found in the eventSourceARN of an SQS
// record, into the queue url the SQS API expects.
func QueueURL(queueArn string) (string, error) {
	a, err := arn.Parse(queueArn)
	if err != nil {
		return "", fmt.Errorf("invalid queue arn %s: %w", queueArn, err)
	}
	if a.Service != "sqs" || a.Region == "" || a.AccountID == "" || a.Resource == "" {
		return "", fmt.Errorf("invalid queue arn %s: expected arn:{partition}:sqs:{region}:{account}:{name}", queueArn)
	}

	domain := "amazonaws.com"
	if a.Partition == "aws-cn" {
		domain = "amazonaws.com.cn"
	}

	return fmt.Sprintf("https://sqs.%s.%s/%s/%s", a.Region, domain, a.AccountID, a.Resource), nil
}
