// Package objectstoretest provides an in-memory S3 implementation for tests.
package objectstoretest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3 is an in-memory bucket store that honors If-Match and If-None-Match
type S3 struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr, when set, is returned from every PutObject call
	PutErr error
	// BeforePut runs before each PutObject precondition check
	BeforePut func(bucket, key string)

	Puts int
	Gets int
}

// New returns an empty store
func New() *S3 {
	return &S3{objects: map[string][]byte{}}
}

func id(bucket, key string) string {
	return bucket + "/" + key
}

func etag(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// Set stores an object directly
func (f *S3) Set(bucket, key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[id(bucket, key)] = body
}

// Object returns the stored body and whether it exists
func (f *S3) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[id(bucket, key)]
	return body, ok
}

func (f *S3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gets++

	body, ok := f.objects[id(aws.ToString(params.Bucket), aws.ToString(params.Key))]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}

	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(body)),
		ETag: aws.String(etag(body)),
	}, nil
}

func (f *S3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	bucket, key := aws.ToString(params.Bucket), aws.ToString(params.Key)
	if f.BeforePut != nil {
		f.BeforePut(bucket, key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Puts++

	if f.PutErr != nil {
		return nil, f.PutErr
	}

	current, exists := f.objects[id(bucket, key)]
	if params.IfNoneMatch != nil && exists {
		return nil, preconditionFailed()
	}
	if params.IfMatch != nil && (!exists || etag(current) != aws.ToString(params.IfMatch)) {
		return nil, preconditionFailed()
	}

	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[id(bucket, key)] = body

	return &s3.PutObjectOutput{ETag: aws.String(etag(body))}, nil
}

func (f *S3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := id(aws.ToString(params.Bucket), aws.ToString(params.Prefix))
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, aws.ToString(params.Bucket)+"/"))
		}
	}
	sort.Strings(keys)

	output := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		output.Contents = append(output.Contents, types.Object{Key: aws.String(k)})
	}
	return output, nil
}

func preconditionFailed() error {
	return &smithy.GenericAPIError{
		Code:    "PreconditionFailed",
		Message: "At least one of the pre-conditions you specified did not hold",
	}
}
