// Package objectstore wraps the S3 calls used to read deployment artifacts and
// to persist small JSON documents such as correlation records and pipeline state.
package objectstore

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/location"
)

// S3API is the subset of the S3 client used by Store
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Object is the content of a stored object along with its entity tag
type Object struct {
	Body []byte
	ETag string
}

// PutOptions holds preconditions for Put
type PutOptions struct {
	IfMatch     string // only write if the current ETag matches
	IfNoneMatch bool   // only write if no object exists
}

// PutOption configures a single Put call
type PutOption func(*PutOptions)

// IfMatch makes the write conditional on the object still having the given ETag
func IfMatch(etag string) PutOption {
	return func(o *PutOptions) {
		o.IfMatch = etag
	}
}

// IfNoneMatch makes the write conditional on the object not existing yet
func IfNoneMatch() PutOption {
	return func(o *PutOptions) {
		o.IfNoneMatch = true
	}
}

// Store reads and writes objects
type Store struct {
	client S3API
}

// New returns a Store backed by the given client
func New(client S3API) *Store {
	return &Store{client: client}
}

// Get returns the object body and its ETag. A missing object yields
// errors.ErrObjectNotFound.
func (s *Store) Get(ctx context.Context, bucket, key string) (obj Object, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		logger.Debug().
			Int("length", len(obj.Body)).
			Interface("error", err).
			Str("bucket", bucket).
			Str("key", key).
			Dur("duration", time.Since(begin)).
			Msg("Downloaded S3 object")
	}(time.Now())

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return Object{}, fmt.Errorf("%w: s3://%s/%s", errors.ErrObjectNotFound, bucket, key)
		}
		return Object{}, fmt.Errorf("failed to get object %s from bucket %s: %w", key, bucket, err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return Object{}, fmt.Errorf("failed to read object content: %w", err)
	}

	return Object{
		Body: content,
		ETag: aws.ToString(result.ETag),
	}, nil
}

// GetJSON decodes the object at bucket/key into v and returns its ETag
func (s *Store) GetJSON(ctx context.Context, bucket, key string, v any) (string, error) {
	obj, err := s.Get(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(obj.Body, v); err != nil {
		return "", fmt.Errorf("failed to decode s3://%s/%s: %w", bucket, key, err)
	}
	return obj.ETag, nil
}

// Put writes body to bucket/key. A failed precondition yields
// errors.ErrPreconditionFailed.
func (s *Store) Put(ctx context.Context, bucket, key string, body []byte, opts ...PutOption) error {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType(key)),
	}
	if o.IfMatch != "" {
		input.IfMatch = aws.String(o.IfMatch)
	}
	if o.IfNoneMatch {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("%w: s3://%s/%s", errors.ErrPreconditionFailed, bucket, key)
		}
		return fmt.Errorf("failed to put object %s to bucket %s: %w", key, bucket, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("length", len(body)).
		Msg("Uploaded S3 object")

	return nil
}

// PutJSON encodes v as JSON and writes it to bucket/key
func (s *Store) PutJSON(ctx context.Context, bucket, key string, v any, opts ...PutOption) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode s3://%s/%s: %w", bucket, key, err)
	}
	return s.Put(ctx, bucket, key, data, opts...)
}

// List returns every key in bucket beginning with prefix
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, item := range page.Contents {
			keys = append(keys, aws.ToString(item.Key))
		}
	}

	return keys, nil
}

// ReadArtifactFile returns the named file from an artifact. Artifacts ending in
// .zip are treated as archives; anything else is treated as a key prefix.
func (s *Store) ReadArtifactFile(ctx context.Context, artifact location.Object, name string) ([]byte, error) {
	if strings.HasSuffix(strings.ToLower(artifact.Key), ".zip") {
		return s.GetZipEntry(ctx, artifact.Bucket, artifact.Key, name)
	}

	obj, err := s.Get(ctx, artifact.Bucket, path.Join(artifact.Key, name))
	if err != nil {
		return nil, err
	}
	return obj.Body, nil
}

// GetZipEntry downloads the archive at bucket/key and returns the named entry
func (s *Store) GetZipEntry(ctx context.Context, bucket, key, name string) ([]byte, error) {
	obj, err := s.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	reader, err := zip.NewReader(bytes.NewReader(obj.Body), int64(len(obj.Body)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive s3://%s/%s: %w", bucket, key, err)
	}

	want := strings.TrimPrefix(name, "/")
	for _, file := range reader.File {
		if file.Name != want {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in s3://%s/%s: %w", name, bucket, key, err)
		}
		//goland:noinspection GoUnhandledErrorResult
		defer rc.Close()

		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s in s3://%s/%s: %w", name, bucket, key, err)
		}
		return content, nil
	}

	return nil, fmt.Errorf("%w: %s in s3://%s/%s", errors.ErrObjectNotFound, name, bucket, key)
}

func contentType(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if stderrors.As(err, &noSuchKey) {
		return true
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
