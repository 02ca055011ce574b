package objectstore

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	deployerrors "github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/location"
	"github.com/savaki/stack-deployer/internal/objectstore/objectstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

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

func TestGet(t *testing.T) {
	ctx := testContext()
	fake := objectstoretest.New()
	store := New(fake)

	t.Run("found", func(t *testing.T) {
		fake.Set("bucket", "a/b.txt", []byte("hello"))

		obj, err := store.Get(ctx, "bucket", "a/b.txt")
		require.NoError(t, err)
		assert.Equal(t, "hello", string(obj.Body))
		assert.NotEmpty(t, obj.ETag)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Get(ctx, "bucket", "missing")
		assert.True(t, errors.Is(err, deployerrors.ErrObjectNotFound))
	})
}

func TestPutConditional(t *testing.T) {
	ctx := testContext()
	fake := objectstoretest.New()
	store := New(fake)

	err := store.PutJSON(ctx, "bucket", "doc.json", map[string]int{"v": 1}, IfNoneMatch())
	require.NoError(t, err)

	// second create must fail
	err = store.PutJSON(ctx, "bucket", "doc.json", map[string]int{"v": 2}, IfNoneMatch())
	assert.True(t, errors.Is(err, deployerrors.ErrPreconditionFailed))

	var got map[string]int
	etag, err := store.GetJSON(ctx, "bucket", "doc.json", &got)
	require.NoError(t, err)
	assert.Equal(t, 1, got["v"])

	err = store.PutJSON(ctx, "bucket", "doc.json", map[string]int{"v": 3}, IfMatch(etag))
	require.NoError(t, err)

	// stale etag
	err = store.PutJSON(ctx, "bucket", "doc.json", map[string]int{"v": 4}, IfMatch(etag))
	assert.True(t, errors.Is(err, deployerrors.ErrPreconditionFailed))

	_, err = store.GetJSON(ctx, "bucket", "doc.json", &got)
	require.NoError(t, err)
	assert.Equal(t, 3, got["v"])
}

func TestList(t *testing.T) {
	ctx := testContext()
	fake := objectstoretest.New()
	fake.Set("bucket", "tokens/a", []byte("1"))
	fake.Set("bucket", "tokens/b", []byte("2"))
	fake.Set("bucket", "other/c", []byte("3"))
	fake.Set("elsewhere", "tokens/d", []byte("4"))

	keys, err := New(fake).List(ctx, "bucket", "tokens/")
	require.NoError(t, err)
	assert.Equal(t, []string{"tokens/a", "tokens/b"}, keys)
}

func TestReadArtifactFile(t *testing.T) {
	ctx := testContext()
	fake := objectstoretest.New()
	store := New(fake)

	fake.Set("artifacts", "build/app.zip", makeZip(t, map[string]string{
		"template.yml":    "Resources: {}",
		"config/dev.json": `{"Parameters":{}}`,
	}))
	fake.Set("artifacts", "build/plain/template.yml", []byte("Plain: true"))

	tests := []struct {
		name     string
		artifact location.Object
		file     string
		want     string
		notFound bool
	}{
		{
			name:     "zip entry",
			artifact: location.Object{Bucket: "artifacts", Key: "build/app.zip"},
			file:     "template.yml",
			want:     "Resources: {}",
		},
		{
			name:     "nested zip entry",
			artifact: location.Object{Bucket: "artifacts", Key: "build/app.zip"},
			file:     "config/dev.json",
			want:     `{"Parameters":{}}`,
		},
		{
			name:     "missing zip entry",
			artifact: location.Object{Bucket: "artifacts", Key: "build/app.zip"},
			file:     "nope.yml",
			notFound: true,
		},
		{
			name:     "prefix artifact",
			artifact: location.Object{Bucket: "artifacts", Key: "build/plain"},
			file:     "template.yml",
			want:     "Plain: true",
		},
		{
			name:     "missing archive",
			artifact: location.Object{Bucket: "artifacts", Key: "build/missing.zip"},
			file:     "template.yml",
			notFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ReadArtifactFile(ctx, tt.artifact, tt.file)
			if tt.notFound {
				assert.True(t, errors.Is(err, deployerrors.ErrObjectNotFound), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
