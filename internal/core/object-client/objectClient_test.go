package objectclient

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/studykb/internal/core"
)

func TestParseStorageURL(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		bucket string
		key    string
	}{
		{"virtual hosted", "https://studykb-docs.s3.us-east-2.amazonaws.com/owner/doc.pdf", "studykb-docs", "owner/doc.pdf"},
		{"s3 scheme", "s3://bucket/a/b.docx", "bucket", "a/b.docx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, k, err := ParseStorageURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, b)
			assert.Equal(t, tt.key, k)
		})
	}

	_, _, err := ParseStorageURL("ftp://x/y")
	assert.Error(t, err)
	_, _, err = ParseStorageURL("s3://bucket/")
	assert.Error(t, err)
}

func TestObjectURLRoundTrip(t *testing.T) {
	u := ObjectURL("docs", "eu-west-1", "k/v.pdf")
	b, k, err := ParseStorageURL(u)
	require.NoError(t, err)
	assert.Equal(t, "docs", b)
	assert.Equal(t, "k/v.pdf", k)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	u, err := m.UploadFile(ctx, "b", "k.pdf", []byte("data"), "application/pdf")
	require.NoError(t, err)
	b, k, err := ParseStorageURL(u)
	require.NoError(t, err)

	got, err := m.GetFile(ctx, b, k)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	rc, err := m.GetObjectReader(ctx, b, k)
	require.NoError(t, err)
	streamed, _ := io.ReadAll(rc)
	assert.Equal(t, "data", string(streamed))

	require.NoError(t, m.DeleteFile(ctx, b, k))
	_, err = m.GetFile(ctx, b, k)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, core.CategoryStorage, core.ErrorCategory(err))
}
