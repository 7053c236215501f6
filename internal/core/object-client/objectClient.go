package objectclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/markdave123-py/studykb/internal/core"
)

// ObjectURL is the virtual-hosted style URL of an S3 object.
func ObjectURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// ParseStorageURL splits a stored object URL back into bucket and key.
// Both virtual-hosted URLs and s3://bucket/key are accepted.
func ParseStorageURL(u string) (bucket, key string, err error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", "", fmt.Errorf("parse storage url: %w", err)
	}
	switch parsed.Scheme {
	case "s3", "mem":
		bucket = parsed.Host
	case "https", "http":
		bucket, _, _ = strings.Cut(parsed.Host, ".")
	default:
		return "", "", fmt.Errorf("unsupported storage url %q", u)
	}
	key = strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("storage url %q has no bucket or key", u)
	}
	return bucket, key, nil
}

var _ core.ObjectClient = (*MemoryStore)(nil)

// MemoryStore is an in-memory object store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = append([]byte(nil), data...)
	return "s3://" + bucket + "/" + key, nil
}

func (m *MemoryStore) DeleteFile(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *MemoryStore) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, &core.StorageError{Key: key, Err: core.ErrNotFound}
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, err := m.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
