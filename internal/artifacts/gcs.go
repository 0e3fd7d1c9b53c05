package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore keeps artifacts as objects in a Cloud Storage bucket.
// Object names are <base>/<prefix>/<kind>.json.
type GCSStore struct {
	client *storage.Client
	bucket string
	base   string
	owned  bool
}

// NewGCSStore creates a store with its own storage client.
// It assumes Application Default Credentials are configured.
func NewGCSStore(ctx context.Context, bucket, base string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: creating storage client: %w", err)
	}
	s := NewGCSStoreWithClient(client, bucket, base)
	s.owned = true
	return s, nil
}

// NewGCSStoreWithClient creates a store on a shared client.
func NewGCSStoreWithClient(client *storage.Client, bucket, base string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, base: base}
}

// Close releases the client if the store created it.
func (s *GCSStore) Close() error {
	if s.owned && s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *GCSStore) object(prefix string, kind Kind) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.base, prefix, string(kind)+".json"))
}

// Get implements Store.
func (s *GCSStore) Get(ctx context.Context, prefix string, kind Kind) ([]byte, error) {
	rc, err := s.object(prefix, kind).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", prefix, kind, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GCSStore.Get: opening %s/%s: %w", prefix, kind, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("GCSStore.Get: reading bytes: %w", err)
	}
	return data, nil
}

// Put implements Store. An object only becomes visible once the writer is closed.
func (s *GCSStore) Put(ctx context.Context, prefix string, kind Kind, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.object(prefix, kind).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCSStore.Put: writing %s/%s: %w", prefix, kind, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCSStore.Put: finalize upload: %w", err)
	}
	return nil
}

// Delete implements Deleter.
func (s *GCSStore) Delete(ctx context.Context, prefix string, kind Kind) error {
	err := s.object(prefix, kind).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s/%s: %w", prefix, kind, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("GCSStore.Delete: %w", err)
	}
	return nil
}

var (
	_ Store   = (*GCSStore)(nil)
	_ Deleter = (*GCSStore)(nil)
)
