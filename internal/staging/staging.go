package staging

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Store holds staged chunk data in a blob bucket under a session prefix.
// Keys are private to one download session; two sessions sharing a bucket
// never see each other's chunks.
type Store struct {
	bucket     *blob.Bucket
	prefix     string
	ownsBucket bool
}

// Open opens a staging store on the bucket identified by a gocloud URL
// (for example "file:///tmp/work" or "mem://"). The bucket is closed by
// Store.Close.
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("staging: open bucket: %w", err)
	}

	s := NewStore(bucket)
	s.ownsBucket = true
	return s, nil
}

// NewStore creates a staging store on an existing bucket handle.
// The caller retains ownership of the bucket.
func NewStore(bucket *blob.Bucket) *Store {
	return &Store{
		bucket: bucket,
		prefix: "gulp-" + uuid.NewString() + "/",
	}
}

// Prefix returns the session-unique key prefix.
func (s *Store) Prefix() string {
	return s.prefix
}

// Create returns a writer for a fresh staging key. The data is committed
// when the writer is closed; closing a writer whose context was cancelled
// discards the data instead.
func (s *Store) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	w, err := s.bucket.NewWriter(ctx, s.prefix+key, nil)
	if err != nil {
		return nil, fmt.Errorf("staging: create %s: %w", key, err)
	}
	return w, nil
}

// Open returns a reader for a previously staged key.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, s.prefix+key, nil)
	if err != nil {
		return nil, fmt.Errorf("staging: open %s: %w", key, err)
	}
	return r, nil
}

// Remove deletes a staged key. Removing a key that does not exist is a
// no-op, so Remove is safe on abort paths where the chunk may never have
// been written.
func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, s.prefix+key)
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("staging: remove %s: %w", key, err)
	}
	return nil
}

// Close releases the store. The underlying bucket is closed only if the
// store opened it.
func (s *Store) Close() error {
	if s.ownsBucket {
		return s.bucket.Close()
	}
	return nil
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
