// Package gcsstore adapts Google Cloud Storage to the objectstore.Client
// interface.
package gcsstore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	"github.com/improve-ai/tracker/go/objectstore"
	"github.com/improve-ai/tracker/go/skerr"
)

// Store adapts a single GCS bucket to objectstore.Client.
type Store struct {
	bucket *storage.BucketHandle
}

var _ objectstore.Client = (*Store)(nil)

// New returns a Store backed by the named bucket.
func New(client *storage.Client, bucketName string) *Store {
	return &Store{bucket: client.Bucket(bucketName)}
}

func (s *Store) List(ctx context.Context, prefix, startAfter string) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{
		Prefix:      prefix,
		StartOffset: startAfter,
	})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, skerr.Wrapf(err, "listing gs objects with prefix %q", prefix)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, skerr.Wrapf(err, "opening gs object %q for read", key)
	}
	defer r.Close()
	contents, err := io.ReadAll(r)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading gs object %q", key)
	}
	return contents, nil
}

func (s *Store) Write(ctx context.Context, key string, contents []byte) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	if _, err := w.Write(contents); err != nil {
		_ = w.Close()
		return skerr.Wrapf(err, "writing gs object %q", key)
	}
	if err := w.Close(); err != nil {
		return skerr.Wrapf(err, "closing gs object %q after write", key)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return skerr.Wrapf(err, "deleting gs object %q", key)
	}
	return nil
}

// DeleteBatch deletes every key concurrently; GCS has no native multi-key
// delete API, so the concurrency is bounded to avoid overwhelming the
// bucket under repair's occasionally-large overlap sets.
func (s *Store) DeleteBatch(ctx context.Context, keys []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return s.Delete(ctx, key)
		})
	}
	return g.Wait()
}
