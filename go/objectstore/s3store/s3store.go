// Package s3store adapts Amazon S3 to the objectstore.Client interface:
// ListObjectsV2 with StartAfter, GetObject, PutObject, DeleteObject, and
// batched DeleteObjects.
package s3store

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/improve-ai/tracker/go/objectstore"
	"github.com/improve-ai/tracker/go/skerr"
)

// maxDeleteObjectsBatch is S3's limit on keys per DeleteObjects call.
const maxDeleteObjectsBatch = 1000

// Store adapts a single S3 bucket to objectstore.Client.
type Store struct {
	client *s3.S3
	bucket string
}

var _ objectstore.Client = (*Store)(nil)

// New returns a Store backed by the named bucket.
func New(client *s3.S3, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// List uses S3's StartAfter, which is exclusive: a key exactly equal to
// startAfter is not returned.
func (s *Store) List(ctx context.Context, prefix, startAfter string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "listing s3 objects with prefix %q", prefix)
	}
	return keys, nil
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "reading s3 object %q", key)
	}
	defer out.Body.Close()
	contents, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, skerr.Wrapf(err, "draining s3 object %q", key)
	}
	return contents, nil
}

func (s *Store) Write(ctx context.Context, key string, contents []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(contents),
	})
	if err != nil {
		return skerr.Wrapf(err, "writing s3 object %q", key)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return skerr.Wrapf(err, "deleting s3 object %q", key)
	}
	return nil
}

// DeleteBatch issues one (or, beyond 1000 keys, several) S3 DeleteObjects
// batch request(s).
func (s *Store) DeleteBatch(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteObjectsBatch {
		end := start + maxDeleteObjectsBatch
		if end > len(keys) {
			end = len(keys)
		}
		objects := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects},
		})
		if err != nil {
			return skerr.Wrapf(err, "batch deleting %d s3 objects", len(objects))
		}
	}
	return nil
}
