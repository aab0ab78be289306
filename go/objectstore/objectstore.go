// Package objectstore defines the object-store interface the ingest
// engine depends on. The engine never imports a concrete cloud SDK;
// concrete adapters live in sibling packages (gcsstore, s3store, memstore).
package objectstore

import "context"

// Client is a bucket-scoped object store client. Keys are always listed in
// lexicographic order, which the partition key scheme in package
// partition depends on.
type Client interface {
	// List returns every key with the given prefix that sorts at or after
	// startAfter, in ascending lexicographic order. startAfter may be
	// empty, in which case every key with the prefix is returned.
	List(ctx context.Context, prefix, startAfter string) ([]string, error)

	// Read returns the full contents of key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores contents at key, creating or overwriting it.
	Write(ctx context.Context, key string, contents []byte) error

	// Delete removes key. Deleting a key that does not exist is not an
	// error.
	Delete(ctx context.Context, key string) error

	// DeleteBatch removes every key in keys. Implementations should issue
	// this as a single batch request where the backend supports one.
	DeleteBatch(ctx context.Context, keys []string) error
}
