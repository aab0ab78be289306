// Package quarantine archives files the ingest engine could not process,
// under a shared unrecoverable/ prefix, for both unparseable firehose
// input lines and existing partitions whose rows fail validation.
package quarantine

import (
	"context"
	"time"

	"github.com/improve-ai/tracker/go/now"
	"github.com/improve-ai/tracker/go/objectstore"
	"github.com/improve-ai/tracker/go/skerr"
	"github.com/improve-ai/tracker/go/sklog"
)

// Prefix is prepended to the original key to form the archived key.
const Prefix = "unrecoverable/"

// Key returns the archived key for originalKey.
func Key(originalKey string) string {
	return Prefix + originalKey
}

// Archive writes contents under the quarantine key derived from
// originalKey and returns that key.
func Archive(ctx context.Context, store objectstore.Client, originalKey string, contents []byte) (string, error) {
	key := Key(originalKey)
	if err := store.Write(ctx, key, contents); err != nil {
		return "", skerr.Wrapf(err, "quarantine: archiving %q", originalKey)
	}
	sklog.Infof("quarantine: archived %q as %q at %s", originalKey, key, now.Now(ctx).UTC().Format(time.RFC3339))
	return key, nil
}
