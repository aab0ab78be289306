// Package kid wraps github.com/segmentio/ksuid to provide k-ids: opaque,
// lexicographically sortable identifiers whose leading characters encode a
// timestamp with second resolution.
package kid

import (
	"time"

	"github.com/segmentio/ksuid"

	"github.com/improve-ai/tracker/go/skerr"
)

// ID is a k-id. Its zero value is not a valid id.
type ID string

// Parse validates s as a well-formed k-id.
func Parse(s string) (ID, error) {
	if _, err := ksuid.Parse(s); err != nil {
		return "", skerr.Wrapf(err, "parsing k-id %q", s)
	}
	return ID(s), nil
}

// Valid reports whether s parses as a well-formed k-id, without allocating
// an ID.
func Valid(s string) bool {
	_, err := ksuid.Parse(s)
	return err == nil
}

// New returns a freshly minted k-id timestamped at the current time.
func New() ID {
	return ID(ksuid.New().String())
}

// Timestamp returns the time encoded in id's leading bits. Panics if id is
// not a well-formed k-id; callers are expected to have validated id via
// Parse first.
func (id ID) Timestamp() time.Time {
	k, err := ksuid.Parse(string(id))
	if err != nil {
		panic("kid: Timestamp called on invalid id " + string(id))
	}
	return k.Time()
}

func (id ID) String() string {
	return string(id)
}

// Less reports whether id sorts lexicographically, and therefore
// chronologically, before other.
func (id ID) Less(other ID) bool {
	return id < other
}
