// Package testutils provides small test-classification helpers in the
// style of go.skia.org/infra/go/testutils: tests declare their own size so
// a CI tier can choose to skip the expensive ones via SKIP_LARGE_TESTS.
package testutils

import (
	"os"
	"testing"
)

// SmallTest marks t as fast and hermetic. Never skipped.
func SmallTest(t *testing.T) {}

// MediumTest marks t as exercising more than one package in-process, e.g.
// an in-memory object store round trip. Skipped when SKIP_MEDIUM_TESTS is set.
func MediumTest(t *testing.T) {
	if os.Getenv("SKIP_MEDIUM_TESTS") != "" {
		t.Skip("skipping medium test: SKIP_MEDIUM_TESTS set")
	}
}

// LargeTest marks t as slow or dependent on external state. Skipped when
// SKIP_LARGE_TESTS is set.
func LargeTest(t *testing.T) {
	if os.Getenv("SKIP_LARGE_TESTS") != "" {
		t.Skip("skipping large test: SKIP_LARGE_TESTS set")
	}
}
