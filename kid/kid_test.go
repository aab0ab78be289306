package kid

import (
	"testing"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidKsuid(t *testing.T) {
	k := ksuid.New()
	id, err := Parse(k.String())
	require.NoError(t, err)
	require.Equal(t, k.String(), id.String())
}

func TestParse_InvalidString_ReturnsError(t *testing.T) {
	_, err := Parse("not-a-ksuid")
	require.Error(t, err)
}

func TestValid(t *testing.T) {
	require.True(t, Valid(ksuid.New().String()))
	require.False(t, Valid("nope"))
}

func TestTimestamp_RoundTripsWithinSecond(t *testing.T) {
	k := ksuid.New()
	id, err := Parse(k.String())
	require.NoError(t, err)
	require.WithinDuration(t, k.Time(), id.Timestamp(), 0)
}

func TestLess_TracksLexicographicOrder(t *testing.T) {
	a := ID("0ujsswThIGTUYm2K8FjOOfXtY1K")
	b := ID("0ujsswThIGTUYm2K8FjOOfXtY1L")
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}
