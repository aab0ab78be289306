package skerr_test

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/improve-ai/tracker/go/skerr"
)

func TestWrap_NilError_ReturnsNil(t *testing.T) {
	require.NoError(t, skerr.Wrap(nil))
	require.NoError(t, skerr.Wrapf(nil, "context"))
}

func TestWrap_AnnotatesWithCallSite(t *testing.T) {
	err := skerr.Wrap(io.EOF)
	require.Contains(t, err.Error(), io.EOF.Error())
	require.Contains(t, err.Error(), "skerr_test.go")
}

func TestWrapf_PrependsMessage(t *testing.T) {
	err := skerr.Wrapf(io.EOF, "reading %s", "partition")
	require.Contains(t, err.Error(), "reading partition")
	require.Contains(t, err.Error(), io.EOF.Error())
}

func TestFmt_BehavesLikeErrorf(t *testing.T) {
	err := skerr.Fmt("dog too small; dog is %d kg", 3)
	require.Equal(t, "dog too small; dog is 3 kg", skerr.Unwrap(err).Error())
}

func TestUnwrap_ReturnsOriginalCause(t *testing.T) {
	err := skerr.Wrapf(io.EOF, "outer")
	require.Equal(t, io.EOF, skerr.Unwrap(err))
}

func TestErrorsIs_FindsWrappedCause(t *testing.T) {
	wrapped := skerr.Wrap(io.EOF)
	require.True(t, errors.Is(wrapped, io.EOF))
}

func TestErrorsAs_ExtractsWrappedCause(t *testing.T) {
	cause := &json.SyntaxError{Offset: 32}
	wrapped := skerr.Wrapf(cause, "decode JSON")

	var syntaxError *json.SyntaxError
	require.True(t, errors.As(wrapped, &syntaxError))
	require.Equal(t, int64(32), syntaxError.Offset)
}
