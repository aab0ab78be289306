// Package skerr provides annotated errors that remember the call stack
// leading to them, without hiding the wrapped error from errors.Is/As.
package skerr

import (
	"errors"
	"fmt"
	"runtime"
)

// withStack wraps an error together with the file:line where it was
// annotated. Chaining several Wrap/Wrapf calls produces a chain of
// withStack errors whose Error() prints the call stack in the order the
// wraps occurred, innermost first.
type withStack struct {
	cause error
	loc   string
}

func (e *withStack) Error() string {
	return fmt.Sprintf("%s. At %s", e.cause.Error(), e.loc)
}

func (e *withStack) Unwrap() error {
	return e.cause
}

func callerLoc(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", trimPath(file), line)
}

func trimPath(file string) string {
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			return file[i+1:]
		}
	}
	return file
}

// Wrap annotates err with the caller's location. Returns nil if err is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{cause: err, loc: callerLoc(2)}
}

// Wrapf annotates err with a message and the caller's location. Returns
// nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &withStack{cause: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err), loc: callerLoc(2)}
}

// Fmt builds a new error, annotated with the caller's location, the way
// fmt.Errorf would build one.
func Fmt(format string, args ...interface{}) error {
	return &withStack{cause: fmt.Errorf(format, args...), loc: callerLoc(2)}
}

// Unwrap peels away every skerr annotation and returns the original error.
func Unwrap(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
