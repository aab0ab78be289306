// Package now provides a context-scoped clock so code that needs "the
// current time" can be driven by fixed values in tests without a global
// mock.
package now

import (
	"context"
	"time"
)

type contextKey string

// ContextKey is the context.Value key under which a fixed time.Time or a
// NowProvider may be stashed.
const ContextKey contextKey = "now.Provider"

// NowProvider returns the current time; install one in a context to
// override Now() for everything downstream.
type NowProvider func() time.Time

// Now returns the real wall-clock time, unless ctx carries a fixed
// time.Time or a NowProvider under ContextKey, in which case that value
// (or its invocation) is returned instead. Panics if ctx carries a value
// under ContextKey of any other type.
func Now(ctx context.Context) time.Time {
	v := ctx.Value(ContextKey)
	if v == nil {
		return time.Now()
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case NowProvider:
		return t()
	default:
		panic("now: ContextKey value is neither time.Time nor NowProvider")
	}
}

// TimeTravelingContext is a context.Context whose Now() can be changed
// after construction, for tests that need to advance time deterministically.
type TimeTravelingContext struct {
	context.Context
	t *time.Time
}

// NewTimeTravelingContext returns a new standalone time-traveling context
// rooted at context.Background(), fixed at t.
func NewTimeTravelingContext(t time.Time) *TimeTravelingContext {
	ttc := &TimeTravelingContext{t: &t}
	ttc.Context = context.WithValue(context.Background(), ContextKey, NowProvider(func() time.Time {
		return *ttc.t
	}))
	return ttc
}

// WithContext rebuilds the time-traveling context on top of parent,
// preserving the overridden Now() while inheriting parent's other values.
func (ttc *TimeTravelingContext) WithContext(parent context.Context) *TimeTravelingContext {
	next := &TimeTravelingContext{t: ttc.t}
	next.Context = context.WithValue(parent, ContextKey, NowProvider(func() time.Time {
		return *next.t
	}))
	return next
}

// SetTime changes the time this context's Now() reports.
func (ttc *TimeTravelingContext) SetTime(t time.Time) {
	*ttc.t = t
}
