// Package sklog is the logging facade used throughout this module. It
// defers to a pluggable go/sklog/sklogimpl.Logger backend (stderr by
// default via go/sklog/stdlogging) so call sites never depend on a
// concrete logging library.
package sklog

import (
	"os"

	"github.com/improve-ai/tracker/go/sklog/sklogimpl"
	"github.com/improve-ai/tracker/go/sklog/stdlogging"
)

func init() {
	sklogimpl.SetLogger(stdlogging.New(os.Stderr))
}

func Debugf(format string, args ...interface{}) {
	sklogimpl.Log(2, sklogimpl.Debug, format, args...)
}

func Infof(format string, args ...interface{}) {
	sklogimpl.Log(2, sklogimpl.Info, format, args...)
}

func Warningf(format string, args ...interface{}) {
	sklogimpl.Log(2, sklogimpl.Warning, format, args...)
}

func Errorf(format string, args ...interface{}) {
	sklogimpl.Log(2, sklogimpl.Error, format, args...)
}

// Fatalf logs at Fatal severity and terminates the process.
func Fatalf(format string, args ...interface{}) {
	sklogimpl.Log(2, sklogimpl.Fatal, format, args...)
	os.Exit(1)
}
