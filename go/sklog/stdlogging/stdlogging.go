// Package stdlogging implements sklogimpl.Logger and logs to an io.Writer,
// normally os.Stderr.
package stdlogging

import (
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/improve-ai/tracker/go/sklog/sklogimpl"
)

// Logging writes severity-prefixed lines to an underlying io.Writer.
type Logging struct {
	w io.Writer
}

// New returns a Logging that writes to w.
func New(w io.Writer) *Logging {
	return &Logging{w: w}
}

func (l *Logging) Log(depth int, severity sklogimpl.Severity, format string, args ...interface{}) {
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		file, line = "???", 0
	} else {
		for i := len(file) - 1; i >= 0; i-- {
			if file[i] == '/' {
				file = file[i+1:]
				break
			}
		}
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.w, "%s%s %s:%d] %s\n", severity.Prefix(), time.Now().UTC().Format("0102 15:04:05.000000"), file, line, msg)
}
