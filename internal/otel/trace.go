package otel

import (
	"os"
	"sync/atomic"
)

// verbose gates high-volume events such as per-key cache hits.
var verbose atomic.Bool

func init() {
	verbose.Store(os.Getenv("STUDYBOARD_TRACE") != "")
}

// Verbose reports whether high-volume events should be emitted.
func Verbose() bool {
	return verbose.Load()
}

// SetVerbose overrides STUDYBOARD_TRACE, e.g. from the --trace flag.
func SetVerbose(v bool) {
	verbose.Store(v)
}
