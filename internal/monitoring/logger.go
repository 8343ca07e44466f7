package monitoring

import "log"

// Logf is the process-wide diagnostic logger, defaulting to log.Printf.
// Tests replace it via SetLogger to keep output quiet or to capture lines.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger swaps the package logger. A nil argument installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Named returns a log function that prefixes every line with "[name] ",
// used by the feed listeners so the two feeds stay distinguishable in the
// shared log stream.
func Named(name string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf("["+name+"] "+format, v...)
	}
}
