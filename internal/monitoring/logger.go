// Package monitoring carries the process-wide diagnostic logger shared by
// the workers.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or
// mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs at warning level.
func Warnf(format string, v ...interface{}) {
	Logf("warn: "+format, v...)
}

// Errorf logs at error level.
func Errorf(format string, v ...interface{}) {
	Logf("error: "+format, v...)
}
