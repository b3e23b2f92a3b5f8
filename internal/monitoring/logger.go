package monitoring

import (
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles Debugf output.
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

// DebugEnabled reports whether Debugf output is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Debugf logs through Logf only when debug output is enabled.
func Debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		Logf("[debug] "+format, v...)
	}
}

// Throttle rate-limits a recurring log line, e.g. per-packet warnings on a
// lossy link. The first call always logs.
type Throttle struct {
	s rate.Sometimes
}

// NewThrottle returns a Throttle that logs at most once per interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{s: rate.Sometimes{Interval: interval}}
}

// Logf logs through the package logger if the interval has elapsed.
func (t *Throttle) Logf(format string, v ...interface{}) {
	t.s.Do(func() { Logf(format, v...) })
}

// SetupLogFile tees the standard logger into a size-rotated file. The returned
// closer flushes and closes the current log file.
func SetupLogFile(path string, maxSizeMB, maxBackups int) io.Closer {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		LocalTime:  true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return lj
}
