// Package log provides this module's leveled logger and a rate-limited
// wrapper for call sites, like steal contention and buffer grow/shrink,
// that can fire far faster than a human reading logs can use.
package log

import (
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/time/rate"
)

// Logger is the package-level logger: logfmt to stderr, info level and
// above, with a UTC timestamp and the caller attached.
var Logger = newDefaultLogger()

func newDefaultLogger() log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = level.NewFilter(l, level.AllowInfo())
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return l
}

// rateLimitedLogger drops log lines once more than burst have been
// logged within the current second, rather than blocking or buffering
// them.
type rateLimitedLogger struct {
	next    log.Logger
	limiter *rate.Limiter
}

// NewRateLimitedLogger wraps next so that at most burst lines per second
// are actually written; the rest are silently dropped.
func NewRateLimitedLogger(burst int, next log.Logger) log.Logger {
	return &rateLimitedLogger{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Second/time.Duration(burst)), burst),
	}
}

// Log implements go-kit's log.Logger.
func (l *rateLimitedLogger) Log(keyvals ...interface{}) error {
	if !l.limiter.Allow() {
		return nil
	}
	return l.next.Log(keyvals...)
}
