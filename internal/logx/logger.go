// Package logx is the logging facade shared by every core component. It
// wraps a single logrus.Logger so log level can be set once (from config or
// IOX2_LOG_LEVEL) and every component-scoped entry picks it up.
package logx

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.RWMutex
	logger = newDefaultLogger()
)

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the global log level.
func SetLevel(level logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetLevel(level)
}

// SetLevelFromEnvOr parses IOX2_LOG_LEVEL (trace/debug/info/warn/error/fatal,
// case-insensitive) and applies it, falling back to fallback and emitting a
// warning if the value is unrecognized.
func SetLevelFromEnvOr(fallback logrus.Level) {
	raw := strings.TrimSpace(os.Getenv("IOX2_LOG_LEVEL"))
	if raw == "" {
		SetLevel(fallback)
		return
	}
	level, err := logrus.ParseLevel(strings.ToLower(raw))
	if err != nil {
		SetLevel(fallback)
		For("logx").Warnf("unrecognized IOX2_LOG_LEVEL %q, falling back to %s", raw, fallback)
		return
	}
	SetLevel(level)
}

// For returns a component-scoped logger entry, e.g. logx.For("publisher").
func For(component string) *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return logger.WithField("component", component)
}

// FatalPanic logs the formatted message at error level (the log call does not
// exit the process) and then panics with the same message. The panic is not
// recovered in this package.
func FatalPanic(component, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	For(component).Error(msg)
	panic(msg)
}
