package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"github.com/iox2go/iceoryx2/internal/logx"
)

// Env holds the process environment overrides recognized by the core.
type Env struct {
	LogLevel string `env:"IOX2_LOG_LEVEL"`
}

// LoadEnv parses recognized IOX2_* environment variables.
func LoadEnv() (*Env, error) {
	e := &Env{}
	if err := env.Parse(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ParsedLogLevel fuzzy-matches LogLevel case-insensitively against the six
// recognized levels, warning and falling back to fallback on a miss.
func (e *Env) ParsedLogLevel(fallback logrus.Level) logrus.Level {
	raw := strings.TrimSpace(strings.ToLower(e.LogLevel))
	if raw == "" {
		return fallback
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		logx.For("config").Warnf("unrecognized IOX2_LOG_LEVEL %q, falling back to %s", e.LogLevel, fallback)
		return fallback
	}
	return level
}
