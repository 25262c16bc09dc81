// Package logging provides component-scoped loggers for the state core.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base *logrus.Logger
	once sync.Once
)

// NewLogger returns a logger tagged with the given component name.
// The minimum level is taken from EMBERCORD_LOG_LEVEL and defaults to info.
func NewLogger(component string) *logrus.Entry {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetLevel(levelFromEnv())
	})
	return base.WithField("component", component)
}

// SetLevel overrides the level of every component logger at once.
func SetLevel(level logrus.Level) {
	NewLogger("logging")
	base.SetLevel(level)
}

func levelFromEnv() logrus.Level {
	raw := strings.TrimSpace(os.Getenv("EMBERCORD_LOG_LEVEL"))
	if raw == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
