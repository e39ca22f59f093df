// Package diagnostics wraps logrus the way opd-ai-venture's pkg/logging
// does: a Config, a constructor that applies it, and one
// component-scoped Entry constructor per subsystem (SPEC_FULL.md §10.1).
package diagnostics

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus.Level as a string so Config can be built without
// importing logrus at the call site.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format selects the logrus formatter.
type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

// Config configures the module-wide logger.
type Config struct {
	Level     Level
	Format    Format
	AddCaller bool
}

// Default returns a baseline configuration: info level, text format, no
// caller reporting. VisibleTileSet does not use it when
// VisibleTileSetOptions leaves Diagnostics nil; that case gets a logger
// whose output is discarded.
func Default() Config {
	return Config{Level: InfoLevel, Format: TextFormat, AddCaller: false}
}

// New builds a logrus.Logger from cfg.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(parseLevel(cfg.Level))
	logger.SetOutput(os.Stderr)
	logger.SetReportCaller(cfg.AddCaller)

	switch cfg.Format {
	case JSONFormat:
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func parseLevel(l Level) logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// componentLogger scopes logger to one component name, the same shape
// as opd-ai-venture's logging.ComponentLogger.
func componentLogger(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}

func CacheLogger(logger *logrus.Logger) *logrus.Entry     { return componentLogger(logger, "cache") }
func ElectionLogger(logger *logrus.Logger) *logrus.Entry  { return componentLogger(logger, "election") }
func FrustumLogger(logger *logrus.Logger) *logrus.Entry   { return componentLogger(logger, "frustum") }
func FallbackLogger(logger *logrus.Logger) *logrus.Entry  { return componentLogger(logger, "fallback") }
func TaskQueueLogger(logger *logrus.Logger) *logrus.Entry { return componentLogger(logger, "taskqueue") }
