package config

import (
	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05Z07:00"

var logLevel = logrus.InfoLevel

// NewLogger creates a new logger instance with consistent formatting
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
	})
	return logger
}

// ConfigureGlobalLogger configures the global logrus instance and the level
// used by loggers created afterwards
func ConfigureGlobalLogger(level string) {
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logLevel = parsed
	} else {
		logrus.WithField("level", level).Warn("Unknown log level, using info")
	}
	logrus.SetLevel(logLevel)
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
	})
}
