// Package logging provides structured logging functionality for edgeproxy.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a structured logger wrapping a logrus entry.
type Logger struct {
	*logrus.Entry
}

// NewLogger creates a new structured JSON logger at the given level.
func NewLogger(level string) (*Logger, error) {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	logger.SetOutput(os.Stdout)

	entry := logger.WithField("service", "edgeproxy")

	return &Logger{Entry: entry}, nil
}

// WithField adds a field to the logger.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithFields adds multiple fields to the logger.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields)}
}

// Info logs an info message with optional key-value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Info(msg)
}

// Error logs an error message with optional key-value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Error(msg)
}

// Warn logs a warning message with optional key-value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Warn(msg)
}

// Debug logs a debug message with optional key-value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.Entry.WithFields(parseKeysAndValues(keysAndValues...)).Debug(msg)
}

func parseKeysAndValues(keysAndValues ...interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			key := fmt.Sprintf("%v", keysAndValues[i])
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}

// LogRequest logs a completed proxy request with structured fields.
func (l *Logger) LogRequest(method, path, pool, backend string, status int, durationMS int64) {
	l.Entry.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"pool":        pool,
		"backend":     backend,
		"status":      status,
		"duration_ms": durationMS,
		"type":        "request",
	}).Info("proxied request")
}
