package logging

import (
	"context"
)

// Logger is the logging interface handed to every long-lived component.
type Logger interface {
	SetLevel(level Level)
	GetLevel() Level
	// Sublogger returns a logger named "<name>.<subname>" sharing the appenders of this one.
	Sublogger(subname string) Logger
	// WithFields returns a logger that adds the given key-value pairs to every entry.
	WithFields(keysAndValues ...interface{}) Logger
	AddAppender(appender Appender)
	Sync() error

	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	// CDebugw logs at debug level, or regardless of level when ctx carries a trace.
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})

	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}
