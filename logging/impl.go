package logging

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type impl struct {
	name  string
	level AtomicLevel
	inUTC bool
	// fields are prepended to the fields of every entry.
	fields []zapcore.Field

	appenders []Appender
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{name: name, level: NewAtomicLevelAt(level), inUTC: inUTC, appenders: appenders}
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		fields:    imp.fields,
		appenders: imp.appenders,
	}
}

func (imp *impl) WithFields(keysAndValues ...interface{}) Logger {
	fields := make([]zapcore.Field, 0, len(imp.fields)+len(keysAndValues)/2)
	fields = append(fields, imp.fields...)
	return &impl{
		name:      imp.name,
		level:     imp.level,
		inUTC:     imp.inUTC,
		fields:    appendFields(fields, keysAndValues),
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

func (imp *impl) enabled(level Level) bool {
	return level >= imp.level.Get()
}

// write sends one entry to every appender. Appender failures go to stderr since there is nowhere
// else to report them.
func (imp *impl) write(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     getCaller(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			//nolint:errcheck
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func (imp *impl) logf(level Level, template string, args []interface{}) {
	if imp.enabled(level) {
		imp.write(level, fmt.Sprintf(template, args...), imp.fields)
	}
}

func (imp *impl) logw(level Level, msg string, keysAndValues []interface{}) {
	if imp.enabled(level) {
		imp.write(level, msg, appendFields(append([]zapcore.Field(nil), imp.fields...), keysAndValues))
	}
}

// appendFields turns alternating keys and values into zap fields. A trailing key without a value is
// kept with an error value so the mistake shows up in the output.
func appendFields(fields []zapcore.Field, keysAndValues []interface{}) []zapcore.Field {
	for i := 0; i < len(keysAndValues); i += 2 {
		var key string
		if stringer, ok := keysAndValues[i].(fmt.Stringer); ok {
			key = stringer.String()
		} else {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
		}
	}
	return fields
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.logf(DEBUG, template, args)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.logw(DEBUG, msg, keysAndValues)
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.logc(ctx, msg, keysAndValues)
}

// logc is logw at debug level that also emits, tagged with the trace, when ctx is traced.
func (imp *impl) logc(ctx context.Context, msg string, keysAndValues []interface{}) {
	fields := append([]zapcore.Field(nil), imp.fields...)
	traceID := TraceID(ctx)
	switch {
	case traceID != "":
		fields = append(fields, zap.String("trace", traceID))
	case !imp.enabled(DEBUG):
		return
	}
	imp.write(DEBUG, msg, appendFields(fields, keysAndValues))
}

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.logf(INFO, template, args)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.logw(INFO, msg, keysAndValues)
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.logf(WARN, template, args)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.logw(WARN, msg, keysAndValues)
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.logf(ERROR, template, args)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.logw(ERROR, msg, keysAndValues)
}

// getCaller returns the file and line of the code that called the public log method.
func getCaller() zapcore.EntryCaller {
	// getCaller, write, logw or logf or logc, the public method, its caller
	const skip = 4
	var caller zapcore.EntryCaller
	var ok bool
	caller.PC, caller.File, caller.Line, ok = runtime.Caller(skip)
	if !ok {
		return caller
	}
	caller.Defined = true
	if fn := runtime.FuncForPC(caller.PC); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
