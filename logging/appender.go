package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the time format of console and test output.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync flushes buffered entries.
	Sync() error
}

// ConsoleAppender writes one human readable line per entry.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender creates a new appender that outputs to stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender creates a new appender that outputs to the input writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer}
}

// Write outputs the entry as "time LEVEL name file:line message {fields}", tab separated. Empty
// columns are left out.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatEntry(entry, fields)
	if _, werr := io.WriteString(appender.Writer, line); werr != nil {
		return werr
	}
	return err
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}

// formatEntry renders an entry as a newline terminated line. Fields are JSON encoded in order. If
// encoding fails the line is still returned without them.
func formatEntry(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	const maxColumns = 6
	columns := make([]string, 0, maxColumns)
	columns = append(columns, entry.Time.Format(DefaultTimeFormatStr), strings.ToUpper(entry.Level.String()))
	if entry.LoggerName != "" {
		columns = append(columns, entry.LoggerName)
	}
	if entry.Caller.Defined {
		columns = append(columns, entry.Caller.TrimmedPath())
	}
	columns = append(columns, entry.Message)
	if len(fields) == 0 {
		return strings.Join(columns, "\t") + "\n", nil
	}

	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := encoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return strings.Join(columns, "\t") + "\n", err
	}
	defer buf.Free()
	columns = append(columns, buf.String())
	return strings.Join(columns, "\t") + "\n", nil
}
