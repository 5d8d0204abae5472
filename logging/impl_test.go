package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.viam.com/test"
)

type frameStats struct {
	Frame  int
	Points int
	reason string
}

func readLogLine(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	line, err := buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	return strings.Split(strings.TrimSuffix(line, "\n"), "\t")
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("accumulate", DEBUG, true, NewWriterAppender(notStdout))

	logger.Infof("accumulated %d frames", 3)
	parts := readLogLine(t, notStdout)
	test.That(t, len(parts), test.ShouldEqual, 5)
	test.That(t, len(parts[0]), test.ShouldEqual, len("2023-10-30T09:12:09.459Z"))
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "accumulate")
	test.That(t, parts[3], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "accumulated 3 frames")

	logger.Warnw("frame skipped", "frame", 7, "stats", frameStats{Frame: 7, Points: 0, reason: "gate"})
	parts = readLogLine(t, notStdout)
	test.That(t, parts[1], test.ShouldEqual, "WARN")
	test.That(t, parts[3], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "frame skipped")

	fields := map[string]any{}
	test.That(t, json.Unmarshal([]byte(parts[5]), &fields), test.ShouldBeNil)
	test.That(t, fields["frame"], test.ShouldEqual, 7.0)
	test.That(t, fields["stats"], test.ShouldResemble, map[string]any{"Frame": 7.0, "Points": 0.0})

	logger.Infow("unpaired", "dangling")
	parts = readLogLine(t, notStdout)
	test.That(t, parts[5], test.ShouldContainSubstring, "unpaired log key")

	unnamed := newImpl("", DEBUG, true, NewWriterAppender(notStdout))
	unnamed.Errorf("no name")
	parts = readLogLine(t, notStdout)
	test.That(t, len(parts), test.ShouldEqual, 4)
	test.That(t, parts[1], test.ShouldEqual, "ERROR")
}

func TestLevelFiltering(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("", WARN, true, NewWriterAppender(notStdout))

	logger.Debugf("dropped")
	logger.Infow("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Errorw("kept")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "kept")

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	notStdout.Reset()
	logger.Debugw("now kept")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "now kept")
}

func TestTracing(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("", INFO, true, NewWriterAppender(notStdout))

	logger.CDebugw(context.Background(), "dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	ctx := EnableTracing(context.Background(), "frame-12")
	test.That(t, TraceID(ctx), test.ShouldEqual, "frame-12")
	test.That(t, TraceID(context.Background()), test.ShouldEqual, "")
	test.That(t, len(TraceID(EnableTracing(context.Background(), ""))), test.ShouldEqual, 6)

	logger.CDebugw(ctx, "batch written", "points", 40)
	parts := readLogLine(t, notStdout)
	test.That(t, parts[1], test.ShouldEqual, "DEBUG")
	test.That(t, parts[2], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, parts[3], test.ShouldEqual, "batch written")
	fields := map[string]any{}
	test.That(t, json.Unmarshal([]byte(parts[4]), &fields), test.ShouldBeNil)
	test.That(t, fields["trace"], test.ShouldEqual, "frame-12")
	test.That(t, fields["points"], test.ShouldEqual, 40.0)
}

func TestSubloggerAndFields(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("ring").Sublogger("writer")

	sub.Infow("batch written", "points", 3)
	entries := observed.FilterMessage("batch written").All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "ring.writer")
	test.That(t, entries[0].ContextMap()["points"], test.ShouldEqual, int64(3))

	session := sub.WithFields("session", "abc")
	session.Warnw("frame skipped", "reason", "degenerate")
	entries = observed.FilterMessage("frame skipped").All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "ring.writer")
	test.That(t, entries[0].ContextMap()["session"], test.ShouldEqual, "abc")
	test.That(t, entries[0].ContextMap()["reason"], test.ShouldEqual, "degenerate")

	// the fields do not leak back into the parent
	sub.Infow("plain")
	test.That(t, observed.FilterMessage("plain").All()[0].ContextMap(), test.ShouldNotContainKey, "session")

	// a field logger follows the level of its parent
	sub.SetLevel(ERROR)
	session.Infow("hidden")
	test.That(t, observed.FilterMessage("hidden").Len(), test.ShouldEqual, 0)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.want)
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
	out, err := json.Marshal(ERROR)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"error"`)
}
