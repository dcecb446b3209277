package logger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/quarryd/quarry/internal/domain"
)

// LineWriter persists a single task log line. storage.LogStore satisfies it.
type LineWriter interface {
	Append(ctx context.Context, line domain.LogLine) error
}

// taskLogger forwards entries to the base logger and persists them per task
// so operators can read a run's output after the fact.
type taskLogger struct {
	base   Logger
	writer LineWriter
	taskID string
}

// NewTaskLogger wraps base so every entry is also appended to writer under
// the given task id.
func NewTaskLogger(base Logger, writer LineWriter, taskID string) Logger {
	return &taskLogger{
		base:   base.With(String("task_id", taskID)),
		writer: writer,
		taskID: taskID,
	}
}

func (l *taskLogger) persist(level, msg string, fields []Field) {
	line := domain.LogLine{
		TaskID:    l.taskID,
		Level:     level,
		Timestamp: time.Now().UTC(),
		Message:   renderMessage(msg, fields),
	}
	// Persisting logs must never fail the task.
	if err := l.writer.Append(context.Background(), line); err != nil {
		l.base.Warn("failed to persist task log line", Error(err))
	}
}

// renderMessage flattens structured fields into "key=value" suffixes so the
// persisted line stays a single readable string.
func renderMessage(msg string, fields []Field) string {
	if len(fields) == 0 {
		return msg
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, enc.Fields[k])
	}
	return b.String()
}

func (l *taskLogger) Debug(msg string, fields ...Field) {
	l.base.Debug(msg, fields...)
	l.persist("debug", msg, fields)
}

func (l *taskLogger) Info(msg string, fields ...Field) {
	l.base.Info(msg, fields...)
	l.persist("info", msg, fields)
}

func (l *taskLogger) Warn(msg string, fields ...Field) {
	l.base.Warn(msg, fields...)
	l.persist("warn", msg, fields)
}

func (l *taskLogger) Error(msg string, fields ...Field) {
	l.base.Error(msg, fields...)
	l.persist("error", msg, fields)
}

func (l *taskLogger) Fatal(msg string, fields ...Field) {
	l.persist("fatal", msg, fields)
	l.base.Fatal(msg, fields...)
}

func (l *taskLogger) With(fields ...Field) Logger {
	return &taskLogger{
		base:   l.base.With(fields...),
		writer: l.writer,
		taskID: l.taskID,
	}
}

func (l *taskLogger) Sync() error {
	return l.base.Sync()
}
