// Package obslog adapts github.com/charmbracelet/log to veld.Logger, the
// minimal logging capability the container consults for boot diagnostics
// and lifecycle events.
//
// Grounded on alexisbeaulieu97-Streamy's internal/infrastructure/logging
// adapter: the same Options-driven construction and component/layer field
// tagging, trimmed of the context-carried correlation id (veld.Logger has
// no context parameter — the container already reports component names
// explicitly in every call site).
package obslog

import (
	"fmt"
	"io"
	"os"
	"strings"

	cblog "github.com/charmbracelet/log"
)

// Options configures a Logger.
type Options struct {
	Writer       io.Writer
	Level        string
	TimeFormat   string
	ReportCaller bool
	Component    string
	Layer        string
}

// Logger implements veld.Logger over a charmbracelet/log instance, with a
// fixed set of persistent fields (component/layer) prepended to every entry.
type Logger struct {
	logger *cblog.Logger
	fields []any
}

// New constructs a Logger from opts. A zero Options value logs at info level
// to stdout with no persistent fields.
func New(opts Options) (*Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}

	level := cblog.InfoLevel
	if opts.Level != "" {
		parsed, err := cblog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("obslog: parse log level: %w", err)
		}
		level = parsed
	}

	base := cblog.NewWithOptions(writer, cblog.Options{
		Level:           level,
		TimeFormat:      opts.TimeFormat,
		ReportTimestamp: true,
		ReportCaller:    opts.ReportCaller,
	})

	var fields []any
	if opts.Component != "" {
		fields = append(fields, "component", opts.Component)
	}
	if opts.Layer != "" {
		fields = append(fields, "layer", opts.Layer)
	}

	return &Logger{logger: base, fields: fields}, nil
}

// With derives a Logger carrying additional persistent fields.
func (l *Logger) With(kv ...any) *Logger {
	if l == nil {
		return &Logger{logger: cblog.New(os.Stderr)}
	}
	next := make([]any, 0, len(l.fields)+len(kv))
	next = append(next, l.fields...)
	next = append(next, kv...)
	return &Logger{logger: l.logger, fields: next}
}

func (l *Logger) Debug(msg string, kv ...any) { l.log(cblog.DebugLevel, msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.log(cblog.InfoLevel, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log(cblog.WarnLevel, msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.log(cblog.ErrorLevel, msg, kv...) }

func (l *Logger) log(level cblog.Level, msg string, kv ...any) {
	if l == nil || l.logger == nil {
		return
	}
	payload := mergeFields(l.fields, kv)
	switch level {
	case cblog.DebugLevel:
		l.logger.Debug(msg, payload...)
	case cblog.WarnLevel:
		l.logger.Warn(msg, payload...)
	case cblog.ErrorLevel:
		l.logger.Error(msg, payload...)
	default:
		l.logger.Info(msg, payload...)
	}
}

// mergeFields flattens base then additions into one key/value slice,
// letting a later key win over an earlier duplicate while preserving first-
// seen key order (matches the teacher adapter's merge semantics).
func mergeFields(base, additions []any) []any {
	store := map[string]any{}
	var order []string

	process := func(values []any) {
		for i := 0; i+1 < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok || key == "" {
				continue
			}
			if _, exists := store[key]; !exists {
				order = append(order, key)
			}
			store[key] = values[i+1]
		}
	}
	process(base)
	process(additions)

	out := make([]any, 0, len(order)*2)
	for _, k := range order {
		out = append(out, k, store[k])
	}
	return out
}
