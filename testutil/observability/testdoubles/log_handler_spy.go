package testdoubles

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogHandlerSpy is a slog.Handler that captures log records.
type LogHandlerSpy struct {
	mu          sync.Mutex
	records     []slog.Record
	logToStdout bool
}

// NewLogHandlerSpy creates a LogHandlerSpy.
// With logToStdout it also writes every record as JSON to stdout, which helps when debugging tests.
func NewLogHandlerSpy(logToStdout bool) *LogHandlerSpy {
	return &LogHandlerSpy{logToStdout: logToStdout}
}

// NewLogger returns a *slog.Logger writing to a new LogHandlerSpy.
func NewLogger() (*slog.Logger, *LogHandlerSpy) {
	spy := NewLogHandlerSpy(false)
	return slog.New(spy), spy
}

func (s *LogHandlerSpy) Handle(ctx context.Context, record slog.Record) error {
	s.mu.Lock()
	s.records = append(s.records, record.Clone())
	s.mu.Unlock()

	if s.logToStdout {
		_ = slog.NewJSONHandler(os.Stdout, nil).Handle(ctx, record)
	}

	return nil
}

func (s *LogHandlerSpy) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (s *LogHandlerSpy) WithAttrs(_ []slog.Attr) slog.Handler {
	return s
}

func (s *LogHandlerSpy) WithGroup(_ string) slog.Handler {
	return s
}

// Records returns a copy of all captured records.
func (s *LogHandlerSpy) Records() []slog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]slog.Record, len(s.records))
	copy(out, s.records)

	return out
}

// HasLog reports whether a record at level whose message contains message was captured.
func (s *LogHandlerSpy) HasLog(level slog.Level, message string) bool {
	for _, record := range s.Records() {
		if record.Level == level && strings.Contains(record.Message, message) {
			return true
		}
	}

	return false
}

// HasLogWithAttr reports whether a record at level containing message carries attribute key.
func (s *LogHandlerSpy) HasLogWithAttr(level slog.Level, message string, key string) bool {
	for _, record := range s.Records() {
		if record.Level != level || !strings.Contains(record.Message, message) {
			continue
		}

		found := false
		record.Attrs(func(attr slog.Attr) bool {
			if attr.Key == key {
				found = true
				return false
			}

			return true
		})

		if found {
			return true
		}
	}

	return false
}
