package converge

import (
	"fmt"
	"log/slog"
)

// Logger is the minimal logging surface the engine needs: an informational
// sink used in verbose mode and an error sink used for listener faults and
// failed runs. Callers may plug in any implementation via WithLogger.
type Logger interface {
	Logf(format string, args ...any)
	Errorf(format string, args ...any)
}

// slogLogger adapts a *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps a structured logger for use as the engine's Logger.
// Passing nil wraps slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Logf(format string, args ...any) {
	s.l.Info(fmt.Sprintf(format, args...))
}

func (s *slogLogger) Errorf(format string, args ...any) {
	s.l.Error(fmt.Sprintf(format, args...))
}
