package auth

import "log/slog"

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

func defaultLogger() Logger {
	return NoopLogger{}
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *SlogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// GetLogger implements LoggerProvider by tagging records with the name.
func (s *SlogLogger) GetLogger(name string) Logger {
	return &SlogLogger{l: s.l.With("logger", name)}
}

// ResolveLogger picks the named logger from provider, then fallback, then a
// no-op logger.
func ResolveLogger(name string, provider LoggerProvider, fallback Logger) Logger {
	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return l
		}
	}
	if fallback != nil {
		return fallback
	}
	return defaultLogger()
}
