package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below slog's debug level; pion's trace output is very chatty.
const levelTrace = slog.LevelDebug - 4

// NewLoggerFactory adapts logger to pion's logging interface. Each pion scope
// ("ice", "dtls", "sctp", ...) becomes a "pion" attribute.
func NewLoggerFactory(logger *slog.Logger) logging.LoggerFactory {
	return loggerFactory{logger: logger}
}

type loggerFactory struct {
	logger *slog.Logger
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{logger: f.logger.With("pion", scope)}
}

type leveledLogger struct {
	logger *slog.Logger
}

var _ logging.LeveledLogger = (*leveledLogger)(nil)

func (l *leveledLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *leveledLogger) logf(level slog.Level, format string, args ...any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Trace(msg string)                  { l.log(levelTrace, msg) }
func (l *leveledLogger) Tracef(format string, args ...any) { l.logf(levelTrace, format, args...) }
func (l *leveledLogger) Debug(msg string)                  { l.log(slog.LevelDebug, msg) }
func (l *leveledLogger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l *leveledLogger) Info(msg string)                   { l.log(slog.LevelInfo, msg) }
func (l *leveledLogger) Infof(format string, args ...any)  { l.logf(slog.LevelInfo, format, args...) }
func (l *leveledLogger) Warn(msg string)                   { l.log(slog.LevelWarn, msg) }
func (l *leveledLogger) Warnf(format string, args ...any)  { l.logf(slog.LevelWarn, format, args...) }
func (l *leveledLogger) Error(msg string)                  { l.log(slog.LevelError, msg) }
func (l *leveledLogger) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }
