// Package logger provides a small colored console logger used across the
// connection, channel, and acceptor packages. It keeps the call-site shape
// of a hand-rolled logger (Debug/Info/Warn/Error/Success/Fatal plus banner
// helpers for cmd/ entry points) but is backed by zap so that fields
// (remote address, connection state, sequence numbers) can be attached
// structurally instead of sprintf'd into the message.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with the level/format the rest of the
// package calls into.
type Logger struct {
	s *zap.SugaredLogger
}

var defaultLogger = New(zapcore.InfoLevel)

// New builds a colored console logger at the given minimum level.
func New(level zapcore.Level) *Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stdout), level)
	return &Logger{s: zap.New(core).Sugar()}
}

// SetLevel replaces the default logger's minimum level.
func SetLevel(level zapcore.Level) {
	defaultLogger = New(level)
}

// With returns a child logger carrying the given structured fields, e.g.
// logger.With("remote", addr.String()).
func With(kv ...interface{}) *Logger {
	return &Logger{s: defaultLogger.s.With(kv...)}
}

func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

func (l *Logger) Debug(format string, args ...interface{})   { l.s.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})    { l.s.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *Logger) Success(format string, args ...interface{}) { l.s.Infof("[OK] "+format, args...) }
func (l *Logger) Fatal(format string, args ...interface{})   { l.s.Fatalf(format, args...) }

func Debug(format string, args ...interface{})   { defaultLogger.Debug(format, args...) }
func Info(format string, args ...interface{})    { defaultLogger.Info(format, args...) }
func Warn(format string, args ...interface{})    { defaultLogger.Warn(format, args...) }
func Error(format string, args ...interface{})   { defaultLogger.Error(format, args...) }
func Success(format string, args ...interface{}) { defaultLogger.Success(format, args...) }
func Fatal(format string, args ...interface{})   { defaultLogger.Fatal(format, args...) }

// Section prints a plain section header — kept separate from the
// structured per-connection log lines.
func Section(title string) {
	fmt.Printf("\n=== %s ===\n\n", title)
}

// Banner prints the application banner for cmd/ entry points.
func Banner(title, version string) {
	fmt.Printf("%s\nversion %s\n\n", title, version)
}
