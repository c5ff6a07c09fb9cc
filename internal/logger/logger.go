// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides leveled logging.
type Logger struct {
	zl zerolog.Logger
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format.
// Format "text" selects a human-readable console writer; anything else emits JSON.
func Init(level string, format string) {
	defaultLogger = New(os.Stderr, level, format)
}

// New builds a logger writing to w. Unknown levels fall back to info.
func New(w io.Writer, level string, format string) *Logger {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		l = zerolog.InfoLevel
	}

	out := w
	if strings.ToLower(format) == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro, NoColor: true}
	}

	zl := zerolog.New(out).
		Level(l).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()
	return &Logger{zl: zl}
}

// SetDefault replaces the package-level logger. Mostly useful in tests.
func SetDefault(l *Logger) {
	defaultLogger = l
}

func (l *Logger) logf(level zerolog.Level, format string, args ...interface{}) {
	l.zl.WithLevel(level).Msg(fmt.Sprintf(format, args...))
}

func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.logf(zerolog.DebugLevel, format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.logf(zerolog.InfoLevel, format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.logf(zerolog.WarnLevel, format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.logf(zerolog.ErrorLevel, format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.logf(zerolog.FatalLevel, format, args...)
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}
