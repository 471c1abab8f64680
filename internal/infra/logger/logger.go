package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

type Logger struct {
	zl     zerolog.Logger
	closer io.Closer
}

// New writes JSON lines to filePath. With includeStdout, Info and above are
// also printed to stdout in console format so debug spam doesn't break the CLI
// progress bar.
func New(filePath string, level Level, includeStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	var w zerolog.LevelWriter = zerolog.MultiLevelWriter(f)
	if includeStdout {
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
		w = zerolog.MultiLevelWriter(f, minLevelWriter{w: console, min: zerolog.InfoLevel})
	}

	return &Logger{
		zl:     zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger(),
		closer: f,
	}, nil
}

// NewWriter logs to an arbitrary writer. Used by tests and the CLI before the
// config is loaded.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{zl: zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// minLevelWriter forwards only events at or above min.
type minLevelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (m minLevelWriter) Write(p []byte) (int, error) { return m.w.Write(p) }

func (m minLevelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < m.min {
		return len(p), nil
	}
	return m.w.Write(p)
}

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// With returns a child logger that tags every line with key=value.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger(), closer: l.closer}
}

func (l *Logger) Debug(f string, v ...any) { l.zl.Debug().Msg(fmt.Sprintf(f, v...)) }
func (l *Logger) Info(f string, v ...any)  { l.zl.Info().Msg(fmt.Sprintf(f, v...)) }
func (l *Logger) Warn(f string, v ...any)  { l.zl.Warn().Msg(fmt.Sprintf(f, v...)) }
func (l *Logger) Error(f string, v ...any) { l.zl.Error().Msg(fmt.Sprintf(f, v...)) }

// Fatal logs and exits. zerolog's own Fatal would skip closing the file.
func (l *Logger) Fatal(f string, v ...any) {
	l.zl.WithLevel(zerolog.FatalLevel).Msg(fmt.Sprintf(f, v...))
	l.Close()
	os.Exit(1)
}

func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) Write(p []byte) (n int, err error) {
	// http.Server and other libraries often include a newline at the end
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}
