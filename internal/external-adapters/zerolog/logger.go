// Package zerolog adapts rs/zerolog to the domain Logger interface.
package zerolog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/beobal/csp"
	"github.com/beobal/csp/internal/domain/interfaces"
)

// Config captures options for building a logger.
type Config struct {
	Level  string    // "debug", "info", "warn", "error"; defaults to info
	Format string    // "json" (default) or "console"
	Output io.Writer // defaults to os.Stderr
}

// Logger implements interfaces.Logger on top of a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger. Every entry carries service and version fields.
func New(cfg Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}

	switch cfg.Format {
	case "", "json":
	case "console":
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339, NoColor: !isTerminal(writer)}
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	zl := zerolog.New(writer).Level(level).With().
		Timestamp().
		Str("service", csp.Name).
		Str("version", csp.Version).
		Logger()

	return &Logger{zl: zl}, nil
}

// Wrap adapts an existing zerolog logger.
func Wrap(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

func (l *Logger) Debug(msg string, fields ...interfaces.Field) {
	emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...interfaces.Field) {
	emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...interfaces.Field) {
	emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...interfaces.Field) {
	emit(l.zl.Error(), msg, fields)
}

// With returns a child logger annotated with fields.
func (l *Logger) With(fields ...interfaces.Field) interfaces.Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			ctx = ctx.AnErr(f.Key, err)
			continue
		}
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Logger{zl: ctx.Logger()}
}

// Zerolog exposes the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func emit(e *zerolog.Event, msg string, fields []interfaces.Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			e = e.AnErr(f.Key, v)
		case string:
			e = e.Str(f.Key, v)
		case int:
			e = e.Int(f.Key, v)
		case int64:
			e = e.Int64(f.Key, v)
		case bool:
			e = e.Bool(f.Key, v)
		case time.Duration:
			e = e.Dur(f.Key, v)
		case time.Time:
			e = e.Time(f.Key, v)
		case []string:
			e = e.Strs(f.Key, v)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	e.Msg(msg)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
