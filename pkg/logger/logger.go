package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the log output encoding.
type Format string

const (
	// FormatJSON emits structured records for log aggregation.
	FormatJSON Format = "json"
	// FormatText emits plain key=value records.
	FormatText Format = "text"
	// FormatDev emits colorized human-friendly records for local development.
	FormatDev Format = "dev"
)

// Config is the environment-derived logger configuration.
type Config struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format Format `env:"LOG_FORMAT" envDefault:"json"`
}

// Option configures logger creation.
type Option func(*settings)

type settings struct {
	level  slog.Level
	format Format
	output io.Writer
	attrs  []slog.Attr
}

// WithLevel sets the minimum level (defaults to info).
func WithLevel(l slog.Level) Option {
	return func(s *settings) { s.level = l }
}

// WithFormat sets the output format. Panics on an unknown format so a
// misconfigured process fails at startup instead of logging garbage.
func WithFormat(f Format) Option {
	return func(s *settings) {
		switch f {
		case FormatJSON, FormatText, FormatDev:
			s.format = f
		default:
			panic(fmt.Errorf("logger: unknown format %q", f))
		}
	}
}

// WithOutput redirects log output (defaults to stdout). Nil writers are
// ignored.
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.output = w
		}
	}
}

// WithAttr attaches static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(s *settings) {
		s.attrs = append(s.attrs, attrs...)
	}
}

// WithService attaches a service name attribute, the conventional way to
// distinguish processes sharing one log stream.
func WithService(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.attrs = append(s.attrs, slog.String("service", name))
		}
	}
}

// FromConfig applies an environment-derived configuration.
func FromConfig(cfg Config) Option {
	return func(s *settings) {
		s.level = ParseLevel(cfg.Level)
		if cfg.Format != "" {
			WithFormat(cfg.Format)(s)
		}
	}
}

// ParseLevel maps a level name to a slog.Level, defaulting to info for
// anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a configured slog.Logger.
func New(opts ...Option) *slog.Logger {
	s := &settings{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}

	var handler slog.Handler
	switch s.format {
	case FormatDev:
		handler = tint.NewHandler(s.output, &tint.Options{
			Level:      s.level,
			TimeFormat: time.Kitchen,
		})
	case FormatText:
		handler = slog.NewTextHandler(s.output, &slog.HandlerOptions{Level: s.level})
	default:
		handler = slog.NewJSONHandler(s.output, &slog.HandlerOptions{Level: s.level})
	}

	if len(s.attrs) > 0 {
		handler = handler.WithAttrs(s.attrs)
	}
	return slog.New(handler)
}

// SetAsDefault installs the logger as the process-wide slog default.
func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}
