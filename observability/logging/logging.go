package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	out   io.Writer
	level slog.Level
}

// Option adjusts Setup.
type Option func(*options)

// WithFile sends logs to a size-rotated file instead of stdout.
func WithFile(path string, maxSizeMB, maxBackups int) Option {
	return func(o *options) {
		if strings.TrimSpace(path) == "" {
			return
		}
		o.out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		}
	}
}

// WithLevel sets the minimum level; unknown names leave the default (info).
func WithLevel(name string) Option {
	return func(o *options) {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err == nil {
			o.level = level
		}
	}
}

// WithWriter sends logs to w.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string, opts ...Option) *slog.Logger {
	o := options{out: os.Stdout, level: slog.LevelInfo}
	for _, opt := range opts {
		opt(&o)
	}
	handler := slog.NewJSONHandler(o.out, &slog.HandlerOptions{
		AddSource: false,
		Level:     o.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return redact(attr)
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
