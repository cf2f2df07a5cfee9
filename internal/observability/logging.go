// Package observability provides structured logging and Prometheus metrics
// for the monitoring session.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text".
	// JSON format is recommended for production; text for development.
	Format string

	// Output is the writer for log output (defaults to os.Stderr).
	Output io.Writer

	// AddSource includes file and line number in log records.
	AddSource bool
}

// DefaultRedactPatterns match credential material that must never reach the
// log stream: session cookie values and push tokens.
var DefaultRedactPatterns = []string{
	`connect\.sid=[^\s;"']+`,
	`(?i)(push[_-]?token|session[_-]?token)[\s:=]+["']?([a-zA-Z0-9_\-\.]{12,})["']?`,
}

// NewLogger creates a structured slog logger with credential redaction.
//
// If config.Output is nil, logs are written to os.Stderr.
// If config.Level is empty or invalid, defaults to "info".
// If config.Format is empty, defaults to "text".
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       LogLevelFromString(config.Level),
		AddSource:   config.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return slog.New(handler)
}

// LogLevelFromString parses a level name, defaulting to info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var redactRegexps = compileRedactPatterns()

func compileRedactPatterns() []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns))
	for _, pattern := range DefaultRedactPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			res = append(res, re)
		}
	}
	return res
}

// redactAttr rewrites string attribute values that match a credential pattern.
func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	attr.Value = slog.StringValue(RedactString(attr.Value.String()))
	return attr
}

// RedactString applies all redaction patterns to s.
func RedactString(s string) string {
	for _, re := range redactRegexps {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// NopLogger returns a logger that discards everything. Useful in tests.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithComponent tags a logger with the owning component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}
