package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	Format string

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string
}

const redacted = "[REDACTED]"

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	`(?i)(bearer|token)[\s:=]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(password|passwd|pwd)[\s:=]+["\']?([^\s"']{4,})["\']?`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// sensitiveKeys are attribute keys whose values are always redacted.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"accesstoken":   true,
	"authorization": true,
}

// ParseLevel maps a level name to a slog.Level; unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger creates a structured logger with the given configuration.
//
// If config.Output is nil, logs are written to os.Stderr.
// If config.Format is empty, defaults to "json".
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	patterns := append(append([]string(nil), DefaultRedactPatterns...), config.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return slog.New(&redactingHandler{next: handler, redacts: redacts})
}

// redactingHandler scrubs credentials from records before passing them on.
type redactingHandler struct {
	next    slog.Handler
	redacts []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(scrubbed), redacts: h.redacts}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), redacts: h.redacts}
}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(strings.ReplaceAll(a.Key, "-", "_"))
	if sensitiveKeys[key] {
		return slog.String(a.Key, redacted)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redactString(v.String()))
	case slog.KindGroup:
		group := v.Group()
		scrubbed := make([]slog.Attr, len(group))
		for i, ga := range group {
			scrubbed[i] = h.redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(scrubbed...)}
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, h.redactString(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func (h *redactingHandler) redactString(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}
