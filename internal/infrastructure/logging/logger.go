package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
)

const serviceName = "vwire-agent"

// Logger is the agent's slog logger. It embeds *slog.Logger so SDK
// packages can be handed Logger.Logger directly.
type Logger struct {
	*slog.Logger
}

// New builds a logger writing to the stream named by cfg.Output
// ("stdout" unless it says "stderr").
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter builds a logger on w. Every record carries the service
// name and version.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With("service", serviceName, "version", version)}
}

// With returns a child logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// parseLevel accepts slog level names in any case plus "warning".
// Anything else is info.
func parseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// RedactToken hides all but the last four characters of a device token.
func RedactToken(token string) string {
	const keep = 4
	if len(token) <= keep {
		return "****"
	}
	return "****" + token[len(token)-keep:]
}
