package splists

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger receives structured log records as a message plus alternating
// key/value pairs. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var _ Logger = (*slog.Logger)(nil)

// NewSlogLogger adapts an existing slog logger. A nil logger uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// NewSimpleLogger writes debug-level text records to stderr.
func NewSimpleLogger() Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// NewDiscardLogger drops every record.
func NewDiscardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DebugConfig toggles verbose diagnostics. Warnings (for example a field whose
// required flag differs from the server) are always logged.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a disabled configuration with every category on
// once enabled and uuid request IDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogRetries:   true,
		RequestIDGen: uuid.NewString,
	}
}

func (c *Client) debugEnabled() bool {
	return c.debug != nil && c.debug.Enabled && c.logger != nil
}

func (c *Client) logRequests() bool {
	return c.debugEnabled() && c.debug.LogRequests
}

func (c *Client) logRetries() bool {
	return c.debugEnabled() && c.debug.LogRetries
}

func (c *Client) newRequestID() string {
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return ""
}
