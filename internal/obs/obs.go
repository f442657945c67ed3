// Package obs holds the process logger and per-request log fields.
package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type fieldsKey struct{}

// requestFields are attached to every line logged through From.
type requestFields struct {
	requestID string
	userID    string
}

var (
	mu    sync.RWMutex
	root  *slog.Logger
	level = new(slog.LevelVar)
)

// Init installs the JSON logger on stderr. Later calls only change the level.
func Init(lvl slog.Level) {
	level.Set(lvl)
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		install(os.Stderr)
	}
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// CaptureForTests sends all logging to w at debug level until the returned
// func is called.
func CaptureForTests(w io.Writer) (restore func()) {
	mu.Lock()
	prev, prevLevel := root, level.Level()
	level.Set(slog.LevelDebug)
	install(w)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		level.Set(prevLevel)
		if prev == nil {
			install(os.Stderr)
			return
		}
		root = prev
		slog.SetDefault(prev)
	}
}

// install must be called with mu held.
func install(w io.Writer) {
	root = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: utcTime,
	}))
	slog.SetDefault(root)
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
	}
	return a
}

func logger() *slog.Logger {
	mu.RLock()
	l := root
	mu.RUnlock()
	if l == nil {
		Init(level.Level())
		mu.RLock()
		l = root
		mu.RUnlock()
	}
	return l
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return logger().With("pkg", pkg)
}

// From returns a logger carrying the request id and user id stored in ctx.
func From(ctx context.Context) *slog.Logger {
	l := logger()
	f := fieldsFrom(ctx)
	if f.requestID != "" {
		l = l.With("request_id", f.requestID)
	}
	if f.userID != "" {
		l = l.With("user_id", f.userID)
	}
	return l
}

// WithRequestID stores the request id for log lines written through From.
func WithRequestID(ctx context.Context, id string) context.Context {
	f := fieldsFrom(ctx)
	f.requestID = id
	return context.WithValue(ctx, fieldsKey{}, f)
}

// WithUserID stores the authenticated user id for log lines written through From.
func WithUserID(ctx context.Context, userID string) context.Context {
	f := fieldsFrom(ctx)
	f.userID = strings.TrimSpace(userID)
	return context.WithValue(ctx, fieldsKey{}, f)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	return fieldsFrom(ctx).requestID
}

func fieldsFrom(ctx context.Context) requestFields {
	if ctx == nil {
		return requestFields{}
	}
	f, _ := ctx.Value(fieldsKey{}).(requestFields)
	return f
}

func newRequestID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "req-fallback"
	}
	return "req-" + hex.EncodeToString(buf)
}
