// Package logging is the structured-logging setup shared by the router,
// file service, and user service. It mirrors the teacher's internal/logger
// package (a package-level slog.Logger, swappable at Init time, with a
// context-carried Fields struct auto-appended to every Ctx-suffixed call)
// but drops the teacher's terminal color handler — none of these three
// services are meant to be run attached to an interactive terminal.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Config controls the process-wide logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

var (
	mu  sync.RWMutex
	log = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// Init (re)configures the package-level logger. Safe to call once at
// startup; not safe for concurrent reconfiguration (the services all do it
// once, before spawning any connection handlers).
func Init(cfg Config) {
	Init2(os.Stderr, cfg)
}

// Init2 is Init with an explicit writer, used by tests.
func Init2(w io.Writer, cfg Config) {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	log = slog.New(h)
	mu.Unlock()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debug(msg string, args ...any) { current().Debug(msg, args...) }
func Info(msg string, args ...any)  { current().Info(msg, args...) }
func Warn(msg string, args ...any)  { current().Warn(msg, args...) }
func Error(msg string, args ...any) { current().Error(msg, args...) }

// DebugCtx etc. prepend the ctx's Fields (peer, session, user, verb) ahead
// of the caller's own key/value pairs.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	current().Debug(msg, append(From(ctx).args(), args...)...)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	current().Info(msg, append(From(ctx).args(), args...)...)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	current().Warn(msg, append(From(ctx).args(), args...)...)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	current().Error(msg, append(From(ctx).args(), args...)...)
}
