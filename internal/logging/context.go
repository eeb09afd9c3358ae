package logging

import "context"

type contextKey struct{}

var logContextKey = contextKey{}

// Fields holds request/connection-scoped logging context: which peer is
// talking to us, which session or user they are acting as, and which verb
// is currently being dispatched. Modeled on the teacher's
// internal/logger.LogContext, trimmed to the fields this system's three
// services actually populate (no RPC auth flavor, no NFS procedure name).
type Fields struct {
	Peer      string // remote address of the connection
	SessionID string // multiplexer session ID, when applicable
	UserID    string // acting user ID, once known
	Verb      string // command verb currently being handled
}

// Into attaches f to ctx.
func Into(ctx context.Context, f *Fields) context.Context {
	return context.WithValue(ctx, logContextKey, f)
}

// From retrieves the Fields attached to ctx, or nil.
func From(ctx context.Context) *Fields {
	f, _ := ctx.Value(logContextKey).(*Fields)
	return f
}

// args renders f as slog key/value pairs, skipping empty fields.
func (f *Fields) args() []any {
	if f == nil {
		return nil
	}
	var out []any
	if f.Peer != "" {
		out = append(out, "peer", f.Peer)
	}
	if f.SessionID != "" {
		out = append(out, "session_id", f.SessionID)
	}
	if f.UserID != "" {
		out = append(out, "user_id", f.UserID)
	}
	if f.Verb != "" {
		out = append(out, "verb", f.Verb)
	}
	return out
}
