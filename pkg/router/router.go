// Package router implements the SessionMultiplexer of spec.md §4.1: a pool
// of subprocess-backed sessions, conflict arbitration on creation, timeout
// sweeps, and the plain-text line protocol of §6.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/internal/idgen"
	"github.com/vgshost/core/internal/logging"
	"github.com/vgshost/core/internal/metrics"
	"github.com/vgshost/core/pkg/session"
)

// Config holds the ROUTER.* settings of spec.md §6.
type Config struct {
	Server         string // ROUTER.SERVER: child program path
	Timeout        time.Duration
	VirginTimeout  time.Duration
	MaxSessions    int
	NewSessionsWin bool
	FileNotify     string // empty disables the SAVE notify callback
}

// FileNotifier is the narrow hook SAVE's notify step uses to call
// forgetDirectory on the file service, per spec.md §4.1 "Save semantics":
// failures are swallowed.
type FileNotifier interface {
	ForgetDirectory(ctx context.Context, path string) error
}

// Multiplexer is one pool of sessions sharing a single child-program
// configuration, per spec.md §4.1's "Responsibility."
type Multiplexer struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*session.Session
	ids      idgen.Generator
	notifier FileNotifier
	metrics  *metrics.Metrics
}

func New(cfg Config, ids idgen.Generator, notifier FileNotifier) *Multiplexer {
	return &Multiplexer{
		cfg:      cfg,
		sessions: make(map[string]*session.Session),
		ids:      ids,
		notifier: notifier,
	}
}

// WithMetrics attaches a metrics sink; m may be nil, which disables
// instrumentation, matching the package-wide nil-receiver convention.
func (m *Multiplexer) WithMetrics(met *metrics.Metrics) *Multiplexer {
	m.metrics = met
	return m
}

// applicableTimeout returns the virgin timeout for an unused session, the
// normal timeout otherwise, per spec.md §4.1 "Timeout."
func (m *Multiplexer) applicableTimeout(s *session.Session) time.Duration {
	if !s.Used() {
		return m.cfg.VirginTimeout
	}
	return m.cfg.Timeout
}

// sweep stops every Running session whose idle time exceeds its applicable
// timeout. Called opportunistically by most commands, per spec.md §4.1.
// Caller must hold m.mu.
func (m *Multiplexer) sweep(ctx context.Context) {
	for id, s := range m.sessions {
		if s.State() != session.Running {
			continue
		}
		if s.IdleSince() > m.applicableTimeout(s) {
			logging.InfoCtx(ctx, "session timed out", "session_id", id)
			_ = s.Stop()
			m.metrics.RecordSessionTimeout()
		}
	}
}

// cleanup drops Terminated sessions from the table entirely, reclaiming a
// creation slot for the maxSessions check.
func (m *Multiplexer) cleanup() {
	for id, s := range m.sessions {
		if s.State() == session.Terminated {
			delete(m.sessions, id)
		}
	}
}

// NewSession creates a session with the given argument vector, per spec.md
// §4.1's "Creation policy."
func (m *Multiplexer) NewSession(ctx context.Context, args []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(ctx)

	candidateMarkers := session.New("", args).ConflictMarkers()
	for id, r := range m.sessions {
		if r.State() != session.Running {
			continue
		}
		if session.AnyConflict(r.ConflictMarkers(), candidateMarkers) {
			if !m.cfg.NewSessionsWin {
				m.metrics.RecordSessionConflict("rejected")
				return "", apperr.New(apperr.Busy, "session conflict")
			}
			logging.InfoCtx(ctx, "stopping conflicting session for newSessionsWin", "session_id", id)
			_ = r.Stop()
			m.metrics.RecordSessionConflict("evicted")
		}
	}

	m.cleanup()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.sweep(ctx)
		m.cleanup()
		if len(m.sessions) >= m.cfg.MaxSessions {
			return "", apperr.New(apperr.Busy, "too many sessions")
		}
	}

	id := m.ids.Next()
	s := session.New(id, args)
	if err := s.Start(ctx, m.cfg.Server); err != nil {
		return "", err
	}
	m.sessions[id] = s
	m.metrics.RecordSessionCreated()
	m.metrics.SetSessionsActive(len(m.sessions))
	return id, nil
}

func (m *Multiplexer) lookup(id string) (*session.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no such session")
	}
	return s, nil
}

// Talk relays one command to the named session's child.
func (m *Multiplexer) Talk(ctx context.Context, id, cmd string) (session.Reply, error) {
	m.mu.Lock()
	s, err := m.lookup(id)
	m.sweep(ctx)
	m.mu.Unlock()
	if err != nil {
		return session.Reply{}, err
	}
	return s.Talk(ctx, cmd)
}

// save runs one session's save step including the SAVE-notify follow-up,
// per spec.md §4.1's "Save semantics": "After a successful save, if notify
// and any argument is -WDIR=<path>, call forgetDirectory(<path>) on the
// file service, swallowing any failure."
func (m *Multiplexer) save(ctx context.Context, s *session.Session, notify bool) (session.Reply, error) {
	reply, saved, err := s.Save(ctx)
	if err != nil {
		return session.Reply{}, err
	}
	if saved && notify && m.notifier != nil {
		for _, a := range s.ConflictMarkers() {
			if path, ok := strings.CutPrefix(a, "-WDIR="); ok {
				if nerr := m.notifier.ForgetDirectory(ctx, path); nerr != nil {
					logging.WarnCtx(ctx, "forgetDirectory notify failed", "path", path, "error", nerr)
				}
			}
		}
	}
	return reply, nil
}

// groupTargets resolves a CLOSE/RESTART/SAVE/SAVENN target: either a
// single session ID, or, prefixed with "-", a conflict-key wildcard
// selecting every session whose markers conflict with that key, per
// spec.md §4.1's "Group actions."
func (m *Multiplexer) groupTargets(target string) ([]string, error) {
	if !strings.HasPrefix(target, "-") {
		if _, err := m.lookup(target); err != nil {
			return nil, err
		}
		return []string{target}, nil
	}
	query := target
	var ids []string
	for id, s := range m.sessions {
		if s.State() != session.Running {
			continue
		}
		for _, marker := range s.ConflictMarkers() {
			if session.Conflicts(query, marker) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close stops the target session(s), per spec.md §6's CLOSE verb.
func (m *Multiplexer) Close(ctx context.Context, target string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(ctx)

	ids, err := m.groupTargets(target)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if s, ok := m.sessions[id]; ok {
			_ = s.Stop()
		}
	}
	m.cleanup()
	m.metrics.SetSessionsActive(len(m.sessions))
	return ids, nil
}

// Restart stops then restarts the target session(s) with their original
// argument vector, per spec.md §4.1's "Restart = stop then start."
func (m *Multiplexer) Restart(ctx context.Context, target string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(ctx)

	ids, err := m.groupTargets(target)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		old, ok := m.sessions[id]
		if !ok {
			continue
		}
		args := old.Args
		_ = old.Stop()
		fresh := session.New(id, args)
		if serr := fresh.Start(ctx, m.cfg.Server); serr != nil {
			logging.ErrorCtx(ctx, "restart failed", "session_id", id, "error", serr)
			continue
		}
		m.sessions[id] = fresh
	}
	return ids, nil
}

// Save/SaveNN implement the SAVE/SAVENN verbs: SAVE notifies the file
// service on success, SAVENN does not ("no notify").
func (m *Multiplexer) Save(ctx context.Context, target string) ([]string, error) {
	return m.saveTargets(ctx, target, true)
}

func (m *Multiplexer) SaveNN(ctx context.Context, target string) ([]string, error) {
	return m.saveTargets(ctx, target, false)
}

func (m *Multiplexer) saveTargets(ctx context.Context, target string, notify bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(ctx)

	ids, err := m.groupTargets(target)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if s, ok := m.sessions[id]; ok {
			if _, serr := m.save(ctx, s, notify); serr != nil {
				logging.ErrorCtx(ctx, "save failed", "session_id", id, "error", serr)
			}
		}
	}
	return ids, nil
}

// List renders every session as one LIST row, per spec.md §6.
func (m *Multiplexer) List(ctx context.Context) []session.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(ctx)

	out := make([]session.Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Info returns one session's argument vector, per spec.md §6's
// "INFO id -> 200 OK then one argument per line."
func (m *Multiplexer) Info(ctx context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(ctx)

	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.Args, nil
}

// ConfigLines renders the live configuration as key=value lines, per
// SPEC_FULL.md §3's CONFIG command grounding.
func (m *Multiplexer) ConfigLines() []string {
	return []string{
		fmt.Sprintf("timeout=%d", int(m.cfg.Timeout.Minutes())),
		fmt.Sprintf("virgintimeout=%d", int(m.cfg.VirginTimeout.Minutes())),
		fmt.Sprintf("maxsessions=%d", m.cfg.MaxSessions),
		fmt.Sprintf("newsessionswin=%t", m.cfg.NewSessionsWin),
		fmt.Sprintf("filenotify=%s", m.cfg.FileNotify),
	}
}

// Shutdown stops every live session, per spec.md §5 "On process shutdown,
// every live session is stopped."
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		_ = s.Stop()
	}
}
