// Package session implements the subprocess-backed session of spec.md
// §4.1: a long-lived child program, its talk/save protocol, and the
// conflict markers the multiplexer arbitrates creation with.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/internal/logging"
	"github.com/vgshost/core/internal/wire"
)

// State is the session state machine of spec.md §4.1: Inactive -> Running
// -> Terminated.
type State int

const (
	Inactive State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return "inactive"
	}
}

// Reply is one talk()/save() round trip's result: the header line plus any
// multi-line body (spec.md §4.1 step 5-6).
type Reply struct {
	Header string
	Body   []string
}

// String renders Reply the way a caller over the line protocol expects to
// see it: header, then each body line, with no trailing terminator (the
// multiplexer's line protocol ends a response by closing the connection,
// not with a "." line).
func (r Reply) String() string {
	if len(r.Body) == 0 {
		return r.Header
	}
	return r.Header + "\n" + strings.Join(r.Body, "\n")
}

// Session wraps one spawned child process, per spec.md §4.1 "A session
// wraps one long-lived child program started with a caller-provided
// argument vector."
type Session struct {
	mu sync.Mutex

	ID   string
	Args []string // caller-provided argument vector, program path not included

	cmd       *exec.Cmd
	stdinPipe io.WriteCloser
	stdin     *bufio.Writer
	stdout    *bufio.Reader

	state State
	pid   int

	startedAt  time.Time
	lastAccess time.Time
	used       bool
	modified   bool
}

// New constructs a session in the Inactive state. Start must be called
// before any talk/save.
func New(id string, args []string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Args:       append([]string(nil), args...),
		state:      Inactive,
		startedAt:  now,
		lastAccess: now,
	}
}

// Start spawns program with s.Args appended, per the startup contract of
// spec.md §4.1: "After fork/spawn, multiplexer reads one line from child.
// If it begins with 100, session is Running; otherwise, any further
// output is logged as trace, the child is killed, and start fails."
func (s *Session) Start(ctx context.Context, program string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := exec.CommandContext(ctx, program, s.Args...)
	// Run the child in its own process group so Stop can kill everything it
	// may have forked, not just the immediate child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return apperr.Newf(apperr.Internal, "session: stdin pipe: %v", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return apperr.Newf(apperr.Internal, "session: stdout pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return apperr.Newf(apperr.Internal, "session: cannot start: %v", err)
	}

	reader := bufio.NewReader(stdoutPipe)
	line, err := wire.NewLineReader(reader).ReadLine()
	if err != nil || !strings.HasPrefix(line, "100") {
		if err == nil {
			logging.WarnCtx(ctx, "session startup rejected", "session_id", s.ID, "line", line)
		}
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return apperr.New(apperr.Internal, "cannot start")
	}

	s.cmd = cmd
	s.stdinPipe = stdinPipe
	s.stdin = bufio.NewWriter(stdinPipe)
	s.stdout = reader
	s.pid = cmd.Process.Pid
	s.state = Running
	s.startedAt = time.Now()
	s.lastAccess = s.startedAt
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Used/Modified report the flags spec.md §4.1 Timeout describes: "A
// session is used once any talk has occurred; modified (needs save)
// unless the most recent command was SAVE."
func (s *Session) Used() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *Session) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

// IdleSince reports how long it has been since the session's last talk.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastAccess)
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Talk implements spec.md §4.1's talk(id, cmd) protocol.
func (s *Session) Talk(ctx context.Context, cmd string) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.talkLocked(ctx, cmd)
}

func (s *Session) talkLocked(ctx context.Context, cmd string) (Reply, error) {
	if s.state != Running {
		return Reply{}, apperr.New(apperr.Precondition, "session timeout")
	}

	line := wire.EnsureTrailingNewline(cmd)
	if strings.HasPrefix(strings.ToUpper(cmd), "POST") {
		line += ".\n"
	}

	s.lastAccess = time.Now()
	s.used = true
	s.modified = !strings.HasPrefix(strings.ToUpper(cmd), "SAVE")

	if _, err := s.stdin.WriteString(line); err != nil || s.stdin.Flush() != nil {
		logging.ErrorCtx(ctx, "session write failed", "session_id", s.ID)
		s.stopLocked()
		return Reply{}, apperr.New(apperr.Precondition, "session timeout")
	}

	reader := wire.NewLineReader(s.stdout)
	header, err := reader.ReadLine()
	if err != nil || header == "" {
		logging.ErrorCtx(ctx, "session protocol error", "session_id", s.ID)
		s.stopLocked()
		return Reply{}, apperr.New(apperr.Precondition, "session timeout")
	}

	var body []string
	if strings.HasPrefix(header, "2") {
		body, err = reader.ReadMultiline()
		if err != nil {
			logging.ErrorCtx(ctx, "session protocol error", "session_id", s.ID)
			s.stopLocked()
			return Reply{}, apperr.New(apperr.Precondition, "session timeout")
		}
	}

	return Reply{Header: header, Body: body}, nil
}

// Save implements spec.md §4.1's save(id, notify): "no-op if !modified.
// Otherwise send SAVE\n to the child, read its response." Callers handle
// the notify/forgetDirectory follow-up themselves (it needs the file
// service, which this package does not depend on).
func (s *Session) Save(ctx context.Context) (Reply, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.modified {
		return Reply{}, false, nil
	}
	reply, err := s.talkLocked(ctx, "SAVE")
	return reply, true, err
}

// Stop terminates the child, draining its output and reaping it, per
// spec.md §5 "On process shutdown, every live session is stopped (sending
// EOF, draining output, reaping)."
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.state != Running {
		return nil
	}
	s.state = Terminated
	if s.stdinPipe != nil {
		_ = s.stdinPipe.Close() // sends EOF, per spec.md §5's shutdown sequence
	}
	if s.cmd != nil && s.cmd.Process != nil {
		done := make(chan error, 1)
		go func() {
			_, _ = io.Copy(io.Discard, s.stdout) // drain until the child closes its output
			done <- s.cmd.Wait()
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = unix.Kill(-s.pid, syscall.SIGKILL) // whole process group
			<-done
		}
	}
	return nil
}

// ConflictMarkers returns the subset of s.Args that begin with "-R" or
// "-W", per spec.md §4.1 "Each argument beginning with -R or -W is a
// conflict marker."
func (s *Session) ConflictMarkers() []string {
	var out []string
	for _, a := range s.Args {
		if strings.HasPrefix(a, "-R") || strings.HasPrefix(a, "-W") {
			out = append(out, a)
		}
	}
	return out
}

// Conflicts reports whether marker query conflicts with marker candidate,
// per spec.md §4.1: "Two markers conflict iff (a) both are markers, (b) at
// least one begins with -W, and (c) their tails match." Tail matching is
// exact, except that a query tail ending in "*" matches a candidate tail
// that equals the query up to "*" or has a "/" at that position.
func Conflicts(query, candidate string) bool {
	if !isMarker(query) || !isMarker(candidate) {
		return false
	}
	if !strings.HasPrefix(query, "-W") && !strings.HasPrefix(candidate, "-W") {
		return false
	}
	return tailsMatch(query[2:], candidate[2:])
}

func isMarker(s string) bool {
	return strings.HasPrefix(s, "-R") || strings.HasPrefix(s, "-W")
}

func tailsMatch(queryTail, candidateTail string) bool {
	star := strings.IndexByte(queryTail, '*')
	if star < 0 {
		return queryTail == candidateTail
	}
	prefix := queryTail[:star]
	if !strings.HasPrefix(candidateTail, prefix) {
		return false
	}
	rest := candidateTail[len(prefix):]
	return rest == "" || rest[0] == '/'
}

// AnyConflict reports whether any marker of query conflicts with any
// marker of candidate.
func AnyConflict(queryMarkers, candidateMarkers []string) bool {
	for _, q := range queryMarkers {
		for _, c := range candidateMarkers {
			if Conflicts(q, c) {
				return true
			}
		}
	}
	return false
}

// Summary is the read-only projection LIST/INFO render from, per spec.md
// §6's "id pid age usedflag modflag args…" row shape.
type Summary struct {
	ID       string
	Pid      int
	AgeMin   int
	Used     bool
	Modified bool
	Args     []string
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:       s.ID,
		Pid:      s.pid,
		AgeMin:   int(time.Since(s.lastAccess).Minutes()),
		Used:     s.used,
		Modified: s.modified,
		Args:     append([]string(nil), s.Args...),
	}
}

// FormatListRow renders one LIST row, per the original's whole-minutes-age
// + raw argument vector trace formatting (SPEC_FULL.md §3).
func (sm Summary) FormatListRow() string {
	usedFlag, modFlag := "0", "0"
	if sm.Used {
		usedFlag = "1"
	}
	if sm.Modified {
		modFlag = "1"
	}
	return fmt.Sprintf("%s %d %d %s %s %s", sm.ID, sm.Pid, sm.AgeMin, usedFlag, modFlag, strings.Join(sm.Args, " "))
}
