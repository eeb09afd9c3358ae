package router

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vgshost/core/internal/idgen"
)

const echoChildScript = `#!/bin/sh
echo "100 ready"
while IFS= read -r line; do
  echo "200 OK"
  echo "."
done
`

func writeEchoChild(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	path := t.TempDir() + "/child.sh"
	require.NoError(t, os.WriteFile(path, []byte(echoChildScript), 0o755))
	return path
}

func newTestMultiplexer(t *testing.T, maxSessions int, newSessionsWin bool) *Multiplexer {
	child := writeEchoChild(t)
	cfg := Config{
		Server:         child,
		Timeout:        time.Hour,
		VirginTimeout:  time.Hour,
		MaxSessions:    maxSessions,
		NewSessionsWin: newSessionsWin,
	}
	return New(cfg, idgen.NewCounterGenerator(0), nil)
}

func TestNewSessionAndTalk(t *testing.T) {
	mux := newTestMultiplexer(t, 10, false)
	ctx := context.Background()

	id, err := mux.NewSession(ctx, []string{"-WDIR=x/y"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	reply, err := mux.Talk(ctx, id, "GET foo")
	require.NoError(t, err)
	require.Equal(t, "200 OK", reply.Header)

	list := mux.List(ctx)
	require.Len(t, list, 1)
	require.Equal(t, id, list[0].ID)
}

func TestCreationPolicy_ConflictRejectedByDefault(t *testing.T) {
	mux := newTestMultiplexer(t, 10, false)
	ctx := context.Background()

	_, err := mux.NewSession(ctx, []string{"-WDIR=x/y"})
	require.NoError(t, err)

	_, err = mux.NewSession(ctx, []string{"-WDIR=x/y"})
	require.Error(t, err)
}

func TestCreationPolicy_NewSessionsWinStopsConflicting(t *testing.T) {
	mux := newTestMultiplexer(t, 10, true)
	ctx := context.Background()

	first, err := mux.NewSession(ctx, []string{"-WDIR=x/y"})
	require.NoError(t, err)

	second, err := mux.NewSession(ctx, []string{"-WDIR=x/y"})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	list := mux.List(ctx)
	require.Len(t, list, 1)
	require.Equal(t, second, list[0].ID)
}

func TestCreationPolicy_MaxSessions(t *testing.T) {
	mux := newTestMultiplexer(t, 1, false)
	ctx := context.Background()

	_, err := mux.NewSession(ctx, []string{"-Ra"})
	require.NoError(t, err)

	_, err = mux.NewSession(ctx, []string{"-Rb"})
	require.Error(t, err)
}

func TestGroupActions_CloseByWildcard(t *testing.T) {
	mux := newTestMultiplexer(t, 10, false)
	ctx := context.Background()

	id1, err := mux.NewSession(ctx, []string{"-Wx/y/a"})
	require.NoError(t, err)

	closed, err := mux.Close(ctx, "-Rx/y*")
	require.NoError(t, err)
	require.Equal(t, []string{id1}, closed)

	require.Empty(t, mux.List(ctx))
}

func TestInfo(t *testing.T) {
	mux := newTestMultiplexer(t, 10, false)
	ctx := context.Background()

	id, err := mux.NewSession(ctx, []string{"-Ra", "-Wb"})
	require.NoError(t, err)

	args, err := mux.Info(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"-Ra", "-Wb"}, args)
}

func TestConfigLines(t *testing.T) {
	mux := newTestMultiplexer(t, 3, true)
	lines := mux.ConfigLines()
	require.Contains(t, lines, "maxsessions=3")
	require.Contains(t, lines, "newsessionswin=true")
}

type stubNotifier struct {
	forgotten []string
}

func (s *stubNotifier) ForgetDirectory(_ context.Context, path string) error {
	s.forgotten = append(s.forgotten, path)
	return nil
}

func TestSaveNotifiesFileService(t *testing.T) {
	child := writeEchoChild(t)
	notifier := &stubNotifier{}
	cfg := Config{Server: child, Timeout: time.Hour, VirginTimeout: time.Hour, MaxSessions: 10}
	mux := New(cfg, idgen.NewCounterGenerator(0), notifier)
	ctx := context.Background()

	id, err := mux.NewSession(ctx, []string{"-WDIR=some/path"})
	require.NoError(t, err)

	_, err = mux.Talk(ctx, id, "GET x")
	require.NoError(t, err)

	_, err = mux.Save(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"some/path"}, notifier.forgotten)
}

func TestSaveIsNoOpWhenUnmodified(t *testing.T) {
	mux := newTestMultiplexer(t, 10, false)
	ctx := context.Background()

	id, err := mux.NewSession(ctx, nil)
	require.NoError(t, err)

	_, err = mux.Save(ctx, id)
	require.NoError(t, err)
}

func TestTalkUnknownSession(t *testing.T) {
	mux := newTestMultiplexer(t, 10, false)
	_, err := mux.Talk(context.Background(), "nope", "GET x")
	require.Error(t, err)
}
