package session

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeChild spawns a tiny shell script that speaks the talk protocol:
// prints "100 ready" on startup, then answers every "2xx" reply with a
// body terminated by a lone ".", per spec.md §4.1 step 5-6.
const fakeChildScript = `#!/bin/sh
echo "100 ready"
while IFS= read -r line; do
  case "$line" in
    POST*)
      echo "200 OK"
      echo "line one"
      echo "line two"
      echo "."
      ;;
    BAD*)
      : # no response at all, simulating a protocol error
      ;;
    *)
      echo "200 OK"
      echo "."
      ;;
  esac
done
`

func writeFakeChild(t *testing.T) string {
	t.Helper()
	path := t.TempDir() + "/child.sh"
	require.NoError(t, writeExecutable(path, fakeChildScript))
	return path
}

func writeExecutable(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o755)
}

func TestConflicts(t *testing.T) {
	require.True(t, Conflicts("-Wfoo", "-Rfoo"))
	require.True(t, Conflicts("-Rfoo", "-Wfoo"))
	require.False(t, Conflicts("-Rfoo", "-Rfoo")) // readers coexist
	require.False(t, Conflicts("-Wfoo", "-Wbar"))
	require.True(t, Conflicts("-Wx/y*", "-Rx/y/z"))
	require.True(t, Conflicts("-Wx/y*", "-Rx/y"))
	require.False(t, Conflicts("-Wx/y*", "-Rx/yz"))
	require.False(t, Conflicts("plain", "-Wfoo"))
}

func TestAnyConflict(t *testing.T) {
	require.True(t, AnyConflict([]string{"-Rfoo", "-Wbar"}, []string{"-Wbar"}))
	require.False(t, AnyConflict([]string{"-Rfoo"}, []string{"-Rfoo", "-Rbaz"}))
}

func TestConflictMarkers(t *testing.T) {
	s := New("s1", []string{"-WDIR=x/y", "plain", "-Rfoo"})
	require.Equal(t, []string{"-WDIR=x/y", "-Rfoo"}, s.ConflictMarkers())
}

func TestFormatListRow(t *testing.T) {
	sm := Summary{ID: "7", Pid: 123, AgeMin: 4, Used: true, Modified: false, Args: []string{"-WDIR=x"}}
	require.Equal(t, "7 123 4 1 0 -WDIR=x", sm.FormatListRow())
}

func TestStartTalkSave(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	child := writeFakeChild(t)

	s := New("s1", nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, child))
	require.Equal(t, Running, s.State())
	require.False(t, s.Used())

	reply, err := s.Talk(ctx, "GET foo")
	require.NoError(t, err)
	require.Equal(t, "200 OK", reply.Header)
	require.True(t, s.Used())
	require.True(t, s.Modified())

	reply, err = s.Talk(ctx, "POST bar")
	require.NoError(t, err)
	require.Equal(t, []string{"line one", "line two"}, reply.Body)

	_, saved, err := s.Save(ctx)
	require.NoError(t, err)
	require.True(t, saved)
	require.False(t, s.Modified())

	_, saved, err = s.Save(ctx)
	require.NoError(t, err)
	require.False(t, saved) // no-op: not modified

	require.NoError(t, s.Stop())
	require.Equal(t, Terminated, s.State())
}

func TestStartRejectsNonHundredBanner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	path := t.TempDir() + "/bad.sh"
	require.NoError(t, writeExecutable(path, "#!/bin/sh\necho \"500 nope\"\n"))

	s := New("s2", nil)
	err := s.Start(context.Background(), path)
	require.Error(t, err)
	require.NotEqual(t, Running, s.State())
}

func TestTalkOnInactiveSessionReturnsSessionTimeout(t *testing.T) {
	s := New("s3", nil)
	_, err := s.Talk(context.Background(), "GET x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "session timeout")
}
