package fileservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/pkg/dirtree"
	"github.com/vgshost/core/pkg/vfs/memdir"
)

func newTestService() *Service {
	root := dirtree.NewRoot(memdir.New())
	return New(root, Config{MaxFileSize: 1 << 20})
}

func TestPutThenGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Put(ctx, "hello.txt", "world", ""))
	got, err := s.Get(ctx, "hello.txt", "")
	require.NoError(t, err)
	require.Equal(t, "world", got)
}

func TestPut_OversizedRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	s.cfg.MaxFileSize = 4

	err := s.Put(ctx, "big.txt", "toolong", "")
	require.Error(t, err)
}

func TestGet_PermissionDeniedWithoutRead(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Mkdir(ctx, "priv", ""))
	require.NoError(t, s.Put(ctx, "priv/secret.txt", "data", ""))

	cf := dirtree.NewControlFile()
	require.NoError(t, cf.SetOwner("1001"))
	dir, err := s.resolver.ResolveDirectory(ctx, "priv", "")
	require.NoError(t, err)
	require.NoError(t, dir.WriteControlFile(ctx, cf))

	_, err = s.Get(ctx, "priv/secret.txt", "1002")
	require.Error(t, err)
	require.Equal(t, apperr.PermissionDenied, apperr.Code(err))
}

func TestResolveFileForRead_404VersusForbidden(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Mkdir(ctx, "priv", ""))
	cf := dirtree.NewControlFile()
	require.NoError(t, cf.SetOwner("1001"))
	dir, err := s.resolver.ResolveDirectory(ctx, "priv", "")
	require.NoError(t, err)
	require.NoError(t, dir.WriteControlFile(ctx, cf))

	_, err = s.Get(ctx, "priv/missing.txt", "1002")
	require.Error(t, err)
	require.Equal(t, apperr.PermissionDenied, apperr.Code(err))

	cf2, err := dir.Control(ctx)
	require.NoError(t, err)
	require.NoError(t, cf2.SetPerms("1002", dirtree.PermRead|dirtree.PermList))
	require.NoError(t, dir.WriteControlFile(ctx, cf2))

	_, err = s.Get(ctx, "priv/missing.txt", "1002")
	require.Error(t, err)
	require.Equal(t, apperr.NotFound, apperr.Code(err))
}

func TestCp_FallsBackToReadWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Put(ctx, "a.txt", "hello", ""))
	require.NoError(t, s.Cp(ctx, "a.txt", "b.txt", ""))

	got, err := s.Get(ctx, "b.txt", "")
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func TestCp_RejectsDirectoryDestination(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Put(ctx, "a.txt", "hello", ""))
	require.NoError(t, s.Mkdir(ctx, "b", ""))

	err := s.Cp(ctx, "a.txt", "b", "")
	require.Error(t, err)
}

func TestRm_FileAndEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Put(ctx, "a.txt", "hello", ""))
	require.NoError(t, s.Rm(ctx, "a.txt", ""))
	_, err := s.Get(ctx, "a.txt", "")
	require.Error(t, err)

	require.NoError(t, s.Mkdir(ctx, "empty", ""))
	require.NoError(t, s.Rm(ctx, "empty", ""))
}

func TestRm_DirectoryNotEmptyRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Mkdir(ctx, "d", ""))
	require.NoError(t, s.Put(ctx, "d/f.txt", "x", ""))

	err := s.Rm(ctx, "d", "")
	require.Error(t, err)
}

func TestRmdir_RemovesSubtree(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.MkdirHier(ctx, "a/b/c", ""))
	require.NoError(t, s.Put(ctx, "a/b/c/f.txt", "x", ""))
	require.NoError(t, s.Put(ctx, "a/b/g.txt", "y", ""))

	require.NoError(t, s.Rmdir(ctx, "a", ""))

	_, err := s.Ls(ctx, "", "")
	require.NoError(t, err)
	entries, err := s.Ls(ctx, "", "")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMkdirHier_FailsOnNonDirectoryPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Put(ctx, "x", "y", ""))
	err := s.MkdirHier(ctx, "x/y/z", "")
	require.Error(t, err)
}

func TestContentSnooping_PconfigSetsGameNameProperty(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Mkdir(ctx, "game", ""))
	body := "# comment\n\n  gamename = Battle For Arda  \nother=ignored\n"
	require.NoError(t, s.Put(ctx, "game/pconfig.src", body, ""))

	v, ok, err := s.PropGet(ctx, "game", "name", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Battle For Arda", v)
}

func TestContentSnooping_OnlyPconfigIsSnooped(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	require.NoError(t, s.Mkdir(ctx, "game", ""))
	require.NoError(t, s.Put(ctx, "game/other.src", "gamename=Nope", ""))

	_, ok, err := s.PropGet(ctx, "game", "name", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUsage_CountsFilesAndDirectories(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Mkdir(ctx, "d", ""))
	require.NoError(t, s.Put(ctx, "d/a.txt", "12345", ""))
	require.NoError(t, s.Put(ctx, "top.txt", "x", ""))

	usage, err := s.Usage(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, int64(4), usage.Items) // root + d + d/a.txt + top.txt
	require.True(t, usage.KB >= int64(3))
}

func TestSetPermAndLsPerm(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Mkdir(ctx, "shared", ""))
	require.NoError(t, s.SetPerm(ctx, "shared", "1002", "rl", ""))

	lines, err := s.LsPerm(ctx, "shared", "")
	require.NoError(t, err)
	require.Contains(t, lines, "1002 rl")
}

func TestFtest_NeverRaises(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	require.NoError(t, s.Put(ctx, "a.txt", "x", ""))

	results := s.Ftest(ctx, []string{"a.txt", "missing.txt"}, "")
	require.Equal(t, []string{"1", "0"}, results)
}

func TestStatGame_ProbesDirectory(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	require.NoError(t, s.Mkdir(ctx, "game", ""))
	require.NoError(t, s.Put(ctx, "game/player1.rst", "x", ""))

	overview, err := s.StatGame(ctx, "game", "")
	require.NoError(t, err)
	require.NotNil(t, overview)
	require.Len(t, overview.Slots, 1)
}

func TestStatReg_NoKeyFileYieldsNil(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	require.NoError(t, s.Mkdir(ctx, "game", ""))

	reg, err := s.StatReg(ctx, "game", "")
	require.NoError(t, err)
	require.Nil(t, reg)
}

func TestConnDispatch_UserVerbAndStat(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	conn := NewConn(svc)

	_, err := conn.Dispatch(ctx, []string{"USER", "1001"})
	require.NoError(t, err)

	_, err = conn.Dispatch(ctx, []string{"PUT", "a.txt", "hi"})
	require.NoError(t, err)

	v, err := conn.Dispatch(ctx, []string{"GET", "a.txt"})
	require.NoError(t, err)
	require.Equal(t, "hi", v)
}

func TestConnDispatch_UnknownCommand(t *testing.T) {
	ctx := context.Background()
	conn := NewConn(newTestService())
	_, err := conn.Dispatch(ctx, []string{"BOGUS"})
	require.Error(t, err)
}

func TestConnDispatch_LsRegFlags(t *testing.T) {
	ctx := context.Background()
	conn := NewConn(newTestService())

	_, err := conn.Dispatch(ctx, []string{"LSREG", "", "-UNIQ", "-KEY", "42"})
	require.NoError(t, err)

	_, err = conn.Dispatch(ctx, []string{"LSREG", "", "-KEY"})
	require.Error(t, err)
}
