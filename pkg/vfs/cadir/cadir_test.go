package cadir

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vgshost/core/pkg/vfs"
)

func openTemp(t *testing.T) *Dir {
	t.Helper()
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestCreateFile_ThenGetFile_RoundTrips(t *testing.T) {
	ctx := context.Background()
	root := openTemp(t)

	require.NoError(t, root.CreateFile(ctx, "a.txt", []byte("hello")))

	rc, info, err := root.GetFile(ctx, "a.txt")
	require.NoError(t, err)
	defer rc.Close()
	require.Equal(t, int64(5), info.Size)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestCreateDirectory_NestedFile_RoundTrips(t *testing.T) {
	ctx := context.Background()
	root := openTemp(t)

	sub, err := root.CreateDirectory(ctx, "games")
	require.NoError(t, err)
	require.NoError(t, sub.CreateFile(ctx, "save.dat", []byte("state")))

	again, err := root.EnterDirectory(ctx, "games")
	require.NoError(t, err)
	rc, _, err := again.GetFile(ctx, "save.dat")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "state", string(data))
}

func TestRemoveFile_ThenGetFileFails(t *testing.T) {
	ctx := context.Background()
	root := openTemp(t)
	require.NoError(t, root.CreateFile(ctx, "a.txt", []byte("x")))
	require.NoError(t, root.RemoveFile(ctx, "a.txt"))

	_, _, err := root.GetFile(ctx, "a.txt")
	require.Error(t, err)
}

func TestRemoveDirectory_FailsWhenNotEmpty(t *testing.T) {
	ctx := context.Background()
	root := openTemp(t)
	sub, err := root.CreateDirectory(ctx, "d")
	require.NoError(t, err)
	require.NoError(t, sub.CreateFile(ctx, "f", []byte("x")))

	err = root.RemoveDirectory(ctx, "d")
	require.Error(t, err)
}

func TestList_ReportsFilesAndDirectories(t *testing.T) {
	ctx := context.Background()
	root := openTemp(t)
	require.NoError(t, root.CreateFile(ctx, "a.txt", []byte("12345")))
	_, err := root.CreateDirectory(ctx, "sub")
	require.NoError(t, err)

	var names []string
	require.NoError(t, root.List(ctx, func(fi vfs.FileInfo) error {
		names = append(names, fi.Name)
		return nil
	}))
	require.ElementsMatch(t, []string{"a.txt", "sub"}, names)
}

func TestCopyFile_ReusesObjectAcrossDirectories(t *testing.T) {
	ctx := context.Background()
	root := openTemp(t)
	require.NoError(t, root.CreateFile(ctx, "src.txt", []byte("payload")))

	destDirHandler, err := root.CreateDirectory(ctx, "dest")
	require.NoError(t, err)
	dest := destDirHandler.(*Dir)

	ok, err := root.CopyFile(ctx, dest, "src.txt", "copy.txt")
	require.NoError(t, err)
	require.True(t, ok)

	rc, _, err := dest.GetFile(ctx, "copy.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestSnapshotLifecycle(t *testing.T) {
	ctx := context.Background()
	root := openTemp(t)
	require.NoError(t, root.CreateFile(ctx, "a.txt", []byte("v1")))
	require.NoError(t, root.CreateSnapshot(ctx, "snap1"))

	require.NoError(t, root.CreateFile(ctx, "a.txt", []byte("v2")))

	require.NoError(t, root.CopyFromSnapshot(ctx, "snap1", "a.txt"))
	rc, _, err := root.GetFile(ctx, "a.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))

	snaps, err := root.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Contains(t, snaps, "snap1")

	require.NoError(t, root.RemoveSnapshot(ctx, "snap1"))
	snaps, err = root.ListSnapshots(ctx)
	require.NoError(t, err)
	require.NotContains(t, snaps, "snap1")
}
