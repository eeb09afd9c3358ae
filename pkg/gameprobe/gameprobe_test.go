package gameprobe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vgshost/core/pkg/vfs"
	"github.com/vgshost/core/pkg/vfs/memdir"
)

func TestProbeRegistration_Absent(t *testing.T) {
	ctx := context.Background()
	dir := memdir.New()
	reg, err := ProbeRegistration(ctx, dirLister{dir}, dir)
	require.NoError(t, err)
	require.Nil(t, reg)
}

func TestProbeRegistration_ParsesFourFieldRecord(t *testing.T) {
	ctx := context.Background()
	dir := memdir.New()
	require.NoError(t, dir.CreateFile(ctx, KeyFileName, []byte("1\nAcme Corp\nLicensed\n4242\n")))

	reg, err := ProbeRegistration(ctx, dirLister{dir}, dir)
	require.NoError(t, err)
	require.NotNil(t, reg)
	require.True(t, reg.IsRegistered)
	require.Equal(t, "Acme Corp", reg.Label1)
	require.Equal(t, "Licensed", reg.Label2)
	require.Equal(t, 4242, reg.KeyID)
	require.Equal(t, KeyFileName, reg.FileName)
}

func TestProbeRegistration_MalformedSwallowsError(t *testing.T) {
	ctx := context.Background()
	dir := memdir.New()
	require.NoError(t, dir.CreateFile(ctx, KeyFileName, []byte("garbage")))

	reg, err := ProbeRegistration(ctx, dirLister{dir}, dir)
	require.NoError(t, err)
	require.Nil(t, reg)
}

func TestProbeGame_NoResultFilesYieldsNoOverview(t *testing.T) {
	ctx := context.Background()
	dir := memdir.New()
	overview, err := ProbeGame(ctx, dirLister{dir}, dir)
	require.NoError(t, err)
	require.Nil(t, overview)
}

func TestProbeGame_DefaultNamesAndMissingFilesWhenRaceNmAbsent(t *testing.T) {
	ctx := context.Background()
	dir := memdir.New()
	require.NoError(t, dir.CreateFile(ctx, "player1.rst", []byte("x")))
	require.NoError(t, dir.CreateFile(ctx, "player3.rst", []byte("x")))

	overview, err := ProbeGame(ctx, dirLister{dir}, dir)
	require.NoError(t, err)
	require.NotNil(t, overview)
	require.Len(t, overview.Slots, 2)
	require.Equal(t, 1, overview.Slots[0].Number)
	require.Equal(t, DefaultRaceNames[0], overview.Slots[0].Name)
	require.Equal(t, 3, overview.Slots[1].Number)
	require.Equal(t, DefaultRaceNames[2], overview.Slots[1].Name)

	require.Contains(t, overview.MissingFiles, RaceNameFile)
	for _, f := range fixedFiles {
		require.Contains(t, overview.MissingFiles, f)
	}
	require.Contains(t, overview.MissingFiles, "xyplan.dat")
}

func TestProbeGame_RaceNmNamesOverrideDefaults(t *testing.T) {
	ctx := context.Background()
	dir := memdir.New()
	require.NoError(t, dir.CreateFile(ctx, "player1.rst", []byte("x")))
	require.NoError(t, dir.CreateFile(ctx, RaceNameFile, []byte("Solar Federation\nSand Demons\n")))

	overview, err := ProbeGame(ctx, dirLister{dir}, dir)
	require.NoError(t, err)
	require.Len(t, overview.Slots, 1)
	require.Equal(t, "Solar Federation", overview.Slots[0].Name)
	require.NotContains(t, overview.MissingFiles, RaceNameFile)
}

func TestProbeGame_NoMissingFilesWhenAllPresent(t *testing.T) {
	ctx := context.Background()
	dir := memdir.New()
	require.NoError(t, dir.CreateFile(ctx, "player1.rst", []byte("x")))
	require.NoError(t, dir.CreateFile(ctx, RaceNameFile, []byte("Solar Federation\n")))
	require.NoError(t, dir.CreateFile(ctx, "xyplan1.dat", []byte("x")))
	for _, f := range fixedFiles {
		require.NoError(t, dir.CreateFile(ctx, f, []byte("x")))
	}

	overview, err := ProbeGame(ctx, dirLister{dir}, dir)
	require.NoError(t, err)
	require.Empty(t, overview.MissingFiles)
}

func TestFilterUnique(t *testing.T) {
	regs := []*Registration{
		{KeyID: 1}, {KeyID: 2}, {KeyID: 1}, nil,
	}
	out := FilterUnique(regs)
	require.Len(t, out, 2)
}

func TestFilterByKeyID(t *testing.T) {
	regs := []*Registration{{KeyID: 1}, {KeyID: 2}, {KeyID: 1}}
	out := FilterByKeyID(regs, 1)
	require.Len(t, out, 2)
}

// dirLister adapts a vfs.DirectoryHandler to the lister interface by
// listing its entries directly, standing in for dirtree.DirectoryItem's
// cached Entries in these backend-level tests.
type dirLister struct {
	backend vfs.DirectoryHandler
}

func (d dirLister) Entries(ctx context.Context) ([]vfs.FileInfo, error) {
	var out []vfs.FileInfo
	err := d.backend.List(ctx, func(fi vfs.FileInfo) error {
		out = append(out, fi)
		return nil
	})
	return out, err
}
