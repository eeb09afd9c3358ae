// Package localdir is the operating-system-filesystem DirectoryHandler of
// spec.md §4.2 ("LocalFS: maps to operating-system directory; file size
// comes from the OS").
package localdir

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/pkg/vfs"
)

// Dir wraps one OS directory path.
type Dir struct {
	root string
}

// New wraps an existing OS directory. The caller is responsible for having
// created root beforehand (the top-level base directory of a file service
// instance, per spec.md §6's ".BASEDIR" configuration key).
func New(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) path(name string) string { return filepath.Join(d.root, name) }

func mapErr(err error) error {
	if os.IsNotExist(err) {
		return apperr.New(apperr.NotFound, "no such file or directory")
	}
	if os.IsExist(err) {
		return apperr.New(apperr.AlreadyExists, "already exists")
	}
	return apperr.New(apperr.Internal, err.Error())
}

func (d *Dir) GetFile(_ context.Context, name string) (io.ReadCloser, vfs.FileInfo, error) {
	f, err := os.Open(d.path(name))
	if err != nil {
		return nil, vfs.FileInfo{}, mapErr(err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, vfs.FileInfo{}, mapErr(err)
	}
	if st.IsDir() {
		f.Close()
		return nil, vfs.FileInfo{}, apperr.New(apperr.NotDirectory, "is a directory")
	}
	return f, vfs.FileInfo{Name: name, Size: st.Size()}, nil
}

func (d *Dir) CreateFile(_ context.Context, name string, content []byte) error {
	if err := os.WriteFile(d.path(name), content, 0o644); err != nil {
		return mapErr(err)
	}
	return nil
}

func (d *Dir) RemoveFile(_ context.Context, name string) error {
	if err := os.Remove(d.path(name)); err != nil {
		return mapErr(err)
	}
	return nil
}

func (d *Dir) List(_ context.Context, fn func(vfs.FileInfo) error) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return mapErr(err)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if err := fn(vfs.FileInfo{Name: e.Name(), Size: info.Size(), IsDir: e.IsDir()}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dir) EnterDirectory(_ context.Context, name string) (vfs.DirectoryHandler, error) {
	st, err := os.Stat(d.path(name))
	if err != nil {
		return nil, mapErr(err)
	}
	if !st.IsDir() {
		return nil, apperr.New(apperr.NotDirectory, "not a directory")
	}
	return &Dir{root: d.path(name)}, nil
}

func (d *Dir) CreateDirectory(_ context.Context, name string) (vfs.DirectoryHandler, error) {
	if err := os.Mkdir(d.path(name), 0o755); err != nil {
		if os.IsExist(err) {
			return &Dir{root: d.path(name)}, nil
		}
		return nil, mapErr(err)
	}
	return &Dir{root: d.path(name)}, nil
}

func (d *Dir) RemoveDirectory(_ context.Context, name string) error {
	if err := os.Remove(d.path(name)); err != nil {
		return mapErr(err)
	}
	return nil
}

var _ vfs.DirectoryHandler = (*Dir)(nil)
