// Package memdir is the in-memory DirectoryHandler of spec.md §4.2,
// "used for tests and for the 'int:' virtual root." Every node lives only
// in process memory; nothing survives a restart.
package memdir

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/pkg/vfs"
)

// Dir is one in-memory directory node.
type Dir struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]*Dir
}

// New creates an empty root directory.
func New() *Dir {
	return &Dir{
		files: make(map[string][]byte),
		dirs:  make(map[string]*Dir),
	}
}

func (d *Dir) GetFile(_ context.Context, name string) (io.ReadCloser, vfs.FileInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	content, ok := d.files[name]
	if !ok {
		return nil, vfs.FileInfo{}, apperr.New(apperr.NotFound, "no such file")
	}
	info := vfs.FileInfo{Name: name, Size: int64(len(content))}
	return io.NopCloser(bytes.NewReader(content)), info, nil
}

func (d *Dir) CreateFile(_ context.Context, name string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.dirs[name]; ok {
		return apperr.New(apperr.AlreadyExists, "a directory with that name exists")
	}
	cp := make([]byte, len(content))
	copy(cp, content)
	d.files[name] = cp
	return nil
}

func (d *Dir) RemoveFile(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[name]; !ok {
		return apperr.New(apperr.NotFound, "no such file")
	}
	delete(d.files, name)
	return nil
}

func (d *Dir) List(_ context.Context, fn func(vfs.FileInfo) error) error {
	d.mu.Lock()
	entries := make([]vfs.FileInfo, 0, len(d.files)+len(d.dirs))
	for name, content := range d.files {
		entries = append(entries, vfs.FileInfo{Name: name, Size: int64(len(content))})
	}
	for name := range d.dirs {
		entries = append(entries, vfs.FileInfo{Name: name, IsDir: true})
	}
	d.mu.Unlock()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dir) EnterDirectory(_ context.Context, name string) (vfs.DirectoryHandler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.dirs[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no such directory")
	}
	return sub, nil
}

func (d *Dir) CreateDirectory(_ context.Context, name string) (vfs.DirectoryHandler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[name]; ok {
		return nil, apperr.New(apperr.AlreadyExists, "a file with that name exists")
	}
	if existing, ok := d.dirs[name]; ok {
		return existing, nil
	}
	sub := New()
	d.dirs[name] = sub
	return sub, nil
}

func (d *Dir) RemoveDirectory(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.dirs[name]; !ok {
		return apperr.New(apperr.NotFound, "no such directory")
	}
	delete(d.dirs, name)
	return nil
}

var _ vfs.DirectoryHandler = (*Dir)(nil)
