// Package vfs defines the DirectoryHandler backend abstraction of
// spec.md §4.2: a directory-shaped storage backend with three
// implementations (pkg/vfs/localdir, pkg/vfs/memdir, pkg/vfs/cadir), all
// satisfying the same interface so pkg/dirtree's cache and pkg/fileservice's
// operations never know which one they're talking to.
package vfs

import (
	"context"
	"io"
)

// FileInfo describes one entry of a directory listing.
type FileInfo struct {
	Name  string
	Size  int64
	IsDir bool
}

// DirectoryHandler is the backend abstraction of spec.md §4.2: "get/create/
// remove file, list content via callback, enter subdirectory, create/remove
// subdirectory, optional copy-file [...], optional snapshot support."
type DirectoryHandler interface {
	// GetFile opens name for reading along with its FileInfo. Callers must
	// Close the returned ReadCloser.
	GetFile(ctx context.Context, name string) (io.ReadCloser, FileInfo, error)

	// CreateFile writes content as name, replacing any existing file of
	// the same name.
	CreateFile(ctx context.Context, name string, content []byte) error

	// RemoveFile deletes the file named name.
	RemoveFile(ctx context.Context, name string) error

	// List invokes fn once per directory entry (files and subdirectories,
	// the control file included; pkg/dirtree's cache sets it apart from the
	// other entries). Listing stops at the first error fn returns.
	List(ctx context.Context, fn func(FileInfo) error) error

	// EnterDirectory returns a handler rooted at the named subdirectory.
	EnterDirectory(ctx context.Context, name string) (DirectoryHandler, error)

	// CreateDirectory creates and returns a handler for a new subdirectory.
	CreateDirectory(ctx context.Context, name string) (DirectoryHandler, error)

	// RemoveDirectory deletes the (already-emptied) subdirectory named name.
	RemoveDirectory(ctx context.Context, name string) error
}

// CopyCapable is implemented by backends that can copy a file without a
// read+write round trip (the CA backend reuses the source object). Callers
// probe for this interface and fall back to GetFile+CreateFile when a
// backend doesn't implement it, or when it declines (ok=false), per
// spec.md §4.3 CP: "Attempt backend copy [...]; on decline, read the
// source and write it."
type CopyCapable interface {
	CopyFile(ctx context.Context, destDir DirectoryHandler, srcName, destName string) (ok bool, err error)
}

// Snapshotter is implemented only by the content-addressable backend
// (spec.md §4.2: "Supports [...] snapshotting (additional refs)").
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, name string) error
	CopyFromSnapshot(ctx context.Context, snapshot, path string) error
	RemoveSnapshot(ctx context.Context, name string) error
	ListSnapshots(ctx context.Context) ([]string, error)
}
