package dirtree

import (
	"context"
	"io"
	"sync"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/internal/logging"
	"github.com/vgshost/core/pkg/vfs"
)

// DirectoryItem is the in-memory cached node of spec.md §4.2: lazily
// populated from its backend, idempotent to re-read, reset wholesale by
// forgetContent. All mutation of the cache happens through this type's
// methods — per spec.md §5, "those methods are the serialisation
// boundary."
type DirectoryItem struct {
	mu      sync.Mutex
	backend vfs.DirectoryHandler
	parent  *DirectoryItem
	name    string // this item's name within parent; "" for the root

	read            bool
	control         *ControlFile
	controlPresent  bool // a real .c2file was found on the backend
	children        map[string]*DirectoryItem
	files           map[string]vfs.FileInfo
	unknownContent  bool // blocks removal, per spec.md §4.2
	ownerCache      string
	ownerCached     bool
}

// NewRoot wraps backend as the root of a directory tree.
func NewRoot(backend vfs.DirectoryHandler) *DirectoryItem {
	return &DirectoryItem{backend: backend}
}

// Backend exposes the underlying handler, for operations (CP, SNAPCP) that
// need backend-specific fast paths.
func (it *DirectoryItem) Backend() vfs.DirectoryHandler {
	return it.backend
}

// Name returns this item's name within its parent ("" at the root).
func (it *DirectoryItem) Name() string { return it.name }

// readContent lazily lists the backend exactly once, classifying hidden
// entries per spec.md §4.2: "the single control file .c2file is captured;
// any other dotfile or unknown type marks the directory as having
// 'unknown content', which blocks removal." Errors are logged and leave
// the directory looking empty, matching "readContent [...] errors are
// logged and leave the directory appearing empty."
func (it *DirectoryItem) readContent(ctx context.Context) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.read {
		return nil
	}

	it.children = make(map[string]*DirectoryItem)
	it.files = make(map[string]vfs.FileInfo)
	it.control = NewControlFile()
	it.controlPresent = false

	err := it.backend.List(ctx, func(fi vfs.FileInfo) error {
		switch {
		case fi.IsDir:
			handler, err := it.backend.EnterDirectory(ctx, fi.Name)
			if err != nil {
				return err
			}
			it.children[fi.Name] = &DirectoryItem{parent: it, name: fi.Name, backend: handler}
		case fi.Name == ControlFileName:
			rc, _, err := it.backend.GetFile(ctx, fi.Name)
			if err != nil {
				return err
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return err
			}
			it.control = ParseControlFile(data)
			it.controlPresent = true
		case len(fi.Name) > 0 && fi.Name[0] == '.':
			it.unknownContent = true
		default:
			it.files[fi.Name] = fi
		}
		return nil
	})
	if err != nil {
		logging.WarnCtx(ctx, "directory read failed, treating as empty", "error", err)
		it.children = make(map[string]*DirectoryItem)
		it.files = make(map[string]vfs.FileInfo)
		it.control = NewControlFile()
	}
	it.read = true
	return nil
}

// Forget exposes forgetContent to callers outside the package (FileService's
// FORGET verb: "invalidate the cached tree at path without touching disk").
func (it *DirectoryItem) Forget() { it.forgetContent() }

// forgetContent resets the cache and all derived data to unread, per
// spec.md §4.2's forgetContent contract.
func (it *DirectoryItem) forgetContent() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.read = false
	it.control = nil
	it.children = nil
	it.files = nil
	it.unknownContent = false
	it.ownerCached = false
}

// UnknownContent reports whether this directory contains content the
// cache doesn't understand, which blocks removal (spec.md §4.2/§4.3 RM).
func (it *DirectoryItem) UnknownContent(ctx context.Context) (bool, error) {
	if err := it.readContent(ctx); err != nil {
		return false, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.unknownContent, nil
}

// HasControlFile reports whether a .c2file is present (RM requires it be
// removed first).
func (it *DirectoryItem) HasControlFile(ctx context.Context) (bool, error) {
	if err := it.readContent(ctx); err != nil {
		return false, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.controlPresent, nil
}

// Control returns the parsed control file, reading it first if needed.
func (it *DirectoryItem) Control(ctx context.Context) (*ControlFile, error) {
	if err := it.readContent(ctx); err != nil {
		return nil, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.control, nil
}

// WriteControlFile persists cf as this directory's .c2file and marks the
// cache authoritative. Per spec.md §5: "Control-file writes are the only
// persistent side effect [...] and must occur before the in-memory state
// is considered authoritative (on failure, forget the directory and
// re-read)."
func (it *DirectoryItem) WriteControlFile(ctx context.Context, cf *ControlFile) error {
	if err := it.backend.CreateFile(ctx, ControlFileName, cf.Encode()); err != nil {
		it.forgetContent()
		return err
	}
	it.mu.Lock()
	it.control = cf
	it.ownerCached = false
	it.mu.Unlock()
	return nil
}

// Owner resolves this directory's owner: its own "owner" property, or
// recursively the parent's, per spec.md §4.2 owner inheritance. "Changing
// the property refreshes the cached owner of the directory; children are
// not proactively refreshed (known issue, §9)" — hence the cache is only
// invalidated by WriteControlFile/forgetContent on *this* item.
func (it *DirectoryItem) Owner(ctx context.Context) (string, error) {
	it.mu.Lock()
	if it.ownerCached {
		o := it.ownerCache
		it.mu.Unlock()
		return o, nil
	}
	it.mu.Unlock()

	cf, err := it.Control(ctx)
	if err != nil {
		return "", err
	}
	if owner, ok := cf.Owner(); ok && owner != "" {
		it.mu.Lock()
		it.ownerCache, it.ownerCached = owner, true
		it.mu.Unlock()
		return owner, nil
	}
	if it.parent != nil {
		owner, err := it.parent.Owner(ctx)
		if err != nil {
			return "", err
		}
		it.mu.Lock()
		it.ownerCache, it.ownerCached = owner, true
		it.mu.Unlock()
		return owner, nil
	}
	return "", nil
}

// Permission computes user's effective permission on this directory, per
// spec.md §4.2's lookup order: admin/owner grants everything; else an
// explicit "perms:<user>" entry; else a "perms:*" entry; else nothing.
func (it *DirectoryItem) Permission(ctx context.Context, user string) (Permission, error) {
	if user == "" {
		return AllPermissions, nil
	}
	owner, err := it.Owner(ctx)
	if err != nil {
		return 0, err
	}
	if owner == user {
		return AllPermissions, nil
	}
	cf, err := it.Control(ctx)
	if err != nil {
		return 0, err
	}
	if p, ok := cf.PermsFor(user); ok {
		return p, nil
	}
	if p, ok := cf.PermsFor("*"); ok {
		return p, nil
	}
	return 0, nil
}

// VisibilityLevel classifies this directory for admin introspection, per
// spec.md §4.2: 0 = only owner, 1 = some per-user permissions granted,
// 2 = world permissions granted.
func (it *DirectoryItem) VisibilityLevel(ctx context.Context) (int, error) {
	cf, err := it.Control(ctx)
	if err != nil {
		return 0, err
	}
	if _, ok := cf.PermsFor("*"); ok {
		return 2, nil
	}
	if len(cf.PermsUsers()) > 0 {
		return 1, nil
	}
	return 0, nil
}

// EntryKind classifies what name currently resolves to in this (already
// read) directory.
type EntryKind int

const (
	EntryMissing EntryKind = iota
	EntryFile
	EntryDirectory
)

// Lookup classifies name within it without recursing into the backend
// beyond the read already cached.
func (it *DirectoryItem) Lookup(ctx context.Context, name string) (EntryKind, *DirectoryItem, vfs.FileInfo, error) {
	if err := it.readContent(ctx); err != nil {
		return EntryMissing, nil, vfs.FileInfo{}, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if child, ok := it.children[name]; ok {
		return EntryDirectory, child, vfs.FileInfo{}, nil
	}
	if fi, ok := it.files[name]; ok {
		return EntryFile, nil, fi, nil
	}
	return EntryMissing, nil, vfs.FileInfo{}, nil
}

// Entries returns the cached file and directory names (not the control
// file), for LS-style listing.
func (it *DirectoryItem) Entries(ctx context.Context) ([]vfs.FileInfo, error) {
	if err := it.readContent(ctx); err != nil {
		return nil, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	out := make([]vfs.FileInfo, 0, len(it.files)+len(it.children))
	for _, fi := range it.files {
		out = append(out, fi)
	}
	for name := range it.children {
		out = append(out, vfs.FileInfo{Name: name, IsDir: true})
	}
	return out, nil
}

// NoteFileWritten updates the cache after a successful CreateFile without
// a full re-list, so a PUT followed immediately by a GET in the same
// connection sees its own write.
func (it *DirectoryItem) NoteFileWritten(ctx context.Context, name string, size int64) error {
	if err := it.readContent(ctx); err != nil {
		return err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	it.files[name] = vfs.FileInfo{Name: name, Size: size}
	delete(it.children, name)
	return nil
}

// NoteFileRemoved mirrors NoteFileWritten for RemoveFile.
func (it *DirectoryItem) NoteFileRemoved(ctx context.Context, name string) error {
	if err := it.readContent(ctx); err != nil {
		return err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	delete(it.files, name)
	return nil
}

// Child returns (creating a placeholder if necessary) the cached item for
// a subdirectory just created in the backend.
func (it *DirectoryItem) Child(ctx context.Context, name string, handler vfs.DirectoryHandler) (*DirectoryItem, error) {
	if err := it.readContent(ctx); err != nil {
		return nil, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if child, ok := it.children[name]; ok {
		child.backend = handler
		return child, nil
	}
	child := &DirectoryItem{parent: it, name: name, backend: handler}
	it.children[name] = child
	delete(it.files, name)
	return child, nil
}

// ForgetChild removes name from the cache (used after a successful
// remove) without touching the backend.
func (it *DirectoryItem) ForgetChild(name string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	delete(it.children, name)
	delete(it.files, name)
}

// VisibilityError renders the 404-vs-403 discrimination rule of spec.md
// §4.2: "If the caller has List on the containing directory, 'does not
// exist' yields 404; otherwise 403."
func VisibilityError(ctx context.Context, dir *DirectoryItem, user string) error {
	perm, err := dir.Permission(ctx, user)
	if err != nil {
		return err
	}
	if perm.Has(PermList) {
		return apperr.New(apperr.NotFound, "no such file or directory")
	}
	return apperr.New(apperr.PermissionDenied, "permission denied")
}
