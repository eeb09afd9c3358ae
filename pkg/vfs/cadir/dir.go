package cadir

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/pkg/vfs"
)

// Dir is a content-addressable DirectoryHandler. All Dirs descended from
// the same Open call share one objectStore; path tracks the sequence of
// directory names from the repository root to this Dir, which is what
// lets a mutation rebuild every ancestor tree up to a new root commit.
type Dir struct {
	store *objectStore
	path  []string
}

// Open opens (creating if necessary) a content-addressable repository
// rooted at dir.
func Open(dir string) (*Dir, error) {
	store, err := openObjectStore(dir)
	if err != nil {
		return nil, err
	}
	return &Dir{store: store}, nil
}

// Close runs a final gc pass and releases the backing object index. Safe
// to call once per Open.
func (d *Dir) Close() error {
	_ = d.store.gc()
	return d.store.Close()
}

func (d *Dir) rootTreeID() (string, error) {
	commitID, err := d.store.readRef(masterRef)
	if err != nil || commitID == "" {
		return "", err
	}
	content, err := d.store.Get(commitID, KindCommit)
	if err != nil {
		return "", err
	}
	treeID, _, err := decodeCommit(content)
	return treeID, err
}

func (d *Dir) entriesAtPrefix(prefix []string) ([]treeEntry, error) {
	treeID, err := d.rootTreeID()
	if err != nil {
		return nil, err
	}
	for _, seg := range prefix {
		if treeID == "" {
			return nil, apperr.New(apperr.NotFound, "no such directory")
		}
		entries, err := d.getTree(treeID)
		if err != nil {
			return nil, err
		}
		found := false
		for _, e := range entries {
			if e.Name == seg && e.IsDir {
				treeID, found = e.ID, true
				break
			}
		}
		if !found {
			return nil, apperr.New(apperr.NotFound, "no such directory")
		}
	}
	if treeID == "" {
		return nil, nil
	}
	return d.getTree(treeID)
}

func (d *Dir) getTree(id string) ([]treeEntry, error) {
	if id == "" {
		return nil, nil
	}
	content, err := d.store.Get(id, KindTree)
	if err != nil {
		return nil, err
	}
	return decodeTree(content)
}

func (d *Dir) loadOwnEntries() ([]treeEntry, error) {
	return d.entriesAtPrefix(d.path)
}

func replaceEntry(entries []treeEntry, name string, isDir bool, id string) []treeEntry {
	out := make([]treeEntry, 0, len(entries)+1)
	replaced := false
	for _, e := range entries {
		if e.Name == name {
			out = append(out, treeEntry{Name: name, IsDir: isDir, ID: id})
			replaced = true
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, treeEntry{Name: name, IsDir: isDir, ID: id})
	}
	return out
}

func removeEntry(entries []treeEntry, name string) []treeEntry {
	out := make([]treeEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return out
}

func findEntry(entries []treeEntry, name string, isDir bool) (treeEntry, bool) {
	for _, e := range entries {
		if e.Name == name && e.IsDir == isDir {
			return e, true
		}
	}
	return treeEntry{}, false
}

// commitOwnEntries rewrites this Dir's tree and every ancestor tree up to
// a brand-new root commit, then advances refs/heads/master to it. This is
// the CA backend's one mutation primitive: every Create/Remove ends here.
func (d *Dir) commitOwnEntries(newEntries []treeEntry) error {
	childID, err := d.store.Put(KindTree, encodeTree(newEntries))
	if err != nil {
		return err
	}

	for i := len(d.path) - 1; i >= 0; i-- {
		parentEntries, err := d.entriesAtPrefix(d.path[:i])
		if err != nil {
			return err
		}
		parentEntries = replaceEntry(parentEntries, d.path[i], true, childID)
		childID, err = d.store.Put(KindTree, encodeTree(parentEntries))
		if err != nil {
			return err
		}
	}

	oldCommitID, err := d.store.readRef(masterRef)
	if err != nil {
		return err
	}
	newCommitID, err := d.store.Put(KindCommit, encodeCommit(childID, oldCommitID))
	if err != nil {
		return err
	}
	if err := d.store.writeRef(masterRef, newCommitID); err != nil {
		return err
	}
	// Reclaim the blobs/trees the old master commit held alone now that
	// it's no longer live, per spec.md §4.2's object-count scenario. A
	// failed sweep just leaves garbage for the next commit to retry.
	_ = d.store.gc()
	return nil
}

func (d *Dir) GetFile(_ context.Context, name string) (io.ReadCloser, vfs.FileInfo, error) {
	entries, err := d.loadOwnEntries()
	if err != nil {
		return nil, vfs.FileInfo{}, err
	}
	entry, ok := findEntry(entries, name, false)
	if !ok {
		return nil, vfs.FileInfo{}, apperr.New(apperr.NotFound, "no such file")
	}
	content, err := d.store.Get(entry.ID, KindBlob)
	if err != nil {
		return nil, vfs.FileInfo{}, err
	}
	return io.NopCloser(bytes.NewReader(content)), vfs.FileInfo{Name: name, Size: int64(len(content))}, nil
}

func (d *Dir) CreateFile(_ context.Context, name string, content []byte) error {
	entries, err := d.loadOwnEntries()
	if err != nil {
		return err
	}
	if _, isDir := findEntry(entries, name, true); isDir {
		return apperr.New(apperr.AlreadyExists, "a directory with that name exists")
	}
	blobID, err := d.store.Put(KindBlob, content)
	if err != nil {
		return err
	}
	return d.commitOwnEntries(replaceEntry(entries, name, false, blobID))
}

func (d *Dir) RemoveFile(_ context.Context, name string) error {
	entries, err := d.loadOwnEntries()
	if err != nil {
		return err
	}
	if _, ok := findEntry(entries, name, false); !ok {
		return apperr.New(apperr.NotFound, "no such file")
	}
	return d.commitOwnEntries(removeEntry(entries, name))
}

func (d *Dir) List(_ context.Context, fn func(vfs.FileInfo) error) error {
	entries, err := d.loadOwnEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		info := vfs.FileInfo{Name: e.Name, IsDir: e.IsDir}
		if !e.IsDir {
			_, size, err := d.store.Stat(e.ID)
			if err != nil {
				return err
			}
			info.Size = int64(size)
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dir) EnterDirectory(_ context.Context, name string) (vfs.DirectoryHandler, error) {
	entries, err := d.loadOwnEntries()
	if err != nil {
		return nil, err
	}
	if _, ok := findEntry(entries, name, true); !ok {
		return nil, apperr.New(apperr.NotFound, "no such directory")
	}
	sub := make([]string, len(d.path)+1)
	copy(sub, d.path)
	sub[len(d.path)] = name
	return &Dir{store: d.store, path: sub}, nil
}

func (d *Dir) CreateDirectory(_ context.Context, name string) (vfs.DirectoryHandler, error) {
	entries, err := d.loadOwnEntries()
	if err != nil {
		return nil, err
	}
	if _, isFile := findEntry(entries, name, false); isFile {
		return nil, apperr.New(apperr.AlreadyExists, "a file with that name exists")
	}
	sub := make([]string, len(d.path)+1)
	copy(sub, d.path)
	sub[len(d.path)] = name

	if _, ok := findEntry(entries, name, true); ok {
		return &Dir{store: d.store, path: sub}, nil
	}

	emptyTreeID, err := d.store.Put(KindTree, encodeTree(nil))
	if err != nil {
		return nil, err
	}
	if err := d.commitOwnEntries(replaceEntry(entries, name, true, emptyTreeID)); err != nil {
		return nil, err
	}
	return &Dir{store: d.store, path: sub}, nil
}

func (d *Dir) RemoveDirectory(_ context.Context, name string) error {
	entries, err := d.loadOwnEntries()
	if err != nil {
		return err
	}
	entry, ok := findEntry(entries, name, true)
	if !ok {
		return apperr.New(apperr.NotFound, "no such directory")
	}
	childEntries, err := d.getTree(entry.ID)
	if err != nil {
		return err
	}
	if len(childEntries) > 0 {
		return apperr.New(apperr.Precondition, "directory not empty")
	}
	return d.commitOwnEntries(removeEntry(entries, name))
}

// CopyFile reuses the source blob object directly when both sides share
// the same object store, per spec.md §4.2 "Supports atomic copy (object
// reuse)". It declines (ok=false, err=nil) when destDir belongs to a
// different backend, letting the caller fall back to read+write.
func (d *Dir) CopyFile(_ context.Context, destDir vfs.DirectoryHandler, srcName, destName string) (bool, error) {
	dest, ok := destDir.(*Dir)
	if !ok || dest.store != d.store {
		return false, nil
	}

	srcEntries, err := d.loadOwnEntries()
	if err != nil {
		return false, err
	}
	srcEntry, ok := findEntry(srcEntries, srcName, false)
	if !ok {
		return false, apperr.New(apperr.NotFound, "no such file")
	}

	destEntries, err := dest.loadOwnEntries()
	if err != nil {
		return false, err
	}
	if _, isDir := findEntry(destEntries, destName, true); isDir {
		return false, apperr.New(apperr.AlreadyExists, "a directory with that name exists")
	}

	if err := dest.commitOwnEntries(replaceEntry(destEntries, destName, false, srcEntry.ID)); err != nil {
		return false, err
	}
	return true, nil
}

// CreateSnapshot duplicates the current master commit under a named ref,
// per spec.md §3 SUPPLEMENTED FEATURES: a snapshot is "a named additional
// ref pointing at a commit id [...] created by duplicating the current
// master commit." Only meaningful at the repository root.
func (d *Dir) CreateSnapshot(_ context.Context, name string) error {
	commitID, err := d.store.readRef(masterRef)
	if err != nil {
		return err
	}
	if commitID == "" {
		return apperr.New(apperr.Precondition, "nothing to snapshot")
	}
	return d.store.writeRef("snapshots/"+name, commitID)
}

func (d *Dir) RemoveSnapshot(_ context.Context, name string) error {
	if err := d.store.removeRef("snapshots/" + name); err != nil {
		return err
	}
	// Removing a snapshot ref can itself orphan objects only it kept live.
	_ = d.store.gc()
	return nil
}

func (d *Dir) ListSnapshots(_ context.Context) ([]string, error) {
	return d.store.listRefs("snapshots")
}

// CopyFromSnapshot resolves srcPath (slash-separated, relative to the
// snapshot's root) to a file within the named snapshot's tree, and copies
// it into the current directory under the same base name — the "SNAPCP"
// command of spec.md §6.
func (d *Dir) CopyFromSnapshot(_ context.Context, snapshot, srcPath string) error {
	commitID, err := d.store.readRef("snapshots/" + snapshot)
	if err != nil {
		return err
	}
	if commitID == "" {
		return apperr.New(apperr.NotFound, "no such snapshot")
	}
	content, err := d.store.Get(commitID, KindCommit)
	if err != nil {
		return err
	}
	treeID, _, err := decodeCommit(content)
	if err != nil {
		return err
	}

	segments := strings.Split(strings.Trim(srcPath, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return apperr.New(apperr.BadRequest, "empty snapshot path")
	}

	for _, seg := range segments[:len(segments)-1] {
		entries, err := d.getTree(treeID)
		if err != nil {
			return err
		}
		entry, ok := findEntry(entries, seg, true)
		if !ok {
			return apperr.New(apperr.NotFound, "no such path in snapshot")
		}
		treeID = entry.ID
	}

	base := segments[len(segments)-1]
	entries, err := d.getTree(treeID)
	if err != nil {
		return err
	}
	fileEntry, ok := findEntry(entries, base, false)
	if !ok {
		return apperr.New(apperr.NotFound, "no such file in snapshot")
	}

	ownEntries, err := d.loadOwnEntries()
	if err != nil {
		return err
	}
	return d.commitOwnEntries(replaceEntry(ownEntries, base, false, fileEntry.ID))
}

var (
	_ vfs.DirectoryHandler = (*Dir)(nil)
	_ vfs.CopyCapable      = (*Dir)(nil)
	_ vfs.Snapshotter      = (*Dir)(nil)
)
