// Package fileservice implements the top-level file operations of
// spec.md §4.3: permission enforcement, file-size limits, content
// snooping, and dispatch of the numbered verbs over pkg/dirtree's cache
// and pkg/vfs's backends.
package fileservice

import (
	"context"
	"fmt"
	"io"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/pkg/dirtree"
	"github.com/vgshost/core/pkg/vfs"
)

// Config holds the per-instance limits of spec.md §6's file-service
// configuration keys (".SIZELIMIT"; ".THREADS" is recognised but ignored,
// per the spec's own note, since this server's concurrency model needs no
// explicit thread pool size).
type Config struct {
	MaxFileSize int64
}

// Service is one file-service instance: a single directory tree rooted at
// a DirectoryHandler backend, per spec.md §4.2/§4.3.
type Service struct {
	resolver *dirtree.Resolver
	cfg      Config
}

func New(root *dirtree.DirectoryItem, cfg Config) *Service {
	return &Service{resolver: dirtree.NewResolver(root), cfg: cfg}
}

// StatResult is STAT's reply shape.
type StatResult struct {
	Name  string
	IsDir bool
	Size  int64
}

// UsageResult is USAGE's reply shape, per spec.md §4.3: "recursive count
// of files + directories and kilobyte total."
type UsageResult struct {
	Items int64
	KB    int64
}

// resolveFileForRead resolves path's containing directory and checks Read
// on it (files carry no permissions of their own — access is governed by
// the containing directory, per spec.md §4.2's "a STAT on a file checks
// the containing directory"). Returns the parent item, the file's own
// name, and its FileInfo.
func (s *Service) resolveFileForRead(ctx context.Context, path, user string) (*dirtree.DirectoryItem, string, vfs.FileInfo, error) {
	parent, name, err := s.resolver.ResolveParent(ctx, path, user)
	if err != nil {
		return nil, "", vfs.FileInfo{}, err
	}
	if err := dirtree.ValidateComponent(name); err != nil {
		return nil, "", vfs.FileInfo{}, err
	}
	kind, _, fi, err := parent.Lookup(ctx, name)
	if err != nil {
		return nil, "", vfs.FileInfo{}, err
	}
	if kind == dirtree.EntryDirectory {
		return nil, "", vfs.FileInfo{}, apperr.New(apperr.NotDirectory, "is a directory")
	}
	if kind == dirtree.EntryMissing {
		return nil, "", vfs.FileInfo{}, dirtree.VisibilityError(ctx, parent, user)
	}
	perm, err := parent.Permission(ctx, user)
	if err != nil {
		return nil, "", vfs.FileInfo{}, err
	}
	if !perm.Has(dirtree.PermRead) {
		return nil, "", vfs.FileInfo{}, apperr.New(apperr.PermissionDenied, "permission denied")
	}
	return parent, name, fi, nil
}

// resolveDirectoryForWrite resolves path as a directory and requires Write
// on it, the common case for PUT, MKDIR, RM (on a child), and friends.
func (s *Service) resolveDirectoryForWrite(ctx context.Context, path, user string) (*dirtree.DirectoryItem, error) {
	dir, err := s.resolver.ResolveDirectory(ctx, path, user)
	if err != nil {
		return nil, err
	}
	perm, err := dir.Permission(ctx, user)
	if err != nil {
		return nil, err
	}
	if !perm.Has(dirtree.PermWrite) {
		return nil, apperr.New(apperr.PermissionDenied, "permission denied")
	}
	return dir, nil
}

// resolveDirectoryForList resolves path as a directory and requires List on
// it, the common case for LS, STAT-on-directory, STATGAME/STATREG.
func (s *Service) resolveDirectoryForList(ctx context.Context, path, user string) (*dirtree.DirectoryItem, error) {
	dir, err := s.resolver.ResolveDirectory(ctx, path, user)
	if err != nil {
		return nil, err
	}
	perm, err := dir.Permission(ctx, user)
	if err != nil {
		return nil, err
	}
	if !perm.Has(dirtree.PermList) {
		return nil, dirtree.VisibilityError(ctx, dir, user)
	}
	return dir, nil
}

// Get implements GET: "resolve-to-file with Read; refuse if size >
// maxFileSize -> 413."
func (s *Service) Get(ctx context.Context, path, user string) (string, error) {
	parent, name, fi, err := s.resolveFileForRead(ctx, path, user)
	if err != nil {
		return "", err
	}
	if fi.Size > s.cfg.MaxFileSize {
		return "", apperr.New(apperr.TooLarge, "file too large")
	}
	rc, _, err := parent.Backend().GetFile(ctx, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := readAll(rc, fi.Size)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// readAll drains rc into a byte slice sized by the hint from a prior Stat,
// since vfs.DirectoryHandler.GetFile returns an io.ReadCloser rather than
// a length-prefixed buffer.
func readAll(rc io.Reader, sizeHint int64) ([]byte, error) {
	data := make([]byte, 0, sizeHint)
	buf := make([]byte, 32*1024)
	for {
		n, err := rc.Read(buf)
		data = append(data, buf[:n]...)
		if err != nil {
			if err == io.EOF {
				return data, nil
			}
			return nil, err
		}
	}
}

// Put implements PUT: "refuse if content > maxFileSize; resolve directory
// path, require Write, create file. After success, invoke content
// snooping."
func (s *Service) Put(ctx context.Context, path, content, user string) error {
	if int64(len(content)) > s.cfg.MaxFileSize {
		return apperr.New(apperr.TooLarge, "file too large")
	}
	dir, name, err := s.resolver.ResolveParent(ctx, path, user)
	if err != nil {
		return err
	}
	if err := dirtree.ValidateComponent(name); err != nil {
		return err
	}
	perm, err := dir.Permission(ctx, user)
	if err != nil {
		return err
	}
	if !perm.Has(dirtree.PermWrite) {
		return apperr.New(apperr.PermissionDenied, "permission denied")
	}
	if err := dir.Backend().CreateFile(ctx, name, []byte(content)); err != nil {
		return err
	}
	if err := dir.NoteFileWritten(ctx, name, int64(len(content))); err != nil {
		return err
	}
	return snoop(ctx, dir, name, content)
}

// Cp implements CP: "resolve source (Read), resolve destination directory
// (Write). Attempt backend copy [...]; on decline, read the source and
// write it, still subject to maxFileSize. Destination pre-existing as a
// directory -> 409."
func (s *Service) Cp(ctx context.Context, srcPath, destPath, user string) error {
	srcParent, srcName, fi, err := s.resolveFileForRead(ctx, srcPath, user)
	if err != nil {
		return err
	}
	destParent, destName, err := s.resolver.ResolveParent(ctx, destPath, user)
	if err != nil {
		return err
	}
	if err := dirtree.ValidateComponent(destName); err != nil {
		return err
	}
	perm, err := destParent.Permission(ctx, user)
	if err != nil {
		return err
	}
	if !perm.Has(dirtree.PermWrite) {
		return apperr.New(apperr.PermissionDenied, "permission denied")
	}
	if kind, _, _, err := destParent.Lookup(ctx, destName); err != nil {
		return err
	} else if kind == dirtree.EntryDirectory {
		return apperr.New(apperr.AlreadyExists, "destination is a directory")
	}

	if cc, ok := destParent.Backend().(vfs.CopyCapable); ok {
		reused, err := cc.CopyFile(ctx, srcParent.Backend(), srcName, destName)
		if err != nil {
			return err
		}
		if reused {
			if err := destParent.NoteFileWritten(ctx, destName, fi.Size); err != nil {
				return err
			}
			if destName != pconfigFileName {
				return nil
			}
			rc, _, err := destParent.Backend().GetFile(ctx, destName)
			if err != nil {
				return err
			}
			defer rc.Close()
			data, err := readAll(rc, fi.Size)
			if err != nil {
				return err
			}
			return snoop(ctx, destParent, destName, string(data))
		}
	}

	if fi.Size > s.cfg.MaxFileSize {
		return apperr.New(apperr.TooLarge, "file too large")
	}
	rc, _, err := srcParent.Backend().GetFile(ctx, srcName)
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := readAll(rc, fi.Size)
	if err != nil {
		return err
	}
	if err := destParent.Backend().CreateFile(ctx, destName, data); err != nil {
		return err
	}
	if err := destParent.NoteFileWritten(ctx, destName, int64(len(data))); err != nil {
		return err
	}
	return snoop(ctx, destParent, destName, string(data))
}

// Rm implements RM: "permit removing a file if Write on directory; permit
// removing an (user-perceived) empty subdirectory likewise. Removing a
// directory succeeds only after its control file has been removed and it
// has no unknown-content marker."
func (s *Service) Rm(ctx context.Context, path, user string) error {
	parent, name, err := s.resolver.ResolveParent(ctx, path, user)
	if err != nil {
		return err
	}
	if err := dirtree.ValidateComponent(name); err != nil {
		return err
	}
	perm, err := parent.Permission(ctx, user)
	if err != nil {
		return err
	}
	if !perm.Has(dirtree.PermWrite) {
		return apperr.New(apperr.PermissionDenied, "permission denied")
	}

	kind, child, _, err := parent.Lookup(ctx, name)
	if err != nil {
		return err
	}
	switch kind {
	case dirtree.EntryMissing:
		return dirtree.VisibilityError(ctx, parent, user)
	case dirtree.EntryFile:
		if err := parent.Backend().RemoveFile(ctx, name); err != nil {
			return err
		}
		return parent.NoteFileRemoved(ctx, name)
	default:
		entries, err := child.Entries(ctx)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return apperr.New(apperr.Precondition, "directory not empty")
		}
		if hasControl, err := child.HasControlFile(ctx); err != nil {
			return err
		} else if hasControl {
			return apperr.New(apperr.Precondition, "control file still present")
		}
		if unknown, err := child.UnknownContent(ctx); err != nil {
			return err
		} else if unknown {
			return apperr.New(apperr.Precondition, "directory has unrecognised content")
		}
		if err := parent.Backend().RemoveDirectory(ctx, name); err != nil {
			return err
		}
		parent.ForgetChild(name)
		return nil
	}
}

// Rmdir implements RMDIR: "walk the subtree, verifying Write on every
// directory; then strip user content bottom-up; then remove each directory
// bottom-up. If any step fails [...] the operation aborts; partial
// clearance is possible."
func (s *Service) Rmdir(ctx context.Context, path, user string) error {
	parent, name, err := s.resolver.ResolveParent(ctx, path, user)
	if err != nil {
		return err
	}
	if err := dirtree.ValidateComponent(name); err != nil {
		return err
	}
	kind, target, _, err := parent.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if kind != dirtree.EntryDirectory {
		return dirtree.VisibilityError(ctx, parent, user)
	}
	if err := s.rmdirRecursive(ctx, target, user); err != nil {
		return err
	}

	parentPerm, err := parent.Permission(ctx, user)
	if err != nil {
		return err
	}
	if !parentPerm.Has(dirtree.PermWrite) {
		return apperr.New(apperr.PermissionDenied, "permission denied")
	}
	if err := parent.Backend().RemoveDirectory(ctx, name); err != nil {
		return err
	}
	parent.ForgetChild(name)
	return nil
}

func (s *Service) rmdirRecursive(ctx context.Context, dir *dirtree.DirectoryItem, user string) error {
	perm, err := dir.Permission(ctx, user)
	if err != nil {
		return err
	}
	if !perm.Has(dirtree.PermWrite) {
		return apperr.New(apperr.PermissionDenied, "permission denied")
	}

	entries, err := dir.Entries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			kind, child, _, err := dir.Lookup(ctx, e.Name)
			if err != nil {
				return err
			}
			if kind != dirtree.EntryDirectory {
				continue
			}
			if err := s.rmdirRecursive(ctx, child, user); err != nil {
				return err
			}
			if err := dir.Backend().RemoveDirectory(ctx, e.Name); err != nil {
				return err
			}
			dir.ForgetChild(e.Name)
		} else {
			if err := dir.Backend().RemoveFile(ctx, e.Name); err != nil {
				return err
			}
			if err := dir.NoteFileRemoved(ctx, e.Name); err != nil {
				return err
			}
		}
	}

	if hasControl, err := dir.HasControlFile(ctx); err != nil {
		return err
	} else if hasControl {
		if err := dir.Backend().RemoveFile(ctx, dirtree.ControlFileName); err != nil {
			return err
		}
		dir.ForgetChild(dirtree.ControlFileName)
	}
	return nil
}

// mkdir is shared by MKDIR and MKDIRAS.
func (s *Service) mkdir(ctx context.Context, path, user, owner string) error {
	parent, name, err := s.resolver.ResolveParent(ctx, path, user)
	if err != nil {
		return err
	}
	if err := dirtree.ValidateComponent(name); err != nil {
		return err
	}
	perm, err := parent.Permission(ctx, user)
	if err != nil {
		return err
	}
	if !perm.Has(dirtree.PermWrite) {
		return apperr.New(apperr.PermissionDenied, "permission denied")
	}
	if kind, _, _, err := parent.Lookup(ctx, name); err != nil {
		return err
	} else if kind != dirtree.EntryMissing {
		return apperr.New(apperr.AlreadyExists, "already exists")
	}

	handler, err := parent.Backend().CreateDirectory(ctx, name)
	if err != nil {
		return err
	}
	child, err := parent.Child(ctx, name, handler)
	if err != nil {
		return err
	}
	if owner != "" {
		cf := dirtree.NewControlFile()
		if err := cf.SetOwner(owner); err != nil {
			return err
		}
		if err := child.WriteControlFile(ctx, cf); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Mkdir(ctx context.Context, path, user string) error {
	return s.mkdir(ctx, path, user, "")
}

func (s *Service) MkdirAs(ctx context.Context, path, owner, user string) error {
	return s.mkdir(ctx, path, user, owner)
}

// MkdirHier implements MKDIRHIER: "for each prefix of the path, resolve
// and create if missing; if a non-directory exists at any prefix, fail
// 409."
func (s *Service) MkdirHier(ctx context.Context, path, user string) error {
	components := dirtree.SplitPath(path)
	cur := s.resolver.Root()
	for _, c := range components {
		if err := dirtree.ValidateComponent(c); err != nil {
			return err
		}
		kind, child, _, err := cur.Lookup(ctx, c)
		if err != nil {
			return err
		}
		switch kind {
		case dirtree.EntryDirectory:
			cur = child
		case dirtree.EntryFile:
			return apperr.New(apperr.AlreadyExists, "not a directory")
		default:
			perm, err := cur.Permission(ctx, user)
			if err != nil {
				return err
			}
			if !perm.Has(dirtree.PermWrite) {
				return apperr.New(apperr.PermissionDenied, "permission denied")
			}
			handler, err := cur.Backend().CreateDirectory(ctx, c)
			if err != nil {
				return err
			}
			next, err := cur.Child(ctx, c, handler)
			if err != nil {
				return err
			}
			cur = next
		}
	}
	return nil
}

// Forget implements FORGET: "invalidate the cached tree at path without
// touching disk. Missing paths are silently ignored; no permission
// check."
func (s *Service) Forget(ctx context.Context, path string) error {
	components := dirtree.SplitPath(path)
	cur := s.resolver.Root()
	for _, c := range components {
		kind, child, _, err := cur.Lookup(ctx, c)
		if err != nil || kind != dirtree.EntryDirectory {
			return nil
		}
		cur = child
	}
	cur.Forget()
	return nil
}

// Ftest implements FTEST: "for each candidate path, return 1 if
// resolve-to-file with Read would succeed, else 0; never raise."
func (s *Service) Ftest(ctx context.Context, paths []string, user string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		_, _, _, err := s.resolveFileForRead(ctx, p, user)
		if err != nil {
			out[i] = "0"
		} else {
			out[i] = "1"
		}
	}
	return out
}

// Usage implements USAGE: "recursive count of files + directories and
// kilobyte total, where each directory counts 1 item + 1 KB and each file
// counts 1 item + ceil(size/1024) KB."
func (s *Service) Usage(ctx context.Context, path, user string) (UsageResult, error) {
	dir, err := s.resolveDirectoryForList(ctx, path, user)
	if err != nil {
		return UsageResult{}, err
	}
	var result UsageResult
	if err := s.usageRecursive(ctx, dir, user, &result); err != nil {
		return UsageResult{}, err
	}
	result.Items++
	result.KB++
	return result, nil
}

func (s *Service) usageRecursive(ctx context.Context, dir *dirtree.DirectoryItem, user string, result *UsageResult) error {
	entries, err := dir.Entries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			kind, child, _, err := dir.Lookup(ctx, e.Name)
			if err != nil || kind != dirtree.EntryDirectory {
				continue
			}
			perm, err := child.Permission(ctx, user)
			if err != nil {
				return err
			}
			if !perm.Has(dirtree.PermList) {
				continue
			}
			result.Items++
			result.KB++
			if err := s.usageRecursive(ctx, child, user, result); err != nil {
				return err
			}
		} else {
			result.Items++
			result.KB += (e.Size + 1023) / 1024
		}
	}
	return nil
}

// PropGet/PropSet implement PROPGET/PROPSET over the directory's "prop:"
// control-file namespace.
func (s *Service) PropGet(ctx context.Context, path, key, user string) (string, bool, error) {
	dir, err := s.resolveDirectoryForList(ctx, path, user)
	if err != nil {
		return "", false, err
	}
	cf, err := dir.Control(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := cf.Prop(key)
	return v, ok, nil
}

func (s *Service) PropSet(ctx context.Context, path, key, value, user string) error {
	dir, err := s.resolveDirectoryForWrite(ctx, path, user)
	if err != nil {
		return err
	}
	cf, err := dir.Control(ctx)
	if err != nil {
		return err
	}
	if err := cf.SetProp(key, value); err != nil {
		return err
	}
	return dir.WriteControlFile(ctx, cf)
}

// SetPerm implements SETPERM: requires Access on the directory (the
// fourth permission flag, "permissions can be changed"), per spec.md
// §4.2's four-flag model.
func (s *Service) SetPerm(ctx context.Context, path, targetUser, permSpec, user string) error {
	dir, err := s.resolver.ResolveDirectory(ctx, path, user)
	if err != nil {
		return err
	}
	perm, err := dir.Permission(ctx, user)
	if err != nil {
		return err
	}
	if !perm.Has(dirtree.PermAccess) {
		return apperr.New(apperr.PermissionDenied, "permission denied")
	}
	cf, err := dir.Control(ctx)
	if err != nil {
		return err
	}
	if err := cf.SetPerms(targetUser, dirtree.ParsePermission(permSpec)); err != nil {
		return err
	}
	return dir.WriteControlFile(ctx, cf)
}

// LsPerm implements LSPERM, rendering each "perms:" entry as one
// "user perms" line.
func (s *Service) LsPerm(ctx context.Context, path, user string) ([]string, error) {
	dir, err := s.resolveDirectoryForList(ctx, path, user)
	if err != nil {
		return nil, err
	}
	cf, err := dir.Control(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, u := range cf.PermsUsers() {
		p, _ := cf.PermsFor(u)
		out = append(out, fmt.Sprintf("%s %s", u, p.String()))
	}
	return out, nil
}

// Stat implements STAT: directory targets check their own listability;
// file targets check the containing directory, per spec.md §4.2.
func (s *Service) Stat(ctx context.Context, path, user string) (StatResult, error) {
	components := dirtree.SplitPath(path)
	if len(components) == 0 {
		if _, err := s.resolveDirectoryForList(ctx, path, user); err != nil {
			return StatResult{}, err
		}
		return StatResult{Name: "", IsDir: true}, nil
	}
	parent, err := s.resolver.Walk(ctx, components[:len(components)-1], user)
	if err != nil {
		return StatResult{}, err
	}
	name := components[len(components)-1]
	kind, child, fi, err := parent.Lookup(ctx, name)
	if err != nil {
		return StatResult{}, err
	}
	switch kind {
	case dirtree.EntryDirectory:
		perm, err := child.Permission(ctx, user)
		if err != nil {
			return StatResult{}, err
		}
		if !perm.Has(dirtree.PermList) {
			return StatResult{}, dirtree.VisibilityError(ctx, child, user)
		}
		return StatResult{Name: name, IsDir: true}, nil
	case dirtree.EntryFile:
		perm, err := parent.Permission(ctx, user)
		if err != nil {
			return StatResult{}, err
		}
		if !perm.Has(dirtree.PermRead) {
			return StatResult{}, apperr.New(apperr.PermissionDenied, "permission denied")
		}
		return StatResult{Name: name, Size: fi.Size}, nil
	default:
		return StatResult{}, dirtree.VisibilityError(ctx, parent, user)
	}
}

// Ls implements LS: requires List on path; renders each entry as
// "name kind size".
func (s *Service) Ls(ctx context.Context, path, user string) ([]string, error) {
	dir, err := s.resolveDirectoryForList(ctx, path, user)
	if err != nil {
		return nil, err
	}
	entries, err := dir.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.IsDir {
			kind = "dir"
		}
		out = append(out, fmt.Sprintf("%s %s %d", e.Name, kind, e.Size))
	}
	return out, nil
}
