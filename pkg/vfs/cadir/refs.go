package cadir

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vgshost/core/internal/apperr"
)

const masterRef = "heads/master"

func (s *objectStore) refPath(name string) string {
	return filepath.Join(s.root, "refs", filepath.FromSlash(name))
}

// readRef returns the commit ID a ref points at, or "" if the ref has
// never been written (a brand-new, empty repository).
func (s *objectStore) readRef(name string) (string, error) {
	data, err := os.ReadFile(s.refPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", apperr.New(apperr.Internal, err.Error())
	}
	return strings.TrimSpace(string(data)), nil
}

// writeRef atomically updates a ref to point at commitID, via a temp file
// plus rename, so a crash mid-write never leaves a half-written ref.
func (s *objectStore) writeRef(name, commitID string) error {
	path := s.refPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.New(apperr.Internal, err.Error())
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(commitID+"\n"), 0o644); err != nil {
		return apperr.New(apperr.Internal, err.Error())
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperr.New(apperr.Internal, err.Error())
	}
	return nil
}

func (s *objectStore) removeRef(name string) error {
	if err := os.Remove(s.refPath(name)); err != nil {
		if os.IsNotExist(err) {
			return apperr.New(apperr.NotFound, "no such ref")
		}
		return apperr.New(apperr.Internal, err.Error())
	}
	return nil
}

// collectRoots returns the commit ID of every live ref: refs/heads/master
// plus every snapshot. These, and only these, are gc's reachability roots
// — a commit's own parent link is provenance, not a root, so history
// superseded by a ref advance is not kept alive by it.
func (s *objectStore) collectRoots() ([]string, error) {
	var roots []string
	master, err := s.readRef(masterRef)
	if err != nil {
		return nil, err
	}
	if master != "" {
		roots = append(roots, master)
	}
	snapshots, err := s.listRefs("snapshots")
	if err != nil {
		return nil, err
	}
	for _, name := range snapshots {
		id, err := s.readRef("snapshots/" + name)
		if err != nil {
			return nil, err
		}
		if id != "" {
			roots = append(roots, id)
		}
	}
	return roots, nil
}

// gc deletes every loose object unreachable from a live ref, per spec.md
// §4.2's CA backend scenario ("object count ... drops back to four"):
// overwriting a path's content orphans its old blob/tree chain the moment
// the ref advances past it, and gc reclaims those objects rather than
// retaining them as history.
func (s *objectStore) gc() error {
	roots, err := s.collectRoots()
	if err != nil {
		return err
	}

	live := make(map[string]bool)
	var markTree func(id string) error
	markTree = func(id string) error {
		if id == "" || live[id] {
			return nil
		}
		live[id] = true
		content, err := s.Get(id, KindTree)
		if err != nil {
			return err
		}
		entries, err := decodeTree(content)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir {
				if err := markTree(e.ID); err != nil {
					return err
				}
			} else {
				live[e.ID] = true
			}
		}
		return nil
	}

	for _, commitID := range roots {
		if live[commitID] {
			continue
		}
		live[commitID] = true
		content, err := s.Get(commitID, KindCommit)
		if err != nil {
			return err
		}
		treeID, _, err := decodeCommit(content)
		if err != nil {
			return err
		}
		if err := markTree(treeID); err != nil {
			return err
		}
	}

	ids, err := s.allObjectIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if live[id] {
			continue
		}
		if err := s.deleteObject(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *objectStore) listRefs(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "refs", dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.New(apperr.Internal, err.Error())
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
