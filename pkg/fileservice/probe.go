package fileservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/vgshost/core/pkg/dirtree"
	"github.com/vgshost/core/pkg/gameprobe"
)

// RegEntry pairs a directory's path with its parsed registration, for
// LSREG's recursive listing.
type RegEntry struct {
	Path string
	Reg  *gameprobe.Registration
}

// GameEntry pairs a directory's path with its parsed game overview and the
// cached directory properties spec.md §4.3 says to copy across
// (prop:name, prop:game, prop:hosttime, prop:finished).
type GameEntry struct {
	Path       string
	Overview   *gameprobe.GameOverview
	Properties map[string]string
}

var copiedProps = []string{"name", "game", "hosttime", "finished"}

func directoryProperties(ctx context.Context, dir *dirtree.DirectoryItem) (map[string]string, error) {
	cf, err := dir.Control(ctx)
	if err != nil {
		return nil, err
	}
	props := make(map[string]string)
	for _, p := range copiedProps {
		if v, ok := cf.Prop(p); ok {
			props[p] = v
		}
	}
	return props, nil
}

// StatReg implements STATREG: probe the single resolved directory.
func (s *Service) StatReg(ctx context.Context, path, user string) (*gameprobe.Registration, error) {
	dir, err := s.resolveDirectoryForList(ctx, path, user)
	if err != nil {
		return nil, err
	}
	return gameprobe.ProbeRegistration(ctx, dir, dir.Backend())
}

// StatGame implements STATGAME: probe the single resolved directory.
func (s *Service) StatGame(ctx context.Context, path, user string) (*gameprobe.GameOverview, error) {
	dir, err := s.resolveDirectoryForList(ctx, path, user)
	if err != nil {
		return nil, err
	}
	return gameprobe.ProbeGame(ctx, dir, dir.Backend())
}

// LsRegOptions carries LSREG's -UNIQ and -KEY id flags (SPEC_FULL.md §3's
// supplemented feature).
type LsRegOptions struct {
	Unique    bool
	HasKey    bool
	KeyFilter int
}

type regWork struct {
	dir  *dirtree.DirectoryItem
	path string
}

// walkReadableSubdirectories enqueues every child of dir the caller has
// List on, onto queue, with paths under path.
func walkReadableSubdirectories(ctx context.Context, dir *dirtree.DirectoryItem, path, user string, queue []regWork) ([]regWork, error) {
	entries, err := dir.Entries(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		kind, child, _, err := dir.Lookup(ctx, e.Name)
		if err != nil || kind != dirtree.EntryDirectory {
			continue
		}
		perm, err := child.Permission(ctx, user)
		if err != nil {
			return nil, err
		}
		if !perm.Has(dirtree.PermList) {
			continue
		}
		queue = append(queue, regWork{child, strings.TrimSuffix(path, "/") + "/" + e.Name})
	}
	return queue, nil
}

// LsReg implements LSREG: recurse the subtree as a work-list (not Go
// recursion), enqueueing each readable subdirectory, per spec.md §4.3.
func (s *Service) LsReg(ctx context.Context, path, user string, opts LsRegOptions) ([]RegEntry, error) {
	root, err := s.resolveDirectoryForList(ctx, path, user)
	if err != nil {
		return nil, err
	}

	var out []RegEntry
	queue := []regWork{{root, path}}
	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]

		reg, err := gameprobe.ProbeRegistration(ctx, w.dir, w.dir.Backend())
		if err != nil {
			return nil, err
		}
		if reg != nil {
			out = append(out, RegEntry{Path: w.path, Reg: reg})
		}

		queue, err = walkReadableSubdirectories(ctx, w.dir, w.path, user, queue)
		if err != nil {
			return nil, err
		}
	}

	regs := make([]*gameprobe.Registration, len(out))
	for i := range out {
		regs[i] = out[i].Reg
	}
	if opts.Unique {
		regs = gameprobe.FilterUnique(regs)
	}
	if opts.HasKey {
		regs = gameprobe.FilterByKeyID(regs, opts.KeyFilter)
	}
	kept := make(map[*gameprobe.Registration]bool, len(regs))
	for _, r := range regs {
		kept[r] = true
	}
	filtered := make([]RegEntry, 0, len(regs))
	for _, e := range out {
		if kept[e.Reg] {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// LsGame implements LSGAME: recurse the subtree as a work-list, per
// spec.md §4.3's "LSGAME/LSREG recurse, enqueueing each readable
// subdirectory [...] and copy cached directory properties [...] into the
// reported record."
func (s *Service) LsGame(ctx context.Context, path, user string) ([]GameEntry, error) {
	root, err := s.resolveDirectoryForList(ctx, path, user)
	if err != nil {
		return nil, err
	}

	var out []GameEntry
	queue := []regWork{{root, path}}
	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]

		overview, err := gameprobe.ProbeGame(ctx, w.dir, w.dir.Backend())
		if err != nil {
			return nil, err
		}
		if overview != nil {
			props, err := directoryProperties(ctx, w.dir)
			if err != nil {
				return nil, err
			}
			out = append(out, GameEntry{Path: w.path, Overview: overview, Properties: props})
		}

		queue, err = walkReadableSubdirectories(ctx, w.dir, w.path, user, queue)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RenderRegEntry and RenderGameEntry flatten a probe record to the
// wire-friendly line format the RESP server encodes (Array of Bulk lines),
// matching LS's "name kind size" convention.
func RenderRegEntry(e RegEntry) string {
	return fmt.Sprintf("%s %d %s %s %t", e.Path, e.Reg.KeyID, e.Reg.Label1, e.Reg.Label2, e.Reg.IsRegistered)
}

func RenderGameEntry(e GameEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s slots=%d missing=%d", e.Path, len(e.Overview.Slots), len(e.Overview.MissingFiles))
	for _, p := range copiedProps {
		if v, ok := e.Properties[p]; ok {
			fmt.Fprintf(&b, " %s=%s", p, v)
		}
	}
	return b.String()
}
