package dirtree

import (
	"context"
	"strings"

	"github.com/vgshost/core/internal/apperr"
)

// Resolver is the PathResolver of spec.md §4.2.
type Resolver struct {
	root *DirectoryItem
}

func NewResolver(root *DirectoryItem) *Resolver {
	return &Resolver{root: root}
}

// SplitPath breaks a slash-separated path into components, per spec.md
// §4.2 phase 1 ("Walk directory components"). The root path ("" or "/")
// splits to zero components.
func SplitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// validateComponent rejects empty components, components starting with
// ".", or containing any of "\0 : / \", per spec.md §4.2 phase 1.
func validateComponent(c string) error {
	if c == "" {
		return apperr.New(apperr.BadRequest, "empty path component")
	}
	if c[0] == '.' {
		return apperr.New(apperr.BadRequest, "path component may not start with '.'")
	}
	if strings.ContainsAny(c, "\x00:/\\") {
		return apperr.New(apperr.BadRequest, "path component contains a disallowed character")
	}
	return nil
}

// Walk descends components from root, treating every one of them as a
// directory. Each step force-reads the current directory and distinguishes
// a missing component's visibility per spec.md §4.2 phase 1: "404
// (listable parent) or 403 (non-listable parent)." A component that
// exists but names a file rather than a directory fails 405.
func (r *Resolver) Walk(ctx context.Context, components []string, user string) (*DirectoryItem, error) {
	cur := r.root
	for _, c := range components {
		if err := validateComponent(c); err != nil {
			return nil, err
		}
		kind, child, _, err := cur.Lookup(ctx, c)
		if err != nil {
			return nil, err
		}
		switch kind {
		case EntryDirectory:
			cur = child
		case EntryFile:
			return nil, apperr.New(apperr.NotDirectory, "not a directory")
		default:
			return nil, VisibilityError(ctx, cur, user)
		}
	}
	return cur, nil
}

// ResolveDirectory resolves path as a directory in its entirety — used by
// operations whose target is itself a directory (LS, USAGE, PROPGET,
// PROPSET, SETPERM, LSPERM).
func (r *Resolver) ResolveDirectory(ctx context.Context, path, user string) (*DirectoryItem, error) {
	return r.Walk(ctx, SplitPath(path), user)
}

// ResolveParent resolves every component but the last as a directory and
// returns it alongside the unresolved final component name, for
// operations that act on a file or create/remove the final component
// (GET, PUT, RM, MKDIR, STAT-on-file).
func (r *Resolver) ResolveParent(ctx context.Context, path, user string) (*DirectoryItem, string, error) {
	components := SplitPath(path)
	if len(components) == 0 {
		return nil, "", apperr.New(apperr.BadRequest, "empty path")
	}
	parent, err := r.Walk(ctx, components[:len(components)-1], user)
	if err != nil {
		return nil, "", err
	}
	return parent, components[len(components)-1], nil
}

// Root returns the tree's root item (the "" path).
func (r *Resolver) Root() *DirectoryItem { return r.root }

// ValidateComponent exposes the final-path-component validation rule of
// spec.md §4.2 phase 1 to callers (pkg/fileservice) that resolve a parent
// directory via ResolveParent and then must separately validate the
// trailing component name before creating or looking it up.
func ValidateComponent(c string) error { return validateComponent(c) }
