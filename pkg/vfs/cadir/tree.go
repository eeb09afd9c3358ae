package cadir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vgshost/core/internal/apperr"
)

// treeEntry is one line of a tree object: a child's name, whether it is a
// directory, and the object ID of its content (a blob ID for files, a tree
// ID for subdirectories).
type treeEntry struct {
	Name  string
	IsDir bool
	ID    string
}

func modeChar(isDir bool) string {
	if isDir {
		return "d"
	}
	return "f"
}

// encodeTree renders entries sorted by name, one "mode id name" line each,
// matching the teacher's badger directory-listing order (lexicographic) so
// that LS output (and group save-order) is deterministic.
func encodeTree(entries []treeEntry) []byte {
	sorted := append([]treeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "%s %s %s\n", modeChar(e.IsDir), e.ID, e.Name)
	}
	return []byte(b.String())
}

func decodeTree(content []byte) ([]treeEntry, error) {
	var entries []treeEntry
	for _, line := range strings.Split(strings.TrimSuffix(string(content), "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			return nil, apperr.New(apperr.Internal, "corrupt tree entry")
		}
		entries = append(entries, treeEntry{
			IsDir: parts[0] == "d",
			ID:    parts[1],
			Name:  parts[2],
		})
	}
	return entries, nil
}

// encodeCommit renders a commit object: its tree ID and optional parent
// commit ID.
func encodeCommit(treeID, parentID string) []byte {
	if parentID == "" {
		return []byte(fmt.Sprintf("tree %s\n", treeID))
	}
	return []byte(fmt.Sprintf("tree %s\nparent %s\n", treeID, parentID))
}

func decodeCommit(content []byte) (treeID, parentID string, err error) {
	for _, line := range strings.Split(strings.TrimSuffix(string(content), "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "tree":
			treeID = parts[1]
		case "parent":
			parentID = parts[1]
		}
	}
	if treeID == "" {
		return "", "", apperr.New(apperr.Internal, "corrupt commit: missing tree")
	}
	return treeID, parentID, nil
}
