package fileservice

import (
	"context"
	"strings"

	"github.com/vgshost/core/pkg/dirtree"
)

// pconfigFileName is the only file name PUT/CP snoop, per spec.md §4.3:
// "No other files are snooped."
const pconfigFileName = "pconfig.src"

// snoop implements the content-snooping rule of spec.md §4.3: on writing
// pconfig.src, parse it as key=value and, if an assignment of
// "phost.gamename" or "gamename" yields a non-empty trimmed value, record
// it as the containing directory's prop:name property.
func snoop(ctx context.Context, dir *dirtree.DirectoryItem, name, content string) error {
	if name != pconfigFileName {
		return nil
	}
	gameName, ok := parsePConfigGameName(content)
	if !ok {
		return nil
	}
	cf, err := dir.Control(ctx)
	if err != nil {
		return err
	}
	if err := cf.SetProp("name", gameName); err != nil {
		return err
	}
	return dir.WriteControlFile(ctx, cf)
}

// parsePConfigGameName reads a pconfig.src-style key=value file, per
// SPEC_FULL.md §3's ported comment rules ("skips blank lines
// and #/;-prefixed comment lines and trims surrounding whitespace from
// keys/values"), and returns the last non-empty "phost.gamename" or
// "gamename" assignment (case-insensitive key match).
func parsePConfigGameName(content string) (string, bool) {
	var found string
	var ok bool
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if key != "phost.gamename" && key != "gamename" {
			continue
		}
		if value == "" {
			continue
		}
		found, ok = value, true
	}
	return found, ok
}
