package dirtree

import (
	"sort"
	"strings"

	"github.com/vgshost/core/internal/apperr"
)

// ControlFileName is the single hidden file per directory that carries
// metadata, per spec.md §4.2.
const ControlFileName = ".c2file"

const (
	ownerKey      = "owner"
	permsKeyPrefix = "perms:"
	propKeyPrefix  = "prop:"
)

// ControlFile is the parsed form of a directory's ".c2file": "UTF-8 text,
// one key=value per line [...] Keys must not contain '=', '\r', '\n';
// values must not contain '\r', '\n'." (spec.md §4.2).
type ControlFile struct {
	fields map[string]string
}

func NewControlFile() *ControlFile {
	return &ControlFile{fields: make(map[string]string)}
}

// ParseControlFile decodes a ".c2file"'s raw bytes. Malformed lines (no
// "=", or a key containing one of the disallowed characters) are skipped
// rather than failing the whole file, matching the permissive, best-effort
// tone of the rest of §4.2's cache ("errors are logged and leave the
// directory appearing empty" — a single bad line should not make an
// otherwise-good control file unusable).
func ParseControlFile(data []byte) *ControlFile {
	cf := NewControlFile()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key, value := line[:idx], line[idx+1:]
		if key == "" || strings.ContainsAny(key, "=\r\n") {
			continue
		}
		cf.fields[key] = value
	}
	return cf
}

// Encode renders the control file back to its on-disk form, one key=value
// line per entry, sorted by key for deterministic output.
func (c *ControlFile) Encode() []byte {
	keys := make([]string, 0, len(c.fields))
	for k := range c.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c.fields[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Get returns a raw key's value.
func (c *ControlFile) Get(key string) (string, bool) {
	v, ok := c.fields[key]
	return v, ok
}

// Set validates and stores a raw key=value pair. Per spec.md §4.2:
// "Writing a property with an already-present key replaces it; writing to
// empty does not currently remove it (known issue, §9)" — Set therefore
// never deletes on an empty value, it stores the empty string, matching
// that documented quirk rather than "fixing" it.
func (c *ControlFile) Set(key, value string) error {
	if key == "" || strings.ContainsAny(key, "=\r\n") {
		return apperr.New(apperr.BadRequest, "invalid control-file key")
	}
	if strings.ContainsAny(value, "\r\n") {
		return apperr.New(apperr.BadRequest, "invalid control-file value")
	}
	c.fields[key] = value
	return nil
}

// Prop/SetProp expose the user-visible "prop:" namespace.
func (c *ControlFile) Prop(name string) (string, bool) {
	return c.Get(propKeyPrefix + name)
}

func (c *ControlFile) SetProp(name, value string) error {
	return c.Set(propKeyPrefix+name, value)
}

// Owner/SetOwner expose the reserved "owner" key.
func (c *ControlFile) Owner() (string, bool) {
	return c.Get(ownerKey)
}

func (c *ControlFile) SetOwner(userID string) error {
	return c.Set(ownerKey, userID)
}

// PermsFor/SetPerms expose the reserved "perms:<user>" namespace.
func (c *ControlFile) PermsFor(user string) (Permission, bool) {
	raw, ok := c.Get(permsKeyPrefix + user)
	if !ok {
		return 0, false
	}
	return ParsePermission(raw), true
}

func (c *ControlFile) SetPerms(user string, p Permission) error {
	return c.Set(permsKeyPrefix+user, p.String())
}

// PermsUsers lists every user named by a "perms:" entry (used for
// VisibilityLevel and for LSPERM).
func (c *ControlFile) PermsUsers() []string {
	var users []string
	for k := range c.fields {
		if strings.HasPrefix(k, permsKeyPrefix) {
			users = append(users, strings.TrimPrefix(k, permsKeyPrefix))
		}
	}
	sort.Strings(users)
	return users
}
