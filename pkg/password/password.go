// Package password implements the credential lifecycle of spec.md §4.4:
// two coexisting password hashing schemes and a composite encrypter that
// transparently upgrades a legacy hash to the primary scheme on next
// successful login.
//
// Both concrete schemes (Classic, Salted) use algorithms the spec mandates
// exactly (MD5 / SHA-1, matching the original service's on-disk hash
// format) rather than a modern KDF — this is a wire/storage-format
// compatibility requirement, not a design choice; see DESIGN.md for why no
// third-party hashing library replaces them.
package password

import "github.com/vgshost/core/internal/idgen"

// Result is the outcome of checking a password against a stored hash.
type Result int

const (
	// Invalid means the password does not match the stored hash under any
	// scheme the Hasher knows about.
	Invalid Result = iota
	// ValidCurrent means the password matches and the hash is already in
	// the primary (current) scheme's format.
	ValidCurrent
	// ValidNeedUpdate means the password matches under a secondary
	// (legacy) scheme; callers should re-encrypt with the primary scheme
	// and persist the new hash.
	ValidNeedUpdate
)

// Hasher encrypts and verifies passwords. userID is threaded through
// because the Salted scheme binds the hash to the user's numeric ID (so
// two users who pick the same password and salt still get different
// hashes).
type Hasher interface {
	// Encrypt produces a new hash for password, always in this Hasher's
	// own scheme.
	Encrypt(password, userID string) (string, error)
	// Check verifies password against hash, returning Invalid,
	// ValidCurrent, or (for composite hashers only) ValidNeedUpdate.
	Check(password, hash, userID string) (Result, error)
}

// IdentifierGenerator is the subset of idgen.Generator the Salted scheme
// needs to produce a per-encryption salt. Declared locally (rather than
// depending on idgen.Generator directly) so tests can inject a
// deterministic stub.
type IdentifierGenerator interface {
	Next() string
}

var _ IdentifierGenerator = (*idgen.CryptoGenerator)(nil)
