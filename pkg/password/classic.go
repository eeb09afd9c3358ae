package password

import (
	"crypto/md5"
	"encoding/base64"
)

// ClassicEncrypter is the original, unsalted scheme: hash = "1," +
// base64url-no-padding(MD5(systemKey || password)). There is no per-user
// salt, so two users sharing a password get identical hashes — a known
// weakness the spec preserves for backward compatibility with existing
// stored hashes (spec.md §4.4).
type ClassicEncrypter struct {
	// Key is the service-wide pepper (configured as USER.KEY, spec.md §6).
	Key string
}

func NewClassicEncrypter(key string) *ClassicEncrypter {
	return &ClassicEncrypter{Key: key}
}

const classicPrefix = "1,"

func (c *ClassicEncrypter) Encrypt(pw, _ string) (string, error) {
	sum := md5.Sum([]byte(c.Key + pw))
	return classicPrefix + base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// Check recomputes the hash and compares verbatim; userID is unused (the
// classic scheme has no salt to bind it to).
func (c *ClassicEncrypter) Check(pw, hash, userID string) (Result, error) {
	want, err := c.Encrypt(pw, userID)
	if err != nil {
		return Invalid, err
	}
	if want == hash {
		return ValidCurrent, nil
	}
	return Invalid, nil
}
