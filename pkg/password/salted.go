package password

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// SaltedEncrypter is the newer scheme: hash = "2," + salt + "," +
// hex(SHA-1("2," + salt + "," + userID + "," + password)). The salt comes
// from an injected IdentifierGenerator so tests can make it deterministic
// and so the multiplexer-wide crypto generator can be reused here too.
type SaltedEncrypter struct {
	Salts IdentifierGenerator
}

func NewSaltedEncrypter(salts IdentifierGenerator) *SaltedEncrypter {
	return &SaltedEncrypter{Salts: salts}
}

const saltedPrefix = "2"

func (s *SaltedEncrypter) Encrypt(pw, userID string) (string, error) {
	salt := s.Salts.Next()
	return s.hashWithSalt(salt, pw, userID), nil
}

func (s *SaltedEncrypter) hashWithSalt(salt, pw, userID string) string {
	payload := fmt.Sprintf("%s,%s,%s,%s", saltedPrefix, salt, userID, pw)
	sum := sha1.Sum([]byte(payload))
	return fmt.Sprintf("%s,%s,%s", saltedPrefix, salt, hex.EncodeToString(sum[:]))
}

func (s *SaltedEncrypter) Check(pw, hash, userID string) (Result, error) {
	parts := strings.SplitN(hash, ",", 3)
	if len(parts) != 3 || parts[0] != saltedPrefix {
		return Invalid, nil
	}
	salt := parts[1]
	if s.hashWithSalt(salt, pw, userID) == hash {
		return ValidCurrent, nil
	}
	return Invalid, nil
}
