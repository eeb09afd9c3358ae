package password

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedGenerator struct{ values []string; i int }

func (f *fixedGenerator) Next() string {
	v := f.values[f.i%len(f.values)]
	f.i++
	return v
}

func TestClassicEncrypter_RoundTrip(t *testing.T) {
	c := NewClassicEncrypter("pepper")
	hash, err := c.Encrypt("secret", "1001")
	require.NoError(t, err)
	require.Contains(t, hash, "1,")

	result, err := c.Check("secret", hash, "1001")
	require.NoError(t, err)
	require.Equal(t, ValidCurrent, result)

	result, err = c.Check("wrong", hash, "1001")
	require.NoError(t, err)
	require.Equal(t, Invalid, result)
}

func TestClassicEncrypter_NoSalt_SamePasswordSameHash(t *testing.T) {
	c := NewClassicEncrypter("pepper")
	h1, _ := c.Encrypt("secret", "1001")
	h2, _ := c.Encrypt("secret", "2002")
	require.Equal(t, h1, h2)
}

func TestSaltedEncrypter_RoundTrip(t *testing.T) {
	s := NewSaltedEncrypter(&fixedGenerator{values: []string{"abc123"}})
	hash, err := s.Encrypt("secret", "1001")
	require.NoError(t, err)
	require.Contains(t, hash, "2,abc123,")

	result, err := s.Check("secret", hash, "1001")
	require.NoError(t, err)
	require.Equal(t, ValidCurrent, result)
}

func TestSaltedEncrypter_BoundToUserID(t *testing.T) {
	s := NewSaltedEncrypter(&fixedGenerator{values: []string{"abc123"}})
	hash, _ := s.Encrypt("secret", "1001")

	result, err := s.Check("secret", hash, "2002")
	require.NoError(t, err)
	require.Equal(t, Invalid, result, "hash must be bound to the original user id")
}

func TestCompositeEncrypter_UpgradesLegacyHash(t *testing.T) {
	classic := NewClassicEncrypter("pepper")
	salted := NewSaltedEncrypter(&fixedGenerator{values: []string{"salt1"}})
	composite := NewCompositeEncrypter(salted, classic)

	legacyHash, err := classic.Encrypt("secret", "1001")
	require.NoError(t, err)

	result, err := composite.Check("secret", legacyHash, "1001")
	require.NoError(t, err)
	require.Equal(t, ValidNeedUpdate, result)

	newHash, err := composite.Encrypt("secret", "1001")
	require.NoError(t, err)
	result, err = composite.Check("secret", newHash, "1001")
	require.NoError(t, err)
	require.Equal(t, ValidCurrent, result)
}

func TestCompositeEncrypter_RejectsWrongPassword(t *testing.T) {
	classic := NewClassicEncrypter("pepper")
	salted := NewSaltedEncrypter(&fixedGenerator{values: []string{"salt1"}})
	composite := NewCompositeEncrypter(salted, classic)

	hash, _ := composite.Encrypt("secret", "1001")
	result, err := composite.Check("wrong", hash, "1001")
	require.NoError(t, err)
	require.Equal(t, Invalid, result)
}
