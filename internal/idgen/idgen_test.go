package idgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterGenerator_Monotone(t *testing.T) {
	g := NewCounterGenerator(0)
	require.Equal(t, "1", g.Next())
	require.Equal(t, "2", g.Next())
	require.Equal(t, "3", g.Next())
}

func TestCounterGenerator_StartOffset(t *testing.T) {
	g := NewCounterGenerator(100)
	require.Equal(t, "101", g.Next())
}

func TestCryptoGenerator_ProducesDistinctHexDigests(t *testing.T) {
	g, err := NewCryptoGenerator()
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := g.Next()
		require.Len(t, id, 40) // hex-encoded SHA-1
		require.False(t, seen[id], "duplicate id generated")
		seen[id] = true
	}
}

func TestCryptoGenerator_DifferentInstancesDiffer(t *testing.T) {
	g1, err := NewCryptoGenerator()
	require.NoError(t, err)
	g2, err := NewCryptoGenerator()
	require.NoError(t, err)

	require.NotEqual(t, g1.Next(), g2.Next())
}
