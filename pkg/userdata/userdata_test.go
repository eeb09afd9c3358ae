package userdata

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vgshost/core/pkg/dbkv"
)

func newStore(limits Limits) *Store {
	return New(dbkv.NewMemoryStore(), limits)
}

func TestSet_ThenGet_RoundTrips(t *testing.T) {
	s := newStore(Limits{MaxKeySize: 64, MaxValueSize: 1024, MaxTotalSize: 1 << 20})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "u1", "color", "blue"))
	v, ok, err := s.Get(ctx, "u1", "color")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "blue", v)
}

func TestSet_RejectsOversizedKey(t *testing.T) {
	s := newStore(Limits{MaxKeySize: 4, MaxValueSize: 1024, MaxTotalSize: 1 << 20})
	err := s.Set(context.Background(), "u1", "toolongkey", "v")
	require.Error(t, err)
}

func TestSet_RejectsOversizedValue(t *testing.T) {
	s := newStore(Limits{MaxKeySize: 64, MaxValueSize: 4, MaxTotalSize: 1 << 20})
	err := s.Set(context.Background(), "u1", "k", "toolongvalue")
	require.Error(t, err)
}

func TestSet_RejectsNonPrintableKey(t *testing.T) {
	s := newStore(Limits{MaxKeySize: 64, MaxValueSize: 1024, MaxTotalSize: 1 << 20})
	err := s.Set(context.Background(), "u1", "bad\nkey", "v")
	require.Error(t, err)
}

func TestSet_EvictsLeastRecentlyUsedWhenOverTotal(t *testing.T) {
	ctx := context.Background()
	// Each entry of key="kN"+value="vvvv" costs 2*2+4=8 bytes; allow two.
	s := newStore(Limits{MaxKeySize: 64, MaxValueSize: 1024, MaxTotalSize: 16})

	require.NoError(t, s.Set(ctx, "u1", "k1", "vvvv"))
	require.NoError(t, s.Set(ctx, "u1", "k2", "vvvv"))
	// A third entry pushes total over budget; k1 (LRU tail) must be evicted.
	require.NoError(t, s.Set(ctx, "u1", "k3", "vvvv"))

	_, ok, err := s.Get(ctx, "u1", "k1")
	require.NoError(t, err)
	require.False(t, ok, "k1 should have been evicted")

	_, ok, err = s.Get(ctx, "u1", "k2")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Get(ctx, "u1", "k3")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSet_TouchingKeyMovesItToHeadOfLRU(t *testing.T) {
	ctx := context.Background()
	s := newStore(Limits{MaxKeySize: 64, MaxValueSize: 1024, MaxTotalSize: 16})

	require.NoError(t, s.Set(ctx, "u1", "k1", "vvvv"))
	require.NoError(t, s.Set(ctx, "u1", "k2", "vvvv"))
	// Touch k1 again so k2 becomes the LRU tail.
	require.NoError(t, s.Set(ctx, "u1", "k1", "wwww"))
	require.NoError(t, s.Set(ctx, "u1", "k3", "vvvv"))

	_, ok, err := s.Get(ctx, "u1", "k2")
	require.NoError(t, err)
	require.False(t, ok, "k2 should have been evicted, not k1")

	v, ok, err := s.Get(ctx, "u1", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "wwww", v)
}

func TestMGet_ReturnsEmptyStringsForMissingKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(Limits{MaxKeySize: 64, MaxValueSize: 1024, MaxTotalSize: 1 << 20})
	require.NoError(t, s.Set(ctx, "u1", "a", "1"))

	out, err := s.MGet(ctx, "u1", []string{"a", "missing"})
	require.NoError(t, err)
	require.Equal(t, []string{"1", ""}, out)
}

func TestSet_EmptyValueCountsAsZeroSizeButIsEvictedFromTail(t *testing.T) {
	ctx := context.Background()
	s := newStore(Limits{MaxKeySize: 64, MaxValueSize: 1024, MaxTotalSize: 8})

	require.NoError(t, s.Set(ctx, "u1", "empty", ""))
	require.NoError(t, s.Set(ctx, "u1", "k1", "vvvv"))
	require.NoError(t, s.Set(ctx, "u1", "k2", "vvvv"))

	_, ok, err := s.Get(ctx, "u1", "empty")
	require.NoError(t, err)
	require.False(t, ok, "eviction pops the LRU tail first, even an entry whose estimated size is zero")
}

func TestSet_EvictionLoopTerminatesDespiteCorruptCounter(t *testing.T) {
	ctx := context.Background()
	s := newStore(Limits{MaxKeySize: 64, MaxValueSize: 1024, MaxTotalSize: 1 << 20})

	require.NoError(t, s.Set(ctx, "u1", "k1", "v"))
	// Corrupt the counter directly to a value no real delta would produce.
	require.NoError(t, s.db.Set(ctx, sizeKey("u1"), strings.Repeat("9", 30)))

	done := make(chan struct{})
	go func() {
		_ = s.evict(ctx, "u1")
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	// evict must return (bounded by list draining), not hang; if this test
	// completes at all, the bound held.
	<-done
}
