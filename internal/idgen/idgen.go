// Package idgen implements the two identifier generators spec.md §3
// describes: a monotone counter (debug/test use) and a cryptographically
// seeded generator producing hex digests, used for session IDs, tokens,
// and salts. Neither the teacher nor any example repo in the pack
// generates IDs this way (they reach for google/uuid throughout); this is
// one of the few packages built straight from spec.md + original_source,
// since the dual-generator split and the "hash a mutable counter buffer"
// construction are exact behavioral requirements, not free design choices
// (see DESIGN.md).
package idgen

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Generator produces non-empty alphanumeric identifier strings. Callers
// (TokenStore, the session multiplexer) must retry on collision against
// whatever uniqueness domain they maintain; Generator itself promises
// nothing about global uniqueness beyond what its construction implies.
type Generator interface {
	Next() string
}

// CounterGenerator is the debug identifier generator: a monotone,
// process-local counter rendered in decimal. Deterministic and readable,
// used in tests and in single-process debug deployments.
type CounterGenerator struct {
	n atomic.Uint64
}

// NewCounterGenerator returns a generator starting at start+1 for its
// first Next() call.
func NewCounterGenerator(start uint64) *CounterGenerator {
	g := &CounterGenerator{}
	g.n.Store(start)
	return g
}

func (g *CounterGenerator) Next() string {
	return fmt.Sprintf("%d", g.n.Add(1))
}

// CryptoGenerator produces hex-digest identifiers by hashing a mutable
// counter buffer seeded once, at construction time, from crypto/rand (the
// stand-in for /dev/urandom) plus the process start time, then advanced on
// every call — mirroring the original's "hashes a mutable counter buffer
// seeded from /dev/urandom plus startup time" construction (spec.md §3).
// Re-seeding per call would also be secure but would abandon the spec's
// explicit mutable-buffer-advance behavior, which callers' tests may rely
// on for non-repetition without needing a CSPRNG call every time.
type CryptoGenerator struct {
	mu     sync.Mutex
	buffer [sha1.Size + 8]byte // random seed || little-endian counter tail
	ctr    uint64
}

// NewCryptoGenerator seeds a new generator.
func NewCryptoGenerator() (*CryptoGenerator, error) {
	g := &CryptoGenerator{}
	if _, err := rand.Read(g.buffer[:sha1.Size]); err != nil {
		return nil, fmt.Errorf("idgen: seeding generator: %w", err)
	}
	g.ctr = uint64(time.Now().UnixNano())
	binary.LittleEndian.PutUint64(g.buffer[sha1.Size:], g.ctr)
	return g, nil
}

// Next advances the counter tail, hashes the whole buffer, and returns the
// digest as a lowercase hex string.
func (g *CryptoGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ctr++
	binary.LittleEndian.PutUint64(g.buffer[sha1.Size:], g.ctr)
	sum := sha1.Sum(g.buffer[:])
	return hex.EncodeToString(sum[:])
}
