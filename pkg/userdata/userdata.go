// Package userdata implements the per-user bounded key/value store of
// spec.md §4.4 ("UserData"): printable-ASCII keys mapped to string values,
// bounded by per-key, per-value, and aggregate size limits, evicted
// least-recently-used when the aggregate limit is exceeded.
package userdata

import (
	"context"
	"fmt"
	"strconv"
	"unicode"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/pkg/dbkv"
)

// Limits are the configured bounds (spec.md §6:
// USER.DATA.MAXKEYSIZE/MAXVALUESIZE/MAXTOTALSIZE).
type Limits struct {
	MaxKeySize   int
	MaxValueSize int
	MaxTotalSize int
}

// Store is the UserData component.
type Store struct {
	db     dbkv.Store
	limits Limits
}

func New(db dbkv.Store, limits Limits) *Store {
	return &Store{db: db, limits: limits}
}

func dataKey(userID, key string) string { return fmt.Sprintf("user:%s:app:data:%s", userID, key) }
func listKey(userID string) string      { return fmt.Sprintf("user:%s:app:list", userID) }
func sizeKey(userID string) string      { return fmt.Sprintf("user:%s:app:size", userID) }

// estimateSize mirrors spec.md §4.4: 0 for an empty value (a deletion,
// effectively), else 2*len(key)+len(value) — the factor of two on the key
// accounts for the key being stored both in the value map and in the LRU
// list.
func estimateSize(key, value string) int {
	if value == "" {
		return 0
	}
	return 2*len(key) + len(value)
}

func validateKey(key string, maxLen int) error {
	if key == "" {
		return apperr.New(apperr.BadRequest, "invalid key: empty")
	}
	if len(key) > maxLen {
		return apperr.New(apperr.BadRequest, "invalid key: too long")
	}
	for _, r := range key {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return apperr.New(apperr.BadRequest, "invalid key: non-printable character")
		}
	}
	return nil
}

// Get returns the value stored for (user, key), or ok=false if absent.
func (s *Store) Get(ctx context.Context, userID, key string) (string, bool, error) {
	return s.db.Get(ctx, dataKey(userID, key))
}

// MGet fetches several keys at once, returning a parallel slice with empty
// strings for missing keys (matching the "MGET" wire command's semantics).
func (s *Store) MGet(ctx context.Context, userID string, keys []string) ([]string, error) {
	out := make([]string, len(keys))
	for i, k := range keys {
		v, _, err := s.db.Get(ctx, dataKey(userID, k))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Set validates and stores (key, value), then evicts least-recently-used
// entries until the aggregate size is back within bounds, per spec.md
// §4.4: "Replace prior value, adjust totalSize by the delta [...] move key
// to head of LRU list, then while totalSize > maxTotalSize, pop the tail,
// delete its data, and decrement totalSize."
func (s *Store) Set(ctx context.Context, userID, key, value string) error {
	if err := validateKey(key, s.limits.MaxKeySize); err != nil {
		return err
	}
	if len(value) > s.limits.MaxValueSize {
		return apperr.New(apperr.BadRequest, "invalid value: too long")
	}

	old, existed, err := s.db.Get(ctx, dataKey(userID, key))
	if err != nil {
		return err
	}
	oldSize := 0
	if existed {
		oldSize = estimateSize(key, old)
	}
	newSize := estimateSize(key, value)

	if err := s.db.Set(ctx, dataKey(userID, key), value); err != nil {
		return err
	}
	if err := s.adjustTotalSize(ctx, userID, newSize-oldSize); err != nil {
		return err
	}

	_ = s.db.LRem(ctx, listKey(userID), key)
	if err := s.db.LPush(ctx, listKey(userID), key); err != nil {
		return err
	}

	return s.evict(ctx, userID)
}

// evict pops the LRU tail while totalSize exceeds the limit. The loop is
// bounded by the list draining to empty so that an externally-corrupted
// totalSize counter (spec.md §3 "modulo controlled inconsistency recovery")
// cannot spin forever — once the list is empty there is nothing left to
// evict, whatever the counter says.
func (s *Store) evict(ctx context.Context, userID string) error {
	for {
		total, err := s.totalSize(ctx, userID)
		if err != nil {
			return err
		}
		if total <= s.limits.MaxTotalSize {
			return nil
		}

		victim, ok, err := s.db.RPop(ctx, listKey(userID))
		if err != nil {
			return err
		}
		if !ok {
			return nil // list empty; nothing more to evict
		}

		old, existed, err := s.db.Get(ctx, dataKey(userID, victim))
		if err != nil {
			return err
		}
		if !existed {
			continue
		}
		if err := s.db.Del(ctx, dataKey(userID, victim)); err != nil {
			return err
		}
		if err := s.adjustTotalSize(ctx, userID, -estimateSize(victim, old)); err != nil {
			return err
		}
	}
}

func (s *Store) totalSize(ctx context.Context, userID string) (int, error) {
	raw, ok, err := s.db.Get(ctx, sizeKey(userID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil // treat corrupt counter as zero; evict loop self-heals
	}
	return n, nil
}

func (s *Store) adjustTotalSize(ctx context.Context, userID string, delta int) error {
	total, err := s.totalSize(ctx, userID)
	if err != nil {
		return err
	}
	total += delta
	if total < 0 {
		total = 0
	}
	return s.db.Set(ctx, sizeKey(userID), strconv.Itoa(total))
}
