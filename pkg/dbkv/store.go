// Package dbkv abstracts the external key/value database spec.md treats as
// an out-of-scope "commanded external store with string/hash/set/list
// primitives and atomic operations" (§1). TokenStore, UserData, and the
// user service's account records are all expressed through this interface;
// concrete implementations are a Redis client (production) and an
// in-memory fake (tests, grounded on the teacher's
// pkg/store/identity/memory in-memory-store-for-testing idiom).
package dbkv

import "context"

// Store is the narrow set of Redis-shaped primitives the user service
// needs: strings, hashes, sets, and lists, plus the two atomic operations
// (SetNX, Incr) the spec's reservation and ID-issuance logic depends on.
type Store interface {
	// Strings
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// SetNX sets key only if it does not already exist, returning whether
	// the set happened — the atomic primitive behind login-name reservation
	// (spec.md §4.4 "Name canonicalisation").
	SetNX(ctx context.Context, key, value string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// Incr atomically increments key (creating it at 0 first) and returns
	// the new value — backs the user-ID counter (spec.md §3 "issued by
	// atomic increment").
	Incr(ctx context.Context, key string) (int64, error)

	// Hashes
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// Lists — used as the per-user LRU key ordering for UserData (spec.md
	// §3 "an LRU list of keys").
	LPush(ctx context.Context, key, value string) error
	LRem(ctx context.Context, key, value string) error
	RPop(ctx context.Context, key string) (string, bool, error)
	LLen(ctx context.Context, key string) (int64, error)
}
