// Package token implements the opaque session/API token lifecycle of
// spec.md §4.4: allocation, validation, renewal, and garbage collection,
// backed by the external key/value store (pkg/dbkv) the way spec.md §6
// lays out the key schema (global "token:all" set, per-token hash, per-user
// per-type set).
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/pkg/dbkv"
)

// Type is one of the three token kinds spec.md §3 defines.
type Type string

const (
	Login Type = "login"
	API   Type = "api"
	Reset Type = "reset"
)

// lifetime holds a token type's maximum age and its renewal threshold (the
// remaining-lifetime floor below which getToken/checkToken mint a
// replacement), both in minutes per spec.md §3's table.
type lifetime struct {
	maxAge    time.Duration
	renewAt   time.Duration // renew when remaining life is below this
}

var lifetimes = map[Type]lifetime{
	Login: {maxAge: minutes(6 * 31 * 24 * 60), renewAt: minutes(3 * 31 * 24 * 60)},
	API:   {maxAge: minutes(6 * 31 * 24 * 60), renewAt: minutes(3 * 31 * 24 * 60)},
	Reset: {maxAge: minutes(4 * 24 * 60), renewAt: minutes(3 * 24 * 60)},
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// Generator produces new opaque token identifiers.
type Generator interface {
	Next() string
}

// Store is the TokenStore of spec.md §4.4.
type Store struct {
	db  dbkv.Store
	ids Generator
	now func() time.Time
}

func New(db dbkv.Store, ids Generator) *Store {
	return &Store{db: db, ids: ids, now: time.Now}
}

func globalSetKey() string { return "token:all" }
func recordKey(id string) string { return "token:t:" + id }
func userTypeSetKey(userID string, t Type) string {
	return fmt.Sprintf("user:%s:tokens:%s", userID, t)
}

// record fields stored in the per-token hash.
const (
	fieldUserID     = "userID"
	fieldType       = "type"
	fieldValidUntil = "validUntil"
)

// GetToken returns a live token for (userID, tokenType), reusing an
// existing one if its remaining lifetime is still above the renewal
// threshold, per spec.md §4.4:
//
//  1. fetch all tokens of (user,type) and their validUntil atomically
//  2. delete any with validUntil < now
//  3. among the rest, pick the largest validUntil
//  4. if it is >= now + minAge(type), return it; else create a new one
func (s *Store) GetToken(ctx context.Context, userID string, t Type) (string, error) {
	lt, ok := lifetimes[t]
	if !ok {
		return "", apperr.New(apperr.BadRequest, "unknown token type")
	}

	ids, err := s.db.SMembers(ctx, userTypeSetKey(userID, t))
	if err != nil {
		return "", err
	}

	now := s.now()
	var best string
	var bestUntil time.Time
	for _, id := range ids {
		fields, err := s.db.HGetAll(ctx, recordKey(id))
		if err != nil {
			return "", err
		}
		validUntil, ok := parseValidUntil(fields)
		if !ok || validUntil.Before(now) {
			s.deleteToken(ctx, id, userID, t)
			continue
		}
		if best == "" || validUntil.After(bestUntil) {
			best, bestUntil = id, validUntil
		}
	}

	if best != "" && !bestUntil.Before(now.Add(lt.renewAt)) {
		return best, nil
	}

	return s.createToken(ctx, userID, t, now.Add(lt.maxAge))
}

// createToken mints a new token, writing metadata first, then the per-user
// set, and *finally* the global set — the ordering spec.md §4.4 requires so
// that a crash mid-creation never leaves a token checkToken would accept
// (checkToken's first gate is global-set membership).
func (s *Store) createToken(ctx context.Context, userID string, t Type, validUntil time.Time) (string, error) {
	var id string
	for attempt := 0; attempt < 10; attempt++ {
		candidate := s.ids.Next()
		member, err := s.db.SIsMember(ctx, globalSetKey(), candidate)
		if err != nil {
			return "", err
		}
		if !member {
			id = candidate
			break
		}
	}
	if id == "" {
		return "", apperr.New(apperr.Internal, "could not allocate unique token")
	}

	if err := s.db.HSet(ctx, recordKey(id), fieldUserID, userID); err != nil {
		return "", err
	}
	if err := s.db.HSet(ctx, recordKey(id), fieldType, string(t)); err != nil {
		return "", err
	}
	if err := s.db.HSet(ctx, recordKey(id), fieldValidUntil, formatTime(validUntil)); err != nil {
		return "", err
	}
	if err := s.db.SAdd(ctx, userTypeSetKey(userID, t), id); err != nil {
		return "", err
	}
	if err := s.db.SAdd(ctx, globalSetKey(), id); err != nil {
		return "", err
	}
	return id, nil
}

// CheckResult carries the outcome of CheckToken, including a freshly
// minted replacement token when renewal fired.
type CheckResult struct {
	UserID   string
	Type     Type
	NewToken string // non-empty only when renewal produced a replacement
}

// CheckToken validates token, optionally enforcing a required type and
// renewing it when its remaining lifetime is below the renewal threshold.
// Any failure surfaces as a single opaque "token expired" error, per
// spec.md §7's "Token checks always convert any failure to a single opaque
// token expired" rule.
func (s *Store) CheckToken(ctx context.Context, tok string, requiredType *Type, renew bool) (CheckResult, error) {
	result, err := s.checkToken(ctx, tok, requiredType, renew)
	if err != nil {
		return CheckResult{}, apperr.New(apperr.NotFound, "token expired")
	}
	return result, nil
}

func (s *Store) checkToken(ctx context.Context, tok string, requiredType *Type, renew bool) (CheckResult, error) {
	member, err := s.db.SIsMember(ctx, globalSetKey(), tok)
	if err != nil {
		return CheckResult{}, err
	}
	if !member {
		return CheckResult{}, fmt.Errorf("token not in global set")
	}

	fields, err := s.db.HGetAll(ctx, recordKey(tok))
	if err != nil {
		return CheckResult{}, err
	}
	userID, ok := fields[fieldUserID]
	if !ok {
		return CheckResult{}, fmt.Errorf("token record missing")
	}
	tokType := Type(fields[fieldType])
	if requiredType != nil && tokType != *requiredType {
		return CheckResult{}, fmt.Errorf("token type mismatch")
	}

	validUntil, ok := parseValidUntil(fields)
	if !ok {
		return CheckResult{}, fmt.Errorf("token record corrupt")
	}

	now := s.now()
	if validUntil.Before(now) || validUntil.Equal(now) {
		s.deleteToken(ctx, tok, userID, tokType)
		return CheckResult{}, fmt.Errorf("token expired")
	}

	result := CheckResult{UserID: userID, Type: tokType}

	if renew {
		lt, ok := lifetimes[tokType]
		if ok && validUntil.Before(now.Add(lt.renewAt)) {
			newTok, err := s.createToken(ctx, userID, tokType, now.Add(lt.maxAge))
			if err == nil {
				result.NewToken = newTok
			}
		}
	}

	return result, nil
}

// deleteToken removes a token: global set, then per-user set, then the
// record itself, per spec.md §4.4's ordering.
func (s *Store) deleteToken(ctx context.Context, tok, userID string, t Type) {
	_ = s.db.SRem(ctx, globalSetKey(), tok)
	_ = s.db.SRem(ctx, userTypeSetKey(userID, t), tok)
	_ = s.db.Del(ctx, recordKey(tok))
}

func parseValidUntil(fields map[string]string) (time.Time, bool) {
	raw, ok := fields[fieldValidUntil]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
