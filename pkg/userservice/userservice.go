// Package userservice implements the account/credential/token/userdata
// command surface of spec.md §4.4 and §6 ("User" wire commands), wrapping
// pkg/password, pkg/token, and pkg/userdata around a shared dbkv.Store that
// also holds the account records themselves.
package userservice

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/internal/metrics"
	"github.com/vgshost/core/pkg/dbkv"
	"github.com/vgshost/core/pkg/password"
	"github.com/vgshost/core/pkg/token"
	"github.com/vgshost/core/pkg/userdata"
)

// Config holds the USER.* configuration keys of spec.md §6 that this
// package, rather than pkg/password or pkg/token, is responsible for.
type Config struct {
	ProfileMaxValueSize int
}

// Service is the User component of spec.md §6.
type Service struct {
	db      dbkv.Store
	hasher  password.Hasher
	tokens  *token.Store
	data    *userdata.Store
	cfg     Config
	metrics *metrics.Metrics
}

func New(db dbkv.Store, hasher password.Hasher, tokens *token.Store, data *userdata.Store, cfg Config) *Service {
	return &Service{db: db, hasher: hasher, tokens: tokens, data: data, cfg: cfg}
}

// WithMetrics attaches a metrics sink; met may be nil.
func (s *Service) WithMetrics(met *metrics.Metrics) *Service {
	s.metrics = met
	return s
}

// record field names within the "user:<id>" subtree (spec.md §6).
const (
	fieldName     = "name"
	fieldPassword = "password"
	fieldProfile  = "profile"
)

func uidKey(canonicalName string) string { return "uid:" + canonicalName }
func userKey(id string) string           { return "user:" + id }
func counterKey() string                 { return "user:uid" }

// Blocked is the reserved user ID spec.md §4.4 treats as "not found".
const Blocked = "0"

// Canonicalize lower-cases a display name and strips punctuation to derive
// the login name used as the uid: lookup key, per spec.md §4.4.
func Canonicalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsPunct(r) || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AddUser creates a new account, claiming the canonical name atomically
// (spec.md §4.4: "Reservations are enforced by attempting an atomic
// SETNX-style claim keyed by the canonical name; collision → already
// exists"). Returns the new user ID.
func (s *Service) AddUser(ctx context.Context, name, plainPassword string) (string, error) {
	canonical := Canonicalize(name)
	if canonical == "" {
		return "", apperr.New(apperr.BadRequest, "invalid user name")
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return "", err
	}

	claimed, err := s.db.SetNX(ctx, uidKey(canonical), id)
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", apperr.New(apperr.AlreadyExists, "user already exists")
	}

	hash, err := s.hasher.Encrypt(plainPassword, id)
	if err != nil {
		return "", err
	}
	if err := s.db.HSet(ctx, userKey(id), fieldName, name); err != nil {
		return "", err
	}
	if err := s.db.HSet(ctx, userKey(id), fieldPassword, hash); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) nextID(ctx context.Context) (string, error) {
	n, err := s.db.Incr(ctx, counterKey())
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

// DeleteUser blocks an account by overwriting its uid: mapping with the
// reserved "0" ID, per spec.md §4.4's "stored ID is 0 (blocked/reserved)"
// rule — the record itself is left in place for audit, only the login path
// is severed.
func (s *Service) DeleteUser(ctx context.Context, name string) error {
	canonical := Canonicalize(name)
	return s.db.Set(ctx, uidKey(canonical), Blocked)
}

// Lookup resolves a canonical login name to a user ID, per spec.md §4.4.
func (s *Service) Lookup(ctx context.Context, name string) (string, error) {
	id, ok, err := s.db.Get(ctx, uidKey(Canonicalize(name)))
	if err != nil {
		return "", err
	}
	if !ok || id == Blocked {
		return "", apperr.New(apperr.NotFound, "invalid user")
	}
	return id, nil
}

// Login authenticates (name, password), upgrading the stored hash in place
// when the composite encrypter reports ValidNeedUpdate, per spec.md §4.4.
func (s *Service) Login(ctx context.Context, name, plainPassword string) (string, error) {
	id, ok, err := s.db.Get(ctx, uidKey(Canonicalize(name)))
	if err != nil {
		return "", err
	}
	if !ok || id == Blocked {
		s.metrics.RecordAuthFailure()
		return "", apperr.New(apperr.InvalidCredentials, "invalid user or password")
	}

	hash, ok, err := s.db.HGet(ctx, userKey(id), fieldPassword)
	if err != nil {
		return "", err
	}
	if !ok || hash == "" {
		s.metrics.RecordAuthFailure()
		return "", apperr.New(apperr.InvalidCredentials, "invalid user or password")
	}

	result, err := s.hasher.Check(plainPassword, hash, id)
	if err != nil || result == password.Invalid {
		s.metrics.RecordAuthFailure()
		return "", apperr.New(apperr.InvalidCredentials, "invalid user or password")
	}

	if result == password.ValidNeedUpdate {
		if newHash, err := s.hasher.Encrypt(plainPassword, id); err == nil {
			_ = s.db.HSet(ctx, userKey(id), fieldPassword, newHash)
		}
	}

	return id, nil
}

// Passwd re-encrypts the account's password after verifying the old one.
func (s *Service) Passwd(ctx context.Context, id, oldPassword, newPassword string) error {
	hash, ok, err := s.db.HGet(ctx, userKey(id), fieldPassword)
	if err != nil {
		return err
	}
	if !ok || hash == "" {
		return apperr.New(apperr.InvalidCredentials, "invalid user or password")
	}
	if result, err := s.hasher.Check(oldPassword, hash, id); err != nil || result == password.Invalid {
		return apperr.New(apperr.InvalidCredentials, "invalid user or password")
	}
	newHash, err := s.hasher.Encrypt(newPassword, id)
	if err != nil {
		return err
	}
	return s.db.HSet(ctx, userKey(id), fieldPassword, newHash)
}

// Name returns the display name of a single user ID.
func (s *Service) Name(ctx context.Context, id string) (string, error) {
	name, ok, err := s.db.HGet(ctx, userKey(id), fieldName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.NotFound, "no such user")
	}
	return name, nil
}

// MName resolves several user IDs to names in one call (the "MNAME" wire
// command); missing IDs map to an empty string rather than failing the
// whole batch.
func (s *Service) MName(ctx context.Context, ids []string) ([]string, error) {
	out := make([]string, len(ids))
	for i, id := range ids {
		name, _, err := s.db.HGet(ctx, userKey(id), fieldName)
		if err != nil {
			return nil, err
		}
		out[i] = name
	}
	return out, nil
}

// Get/MGet/Set expose pkg/userdata's per-user application store.
func (s *Service) Get(ctx context.Context, id, key string) (string, bool, error) {
	return s.data.Get(ctx, id, key)
}

func (s *Service) MGet(ctx context.Context, id string, keys []string) ([]string, error) {
	return s.data.MGet(ctx, id, keys)
}

func (s *Service) SetData(ctx context.Context, id, key, value string) error {
	return s.data.Set(ctx, id, key, value)
}

// UGet/USet expose the single "profile" blob distinct from the keyed
// UserData store (spec.md §6's "user:<id> subtree [...] profile").
func (s *Service) UGet(ctx context.Context, id string) (string, error) {
	v, _, err := s.db.HGet(ctx, userKey(id), fieldProfile)
	return v, err
}

func (s *Service) USet(ctx context.Context, id, value string) error {
	if len(value) > s.cfg.ProfileMaxValueSize {
		return apperr.New(apperr.TooLarge, "profile too large")
	}
	return s.db.HSet(ctx, userKey(id), fieldProfile, value)
}

// MakeToken mints or reuses a live token for (id, type), per pkg/token.
func (s *Service) MakeToken(ctx context.Context, id string, t token.Type) (string, error) {
	tok, err := s.tokens.GetToken(ctx, id, t)
	if err == nil {
		s.metrics.RecordTokenIssued(string(t))
	}
	return tok, err
}

// CheckToken validates a token, optionally requiring a type and renewing
// it near expiry.
func (s *Service) CheckToken(ctx context.Context, tok string, requiredType *token.Type, renew bool) (token.CheckResult, error) {
	return s.tokens.CheckToken(ctx, tok, requiredType, renew)
}

// ResetToken returns a live token (newly minted or reused) of each of the
// given types for the one user id, in the same order as types (the
// "RESETTOKEN user types…" wire command; see Dispatch for the argument
// split).
func (s *Service) ResetToken(ctx context.Context, id string, types []token.Type) ([]string, error) {
	out := make([]string, len(types))
	for i, t := range types {
		tok, err := s.tokens.GetToken(ctx, id, t)
		if err != nil {
			return nil, err
		}
		s.metrics.RecordTokenIssued(string(t))
		out[i] = tok
	}
	return out, nil
}

// Dispatch routes one already-tokenized wire command (verb upper-cased, as
// RESP delivers it) to the corresponding Service method, per spec.md §6's
// "User" command list.
func (s *Service) Dispatch(ctx context.Context, args []string) (any, error) {
	if len(args) == 0 {
		return nil, apperr.New(apperr.BadRequest, "empty command")
	}
	verb := strings.ToUpper(args[0])
	rest := args[1:]

	switch verb {
	case "PING":
		return "PONG", nil

	case "ADDUSER":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "ADDUSER name password")
		}
		return s.AddUser(ctx, rest[0], rest[1])

	case "DELUSER":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "DELUSER name")
		}
		return nil, s.DeleteUser(ctx, rest[0])

	case "LOGIN":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "LOGIN name password")
		}
		return s.Login(ctx, rest[0], rest[1])

	case "LOOKUP":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "LOOKUP name")
		}
		return s.Lookup(ctx, rest[0])

	case "NAME":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "NAME id")
		}
		return s.Name(ctx, rest[0])

	case "MNAME":
		if len(rest) == 0 {
			return nil, apperr.New(apperr.BadRequest, "MNAME id…")
		}
		return s.MName(ctx, rest)

	case "GET":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "GET id key")
		}
		v, ok, err := s.Get(ctx, rest[0], rest[1])
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return v, nil

	case "MGET":
		if len(rest) < 2 {
			return nil, apperr.New(apperr.BadRequest, "MGET id key…")
		}
		return s.MGet(ctx, rest[0], rest[1:])

	case "SET":
		if len(rest) != 3 {
			return nil, apperr.New(apperr.BadRequest, "SET id key value")
		}
		return nil, s.SetData(ctx, rest[0], rest[1], rest[2])

	case "PASSWD":
		if len(rest) != 3 {
			return nil, apperr.New(apperr.BadRequest, "PASSWD id old new")
		}
		return nil, s.Passwd(ctx, rest[0], rest[1], rest[2])

	case "MAKETOKEN":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "MAKETOKEN id type")
		}
		return s.MakeToken(ctx, rest[0], token.Type(strings.ToLower(rest[1])))

	case "CHECKTOKEN":
		return s.dispatchCheckToken(ctx, rest)

	case "RESETTOKEN":
		if len(rest) < 2 {
			return nil, apperr.New(apperr.BadRequest, "RESETTOKEN user types…")
		}
		types := make([]token.Type, len(rest)-1)
		for i, t := range rest[1:] {
			types[i] = token.Type(strings.ToLower(t))
		}
		return s.ResetToken(ctx, rest[0], types)

	case "UGET":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "UGET id")
		}
		return s.UGet(ctx, rest[0])

	case "USET":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "USET id value")
		}
		return nil, s.USet(ctx, rest[0], rest[1])

	case "HELP":
		return helpText, nil

	default:
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("unknown command %q", verb))
	}
}

// dispatchCheckToken handles CHECKTOKEN's optional "TYPE t" and "RENEW"
// trailing flags (spec.md §6: "CHECKTOKEN [TYPE t] [RENEW]").
func (s *Service) dispatchCheckToken(ctx context.Context, rest []string) (any, error) {
	if len(rest) == 0 {
		return nil, apperr.New(apperr.BadRequest, "CHECKTOKEN token [TYPE t] [RENEW]")
	}
	tok := rest[0]
	var requiredType *token.Type
	renew := false

	i := 1
	for i < len(rest) {
		switch strings.ToUpper(rest[i]) {
		case "TYPE":
			if i+1 >= len(rest) {
				return nil, apperr.New(apperr.BadRequest, "TYPE requires an argument")
			}
			t := token.Type(strings.ToLower(rest[i+1]))
			requiredType = &t
			i += 2
		case "RENEW":
			renew = true
			i++
		default:
			return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("unexpected argument %q", rest[i]))
		}
	}

	return s.CheckToken(ctx, tok, requiredType, renew)
}

const helpText = `ADDUSER name password
DELUSER name
LOGIN name password
LOOKUP name
NAME id
MNAME id...
GET id key
MGET id key...
SET id key value
PASSWD id old new
MAKETOKEN id type
CHECKTOKEN token [TYPE t] [RENEW]
RESETTOKEN user types...
UGET id
USET id value`
