package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vgshost/core/pkg/dbkv"
)

type seqGen struct {
	n int
}

func (g *seqGen) Next() string {
	g.n++
	return time.Now().Format("150405") + "-" + itoaTest(g.n)
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func newStore(nowFn func() time.Time) *Store {
	s := New(dbkv.NewMemoryStore(), &seqGen{})
	s.now = nowFn
	return s
}

func TestGetToken_ThenCheckTokenSucceeds(t *testing.T) {
	now := time.Now()
	s := newStore(func() time.Time { return now })

	tok, err := s.GetToken(context.Background(), "1001", Login)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	result, err := s.CheckToken(context.Background(), tok, nil, false)
	require.NoError(t, err)
	require.Equal(t, "1001", result.UserID)
	require.Equal(t, Login, result.Type)
}

func TestGetToken_ReusesLiveToken(t *testing.T) {
	now := time.Now()
	s := newStore(func() time.Time { return now })

	tok1, err := s.GetToken(context.Background(), "1001", Login)
	require.NoError(t, err)
	tok2, err := s.GetToken(context.Background(), "1001", Login)
	require.NoError(t, err)
	require.Equal(t, tok1, tok2)
}

func TestCheckToken_RejectsUnknownToken(t *testing.T) {
	s := newStore(time.Now)
	_, err := s.CheckToken(context.Background(), "bogus", nil, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "token expired")
}

func TestCheckToken_ExpiresAtValidUntil(t *testing.T) {
	current := time.Now()
	s := newStore(func() time.Time { return current })

	tok, err := s.GetToken(context.Background(), "1001", Reset)
	require.NoError(t, err)

	// Jump past Reset's max age (4 days).
	current = current.Add(5 * 24 * time.Hour)
	_, err = s.CheckToken(context.Background(), tok, nil, false)
	require.Error(t, err)
}

func TestCheckToken_RenewsNearExpiry(t *testing.T) {
	current := time.Now()
	s := newStore(func() time.Time { return current })

	tok, err := s.GetToken(context.Background(), "1001", Reset)
	require.NoError(t, err)

	// Move into the renewal window (remaining < 3 days of a 4-day max age).
	current = current.Add(1*24*time.Hour + 1*time.Hour)

	result, err := s.CheckToken(context.Background(), tok, nil, true)
	require.NoError(t, err)
	require.NotEmpty(t, result.NewToken)

	// A second immediate check returns the same new token via GetToken.
	again, err := s.GetToken(context.Background(), "1001", Reset)
	require.NoError(t, err)
	require.Equal(t, result.NewToken, again)
}

func TestCheckToken_TypeMismatch(t *testing.T) {
	s := newStore(time.Now)
	tok, err := s.GetToken(context.Background(), "1001", Login)
	require.NoError(t, err)

	apiType := API
	_, err = s.CheckToken(context.Background(), tok, &apiType, false)
	require.Error(t, err)
}
