package userservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vgshost/core/pkg/dbkv"
	"github.com/vgshost/core/pkg/password"
	"github.com/vgshost/core/pkg/token"
	"github.com/vgshost/core/pkg/userdata"
)

type seqIDs struct{ n int }

func (g *seqIDs) Next() string {
	g.n++
	return "salt" + string(rune('0'+g.n))
}

func newService() *Service {
	db := dbkv.NewMemoryStore()
	hasher := password.NewCompositeEncrypter(
		password.NewSaltedEncrypter(&seqIDs{}),
		password.NewClassicEncrypter("pepper"),
	)
	toks := token.New(db, &seqIDs{})
	data := userdata.New(db, userdata.Limits{MaxKeySize: 64, MaxValueSize: 1024, MaxTotalSize: 1 << 20})
	return New(db, hasher, toks, data, Config{ProfileMaxValueSize: 256})
}

func TestAddUser_ThenLoginSucceeds(t *testing.T) {
	ctx := context.Background()
	s := newService()

	id, err := s.AddUser(ctx, "Alice Example", "sekret")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loggedIn, err := s.Login(ctx, "Alice Example", "sekret")
	require.NoError(t, err)
	require.Equal(t, id, loggedIn)
}

func TestAddUser_DuplicateCanonicalNameRejected(t *testing.T) {
	ctx := context.Background()
	s := newService()

	_, err := s.AddUser(ctx, "Bob", "pw1")
	require.NoError(t, err)
	_, err = s.AddUser(ctx, "BOB!!", "pw2")
	require.Error(t, err)
}

func TestLogin_WrongPasswordRejected(t *testing.T) {
	ctx := context.Background()
	s := newService()
	_, err := s.AddUser(ctx, "carol", "right")
	require.NoError(t, err)

	_, err = s.Login(ctx, "carol", "wrong")
	require.Error(t, err)
}

func TestDeleteUser_BlocksSubsequentLogin(t *testing.T) {
	ctx := context.Background()
	s := newService()
	_, err := s.AddUser(ctx, "dave", "pw")
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser(ctx, "dave"))
	_, err = s.Login(ctx, "dave", "pw")
	require.Error(t, err)
}

func TestNameAndMName(t *testing.T) {
	ctx := context.Background()
	s := newService()
	id, err := s.AddUser(ctx, "Erin", "pw")
	require.NoError(t, err)

	name, err := s.Name(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Erin", name)

	names, err := s.MName(ctx, []string{id, "nonexistent"})
	require.NoError(t, err)
	require.Equal(t, []string{"Erin", ""}, names)
}

func TestUserDataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newService()
	id, err := s.AddUser(ctx, "Frank", "pw")
	require.NoError(t, err)

	require.NoError(t, s.SetData(ctx, id, "score", "42"))
	v, ok, err := s.Get(ctx, id, "score")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "42", v)
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newService()
	id, err := s.AddUser(ctx, "Grace", "pw")
	require.NoError(t, err)

	require.NoError(t, s.USet(ctx, id, "{\"avatar\":\"cat\"}"))
	profile, err := s.UGet(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "{\"avatar\":\"cat\"}", profile)
}

func TestMakeTokenThenCheckToken(t *testing.T) {
	ctx := context.Background()
	s := newService()
	id, err := s.AddUser(ctx, "Henry", "pw")
	require.NoError(t, err)

	tok, err := s.MakeToken(ctx, id, token.Login)
	require.NoError(t, err)

	result, err := s.CheckToken(ctx, tok, nil, false)
	require.NoError(t, err)
	require.Equal(t, id, result.UserID)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	ctx := context.Background()
	s := newService()
	_, err := s.Dispatch(ctx, []string{"NOPE"})
	require.Error(t, err)
}

func TestDispatch_AddUserThenLoginRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newService()

	_, err := s.Dispatch(ctx, []string{"ADDUSER", "Ivy", "passw0rd"})
	require.NoError(t, err)

	result, err := s.Dispatch(ctx, []string{"LOGIN", "Ivy", "passw0rd"})
	require.NoError(t, err)
	require.NotEmpty(t, result)
}

func TestDispatch_CheckTokenWithTypeAndRenewFlags(t *testing.T) {
	ctx := context.Background()
	s := newService()
	res, err := s.Dispatch(ctx, []string{"ADDUSER", "Jack", "pw"})
	require.NoError(t, err)
	id := res.(string)

	tokRes, err := s.Dispatch(ctx, []string{"MAKETOKEN", id, "login"})
	require.NoError(t, err)
	tok := tokRes.(string)

	_, err = s.Dispatch(ctx, []string{"CHECKTOKEN", tok, "TYPE", "login", "RENEW"})
	require.NoError(t, err)
}
