package dirtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/pkg/vfs/memdir"
)

func TestControlFile_RoundTrip(t *testing.T) {
	cf := NewControlFile()
	require.NoError(t, cf.SetOwner("1001"))
	require.NoError(t, cf.SetProp("name", "Foo"))
	require.NoError(t, cf.SetPerms("1002", PermRead|PermList))

	parsed := ParseControlFile(cf.Encode())
	owner, ok := parsed.Owner()
	require.True(t, ok)
	require.Equal(t, "1001", owner)

	name, ok := parsed.Prop("name")
	require.True(t, ok)
	require.Equal(t, "Foo", name)

	perm, ok := parsed.PermsFor("1002")
	require.True(t, ok)
	require.True(t, perm.Has(PermRead))
	require.True(t, perm.Has(PermList))
	require.False(t, perm.Has(PermWrite))
}

func TestControlFile_SetEmptyDoesNotRemove(t *testing.T) {
	cf := NewControlFile()
	require.NoError(t, cf.SetProp("name", "Foo"))
	require.NoError(t, cf.SetProp("name", ""))

	v, ok := cf.Get("prop:name")
	require.True(t, ok)
	require.Equal(t, "", v)
}

func TestPermission_ParseAndString(t *testing.T) {
	require.Equal(t, "0", Permission(0).String())
	require.Equal(t, PermRead|PermList, ParsePermission("rl"))
	require.Equal(t, "rl", (PermRead | PermList).String())
	require.Equal(t, PermRead, ParsePermission("rX")) // unknown chars ignored
}

func TestResolver_OwnerGrantsAllPermissions(t *testing.T) {
	ctx := context.Background()
	backend := memdir.New()
	root := NewRoot(backend)

	sub, err := backend.CreateDirectory(ctx, "u")
	require.NoError(t, err)
	child, err := root.Child(ctx, "u", sub)
	require.NoError(t, err)
	cf := NewControlFile()
	require.NoError(t, cf.SetOwner("1001"))
	require.NoError(t, child.WriteControlFile(ctx, cf))

	perm, err := child.Permission(ctx, "1001")
	require.NoError(t, err)
	require.Equal(t, AllPermissions, perm)

	perm, err = child.Permission(ctx, "1002")
	require.NoError(t, err)
	require.Equal(t, Permission(0), perm)
}

func TestResolver_404VersusForbiddenVisibility(t *testing.T) {
	ctx := context.Background()
	backend := memdir.New()
	root := NewRoot(backend)
	resolver := NewResolver(root)

	sub, err := backend.CreateDirectory(ctx, "u")
	require.NoError(t, err)
	child, err := root.Child(ctx, "u", sub)
	require.NoError(t, err)
	cf := NewControlFile()
	require.NoError(t, cf.SetOwner("1001"))
	require.NoError(t, child.WriteControlFile(ctx, cf))

	// No List permission for 1002: missing file under u/ must be 403.
	_, err = resolver.Walk(ctx, []string{"u", "anything"}, "1002")
	require.Error(t, err)
	require.Equal(t, apperr.PermissionDenied, apperr.Code(err))

	// Grant List; missing entries now read 404.
	cf2, err := child.Control(ctx)
	require.NoError(t, err)
	require.NoError(t, cf2.SetPerms("1002", PermList))
	require.NoError(t, child.WriteControlFile(ctx, cf2))

	_, err = resolver.Walk(ctx, []string{"u", "anything"}, "1002")
	require.Error(t, err)
	require.Equal(t, apperr.NotFound, apperr.Code(err))
}

func TestResolver_PathComponentValidation(t *testing.T) {
	ctx := context.Background()
	root := NewRoot(memdir.New())
	resolver := NewResolver(root)

	_, err := resolver.ResolveDirectory(ctx, "../etc", "")
	require.Error(t, err)

	_, err = resolver.ResolveDirectory(ctx, "a/b:c", "")
	require.Error(t, err)
}

func TestVisibilityLevel(t *testing.T) {
	ctx := context.Background()
	backend := memdir.New()
	root := NewRoot(backend)

	cf, err := root.Control(ctx)
	require.NoError(t, err)
	level, err := root.VisibilityLevel(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, level)

	require.NoError(t, cf.SetPerms("1002", PermRead))
	require.NoError(t, root.WriteControlFile(ctx, cf))
	level, err = root.VisibilityLevel(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, level)

	require.NoError(t, cf.SetPerms("*", PermRead))
	require.NoError(t, root.WriteControlFile(ctx, cf))
	level, err = root.VisibilityLevel(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, level)
}
