package acls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "aegis/pkg/domain"
)

func TestHasPermissionWalksAncestors(t *testing.T) {
	acl := NewInMemory()
	acl.Grant("/", "realms/read", id.Anonymous())
	acl.Grant("/google", "realms/write", id.User("alice", "google"))

	ctx := context.Background()
	alice := id.NewCaller(id.User("alice", "google"), id.Anonymous(), id.Authenticated("google"))

	ok, err := acl.HasPermission(ctx, "/google", "realms/write", alice)
	require.NoError(t, err)
	assert.True(t, ok)

	// The root grant applies to every path below it.
	ok, err = acl.HasPermission(ctx, "/google", "realms/read", alice)
	require.NoError(t, err)
	assert.True(t, ok)

	// A grant on one realm's path does not leak to a sibling.
	ok, err = acl.HasPermission(ctx, "/github", "realms/write", alice)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPermissionMatchesAnyIdentity(t *testing.T) {
	acl := NewInMemory()
	acl.Grant("/", "realms/write", id.Group("admins", "google"))

	ctx := context.Background()
	member := id.NewCaller(id.User("alice", "google"), id.Group("admins", "google"))
	outsider := id.NewCaller(id.User("bob", "google"))

	ok, err := acl.HasPermission(ctx, "/anything", "realms/write", member)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = acl.HasPermission(ctx, "/anything", "realms/write", outsider)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"/a/b/c", "/a/b", "/a", "/"}, ancestors("/a/b/c"))
	assert.Equal(t, []string{"/"}, ancestors("/"))
	assert.Equal(t, []string{"/a", "/"}, ancestors("a"))
}
