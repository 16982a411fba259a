package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabel(t *testing.T) {
	for _, valid := range []string{"google", "g", "my-realm_2", "ABCDEFGHIJKLMNOPQRSTUVWXYZ012345"} {
		label, err := ParseLabel(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, label.String())
	}
	for _, invalid := range []string{"", "with space", "too-long-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "slash/y", "dot.ted"} {
		_, err := ParseLabel(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestPersistenceID(t *testing.T) {
	label, err := ParseLabel("google")
	require.NoError(t, err)
	assert.Equal(t, "realms-google", label.PersistenceID())
}

func TestParseURL(t *testing.T) {
	for _, valid := range []string{"https://example.com", "http://example.com/a?b=c"} {
		u, err := ParseURL(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, u.String())
	}
	for _, invalid := range []string{"", "example.com", "ftp://example.com", "/relative", "https://"} {
		_, err := ParseURL(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestCaller(t *testing.T) {
	caller := NewCaller(User("alice", "google"),
		Anonymous(), Authenticated("google"), Group("g1", "google"))

	assert.Equal(t, User("alice", "google"), caller.Subject)
	assert.True(t, caller.Is(User("alice", "google")))
	assert.True(t, caller.Is(Anonymous()))
	assert.True(t, caller.Is(Group("g1", "google")))
	assert.False(t, caller.Is(Group("g2", "google")))
	assert.False(t, caller.IsAnonymous())
	assert.Len(t, caller.Identities, 4)

	anon := AnonymousCaller()
	assert.True(t, anon.IsAnonymous())
	assert.True(t, anon.Is(Anonymous()))
	assert.Len(t, anon.Identities, 1)
}

func TestFilterGrantTypes(t *testing.T) {
	got := FilterGrantTypes([]string{"authorization_code", "bogus", "refresh_token", "device_code"})
	assert.Equal(t, []GrantType{GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeDeviceCode}, got)
	assert.Nil(t, FilterGrantTypes(nil))
}
