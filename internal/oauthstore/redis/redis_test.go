package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
)

func newTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewStorageWithClient(client, "test:", nil), mr
}

func TestRedisClientRoundTrip(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	c := oauthstore.Client{ClientID: "client-1", RedirectURIs: []string{"https://app.example/cb"}}
	require.NoError(t, s.SaveClient(ctx, c))
	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, c.ClientID, got.ClientID)

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, oauthstore.ErrNotFound)
}

func TestRedisGrantExpiresNatively(t *testing.T) {
	s, mr := newTestStorage(t)
	ctx := context.Background()

	g := oauthstore.Grant{ID: "grant-1", UserID: "user-1"}
	require.NoError(t, s.SaveGrant(ctx, g, 1))
	_, err := s.GetGrant(ctx, "user-1", "grant-1")
	require.NoError(t, err, "expected grant to be live")

	mr.FastForward(2 * time.Second)
	_, err = s.GetGrant(ctx, "user-1", "grant-1")
	assert.ErrorIs(t, err, oauthstore.ErrNotFound, "expected ErrNotFound after native TTL elapsed")
}

func TestRedisListUserGrantsPagination(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"g1", "g2", "g3"} {
		require.NoError(t, s.SaveGrant(ctx, oauthstore.Grant{ID: id, UserID: "user-1"}, 3600))
	}

	page, err := s.ListUserGrants(ctx, "user-1", 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2, "expected first page of 2 items")
	assert.NotEmpty(t, page.NextCursor, "expected a next cursor for a partial page")

	rest, err := s.ListUserGrants(ctx, "user-1", 2, page.NextCursor)
	require.NoError(t, err)
	assert.Len(t, rest.Items, 1, "expected 1 remaining item")
}

func TestRedisDeleteTokensForGrant(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	mk := func(grantID, tokenID string) oauthstore.Token {
		return oauthstore.Token{ID: tokenID, UserID: "user-1", GrantID: grantID}
	}
	require.NoError(t, s.SaveToken(ctx, mk("grant-1", "tok-a"), 3600))
	require.NoError(t, s.SaveToken(ctx, mk("grant-1", "tok-b"), 3600))
	require.NoError(t, s.SaveToken(ctx, mk("grant-2", "tok-c"), 3600))

	require.NoError(t, s.DeleteTokensForGrant(ctx, "user-1", "grant-1"))
	_, err := s.GetToken(ctx, "user-1", "grant-1", "tok-a")
	assert.ErrorIs(t, err, oauthstore.ErrNotFound, "expected tok-a to be gone")
	_, err = s.GetToken(ctx, "user-1", "grant-2", "tok-c")
	assert.NoError(t, err, "expected tok-c (different grant) to survive")
}

func TestRedisLockIsExclusiveUntilReleased(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	ok, err := s.TryAcquireLock(ctx, "user-1", 60)
	require.NoError(t, err)
	assert.True(t, ok, "expected first acquisition to succeed")

	ok, err = s.TryAcquireLock(ctx, "user-1", 60)
	require.NoError(t, err)
	assert.False(t, ok, "expected second acquisition to fail while held")

	require.NoError(t, s.ReleaseLock(ctx, "user-1"))
	exists, err := s.LockExists(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, exists, "expected lock to be gone after release")
}

func TestRedisRefreshResultCache(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	_, ok, err := s.GetRefreshResult(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok, "expected no cached result initially")

	result := oauthstore.RefreshResult{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	require.NoError(t, s.SaveRefreshResult(ctx, "user-1", result, 60))

	got, ok, err := s.GetRefreshResult(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok, "expected cached result")
	assert.Equal(t, "at", got.AccessToken)
}
