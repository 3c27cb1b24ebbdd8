package memory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
)

func newTestStore() *Storage {
	return New(slog.Default())
}

func TestSaveGetClientRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	c := oauthstore.Client{ClientID: "client-1", RedirectURIs: []string{"https://app.example/cb"}}
	require.NoError(t, s.SaveClient(ctx, c))

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, c.ClientID, got.ClientID)

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, oauthstore.ErrNotFound)
}

func TestGrantExpiresByTTL(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	g := oauthstore.Grant{ID: "grant-1", UserID: "user-1"}
	require.NoError(t, s.SaveGrant(ctx, g, 1))

	_, err := s.GetGrant(ctx, "user-1", "grant-1")
	require.NoError(t, err, "expected grant to be live")

	s.now = func() time.Time { return now.Add(2 * time.Second) }
	_, err = s.GetGrant(ctx, "user-1", "grant-1")
	assert.ErrorIs(t, err, oauthstore.ErrNotFound, "expected ErrNotFound after TTL elapsed")
}

func TestSaveGrantIsIdempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	g := oauthstore.Grant{ID: "grant-1", UserID: "user-1", Scope: []string{"a"}}
	require.NoError(t, s.SaveGrant(ctx, g, 0))
	g.Scope = []string{"a", "b"}
	require.NoError(t, s.SaveGrant(ctx, g, 0))

	got, err := s.GetGrant(ctx, "user-1", "grant-1")
	require.NoError(t, err)
	assert.Len(t, got.Scope, 2, "expected the second save to replace the record")
}

func TestDeleteTokensForGrantRemovesOnlyThatGrant(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	mk := func(grantID, tokenID string) oauthstore.Token {
		return oauthstore.Token{ID: tokenID, UserID: "user-1", GrantID: grantID, ExpiresAt: time.Now().Add(time.Hour).Unix()}
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

func TestLockLifecycle(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	acquired, err := s.TryAcquireLock(ctx, "user-1", 60)
	require.NoError(t, err)
	assert.True(t, acquired, "expected first lock acquisition to succeed")

	acquired, err = s.TryAcquireLock(ctx, "user-1", 60)
	require.NoError(t, err)
	assert.False(t, acquired, "expected second lock acquisition to fail while held")

	exists, err := s.LockExists(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, exists, "expected lock to exist")

	require.NoError(t, s.ReleaseLock(ctx, "user-1"))
	exists, _ = s.LockExists(ctx, "user-1")
	assert.False(t, exists, "expected lock to be released")
}

func TestRefreshResultCache(t *testing.T) {
	s := newTestStore()
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
