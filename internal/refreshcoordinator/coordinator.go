// Package refreshcoordinator implements the distributed lock + result cache
// that serializes upstream refresh-token rotation across replicas. It is
// explicitly not a mutex — two replicas racing ahead of both the lock and
// the result cache will both call upstream, and one will fail; the
// coordinator's job is only to make that rare, not impossible, since the
// backing lock store offers advisory coordination rather than strict
// mutual exclusion.
package refreshcoordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

// lockWait is how long a replica that observes an existing lock waits
// before re-checking the result cache.
const lockWait = 2 * time.Second

// Coordinator serializes upstream refreshes per user.
type Coordinator struct {
	locks    oauthstore.LockStore
	upstream *upstream.Client
	logger   *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// New returns a Coordinator backed by locks and calling upstreamClient when
// a refresh is actually required.
func New(locks oauthstore.LockStore, upstreamClient *upstream.Client, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		locks:    locks,
		upstream: upstreamClient,
		logger:   logger,
		now:      time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
	}
}

// Outcome is a coordinated refresh's result: the credentials to persist and
// the TTL the caller should give the new downstream access token.
type Outcome struct {
	Credentials    upstream.Credentials
	AccessTokenTTL int64
}

// Refresh performs (or reuses a concurrent replica's) upstream refresh for
// userID using refreshToken: check the result cache, wait out an existing
// lock and recheck, acquire the lock best-effort, call upstream, then
// cache the result and release the lock.
func (c *Coordinator) Refresh(ctx context.Context, userID, refreshToken string) (Outcome, *upstream.UpstreamError) {
	if result, ok, err := c.locks.GetRefreshResult(ctx, userID); err == nil && ok {
		return c.outcomeFromResult(result), nil
	}

	if exists, err := c.locks.LockExists(ctx, userID); err == nil && exists {
		c.sleep(ctx, lockWait)
		if result, ok, err := c.locks.GetRefreshResult(ctx, userID); err == nil && ok {
			return c.outcomeFromResult(result), nil
		}
		// Fall through: the prior lock holder may have failed or is slow.
	}

	acquired, err := c.locks.TryAcquireLock(ctx, userID, int64(oauthstore.RefreshLockTTL.Seconds()))
	if err != nil {
		c.logger.ErrorContext(ctx, "refresh coordinator: failed to acquire lock", "user_id", userID, "err", err)
	}
	_ = acquired // best-effort; we proceed regardless

	result := c.upstream.RefreshAccessToken(ctx, refreshToken)
	if result.Err != nil {
		if releaseErr := c.locks.ReleaseLock(ctx, userID); releaseErr != nil {
			c.logger.WarnContext(ctx, "refresh coordinator: failed to release lock after failed refresh", "user_id", userID, "err", releaseErr)
		}
		return Outcome{}, result.Err
	}

	creds := upstream.FromTokenResponse(*result.Response)

	cached := oauthstore.RefreshResult{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    creds.AccessTokenExpiresAt,
	}
	if saveErr := c.locks.SaveRefreshResult(ctx, userID, cached, int64(oauthstore.RefreshResultTTL.Seconds())); saveErr != nil {
		// The upstream rotation already happened; a failure to cache it
		// must not discard the outcome we're about to return.
		c.logger.WarnContext(ctx, "refresh coordinator: failed to cache refresh result", "user_id", userID, "err", saveErr)
	}
	if releaseErr := c.locks.ReleaseLock(ctx, userID); releaseErr != nil {
		c.logger.WarnContext(ctx, "refresh coordinator: failed to release lock", "user_id", userID, "err", releaseErr)
	}

	return Outcome{Credentials: creds, AccessTokenTTL: result.Response.ExpiresIn}, nil
}

func (c *Coordinator) outcomeFromResult(result oauthstore.RefreshResult) Outcome {
	ttl := result.ExpiresAt - c.now().Unix()
	if ttl < 0 {
		ttl = 0
	}
	return Outcome{
		Credentials: upstream.Credentials{
			AccessToken:          result.AccessToken,
			RefreshToken:         result.RefreshToken,
			AccessTokenExpiresAt: result.ExpiresAt,
		},
		AccessTokenTTL: ttl,
	}
}
