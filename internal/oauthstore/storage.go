package oauthstore

import "context"

// Page is a forward-only, opaquely-cursored page of results.
type Page[T any] struct {
	Items      []T
	NextCursor string // empty when there are no further pages
}

// Storage is the capability set every backend (in-memory, Redis) must
// implement. It mirrors github.com/dexidp/dex/storage's Storage interface
// in shape — one method per entity operation, no backend-specific types
// leaking through — generalized from dex's client/auth-code/refresh-token
// trio to this server's client/grant/token trio.
//
// All operations are safe for concurrent use. Save is idempotent and
// replaces any existing record with the same key. TTL is a soft expiry:
// backends may enforce it lazily at read time or natively (Redis EXPIRE).
type Storage interface {
	ClientStore
	GrantStore
	TokenStore
	LockStore

	Close() error
}

// ClientStore manages registered OAuth2 clients.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (Client, error)
	SaveClient(ctx context.Context, c Client) error
	DeleteClient(ctx context.Context, clientID string) error
	ListClients(ctx context.Context, limit int, cursor string) (Page[Client], error)
}

// GrantStore manages per-user consent grants.
type GrantStore interface {
	GetGrant(ctx context.Context, userID, grantID string) (Grant, error)
	// SaveGrant persists g. A zero ttl means "no expiry" (post auth-code
	// consumption); a positive ttl is the grant's soft expiry from now.
	SaveGrant(ctx context.Context, g Grant, ttl int64) error
	DeleteGrant(ctx context.Context, userID, grantID string) error
	ListUserGrants(ctx context.Context, userID string, limit int, cursor string) (Page[GrantSummary], error)
}

// TokenStore manages issued access and refresh tokens.
type TokenStore interface {
	GetToken(ctx context.Context, userID, grantID, tokenID string) (Token, error)
	SaveToken(ctx context.Context, t Token, ttlSeconds int64) error
	DeleteToken(ctx context.Context, userID, grantID, tokenID string) error
	// DeleteTokensForGrant removes every token owned by (userID, grantID),
	// paginating internally over the backing store.
	DeleteTokensForGrant(ctx context.Context, userID, grantID string) error
}

// LockStore backs the upstream refresh coordinator's advisory lock and
// result cache. It is explicitly not a mutex: TryAcquireLock
// merely records a best-effort reservation.
type LockStore interface {
	// TryAcquireLock attempts to create the lock key for userID with the
	// given TTL. It reports whether the lock was newly acquired; false means
	// a lock (or a lock that raced ahead of us) already exists.
	TryAcquireLock(ctx context.Context, userID string, ttl int64) (bool, error)
	ReleaseLock(ctx context.Context, userID string) error
	LockExists(ctx context.Context, userID string) (bool, error)

	GetRefreshResult(ctx context.Context, userID string) (RefreshResult, bool, error)
	SaveRefreshResult(ctx context.Context, userID string, result RefreshResult, ttlSeconds int64) error
}

// RefreshResult is the cached outcome of an upstream refresh, stored under
// the refresh-result:{userId} keyspace.
type RefreshResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}
