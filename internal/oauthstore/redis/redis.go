// Package redis implements oauthstore.Storage on top of Redis, the
// production backend for multi-replica deployment. Keys follow a
// prefix:component scheme ("client:", "grant:", "token:", "refresh-lock:",
// "refresh-result:"); TTLs are native Redis expirations rather than
// lazily-checked timestamps. The constructor shape
// (NewStorageWithClient(client, prefix, logger)) and the SetNX-based lock primitive
// follow the pattern of stacklok-toolhive's
// pkg/authserver/storage.RedisStorage.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
)

var _ oauthstore.Storage = (*Storage)(nil)

// Storage is a Redis-backed oauthstore.Storage.
type Storage struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger
}

// NewStorageWithClient wraps an already-configured *redis.Client. prefix is
// prepended to every key this package writes, so a single Redis instance can
// be shared across environments.
func NewStorageWithClient(client *goredis.Client, prefix string, logger *slog.Logger) *Storage {
	return &Storage{client: client, prefix: prefix, logger: logger}
}

// New dials addr and returns a Storage using it.
func New(addr, password string, db int, prefix string, logger *slog.Logger) *Storage {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	return NewStorageWithClient(client, prefix, logger)
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) clientKey(id string) string        { return s.prefix + "client:" + id }
func (s *Storage) grantKey(userID, id string) string { return s.prefix + "grant:" + userID + ":" + id }
func (s *Storage) grantIndexKey(userID string) string { return s.prefix + "grant-index:" + userID }
func (s *Storage) tokenKey(userID, grantID, id string) string {
	return s.prefix + "token:" + userID + ":" + grantID + ":" + id
}
func (s *Storage) tokenIndexKey(userID, grantID string) string {
	return s.prefix + "token-index:" + userID + ":" + grantID
}
func (s *Storage) lockKey(userID string) string   { return s.prefix + "refresh-lock:" + userID }
func (s *Storage) resultKey(userID string) string { return s.prefix + "refresh-result:" + userID }

func translateErr(err error) error {
	if errors.Is(err, goredis.Nil) {
		return oauthstore.ErrNotFound
	}
	return err
}

func (s *Storage) GetClient(ctx context.Context, clientID string) (oauthstore.Client, error) {
	raw, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if err != nil {
		return oauthstore.Client{}, translateErr(err)
	}
	var c oauthstore.Client
	if err := json.Unmarshal(raw, &c); err != nil {
		return oauthstore.Client{}, fmt.Errorf("oauthstore/redis: decode client: %w", err)
	}
	return c, nil
}

func (s *Storage) SaveClient(ctx context.Context, c oauthstore.Client) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.clientKey(c.ClientID), raw, 0).Err()
}

func (s *Storage) DeleteClient(ctx context.Context, clientID string) error {
	return s.client.Del(ctx, s.clientKey(clientID)).Err()
}

func (s *Storage) ListClients(ctx context.Context, limit int, cursor string) (oauthstore.Page[oauthstore.Client], error) {
	var redisCursor uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return oauthstore.Page[oauthstore.Client]{}, fmt.Errorf("oauthstore/redis: invalid cursor: %w", err)
		}
		redisCursor = parsed
	}
	if limit <= 0 {
		limit = 100
	}

	keys, next, err := s.client.Scan(ctx, redisCursor, s.prefix+"client:*", int64(limit)).Result()
	if err != nil {
		return oauthstore.Page[oauthstore.Client]{}, err
	}

	var page oauthstore.Page[oauthstore.Client]
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return oauthstore.Page[oauthstore.Client]{}, err
		}
		var c oauthstore.Client
		if err := json.Unmarshal(raw, &c); err != nil {
			return oauthstore.Page[oauthstore.Client]{}, err
		}
		page.Items = append(page.Items, c)
	}
	if next != 0 {
		page.NextCursor = strconv.FormatUint(next, 10)
	}
	return page, nil
}

func (s *Storage) GetGrant(ctx context.Context, userID, grantID string) (oauthstore.Grant, error) {
	raw, err := s.client.Get(ctx, s.grantKey(userID, grantID)).Bytes()
	if err != nil {
		return oauthstore.Grant{}, translateErr(err)
	}
	var g oauthstore.Grant
	if err := json.Unmarshal(raw, &g); err != nil {
		return oauthstore.Grant{}, fmt.Errorf("oauthstore/redis: decode grant: %w", err)
	}
	return g, nil
}

func (s *Storage) SaveGrant(ctx context.Context, g oauthstore.Grant, ttl int64) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	var expiry time.Duration
	if ttl > 0 {
		expiry = time.Duration(ttl) * time.Second
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.grantKey(g.UserID, g.ID), raw, expiry)
	pipe.SAdd(ctx, s.grantIndexKey(g.UserID), g.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) DeleteGrant(ctx context.Context, userID, grantID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.grantKey(userID, grantID))
	pipe.SRem(ctx, s.grantIndexKey(userID), grantID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Storage) ListUserGrants(ctx context.Context, userID string, limit int, cursor string) (oauthstore.Page[oauthstore.GrantSummary], error) {
	ids, err := s.client.SMembers(ctx, s.grantIndexKey(userID)).Result()
	if err != nil {
		return oauthstore.Page[oauthstore.GrantSummary]{}, err
	}

	start := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return oauthstore.Page[oauthstore.GrantSummary]{}, fmt.Errorf("oauthstore/redis: invalid cursor: %w", err)
		}
		start = parsed
	}
	if limit <= 0 {
		limit = len(ids)
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}

	var page oauthstore.Page[oauthstore.GrantSummary]
	for _, id := range ids[min(start, len(ids)):end] {
		g, err := s.GetGrant(ctx, userID, id)
		if err != nil {
			if errors.Is(err, oauthstore.ErrNotFound) {
				continue
			}
			return oauthstore.Page[oauthstore.GrantSummary]{}, err
		}
		page.Items = append(page.Items, g.Summarize())
	}
	if end < len(ids) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (s *Storage) GetToken(ctx context.Context, userID, grantID, tokenID string) (oauthstore.Token, error) {
	raw, err := s.client.Get(ctx, s.tokenKey(userID, grantID, tokenID)).Bytes()
	if err != nil {
		return oauthstore.Token{}, translateErr(err)
	}
	var t oauthstore.Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return oauthstore.Token{}, fmt.Errorf("oauthstore/redis: decode token: %w", err)
	}
	return t, nil
}

func (s *Storage) SaveToken(ctx context.Context, t oauthstore.Token, ttlSeconds int64) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(t.UserID, t.GrantID, t.ID), raw, time.Duration(ttlSeconds)*time.Second)
	pipe.SAdd(ctx, s.tokenIndexKey(t.UserID, t.GrantID), t.ID)
	pipe.Expire(ctx, s.tokenIndexKey(t.UserID, t.GrantID), time.Duration(ttlSeconds)*time.Second)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) DeleteToken(ctx context.Context, userID, grantID, tokenID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.tokenKey(userID, grantID, tokenID))
	pipe.SRem(ctx, s.tokenIndexKey(userID, grantID), tokenID)
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteTokensForGrant paginates over the grant's token index in batches
// rather than assuming it fits in one round trip.
func (s *Storage) DeleteTokensForGrant(ctx context.Context, userID, grantID string) error {
	const batchSize = 200
	indexKey := s.tokenIndexKey(userID, grantID)

	for {
		ids, err := s.client.SRandMemberN(ctx, indexKey, batchSize).Result()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			break
		}

		pipe := s.client.TxPipeline()
		for _, id := range ids {
			pipe.Del(ctx, s.tokenKey(userID, grantID, id))
		}
		pipe.SRem(ctx, indexKey, toAny(ids)...)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, indexKey).Err()
}

func toAny(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func (s *Storage) TryAcquireLock(ctx context.Context, userID string, ttl int64) (bool, error) {
	return s.client.SetNX(ctx, s.lockKey(userID), time.Now().Unix(), time.Duration(ttl)*time.Second).Result()
}

func (s *Storage) ReleaseLock(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.lockKey(userID)).Err()
}

func (s *Storage) LockExists(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.lockKey(userID)).Result()
	return n > 0, err
}

func (s *Storage) GetRefreshResult(ctx context.Context, userID string) (oauthstore.RefreshResult, bool, error) {
	raw, err := s.client.Get(ctx, s.resultKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return oauthstore.RefreshResult{}, false, nil
		}
		return oauthstore.RefreshResult{}, false, err
	}
	var r oauthstore.RefreshResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return oauthstore.RefreshResult{}, false, fmt.Errorf("oauthstore/redis: decode refresh result: %w", err)
	}
	return r, true, nil
}

func (s *Storage) SaveRefreshResult(ctx context.Context, userID string, result oauthstore.RefreshResult, ttlSeconds int64) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.resultKey(userID), raw, time.Duration(ttlSeconds)*time.Second).Err()
}
