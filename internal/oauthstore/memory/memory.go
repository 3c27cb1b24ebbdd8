// Package memory provides an in-memory Storage implementation, modeled on
// storage/memory/memory.go: a mutex-guarded set of maps keyed
// exactly like the production backend's keyspace, with lazy TTL eviction on
// read. It backs unit tests and the "memory" storage type; it is not
// intended for multi-replica deployment since its locks and caches do not
// cross process boundaries.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
)

var _ oauthstore.Storage = (*Storage)(nil)

type tokenKey struct {
	userID, grantID, tokenID string
}

type grantKey struct {
	userID, grantID string
}

type entry[T any] struct {
	value   T
	expires time.Time // zero means "no expiry"
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Storage is an in-memory oauthstore.Storage.
type Storage struct {
	mu sync.Mutex

	clients map[string]oauthstore.Client
	grants  map[grantKey]entry[oauthstore.Grant]
	tokens  map[tokenKey]entry[oauthstore.Token]

	locks   map[string]time.Time
	results map[string]entry[oauthstore.RefreshResult]

	now    func() time.Time
	logger *slog.Logger
}

// New returns an empty in-memory store.
func New(logger *slog.Logger) *Storage {
	return &Storage{
		clients: make(map[string]oauthstore.Client),
		grants:  make(map[grantKey]entry[oauthstore.Grant]),
		tokens:  make(map[tokenKey]entry[oauthstore.Token]),
		locks:   make(map[string]time.Time),
		results: make(map[string]entry[oauthstore.RefreshResult]),
		now:     time.Now,
		logger:  logger,
	}
}

// Close is a no-op for the in-memory backend.
func (s *Storage) Close() error { return nil }

// Clear removes every record. Test-only.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = make(map[string]oauthstore.Client)
	s.grants = make(map[grantKey]entry[oauthstore.Grant])
	s.tokens = make(map[tokenKey]entry[oauthstore.Token])
	s.locks = make(map[string]time.Time)
	s.results = make(map[string]entry[oauthstore.RefreshResult])
}

// Counts returns the number of live (non-expired) records of each kind.
// Test-only.
func (s *Storage) Counts() (clients, grants, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	clients = len(s.clients)
	for _, g := range s.grants {
		if !g.expired(now) {
			grants++
		}
	}
	for _, t := range s.tokens {
		if !t.expired(now) {
			tokens++
		}
	}
	return clients, grants, tokens
}

// Seed installs a client directly, bypassing validation. Test-only.
func (s *Storage) Seed(c oauthstore.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ClientID] = c
}

func (s *Storage) GetClient(_ context.Context, clientID string) (oauthstore.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return oauthstore.Client{}, oauthstore.ErrNotFound
	}
	return c, nil
}

func (s *Storage) SaveClient(_ context.Context, c oauthstore.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ClientID] = c
	return nil
}

func (s *Storage) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	return nil
}

func (s *Storage) ListClients(_ context.Context, limit int, cursor string) (oauthstore.Page[oauthstore.Client], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	if limit <= 0 {
		limit = len(ids)
	}

	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}

	var page oauthstore.Page[oauthstore.Client]
	for _, id := range ids[start:end] {
		page.Items = append(page.Items, s.clients[id])
	}
	if end < len(ids) {
		page.NextCursor = ids[end-1]
	}
	return page, nil
}

func (s *Storage) GetGrant(_ context.Context, userID, grantID string) (oauthstore.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.grants[grantKey{userID, grantID}]
	if !ok || e.expired(s.now()) {
		if ok {
			delete(s.grants, grantKey{userID, grantID})
		}
		return oauthstore.Grant{}, oauthstore.ErrNotFound
	}
	return e.value, nil
}

func (s *Storage) SaveGrant(_ context.Context, g oauthstore.Grant, ttl int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = s.now().Add(time.Duration(ttl) * time.Second)
	}
	s.grants[grantKey{g.UserID, g.ID}] = entry[oauthstore.Grant]{value: g, expires: expires}
	return nil
}

func (s *Storage) DeleteGrant(_ context.Context, userID, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, grantKey{userID, grantID})
	return nil
}

func (s *Storage) ListUserGrants(_ context.Context, userID string, limit int, cursor string) (oauthstore.Page[oauthstore.GrantSummary], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ids []string
	for k, e := range s.grants {
		if k.userID == userID && !e.expired(now) {
			ids = append(ids, k.grantID)
		}
	}
	sort.Strings(ids)

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	if limit <= 0 {
		limit = len(ids)
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}

	var page oauthstore.Page[oauthstore.GrantSummary]
	for _, id := range ids[start:end] {
		page.Items = append(page.Items, s.grants[grantKey{userID, id}].value.Summarize())
	}
	if end < len(ids) {
		page.NextCursor = ids[end-1]
	}
	return page, nil
}

func (s *Storage) GetToken(_ context.Context, userID, grantID, tokenID string) (oauthstore.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey{userID, grantID, tokenID}
	e, ok := s.tokens[key]
	if !ok || e.expired(s.now()) {
		if ok {
			delete(s.tokens, key)
		}
		return oauthstore.Token{}, oauthstore.ErrNotFound
	}
	return e.value, nil
}

func (s *Storage) SaveToken(_ context.Context, t oauthstore.Token, ttlSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires := s.now().Add(time.Duration(ttlSeconds) * time.Second)
	s.tokens[tokenKey{t.UserID, t.GrantID, t.ID}] = entry[oauthstore.Token]{value: t, expires: expires}
	return nil
}

func (s *Storage) DeleteToken(_ context.Context, userID, grantID, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenKey{userID, grantID, tokenID})
	return nil
}

func (s *Storage) DeleteTokensForGrant(_ context.Context, userID, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.tokens {
		if key.userID == userID && key.grantID == grantID {
			delete(s.tokens, key)
		}
	}
	return nil
}

func (s *Storage) TryAcquireLock(_ context.Context, userID string, ttl int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.locks[userID]; ok && now.Before(exp) {
		return false, nil
	}
	s.locks[userID] = now.Add(time.Duration(ttl) * time.Second)
	return true, nil
}

func (s *Storage) ReleaseLock(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, userID)
	return nil
}

func (s *Storage) LockExists(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.locks[userID]
	if !ok {
		return false, nil
	}
	if s.now().After(exp) {
		delete(s.locks, userID)
		return false, nil
	}
	return true, nil
}

func (s *Storage) GetRefreshResult(_ context.Context, userID string) (oauthstore.RefreshResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.results[userID]
	if !ok || e.expired(s.now()) {
		return oauthstore.RefreshResult{}, false, nil
	}
	return e.value, true, nil
}

func (s *Storage) SaveRefreshResult(_ context.Context, userID string, result oauthstore.RefreshResult, ttlSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[userID] = entry[oauthstore.RefreshResult]{
		value:   result,
		expires: s.now().Add(time.Duration(ttlSeconds) * time.Second),
	}
	return nil
}
