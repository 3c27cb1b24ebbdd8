// Package bearer implements the bearer-token validation middleware that
// guards protected resource routes. It is modeled on server/admin.go's
// authorizer wrapper: a http.Handler decorator that
// inspects the Authorization header before delegating to the wrapped
// handler, generalized from a static shared secret to per-request token
// lookup, AEAD unwrap, and context propagation.
package bearer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-mcp-oauth/internal/cryptoutil"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/tokenstring"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

func nowUnix() int64 { return time.Now().Unix() }

type contextKey int

const (
	credentialsKey contextKey = iota
	userIDKey
	grantIDKey
	clientIDKey
	scopeKey
)

// Credentials returns the decrypted upstream credentials a successful
// Validate call attached to ctx.
func Credentials(ctx context.Context) (upstream.Credentials, bool) {
	c, ok := ctx.Value(credentialsKey).(upstream.Credentials)
	return c, ok
}

// UserID returns the grant owner's user ID attached to ctx.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GrantID returns the grant ID attached to ctx.
func GrantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(grantIDKey).(string)
	return v, ok
}

// ClientID returns the client the validated token was issued to.
func ClientID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clientIDKey).(string)
	return v, ok
}

// Scope returns the token's granted scope.
func Scope(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(scopeKey).([]string)
	return v, ok
}

// Validator validates bearer tokens against Storage and attaches the
// recovered identity to the request context.
type Validator struct {
	store oauthstore.Storage
	realm string
	now   func() (unixSeconds int64)
}

// New returns a Validator backed by store. realm names the protected
// resource in WWW-Authenticate challenges.
func New(store oauthstore.Storage, realm string) *Validator {
	return &Validator{store: store, realm: realm, now: nowUnix}
}

// Middleware wraps next, requiring a valid bearer token on every request.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, challenge, ok := v.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", challenge)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope wraps next, additionally requiring that the validated
// token's scope contains every entry in required.
func RequireScope(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			granted, _ := Scope(r.Context())
			if !hasAll(granted, required) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="resource", error="insufficient_scope", scope="`+strings.Join(required, " ")+`"`)
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasAll(granted, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		set[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

func (v *Validator) authenticate(r *http.Request) (context.Context, string, bool) {
	baseChallenge := `Bearer realm="` + v.realm + `"`

	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, baseChallenge + `, error="invalid_request", error_description="Authorization header required"`, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, baseChallenge + `, error="invalid_request", error_description="expected Bearer token"`, false
	}
	token := parts[1]

	invalidToken := baseChallenge + `, error="invalid_token"`

	parsed, err := tokenstring.Parse(token)
	if err != nil {
		return nil, invalidToken, false
	}

	tokenID := cryptoutil.HashSecret(token)
	rec, err := v.store.GetToken(r.Context(), parsed.UserID, parsed.GrantID, tokenID)
	if err != nil {
		if !errors.Is(err, oauthstore.ErrNotFound) {
			return nil, invalidToken, false
		}
		return nil, invalidToken, false
	}
	if rec.ExpiresAt <= v.now() {
		return nil, invalidToken, false
	}

	aeadKey, err := cryptoutil.UnwrapKey(rec.WrappedEncryptionKey, token)
	if err != nil {
		return nil, invalidToken, false
	}
	plaintext, err := cryptoutil.Decrypt(rec.EncryptedProps, aeadKey)
	if err != nil {
		return nil, invalidToken, false
	}
	var creds upstream.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, invalidToken, false
	}

	ctx := r.Context()
	ctx = context.WithValue(ctx, credentialsKey, creds)
	ctx = context.WithValue(ctx, userIDKey, parsed.UserID)
	ctx = context.WithValue(ctx, grantIDKey, parsed.GrantID)
	ctx = context.WithValue(ctx, clientIDKey, rec.ClientID)
	ctx = context.WithValue(ctx, scopeKey, rec.Scope)
	return ctx, "", true
}
