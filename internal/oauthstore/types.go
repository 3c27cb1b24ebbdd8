// Package oauthstore defines the persistent entities this server owns —
// clients, grants, and tokens — and the Storage interface through which
// every other component reads and writes them. It is modeled on
// github.com/dexidp/dex/storage: entities are plain structs, mutation
// happens only through named operations, and backends (memory, redis)
// satisfy the same interface.
package oauthstore

import (
	"time"

	"github.com/getsentry/sentry-mcp-oauth/internal/cryptoutil"
)

// TokenEndpointAuthMethod enumerates how a client authenticates to the
// token endpoint (RFC 6749 §2.3).
type TokenEndpointAuthMethod string

const (
	AuthMethodNone              TokenEndpointAuthMethod = "none"
	AuthMethodClientSecretBasic TokenEndpointAuthMethod = "client_secret_basic"
	AuthMethodClientSecretPost  TokenEndpointAuthMethod = "client_secret_post"
)

// Client is a registered downstream OAuth2 client.
type Client struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"` // hashed; absent for public clients

	RedirectURIs []string `json:"redirectUris"`

	ClientName   string `json:"clientName,omitempty"`
	ClientURI    string `json:"clientUri,omitempty"`
	LogoURI      string `json:"logoUri,omitempty"`
	PolicyURI    string `json:"policyUri,omitempty"`
	TosURI       string `json:"tosUri,omitempty"`
	Contacts     []string `json:"contacts,omitempty"`

	TokenEndpointAuthMethod TokenEndpointAuthMethod `json:"tokenEndpointAuthMethod"`
	GrantTypes              []string                `json:"grantTypes"`
	ResponseTypes           []string                `json:"responseTypes"`

	RegistrationDate int64 `json:"registrationDate"`
}

// IsPublic reports whether the client has no secret to verify.
func (c Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// HasRedirectURI reports exact-match membership; redirect URI acceptance is
// a set-membership predicate with no normalization.
func (c Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// Grant represents a user's consent to a client for a scope. The
// authorization-code fields are present only between grant creation and
// code consumption.
type Grant struct {
	ID       string   `json:"id"`
	ClientID string   `json:"clientId"`
	UserID   string   `json:"userId"`
	Scope    []string `json:"scope"`
	Metadata map[string]string `json:"metadata,omitempty"`

	EncryptedProps cryptoutil.EncryptedBlob `json:"encryptedProps"`

	CreatedAt int64  `json:"createdAt"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`

	// Authorization-code binding. AuthCodeID is the single-use flag: once
	// cleared it must never be re-populated.
	AuthCodeID          string   `json:"authCodeId,omitempty"`
	AuthCodeWrappedKey  string   `json:"authCodeWrappedKey,omitempty"`
	CodeChallenge       string   `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string   `json:"codeChallengeMethod,omitempty"`
	Resource            []string `json:"resource,omitempty"`
	RedirectURI          string   `json:"redirectUri,omitempty"`
}

// HasPendingAuthCode reports whether this grant still carries an unconsumed
// authorization code.
func (g Grant) HasPendingAuthCode() bool {
	return g.AuthCodeID != ""
}

// ClearAuthCode returns a copy of g with all authorization-code fields
// cleared. It never mutates g in place so callers can capture the original
// wrapped key before clearing, for atomic single-use consumption.
func (g Grant) ClearAuthCode() Grant {
	cleared := g
	cleared.AuthCodeID = ""
	cleared.AuthCodeWrappedKey = ""
	cleared.CodeChallenge = ""
	cleared.CodeChallengeMethod = ""
	return cleared
}

// GrantSummary is the subset of Grant returned by listing operations —
// deliberately missing EncryptedProps so enumerating a user's grants never
// touches encrypted credential material.
type GrantSummary struct {
	ID        string   `json:"id"`
	ClientID  string   `json:"clientId"`
	UserID    string   `json:"userId"`
	Scope     []string `json:"scope"`
	CreatedAt int64    `json:"createdAt"`
	ExpiresAt *int64   `json:"expiresAt,omitempty"`
}

// Summarize strips EncryptedProps and auth-code fields from a Grant.
func (g Grant) Summarize() GrantSummary {
	return GrantSummary{
		ID:        g.ID,
		ClientID:  g.ClientID,
		UserID:    g.UserID,
		Scope:     g.Scope,
		CreatedAt: g.CreatedAt,
		ExpiresAt: g.ExpiresAt,
	}
}

// Token is one issued access or refresh token. ID is the SHA-256 storage
// handle; the raw token string is never stored.
type Token struct {
	ID        string `json:"id"`
	GrantID   string `json:"grantId"`
	UserID    string `json:"userId"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`

	Audience []string `json:"audience,omitempty"`

	WrappedEncryptionKey string `json:"wrappedEncryptionKey"`

	// Denormalized subset of the owning grant, so validation and decryption
	// never require a second storage round trip.
	ClientID       string                   `json:"clientId"`
	Scope          []string                 `json:"scope"`
	EncryptedProps cryptoutil.EncryptedBlob `json:"encryptedProps"`

	PreviousRefreshTokenID string `json:"previousRefreshTokenId,omitempty"`
}

// Expired reports whether the token's TTL has elapsed as of now.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt <= now.Unix()
}

// TTLs for each record kind this server issues.
const (
	GrantTTL         = 10 * time.Minute
	AccessTokenTTL   = time.Hour
	RefreshTokenTTL  = 30 * 24 * time.Hour
	RefreshLockTTL   = 60 * time.Second
	RefreshResultTTL = 60 * time.Second
)
