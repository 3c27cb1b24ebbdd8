// Package authzservice parses and validates authorization requests and,
// after the external approval UI confirms user consent, creates the grant
// and authorization code that binds it. It is modeled on server/oauth2.go's
// and server/handlers.go's authorization-request handling
// (handleAuthorization / parseAuthorizationRequest), generalized to this
// server's resource-indicator (RFC 8707) and PKCE rules.
package authzservice

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/getsentry/sentry-mcp-oauth/internal/cryptoutil"
	"github.com/getsentry/sentry-mcp-oauth/internal/oauthstore"
	"github.com/getsentry/sentry-mcp-oauth/internal/oautherr"
	"github.com/getsentry/sentry-mcp-oauth/internal/tokenstring"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

// AuthRequest is the parsed form of a GET /oauth/authorize request.
type AuthRequest struct {
	ResponseType        string
	ClientID             string
	RedirectURI          string
	Scope                []string
	State                string
	CodeChallenge        string
	CodeChallengeMethod  string
	Resource             []string
}

// ParseAuthRequest extracts an AuthRequest from query values. scope is
// space-split per RFC 6749 §3.3; code_challenge_method defaults to "plain"
// when a code_challenge is present but no method was given.
func ParseAuthRequest(q url.Values) AuthRequest {
	req := AuthRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:             q.Get("client_id"),
		RedirectURI:          q.Get("redirect_uri"),
		State:                q.Get("state"),
		CodeChallenge:        q.Get("code_challenge"),
		CodeChallengeMethod:  q.Get("code_challenge_method"),
		Resource:             q["resource"],
	}
	if scope := q.Get("scope"); scope != "" {
		req.Scope = strings.Fields(scope)
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod == "" {
		req.CodeChallengeMethod = cryptoutil.CodeChallengeMethodPlain
	}
	return req
}

// Service implements the authorization half of the flow.
type Service struct {
	store oauthstore.Storage
	now   func() time.Time
}

// New returns an authorization Service backed by store.
func New(store oauthstore.Storage) *Service {
	return &Service{store: store, now: time.Now}
}

// Validate runs the ordered authorization-request checks. requestURL is the
// incoming request's own URL, used as the authority resource indicators
// must match. client is the resolved client, or the zero value if
// req.ClientID didn't resolve to one (unknown clients don't fail redirect
// validation here — that's deferred to the token endpoint, matching
// server/oauth2.go's treatment of "unknown client" handling as client-auth's
// job, not the authorize endpoint's).
func (s *Service) Validate(ctx context.Context, req AuthRequest, requestURL *url.URL) (oauthstore.Client, *oautherr.Error) {
	if req.RedirectURI != "" {
		u, err := url.Parse(req.RedirectURI)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return oauthstore.Client{}, oautherr.New(oautherr.InvalidRequest, "Invalid redirect URI")
		}
	}

	if req.ResponseType != "code" {
		return oauthstore.Client{}, oautherr.New(oautherr.UnsupportedResponseType, "only the \"code\" response type is supported")
	}

	var client oauthstore.Client
	if req.ClientID != "" {
		c, err := s.store.GetClient(ctx, req.ClientID)
		if err == nil {
			client = c
			if req.RedirectURI != "" && !client.HasRedirectURI(req.RedirectURI) {
				return oauthstore.Client{}, oautherr.New(oautherr.InvalidRequest, "redirect_uri does not match a registered URI for this client")
			}
		}
	}

	for _, r := range req.Resource {
		if !ValidateResourceParameter(r, requestURL) {
			return oauthstore.Client{}, oautherr.New(oautherr.InvalidTarget, "invalid resource parameter: "+r)
		}
	}

	return client, nil
}

// ValidateResourceParameter implements the RFC 8707 audience-restriction
// check: the resource must be an absolute URL with no fragment, matching
// scheme/host/port of requestURL, whose path is exactly "/mcp" or starts
// with "/mcp/", with no percent-encoded characters in the path.
func ValidateResourceParameter(resource string, requestURL *url.URL) bool {
	u, err := url.Parse(resource)
	if err != nil || !u.IsAbs() {
		return false
	}
	if u.Fragment != "" {
		return false
	}
	if u.Scheme != requestURL.Scheme || u.Host != requestURL.Host {
		return false
	}
	if u.EscapedPath() != u.Path {
		// A percent-encoded pathname differs from its decoded form.
		return false
	}
	if u.Path != "/mcp" && !strings.HasPrefix(u.Path, "/mcp/") {
		return false
	}
	return true
}

// CompleteAuthorization runs the authorization-completion steps once the
// external approval UI has confirmed user consent: it re-validates
// redirect_uri (defense in depth against a tampered approval round trip),
// mints the grant and authorization code, encrypts props under a fresh AEAD
// key wrapped by the code, and returns the client redirect URL.
func (s *Service) CompleteAuthorization(ctx context.Context, req AuthRequest, userID string, props upstream.Credentials) (string, *oautherr.Error) {
	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		return "", oautherr.New(oautherr.InvalidRequest, "unknown client")
	}
	if req.RedirectURI != "" && !client.HasRedirectURI(req.RedirectURI) {
		return "", oautherr.New(oautherr.InvalidRequest, "redirect_uri does not match a registered URI for this client")
	}

	grantID, genErr := cryptoutil.RandomString(cryptoutil.GrantIDLength)
	if genErr != nil {
		return "", oautherr.New(oautherr.ServerError, "")
	}

	code, genErr := tokenstring.New(userID, grantID, cryptoutil.AuthCodeLength)
	if genErr != nil {
		return "", oautherr.New(oautherr.ServerError, "")
	}

	propsJSON, marshalErr := marshalCredentials(props)
	if marshalErr != nil {
		return "", oautherr.New(oautherr.ServerError, "")
	}

	aeadKey, genErr := cryptoutil.GenerateAEADKey()
	if genErr != nil {
		return "", oautherr.New(oautherr.ServerError, "")
	}
	encrypted, encErr := cryptoutil.Encrypt(propsJSON, aeadKey)
	if encErr != nil {
		return "", oautherr.New(oautherr.ServerError, "")
	}

	wrappedKey, wrapErr := cryptoutil.WrapKey(aeadKey, code)
	if wrapErr != nil {
		return "", oautherr.New(oautherr.ServerError, "")
	}

	now := s.now()
	grant := oauthstore.Grant{
		ID:                  grantID,
		ClientID:            client.ClientID,
		UserID:              userID,
		Scope:               req.Scope,
		EncryptedProps:      encrypted,
		CreatedAt:           now.Unix(),
		AuthCodeID:          cryptoutil.HashSecret(code),
		AuthCodeWrappedKey:  wrappedKey,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Resource:            req.Resource,
		RedirectURI:         req.RedirectURI,
	}

	if err := s.store.SaveGrant(ctx, grant, int64(oauthstore.GrantTTL.Seconds())); err != nil {
		return "", oautherr.New(oautherr.ServerError, "")
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		if len(client.RedirectURIs) == 0 {
			return "", oautherr.New(oautherr.InvalidRequest, "client has no registered redirect URI")
		}
		redirectURI = client.RedirectURIs[0]
	}

	u, parseErr := url.Parse(redirectURI)
	if parseErr != nil {
		return "", oautherr.New(oautherr.ServerError, "")
	}
	q := u.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
