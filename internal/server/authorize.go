package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-mcp-oauth/internal/authzservice"
	"github.com/getsentry/sentry-mcp-oauth/internal/cryptoutil"
	"github.com/getsentry/sentry-mcp-oauth/internal/upstream"
)

// approvalFormField carries the signed AuthRequest through the external
// approval dialog round trip — the narrow interface it round-trips
// through.
const approvalFormField = "signed_request"

// handleAuthorizeGet implements GET /oauth/authorize: parse, validate, and
// on success render the approval UI. Bodies for the two named failure
// cases are literal text.
func (s *Server) handleAuthorizeGet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writePlainError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if r.Form.Get("client_id") == "" {
		writePlainError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	req := authzservice.ParseAuthRequest(r.Form)
	client, authErr := s.authz.Validate(r.Context(), req, r.URL)
	if authErr != nil {
		if authErr.Code == "invalid_request" {
			writePlainError(w, http.StatusBadRequest, "Invalid redirect URI")
			return
		}
		writePlainError(w, http.StatusBadRequest, authErr.Description)
		return
	}

	signed, err := s.state.encode(statePayload{Request: req})
	if err != nil {
		s.serverErr(w, r, "failed to sign approval form", err)
		return
	}

	renderApprovalPage(w, client.ClientName, req.Scope, signed)
}

// handleAuthorizePost implements POST /oauth/authorize: consumes the
// signed approval form, re-validates redirect_uri and the
// client as a defense against a tampered round trip, and redirects to the
// upstream identity provider carrying a signed, TTL-limited state.
func (s *Server) handleAuthorizePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writePlainError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	payload, err := s.state.decode(r.Form.Get(approvalFormField))
	if err != nil {
		writePlainError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	req := payload.Request

	userID := r.Form.Get("user_id")
	if userID == "" || r.Form.Get("approve") != "true" {
		redirectAccessDenied(w, r, req)
		return
	}

	client, authErr := s.authz.Validate(r.Context(), req, r.URL)
	if authErr != nil {
		if authErr.Code == "invalid_request" {
			writePlainError(w, http.StatusBadRequest, "Invalid redirect URI")
			return
		}
		writePlainError(w, http.StatusBadRequest, authErr.Description)
		return
	}

	nonce, err := cryptoutil.RandomString(24)
	if err != nil {
		s.serverErr(w, r, "failed to generate approval nonce", err)
		return
	}
	approvalCookie, err := s.state.encodeApproval(nonce)
	if err != nil {
		s.serverErr(w, r, "failed to sign approval cookie", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     approvalCookieName,
		Value:    approvalCookie,
		Path:     "/oauth/callback",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((10 * time.Minute).Seconds()),
	})

	signedState, err := s.state.encode(statePayload{Request: req, Nonce: nonce, UserID: userID})
	if err != nil {
		s.serverErr(w, r, "failed to sign upstream redirect state", err)
		return
	}

	callbackURL := s.cfg.Issuer + "/oauth/callback"
	redirectURL := buildUpstreamAuthorizeURL(upstreamHost(s.cfg.Upstream.Host), s.cfg.Upstream.ClientID, callbackURL, signedState, req.Scope)

	_ = client // re-validated for the side effect of failing on tampering; not otherwise needed here
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// handleCallback implements GET /oauth/callback: verifies the signed state
// and the approval cookie, exchanges the upstream code, and completes the
// downstream authorization.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	payload, err := s.state.decode(q.Get("state"))
	if err != nil {
		writePlainError(w, http.StatusBadRequest, "Invalid state")
		return
	}

	cookie, err := r.Cookie(approvalCookieName)
	if err != nil {
		writePlainError(w, http.StatusForbidden, "Authorization failed: Client not approved")
		return
	}
	nonce, err := s.state.decodeApproval(cookie.Value)
	if err != nil || nonce != payload.Nonce {
		writePlainError(w, http.StatusForbidden, "Authorization failed: Client not approved")
		return
	}

	code := q.Get("code")
	if code == "" {
		writePlainError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	result := s.upstream.ExchangeCodeForAccessToken(r.Context(), code, s.cfg.Issuer+"/oauth/callback")
	if result.Err != nil {
		if result.Err.Classification == upstream.OperatorFacing {
			s.serverErr(w, r, "upstream code exchange failed", result.Err)
			return
		}
		writePlainError(w, http.StatusBadRequest, "Authorization failed: upstream rejected the request")
		return
	}

	redirectURL, authErr := s.authz.CompleteAuthorization(r.Context(), payload.Request, payload.UserID, upstream.FromTokenResponse(*result.Response))
	if authErr != nil {
		writePlainError(w, http.StatusBadRequest, authErr.Description)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: approvalCookieName, Path: "/oauth/callback", MaxAge: -1})
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func upstreamHost(configured string) string {
	if configured == "" {
		return "sentry.io"
	}
	return configured
}

func redirectAccessDenied(w http.ResponseWriter, r *http.Request, req authzservice.AuthRequest) {
	if req.RedirectURI == "" {
		writePlainError(w, http.StatusForbidden, "Authorization failed: Client not approved")
		return
	}
	target := fmt.Sprintf("%s?error=access_denied&state=%s", req.RedirectURI, req.State)
	http.Redirect(w, r, target, http.StatusFound)
}
