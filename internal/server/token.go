package server

import (
	"net/http"
	"strings"

	"github.com/getsentry/sentry-mcp-oauth/internal/oautherr"
	"github.com/getsentry/sentry-mcp-oauth/internal/tokenservice"
)

// handleToken implements POST /oauth/token: it requires the form-encoded
// content type, extracts client credentials per RFC 6749 §2.3 (HTTP Basic
// or form fields), and dispatches to the token service.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		writeTokenError(w, "", oautherr.New(oautherr.InvalidRequest, "Content-Type must be application/x-www-form-urlencoded"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, "", oautherr.New(oautherr.InvalidRequest, "malformed request body"))
		return
	}

	creds := s.extractClientCredentials(r)
	if creds.ClientID == "" {
		writeTokenError(w, "", oautherr.New(oautherr.InvalidRequest, "Required param: client_id."))
		return
	}

	req := tokenservice.Request{
		GrantType:    r.Form.Get("grant_type"),
		Client:       creds,
		Code:         r.Form.Get("code"),
		RedirectURI:  r.Form.Get("redirect_uri"),
		CodeVerifier: r.Form.Get("code_verifier"),
		RefreshToken: r.Form.Get("refresh_token"),
	}

	resp, tokenErr := s.tokens.Handle(r.Context(), req)
	if tokenErr != nil {
		eventID := ""
		if tokenErr.Code == oautherr.ServerError {
			eventID = s.eventID()
			s.logger.ErrorContext(r.Context(), "server: token endpoint server_error", "event_id", eventID, "grant_type", req.GrantType)
		}
		writeTokenError(w, eventID, tokenErr)
		return
	}

	writeTokenSuccess(w, resp)
}

// extractClientCredentials implements RFC 6749 §2.3's two credential
// shapes: HTTP Basic auth takes priority over client_id/client_secret form
// fields.
func (s *Server) extractClientCredentials(r *http.Request) tokenservice.ClientCredentials {
	if user, pass, ok := r.BasicAuth(); ok {
		return tokenservice.ClientCredentials{ClientID: user, Secret: pass, HasSecret: true}
	}

	clientID := r.Form.Get("client_id")
	secret, hasSecret := r.Form["client_secret"]
	if hasSecret {
		return tokenservice.ClientCredentials{ClientID: clientID, Secret: secret[0], HasSecret: true}
	}
	return tokenservice.ClientCredentials{ClientID: clientID}
}
