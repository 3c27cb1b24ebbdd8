package server

import (
	"encoding/json"
	"net/http"

	"github.com/getsentry/sentry-mcp-oauth/internal/oautherr"
)

// writeTokenError renders a *oautherr.Error as the RFC 6749 §5.2 JSON body,
// with the no-store/no-cache headers every token-endpoint response
// carries.
func writeTokenError(w http.ResponseWriter, eventID string, e *oautherr.Error) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if e.WWWAuthenticate != "" {
		w.Header().Set("WWW-Authenticate", e.WWWAuthenticate)
	}
	if eventID != "" {
		w.Header().Set("X-Event-ID", eventID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description,omitempty"`
	}{Error: e.Code, ErrorDescription: e.Description})
}

// writeTokenSuccess renders a successful grant response with the headers
// a token-endpoint success response requires.
func writeTokenSuccess(w http.ResponseWriter, body any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// writePlainError renders a plain-text 4xx/403 for the non-token endpoints
// that respond with literal body text rather than JSON
// (`/oauth/authorize`'s "Invalid redirect URI" etc).
func writePlainError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
