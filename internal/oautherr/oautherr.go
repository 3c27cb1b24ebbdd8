// Package oautherr defines the RFC 6749 §5.2 error taxonomy shared by the
// authorization and token services. Core components return *Error values
// instead of writing to an http.ResponseWriter directly; a thin handler
// layer in internal/server renders them to the wire, generalizing
// server/oauth2.go's displayedAuthErr / redirectedAuthErr split into one
// type.
package oautherr

import "net/http"

// Well-known error codes, spelled exactly as RFC 6749 §5.2 and RFC 8707
// require them on the wire.
const (
	InvalidRequest       = "invalid_request"
	InvalidClient        = "invalid_client"
	InvalidGrant         = "invalid_grant"
	UnauthorizedClient      = "unauthorized_client"
	UnsupportedGrantType    = "unsupported_grant_type"
	UnsupportedResponseType = "unsupported_response_type"
	InvalidScope         = "invalid_scope"
	InsufficientScope    = "insufficient_scope"
	InvalidTarget        = "invalid_target" // RFC 8707 resource indicator
	ServerError          = "server_error"
)

// Error is a taxonomy-tagged OAuth2 error. Status and WWWAuthenticate are
// wire concerns computed once here so every call site doesn't re-derive
// them.
type Error struct {
	Code        string
	Description string
	Status      int
	// WWWAuthenticate, if non-empty, is the full header value to attach to
	// the response (invalid_client and insufficient_scope responses carry
	// one).
	WWWAuthenticate string
}

func (e *Error) Error() string { return e.Code + ": " + e.Description }

// New constructs an Error with the standard status for code (400, except
// invalid_client which is 401, insufficient_scope which is 403, and
// server_error which is 500).
func New(code, description string) *Error {
	status := http.StatusBadRequest
	switch code {
	case InvalidClient:
		status = http.StatusUnauthorized
	case ServerError:
		status = http.StatusInternalServerError
	case InsufficientScope:
		status = http.StatusForbidden
	}
	return &Error{Code: code, Description: description, Status: status}
}

// InvalidClientErr builds the invalid_client error with its mandatory
// WWW-Authenticate challenge.
func InvalidClientErr(description string) *Error {
	e := New(InvalidClient, description)
	e.WWWAuthenticate = `Basic realm="token"`
	return e
}

// InsufficientScopeErr builds the 403 insufficient_scope error with its
// required bearer challenge.
func InsufficientScopeErr(realm string, required []string) *Error {
	e := New(InsufficientScope, "")
	e.WWWAuthenticate = `Bearer realm="` + realm + `", error="insufficient_scope", scope="` + joinSpace(required) + `"`
	return e
}

func joinSpace(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
