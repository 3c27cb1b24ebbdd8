package upstream

import "net/http"

// Classification labels an UpstreamError for the telemetry layer:
// user-facing errors are surfaced but never alerted on; operator-facing
// errors are alerted on.
type Classification int

const (
	UserFacing Classification = iota
	OperatorFacing
)

// UpstreamError is the "user-visible HTTP response" half of the disjoint
// union Exchange/Refresh return (exactly one of a TokenResponse or an
// *UpstreamError, never both). CorrelationID is opaque to callers and is
// the only upstream-identifying detail ever surfaced downstream; the caller
// never sees the upstream response body itself.
type UpstreamError struct {
	Status         int
	CorrelationID  string
	Classification Classification
	msg            string
}

func (e *UpstreamError) Error() string { return e.msg }

func newUserFacing(correlationID, msg string) *UpstreamError {
	return &UpstreamError{Status: http.StatusBadRequest, CorrelationID: correlationID, Classification: UserFacing, msg: msg}
}

func newOperatorFacing(correlationID, msg string) *UpstreamError {
	return &UpstreamError{Status: http.StatusBadGateway, CorrelationID: correlationID, Classification: OperatorFacing, msg: msg}
}

// TokenResponse is the parsed body of a successful upstream token exchange
// or refresh.
type TokenResponse struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	TokenType             string `json:"token_type,omitempty"`
	Scope                 string `json:"scope,omitempty"`
	ExpiresIn             int64  `json:"expires_in,omitempty"`
	AccessTokenExpiresAt  int64  `json:"-"` // derived: issue time + ExpiresIn
}

// Credentials is the upstream access/refresh token pair (plus metadata)
// this server encrypts at rest inside a grant's/token's encryptedProps. It
// is never stored or logged in plaintext.
type Credentials struct {
	AccessToken          string `json:"accessToken"`
	RefreshToken         string `json:"refreshToken"`
	AccessTokenExpiresAt int64  `json:"accessTokenExpiresAt"` // unix seconds
	TokenType            string `json:"tokenType,omitempty"`
	Scope                string `json:"scope,omitempty"`
}

// FromTokenResponse builds Credentials from a successful upstream exchange.
func FromTokenResponse(tr TokenResponse) Credentials {
	return Credentials{
		AccessToken:          tr.AccessToken,
		RefreshToken:         tr.RefreshToken,
		AccessTokenExpiresAt: tr.AccessTokenExpiresAt,
		TokenType:            tr.TokenType,
		Scope:                tr.Scope,
	}
}

// Result is the Exchange/Refresh return shape: exactly one of Response or
// Err is set, an explicit tagged sum rather than a pair that could leave
// both (or neither) populated.
type Result struct {
	Response *TokenResponse
	Err      *UpstreamError
}
