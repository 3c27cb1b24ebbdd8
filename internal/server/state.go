package server

import (
	"github.com/gorilla/securecookie"

	"github.com/getsentry/sentry-mcp-oauth/internal/authzservice"
)

// statePayload is carried, signed (and encrypted when a block key is
// configured), through the upstream redirect round trip: the original authorization request plus a nonce the
// approval cookie must match.
type statePayload struct {
	Request authzservice.AuthRequest
	Nonce   string
	UserID  string
}

// stateSigner signs the OAuth "state" query parameter and the approval
// cookie with the same key pair, following server/sso.go's use of
// gorilla/securecookie for cookie encryption, generalized from
// session-cookie values to a signed redirect state. Values are encrypted
// only when a block key is configured.
type stateSigner struct {
	sc *securecookie.SecureCookie
}

func newStateSigner(hashKey, blockKey string) *stateSigner {
	var block []byte
	if blockKey != "" {
		block = []byte(blockKey)
	}
	return &stateSigner{sc: securecookie.New([]byte(hashKey), block)}
}

func (s *stateSigner) encode(p statePayload) (string, error) {
	return s.sc.Encode("state", p)
}

func (s *stateSigner) decode(value string) (statePayload, error) {
	var p statePayload
	err := s.sc.Decode("state", value, &p)
	return p, err
}

const approvalCookieName = "oauth_broker_approval"

func (s *stateSigner) encodeApproval(nonce string) (string, error) {
	return s.sc.Encode(approvalCookieName, nonce)
}

func (s *stateSigner) decodeApproval(value string) (string, error) {
	var nonce string
	err := s.sc.Decode(approvalCookieName, value, &nonce)
	return nonce, err
}
