package cryptoutil

import (
	"crypto/sha256"
	"encoding/base64"
)

// Code challenge methods supported by VerifyPKCE, per RFC 7636 §4.3.
const (
	CodeChallengeMethodPlain = "plain"
	CodeChallengeMethodS256  = "S256"
)

// VerifyPKCE implements RFC 7636 §4.6: it reports whether verifier matches
// challenge under method. Any method other than "plain" or "S256" is
// rejected outright rather than treated as a degenerate match.
func VerifyPKCE(verifier, challenge, method string) bool {
	switch method {
	case CodeChallengeMethodPlain:
		return verifier == challenge
	case CodeChallengeMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
	default:
		return false
	}
}
