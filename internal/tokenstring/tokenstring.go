// Package tokenstring implements the "userId:grantId:secret" token-string
// format shared by authorization codes, access tokens, and refresh tokens.
// The format exists to route storage lookups to a specific user's and
// grant's keyspace without a global secondary index.
package tokenstring

import (
	"errors"
	"strings"

	"github.com/getsentry/sentry-mcp-oauth/internal/cryptoutil"
)

// ErrMalformed is returned by Parse when the input does not have exactly
// three non-empty colon-delimited parts.
var ErrMalformed = errors.New("tokenstring: malformed token")

// Parsed holds the three components of a token string.
type Parsed struct {
	UserID  string
	GrantID string
	Secret  string
}

// Parse splits s into its three colon-delimited parts. It rejects anything
// but exactly three non-empty parts — in particular it rejects a secret that
// itself contains a colon, so the format can never be ambiguous to parse.
func Parse(s string) (Parsed, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Parsed{}, ErrMalformed
	}
	for _, p := range parts {
		if p == "" {
			return Parsed{}, ErrMalformed
		}
	}
	return Parsed{UserID: parts[0], GrantID: parts[1], Secret: parts[2]}, nil
}

// New builds a new token string for (userID, grantID) with a random secret
// of secretLen characters.
func New(userID, grantID string, secretLen int) (string, error) {
	secret, err := cryptoutil.RandomString(secretLen)
	if err != nil {
		return "", err
	}
	return userID + ":" + grantID + ":" + secret, nil
}

// String reassembles a Parsed value back into its token-string form.
func (p Parsed) String() string {
	return p.UserID + ":" + p.GrantID + ":" + p.Secret
}
