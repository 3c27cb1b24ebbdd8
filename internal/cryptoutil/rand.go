// Package cryptoutil implements the token-binding cryptography shared by the
// authorization, token, and bearer-validation services: random identifier
// generation, secret hashing, AEAD encryption of upstream credentials, and
// PBKDF2-derived AES key wrapping.
package cryptoutil

import (
	"crypto/rand"
	"errors"
)

// randomAlphabet is a 62-character URL-safe alphabet. Every byte drawn from
// the CSPRNG is reduced modulo len(randomAlphabet); the resulting bias is
// negligible next to the secret lengths this package is used for.
const randomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomString returns a cryptographically random string of length n drawn
// from randomAlphabet, with the small modulo bias described above.
func RandomString(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("cryptoutil: length must be positive")
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = randomAlphabet[int(b)%len(randomAlphabet)]
	}
	return string(out), nil
}

// RandBytes returns n cryptographically random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	got, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	if got != n {
		return nil, errors.New("cryptoutil: short read from CSPRNG")
	}
	return b, nil
}

// Secret lengths, fixed by the "userId:grantId:secret" token-string format.
const (
	ClientIDLength     = 16
	ClientSecretLength = 32
	GrantIDLength      = 16
	AuthCodeLength     = 32
	TokenSecretLength  = 48
)
