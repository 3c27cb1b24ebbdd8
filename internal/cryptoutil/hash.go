package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashSecret returns the lowercase hex SHA-256 digest of s. It is used both
// as the non-reversible storage handle for tokens and authorization codes,
// and for at-rest storage of confidential-client secrets.
func HashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// VerifySecret reports whether candidate hashes to storedHash, using a
// constant-time comparison of the hex digests so the result does not leak
// timing information about which prefix of candidate is wrong.
func VerifySecret(candidate, storedHash string) bool {
	got := HashSecret(candidate)
	if len(got) != len(storedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}
