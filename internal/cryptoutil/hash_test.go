package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySecret(t *testing.T) {
	hash := HashSecret("correct-secret")

	assert.True(t, VerifySecret("correct-secret", hash), "expected VerifySecret to accept the matching secret")
	assert.False(t, VerifySecret("wrong-secret", hash), "expected VerifySecret to reject a mismatching secret")
	assert.False(t, VerifySecret("short", hash), "expected VerifySecret to reject a length-mismatched candidate")
}

func TestHashSecretIsLowercaseHex(t *testing.T) {
	h := HashSecret("anything")
	assert.Len(t, h, 64, "expected a 64-char hex digest")
	for _, r := range h {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "expected lowercase hex, found %q", r)
	}
}
