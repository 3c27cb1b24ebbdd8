package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapKeyRoundTrip(t *testing.T) {
	aeadKey, err := GenerateAEADKey()
	require.NoError(t, err)

	wrapped, err := WrapKey(aeadKey, "user1:grant1:somesecrettoken")
	require.NoError(t, err)

	unwrapped, err := UnwrapKey(wrapped, "user1:grant1:somesecrettoken")
	require.NoError(t, err)
	require.Equal(t, aeadKey, unwrapped)
}

func TestUnwrapKeyFailsWithDifferentToken(t *testing.T) {
	aeadKey, err := GenerateAEADKey()
	require.NoError(t, err)
	wrapped, err := WrapKey(aeadKey, "user1:grant1:correct-token")
	require.NoError(t, err)

	_, err = UnwrapKey(wrapped, "user1:grant1:wrong-token")
	require.ErrorIs(t, err, ErrUnwrapFailed)
}

func TestUnwrapKeyFailsOnCorruptInput(t *testing.T) {
	_, err := UnwrapKey("not valid base64!!", "token")
	require.ErrorIs(t, err, ErrUnwrapFailed)
}

func TestWrapKeyRejectsNonMultipleOf8(t *testing.T) {
	_, err := WrapKey([]byte("short"), "token")
	require.Error(t, err, "expected an error wrapping a key whose length is not a multiple of 8")
}
