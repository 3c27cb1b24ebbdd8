package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
)

// aeadKeySize forces 256-bit AES, matching pkg/crypto's aesKeySize
// convention.
const aeadKeySize = 32

// nonceSize is the GCM-standard 96-bit IV.
const nonceSize = 12

// ErrDecryptionFailed is returned whenever Decrypt cannot recover plaintext,
// whether from a wrong key, a tampered ciphertext, or a corrupt envelope.
// Callers surface this as a distinct error class.
var ErrDecryptionFailed = errors.New("cryptoutil: decryption failed")

// EncryptedBlob is the at-rest envelope for AEAD-encrypted upstream
// credentials: base64 ciphertext and base64 IV, shaped to round-trip
// through storage as a grant's or token's encryptedProps JSON exactly.
type EncryptedBlob struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// GenerateAEADKey returns a fresh random 256-bit AES key.
func GenerateAEADKey() ([]byte, error) {
	return RandBytes(aeadKeySize)
}

// Encrypt seals plaintext under key using AES-256-GCM with a freshly
// generated 96-bit IV, returning the base64 envelope.
func Encrypt(plaintext, key []byte) (EncryptedBlob, error) {
	if len(key) != aeadKeySize {
		return EncryptedBlob{}, aes.KeySizeError(len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return EncryptedBlob{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedBlob{}, err
	}

	nonce, err := RandBytes(gcm.NonceSize())
	if err != nil {
		return EncryptedBlob{}, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return EncryptedBlob{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens an EncryptedBlob produced by Encrypt. Any failure — bad
// base64, wrong IV length, wrong key, or a failed GCM tag check — collapses
// to ErrDecryptionFailed so callers can't distinguish tampering from
// corruption, which matters for error-message hygiene at the API boundary.
func Decrypt(blob EncryptedBlob, key []byte) ([]byte, error) {
	if len(key) != aeadKeySize {
		return nil, ErrDecryptionFailed
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
