package cryptoutil

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

func newSHA256() hash.Hash { return sha256.New() }

// pbkdf2Iterations and fixedSalt: the token or authorization code supplies
// all the entropy the wrapping key needs, so the salt exists only to
// satisfy the KDF's function signature, not to add entropy of its own. It
// is a fixed value: changing it changes every derived wrapping key, so keys
// already wrapped under the old salt could no longer be unwrapped.
const pbkdf2Iterations = 100000

var fixedSalt = []byte("sentry-mcp-oauth-wrap-salt-v1")

// deriveWrappingKey turns a token or authorization-code string into a
// 256-bit AES key via PBKDF2-HMAC-SHA-256.
func deriveWrappingKey(tokenOrCode string) []byte {
	return pbkdf2.Key([]byte(tokenOrCode), fixedSalt, pbkdf2Iterations, aeadKeySize, newSHA256)
}

// kwIV is the RFC 3394 default integrity check value.
var kwIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// ErrUnwrapFailed is returned when a wrapped key cannot be recovered, either
// because the wrapping token/code is wrong or the wrapped value was
// tampered with. The RFC 3394 integrity check makes this tamper-evident.
var ErrUnwrapFailed = errors.New("cryptoutil: key unwrap failed")

// WrapKey wraps a AEAD key (RFC 3394 AES-KW) under a wrapping key derived
// from tokenOrCode, returning the base64-encoded wrapped output.
func WrapKey(aeadKey []byte, tokenOrCode string) (string, error) {
	if len(aeadKey)%8 != 0 || len(aeadKey) == 0 {
		return "", errors.New("cryptoutil: key to wrap must be a nonzero multiple of 8 bytes")
	}
	block, err := aes.NewCipher(deriveWrappingKey(tokenOrCode))
	if err != nil {
		return "", err
	}

	n := len(aeadKey) / 8
	r := make([][8]byte, n+1)
	copy(r[0][:], kwIV[:])
	for i := 1; i <= n; i++ {
		copy(r[i][:], aeadKey[(i-1)*8:i*8])
	}

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], r[0][:])
			copy(buf[8:], r[i][:])
			block.Encrypt(buf, buf)

			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)
			for k := range r[0] {
				r[0][k] = buf[k] ^ tBytes[k]
			}
			copy(r[i][:], buf[8:])
		}
	}

	out := make([]byte, (n+1)*8)
	copy(out[:8], r[0][:])
	for i := 1; i <= n; i++ {
		copy(out[i*8:(i+1)*8], r[i][:])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// UnwrapKey reverses WrapKey, recovering the AEAD key. It fails closed
// (ErrUnwrapFailed) if tokenOrCode doesn't match the wrapping token/code
// used to produce wrapped, or if wrapped was corrupted.
func UnwrapKey(wrapped string, tokenOrCode string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	if len(raw) < 16 || len(raw)%8 != 0 {
		return nil, ErrUnwrapFailed
	}

	block, err := aes.NewCipher(deriveWrappingKey(tokenOrCode))
	if err != nil {
		return nil, ErrUnwrapFailed
	}

	n := len(raw)/8 - 1
	var a [8]byte
	copy(a[:], raw[:8])
	r := make([][8]byte, n+1)
	for i := 1; i <= n; i++ {
		copy(r[i][:], raw[i*8:(i+1)*8])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)

			var aXorT [8]byte
			for k := range a {
				aXorT[k] = a[k] ^ tBytes[k]
			}
			copy(buf[:8], aXorT[:])
			copy(buf[8:], r[i][:])
			block.Decrypt(buf, buf)
			copy(a[:], buf[:8])
			copy(r[i][:], buf[8:])
		}
	}

	if a != kwIV {
		return nil, ErrUnwrapFailed
	}

	out := make([]byte, n*8)
	for i := 1; i <= n; i++ {
		copy(out[(i-1)*8:i*8], r[i][:])
	}
	return out, nil
}
