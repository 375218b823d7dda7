// Package synccrypto implements the Firefox Accounts "onepw" key
// derivation chain used to sign in to Firefox Sync: password stretching,
// keyFetchToken/sessionToken processing and key bundle unwrapping.
//
// Every constant here is part of the FxA wire protocol and must match the
// auth server byte for byte.
package synccrypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// TokenLength is the raw length of every FxA token and most derived keys.
	TokenLength = 32

	// pbkdf2Iterations is fixed by the protocol. Do not make it configurable.
	pbkdf2Iterations = 1000
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HMACSHA256 returns HMAC-SHA256(key, data).
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// PBKDF2 runs PBKDF2-HMAC-SHA256 with the protocol's 1000 iterations.
func PBKDF2(password, salt []byte, length int) []byte {
	return pbkdf2.Key(password, salt, pbkdf2Iterations, length, sha256.New)
}

// HexEncode returns the lowercase hex encoding of b.
func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// HexDecode decodes s, rejecting odd-length input and non-hex characters.
func HexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &FormatError{What: "hex", Err: err}
	}
	return b, nil
}

// DecodeToken decodes a hex-encoded token that must be exactly want bytes.
func DecodeToken(what, s string, want int) ([]byte, error) {
	if len(s) != 2*want {
		return nil, &LengthError{What: what + " hex", Want: 2 * want, Got: len(s)}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &FormatError{What: what, Err: err}
	}
	return b, nil
}

// Base64URLEncode encodes b as unpadded base64url.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes unpadded base64url.
func Base64URLDecode(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, &FormatError{What: "base64url", Err: err}
	}
	return b, nil
}

// XOR returns the first n bytes of a XOR b.
func XOR(a, b []byte, n int) ([]byte, error) {
	if len(a) < n {
		return nil, &LengthError{What: "xor operand", Want: n, Got: len(a)}
	}
	if len(b) < n {
		return nil, &LengthError{What: "xor operand", Want: n, Got: len(b)}
	}
	out := make([]byte, n)
	subtle.XORBytes(out, a[:n], b[:n])
	return out, nil
}

// Equal reports whether a and b are equal, in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// RandomBytes reads n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
}
