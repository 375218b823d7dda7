package synccrypto

import (
	"crypto/sha256"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// infoPrefix namespaces every HKDF info string in the FxA protocol.
	infoPrefix = "identity.mozilla.com/picl/v1/"

	// MaxHKDFLength is the RFC 5869 output limit for SHA-256.
	MaxHKDFLength = 255 * sha256.Size
)

// KW returns the info string for name ("keyword").
func KW(name string) []byte {
	return []byte(infoPrefix + name)
}

// KWE returns the info string for name bound to an email address.
func KWE(name, email string) []byte {
	var b strings.Builder
	b.Grow(len(infoPrefix) + len(name) + 1 + len(email))
	b.WriteString(infoPrefix)
	b.WriteString(name)
	b.WriteByte(':')
	b.WriteString(email)
	return []byte(b.String())
}

// HKDF derives length bytes from ikm with HKDF-SHA256. An empty salt is
// treated as 32 zero bytes.
func HKDF(ikm, salt, info []byte, length int) ([]byte, error) {
	if length < 0 || length > MaxHKDFLength {
		return nil, &LengthError{What: "hkdf output", Want: MaxHKDFLength, Got: length}
	}
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

// split cuts b into consecutive chunks of the given sizes.
func split(b []byte, sizes ...int) [][]byte {
	parts := make([][]byte, 0, len(sizes))
	for _, n := range sizes {
		parts = append(parts, b[:n:n])
		b = b[n:]
	}
	return parts
}
