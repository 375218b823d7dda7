package synccrypto

import "fmt"

// FormatError is returned for malformed hex/base64 input, malformed URLs
// and invalid UTF-8.
type FormatError struct {
	What string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s: %v", e.What, e.Err)
	}
	return "malformed " + e.What
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// LengthError is returned when a token or derived key does not have the
// exact expected byte length, or when an HKDF output length is too large.
type LengthError struct {
	What string
	Want int
	Got  int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("invalid %s length: want %d, got %d", e.What, e.Want, e.Got)
}

// IntegrityError is returned when a MAC does not verify. No key material
// accompanies it.
type IntegrityError struct {
	What string
}

func (e *IntegrityError) Error() string {
	if e.What == "" {
		return "integrity check failed"
	}
	return e.What + ": integrity check failed"
}
