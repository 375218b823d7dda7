package synccrypto

import (
	"errors"
	"unicode/utf8"
)

// StretchedCredentials is the result of stretching an email/password pair.
// AuthPW is sent to the auth server; UnwrapBKey is kept to unwrap kB.
type StretchedCredentials struct {
	QuickStretchedPW []byte
	AuthPW           []byte
	UnwrapBKey       []byte
}

// Zero wipes all three keys.
func (c *StretchedCredentials) Zero() {
	Zero(c.QuickStretchedPW)
	Zero(c.AuthPW)
	Zero(c.UnwrapBKey)
}

// Stretch derives StretchedCredentials from an email and password. Both
// must be valid UTF-8; they are used exactly as given.
func Stretch(email, password string) (*StretchedCredentials, error) {
	if !utf8.ValidString(email) {
		return nil, &FormatError{What: "email", Err: errors.New("invalid UTF-8")}
	}
	if !utf8.ValidString(password) {
		return nil, &FormatError{What: "password", Err: errors.New("invalid UTF-8")}
	}

	quickStretchedPW := PBKDF2([]byte(password), KWE("quickStretch", email), TokenLength)

	authPW, err := HKDF(quickStretchedPW, nil, KW("authPW"), TokenLength)
	if err != nil {
		return nil, err
	}
	unwrapBKey, err := HKDF(quickStretchedPW, nil, KW("unwrapBkey"), TokenLength)
	if err != nil {
		return nil, err
	}

	return &StretchedCredentials{
		QuickStretchedPW: quickStretchedPW,
		AuthPW:           authPW,
		UnwrapBKey:       unwrapBKey,
	}, nil
}
