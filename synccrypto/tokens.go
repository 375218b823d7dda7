package synccrypto

// ProcessedKeyFetchToken holds the keys derived from a keyFetchToken.
// TokenID and ReqHMACKey authenticate GET /account/keys; RespHMACKey and
// RespXORKey open the returned bundle.
type ProcessedKeyFetchToken struct {
	TokenID     []byte
	ReqHMACKey  []byte
	RespHMACKey []byte
	RespXORKey  []byte
}

// ID returns the Hawk credential id for the request.
func (t *ProcessedKeyFetchToken) ID() string {
	return HexEncode(t.TokenID)
}

// Zero wipes all derived keys.
func (t *ProcessedKeyFetchToken) Zero() {
	Zero(t.TokenID)
	Zero(t.ReqHMACKey)
	Zero(t.RespHMACKey)
	Zero(t.RespXORKey)
}

// ProcessKeyFetchToken expands a raw 32-byte keyFetchToken.
func ProcessKeyFetchToken(keyFetchToken []byte) (*ProcessedKeyFetchToken, error) {
	if len(keyFetchToken) != TokenLength {
		return nil, &LengthError{What: "keyFetchToken", Want: TokenLength, Got: len(keyFetchToken)}
	}

	out1, err := HKDF(keyFetchToken, nil, KW("keyFetchToken"), 3*TokenLength)
	if err != nil {
		return nil, err
	}
	p1 := split(out1, TokenLength, TokenLength, TokenLength)
	keyRequestKey := p1[2]
	defer Zero(keyRequestKey)

	out2, err := HKDF(keyRequestKey, nil, KW("account/keys"), 3*TokenLength)
	if err != nil {
		return nil, err
	}
	p2 := split(out2, TokenLength, 2*TokenLength)

	return &ProcessedKeyFetchToken{
		TokenID:     p1[0],
		ReqHMACKey:  p1[1],
		RespHMACKey: p2[0],
		RespXORKey:  p2[1],
	}, nil
}

// ProcessKeyFetchTokenHex decodes a 64-character hex keyFetchToken and
// processes it.
func ProcessKeyFetchTokenHex(s string) (*ProcessedKeyFetchToken, error) {
	token, err := DecodeToken("keyFetchToken", s, TokenLength)
	if err != nil {
		return nil, err
	}
	defer Zero(token)
	return ProcessKeyFetchToken(token)
}

// ProcessedSessionToken holds the Hawk credentials derived from a
// sessionToken.
type ProcessedSessionToken struct {
	TokenID    []byte
	ReqHMACKey []byte
	RequestKey []byte
}

// ID returns the Hawk credential id for session-authenticated requests.
func (t *ProcessedSessionToken) ID() string {
	return HexEncode(t.TokenID)
}

// Zero wipes all derived keys.
func (t *ProcessedSessionToken) Zero() {
	Zero(t.TokenID)
	Zero(t.ReqHMACKey)
	Zero(t.RequestKey)
}

// ProcessSessionToken expands a raw 32-byte sessionToken. The first 64
// bytes of output are what the auth server derives for Hawk verification.
func ProcessSessionToken(sessionToken []byte) (*ProcessedSessionToken, error) {
	if len(sessionToken) != TokenLength {
		return nil, &LengthError{What: "sessionToken", Want: TokenLength, Got: len(sessionToken)}
	}

	out, err := HKDF(sessionToken, nil, KW("sessionToken"), 3*TokenLength)
	if err != nil {
		return nil, err
	}
	p := split(out, TokenLength, TokenLength, TokenLength)

	return &ProcessedSessionToken{
		TokenID:    p[0],
		ReqHMACKey: p[1],
		RequestKey: p[2],
	}, nil
}

// ProcessSessionTokenHex decodes a 64-character hex sessionToken and
// processes it.
func ProcessSessionTokenHex(s string) (*ProcessedSessionToken, error) {
	token, err := DecodeToken("sessionToken", s, TokenLength)
	if err != nil {
		return nil, err
	}
	defer Zero(token)
	return ProcessSessionToken(token)
}
