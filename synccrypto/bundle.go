package synccrypto

// BundleLength is the raw size of an account/keys bundle: 64 bytes of
// ciphertext followed by a 32-byte HMAC.
const BundleLength = 3 * TokenLength

// SyncKeys are the long-lived Sync keys. WrapKB is only kept until kB has
// been computed.
type SyncKeys struct {
	KA     []byte
	KB     []byte
	WrapKB []byte
}

// Zero wipes all three keys.
func (k *SyncKeys) Zero() {
	Zero(k.KA)
	Zero(k.KB)
	Zero(k.WrapKB)
}

// UnwrapSyncKeys verifies and decrypts a hex-encoded account/keys bundle.
// The MAC is checked before anything is decrypted; on failure no key
// material is returned.
func UnwrapSyncKeys(bundleHex string, respHMACKey, respXORKey, unwrapBKey []byte) (*SyncKeys, error) {
	bundle, err := DecodeToken("bundle", bundleHex, BundleLength)
	if err != nil {
		return nil, err
	}
	if len(respHMACKey) != TokenLength {
		return nil, &LengthError{What: "respHMACkey", Want: TokenLength, Got: len(respHMACKey)}
	}
	if len(respXORKey) != 2*TokenLength {
		return nil, &LengthError{What: "respXORkey", Want: 2 * TokenLength, Got: len(respXORKey)}
	}
	if len(unwrapBKey) != TokenLength {
		return nil, &LengthError{What: "unwrapBKey", Want: TokenLength, Got: len(unwrapBKey)}
	}

	ciphertext := bundle[:2*TokenLength]
	mac := bundle[2*TokenLength:]
	if !Equal(mac, HMACSHA256(respHMACKey, ciphertext)) {
		return nil, &IntegrityError{What: "account/keys bundle"}
	}

	plain, err := XOR(ciphertext, respXORKey, 2*TokenLength)
	if err != nil {
		return nil, err
	}
	kA, wrapKB := plain[:TokenLength:TokenLength], plain[TokenLength:]

	kB, err := XOR(unwrapBKey, wrapKB, TokenLength)
	if err != nil {
		return nil, err
	}

	return &SyncKeys{KA: kA, KB: kB, WrapKB: wrapKB}, nil
}

// WrapSyncKeys is the inverse of UnwrapSyncKeys: it encrypts kA and wrapKB
// under respXORKey and appends HMAC-SHA256(respHMACKey, ciphertext). It
// returns the bundle hex-encoded, as the auth server sends it.
func WrapSyncKeys(kA, wrapKB, respHMACKey, respXORKey []byte) (string, error) {
	if len(kA) != TokenLength {
		return "", &LengthError{What: "kA", Want: TokenLength, Got: len(kA)}
	}
	if len(wrapKB) != TokenLength {
		return "", &LengthError{What: "wrapKB", Want: TokenLength, Got: len(wrapKB)}
	}

	plain := make([]byte, 0, 2*TokenLength)
	plain = append(plain, kA...)
	plain = append(plain, wrapKB...)
	defer Zero(plain)

	ciphertext, err := XOR(plain, respXORKey, 2*TokenLength)
	if err != nil {
		return "", err
	}
	bundle := append(ciphertext, HMACSHA256(respHMACKey, ciphertext)...)
	return HexEncode(bundle), nil
}
