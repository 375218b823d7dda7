package synccrypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vectors from the Firefox Accounts onepw protocol description.
const (
	vectorEmail    = "andré@example.org"
	vectorPassword = "pässwörd"

	vectorQuickStretchedPW = "e4e8889bd8bd61ad6de6b95c059d56e7b50dacdaf62bd84644af7e2add84345d"
	vectorAuthPW           = "247b675ffb4c46310bc87e26d712153abe5e1c90ef00a4784594f97ef54f2375"
	vectorUnwrapBKey       = "de6a2648b78284fcb9ffa81ba95803309cfba7af583c01a8a1a63e567234dd28"

	vectorKeyFetchToken = "808182838485868788898a8b8c8d8e8f909192939495969798999a9b9c9d9e9f"
	vectorTokenID       = "3d0a7c02a15a62a2882f76e39b6494b500c022a8816e048625a495718998ba60"
	vectorReqHMACKey    = "87b8937f61d38d0e29cd2d5600b3f4da0aa48ac41de36a0efe84bb4a9872ceb7"
	vectorRespHMACKey   = "f824d2953aab9faf51a1cb65ba9e7f9e5bf91c8d8fd1ac1c8c2d31853a8a1210"
	vectorRespXORKey    = "ce7d7aa77859b2359932970bbe2101f2e80d01faf9191bd5ee52181d2f0b7809" +
		"8281ba8cff3925433a89f7c3095e0c89900a469d60790c833281c4df1a11c763"

	vectorKA     = "202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f"
	vectorWrapKB = "404142434445464748494a4b4c4d4e4f505152535455565758595a5b5c5d5e5f"
	vectorKB     = "9e2b640bf3c7c2bbf1b6e250e5154d7fccaaf5fc0c6957fff9ff640d2e698377"
	vectorBundle = "ee5c58845c7c9412b11bbd20920c2fddd83c33c9cd2c2de2d66b222613364636" +
		"c2c0f8cfbb7c630472c0bd88451342c6c05b14ce342c5ad46ad89e84464c993c" +
		"3927d30230157d0817a077eef4b20d976f7a97363faf3f064c003ada7d01aa70"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestHKDF_RFC5869(t *testing.T) {
	tests := []struct {
		name string
		ikm  []byte
		salt []byte
		info []byte
		want string
	}{
		{
			name: "basic",
			ikm:  bytes.Repeat([]byte{0x0b}, 22),
			salt: []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c},
			info: []byte{0xf0, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8, 0xf9},
			want: "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865",
		},
		{
			name: "empty salt and info",
			ikm:  bytes.Repeat([]byte{0x0b}, 22),
			want: "8da4e775a563c18f715f802a063c5a31b8a11f5c5ee1879ec3454e5f3c738d2d9d201395faa4b61a96c8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HKDF(tt.ikm, tt.salt, tt.info, 42)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(got))

			again, err := HKDF(tt.ikm, tt.salt, tt.info, 42)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestHKDF_EmptySaltEqualsZeroSalt(t *testing.T) {
	ikm := []byte("input keying material")
	a, err := HKDF(ikm, nil, KW("authPW"), 32)
	require.NoError(t, err)
	b, err := HKDF(ikm, make([]byte, 32), KW("authPW"), 32)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHKDF_LengthLimit(t *testing.T) {
	out, err := HKDF([]byte("ikm"), nil, nil, MaxHKDFLength)
	require.NoError(t, err)
	assert.Len(t, out, 8160)

	for _, n := range []int{MaxHKDFLength + 1, 256*32 + 1, -1} {
		out, err := HKDF([]byte("ikm"), nil, nil, n)
		assert.Nil(t, out)
		var lerr *LengthError
		assert.True(t, errors.As(err, &lerr), "length %d", n)
	}
}

func TestInfoStrings(t *testing.T) {
	assert.Equal(t, "identity.mozilla.com/picl/v1/authPW", string(KW("authPW")))
	assert.Equal(t, "identity.mozilla.com/picl/v1/quickStretch:andré@example.org",
		string(KWE("quickStretch", vectorEmail)))
}

func TestPBKDF2_GoldenVector(t *testing.T) {
	got := PBKDF2([]byte(vectorPassword), KWE("quickStretch", vectorEmail), 32)
	assert.Equal(t, vectorQuickStretchedPW, hex.EncodeToString(got))
}

func TestStretch(t *testing.T) {
	creds, err := Stretch(vectorEmail, vectorPassword)
	require.NoError(t, err)

	assert.Equal(t, vectorQuickStretchedPW, HexEncode(creds.QuickStretchedPW))
	assert.Equal(t, vectorAuthPW, HexEncode(creds.AuthPW))
	assert.Equal(t, vectorUnwrapBKey, HexEncode(creds.UnwrapBKey))

	creds.Zero()
	assert.Equal(t, make([]byte, 32), creds.AuthPW)
	assert.Equal(t, make([]byte, 32), creds.UnwrapBKey)
}

func TestStretch_InvalidUTF8(t *testing.T) {
	var ferr *FormatError

	_, err := Stretch("bad\xffemail@example.org", "password")
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "email", ferr.What)

	_, err = Stretch("user@example.org", "pass\xc3")
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "password", ferr.What)
}

func TestProcessKeyFetchToken(t *testing.T) {
	p, err := ProcessKeyFetchTokenHex(vectorKeyFetchToken)
	require.NoError(t, err)

	assert.Equal(t, vectorTokenID, p.ID())
	assert.Equal(t, vectorReqHMACKey, HexEncode(p.ReqHMACKey))
	assert.Equal(t, vectorRespHMACKey, HexEncode(p.RespHMACKey))
	assert.Equal(t, vectorRespXORKey, HexEncode(p.RespXORKey))
	assert.Len(t, p.RespXORKey, 64)
}

func TestProcessKeyFetchToken_BadInput(t *testing.T) {
	var lerr *LengthError
	_, err := ProcessKeyFetchToken(make([]byte, 31))
	assert.True(t, errors.As(err, &lerr))

	_, err = ProcessKeyFetchTokenHex(vectorKeyFetchToken[:62])
	assert.True(t, errors.As(err, &lerr))

	var ferr *FormatError
	_, err = ProcessKeyFetchTokenHex("zz" + vectorKeyFetchToken[2:])
	assert.True(t, errors.As(err, &ferr))
}

func TestProcessSessionToken(t *testing.T) {
	token := make([]byte, 32)
	for i := range token {
		token[i] = byte(0xa0 + i)
	}

	p, err := ProcessSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "c0a29dcf46174973da1378696e4c82ae10f723cf4f4d9f75e39f4ae3851595ab", p.ID())
	assert.Equal(t, "9d8f22998ee7f5798b887042466b72d53e56ab0c094388bf65831f702d2febc0", HexEncode(p.ReqHMACKey))
	assert.Equal(t, "37e3fceb754cb57362a8bd60a2f2344a7c285d17ddb2b57733640ce6d1b6a7a8", HexEncode(p.RequestKey))

	fromHex, err := ProcessSessionTokenHex(HexEncode(token))
	require.NoError(t, err)
	assert.Equal(t, p, fromHex)
}

func TestUnwrapSyncKeys(t *testing.T) {
	keys, err := UnwrapSyncKeys(vectorBundle,
		mustHex(t, vectorRespHMACKey), mustHex(t, vectorRespXORKey), mustHex(t, vectorUnwrapBKey))
	require.NoError(t, err)

	assert.Equal(t, vectorKA, HexEncode(keys.KA))
	assert.Equal(t, vectorWrapKB, HexEncode(keys.WrapKB))
	assert.Equal(t, vectorKB, HexEncode(keys.KB))
}

func TestWrapSyncKeys_MatchesServerBundle(t *testing.T) {
	bundle, err := WrapSyncKeys(mustHex(t, vectorKA), mustHex(t, vectorWrapKB),
		mustHex(t, vectorRespHMACKey), mustHex(t, vectorRespXORKey))
	require.NoError(t, err)
	assert.Equal(t, vectorBundle, bundle)
}

func TestUnwrapSyncKeys_BitFlips(t *testing.T) {
	raw := mustHex(t, vectorBundle)
	respHMACKey := mustHex(t, vectorRespHMACKey)
	respXORKey := mustHex(t, vectorRespXORKey)
	unwrapBKey := mustHex(t, vectorUnwrapBKey)

	for i := 0; i < len(raw); i++ {
		for _, bit := range []byte{0x01, 0x80} {
			tampered := bytes.Clone(raw)
			tampered[i] ^= bit

			keys, err := UnwrapSyncKeys(hex.EncodeToString(tampered), respHMACKey, respXORKey, unwrapBKey)
			var ierr *IntegrityError
			require.True(t, errors.As(err, &ierr), "byte %d bit %#x", i, bit)
			require.Nil(t, keys)
		}
	}
}

func TestUnwrapSyncKeys_Malformed(t *testing.T) {
	respHMACKey := mustHex(t, vectorRespHMACKey)
	respXORKey := mustHex(t, vectorRespXORKey)
	unwrapBKey := mustHex(t, vectorUnwrapBKey)

	var lerr *LengthError
	_, err := UnwrapSyncKeys(vectorBundle[:190], respHMACKey, respXORKey, unwrapBKey)
	assert.True(t, errors.As(err, &lerr))

	_, err = UnwrapSyncKeys(vectorBundle, respHMACKey, respXORKey[:32], unwrapBKey)
	assert.True(t, errors.As(err, &lerr))

	var ferr *FormatError
	_, err = UnwrapSyncKeys("g"+vectorBundle[1:], respHMACKey, respXORKey, unwrapBKey)
	assert.True(t, errors.As(err, &ferr))
}

func TestXOR_RoundTrip(t *testing.T) {
	for i := 0; i < 16; i++ {
		unwrapBKey, err := RandomBytes(32)
		require.NoError(t, err)
		wrapKB, err := RandomBytes(32)
		require.NoError(t, err)

		kB, err := XOR(unwrapBKey, wrapKB, 32)
		require.NoError(t, err)
		back, err := XOR(unwrapBKey, kB, 32)
		require.NoError(t, err)
		assert.Equal(t, wrapKB, back)
	}
}

func TestXOR_ShortOperand(t *testing.T) {
	_, err := XOR(make([]byte, 31), make([]byte, 32), 32)
	var lerr *LengthError
	assert.True(t, errors.As(err, &lerr))
}

func TestCodecs(t *testing.T) {
	_, err := HexDecode("abc")
	var ferr *FormatError
	assert.True(t, errors.As(err, &ferr))

	_, err = Base64URLDecode("ab+/")
	assert.True(t, errors.As(err, &ferr))

	b, err := Base64URLDecode(Base64URLEncode([]byte{0xfb, 0xff}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfb, 0xff}, b)
	assert.Equal(t, "-_8", Base64URLEncode([]byte{0xfb, 0xff}))
}
