package hawk

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	refhawk "github.com/hiyosi/hawk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahyattdev/fxa-sync-client/synccrypto"
)

// Credentials and expected values from the Hawk reference implementation.
var (
	testID  = "dh37fgj492je"
	testKey = []byte("werxhqb98rpaxn39848xrunpaw3489ruxnpa98w4rxn")
)

func TestNewHeader_ReferenceVector(t *testing.T) {
	h, err := NewHeader("http://example.com:8000/resource/1?b=1&a=2", "GET", testID, testKey, &Options{
		Ext:       "some-app-ext-data",
		Timestamp: 1353832234,
		Nonce:     "j4h3g2",
	})
	require.NoError(t, err)

	assert.Equal(t, `Hawk id="dh37fgj492je", ts="1353832234", nonce="j4h3g2", ext="some-app-ext-data", `+
		`mac="6R4rV5iE+NPoym+WwjeHzjAGXUtLNIxmo1vpMofpLAE="`, h.Header)
	assert.Equal(t, Artifacts{
		Ext:      "some-app-ext-data",
		Host:     "example.com",
		Method:   "GET",
		Nonce:    "j4h3g2",
		Port:     "8000",
		Resource: "/resource/1?b=1&a=2",
		TS:       "1353832234",
	}, h.Artifacts)
}

func TestNewHeader_ReferencePayloadVector(t *testing.T) {
	h, err := NewHeader("http://example.com:8000/resource/1?b=1&a=2", "POST", testID, testKey, &Options{
		Ext:         "some-app-ext-data",
		Timestamp:   1353832234,
		Nonce:       "j4h3g2",
		Payload:     []byte("Thank you for flying Hawk"),
		ContentType: "text/plain",
	})
	require.NoError(t, err)

	assert.Equal(t, "Yi9LfIIFRtBEPt74PVmbTF/xVAwPn7ub15ePICfgnuY=", h.Artifacts.Hash)
	assert.Equal(t, `Hawk id="dh37fgj492je", ts="1353832234", nonce="j4h3g2", `+
		`hash="Yi9LfIIFRtBEPt74PVmbTF/xVAwPn7ub15ePICfgnuY=", ext="some-app-ext-data", `+
		`mac="aSe1DERmZuRl3pI36/9BdZmnErTw3sNzOOAUlfeKjVw="`, h.Header)
}

func TestNormalizedString_NoHashNoExt(t *testing.T) {
	h, err := NewHeader("http://example.com:8080/resource/1?b=1&a=2", "get", testID, testKey, &Options{
		Timestamp: 1353832234,
		Nonce:     "j4h3g2",
	})
	require.NoError(t, err)

	assert.Equal(t, "hawk.1.header\n1353832234\nj4h3g2\nGET\n/resource/1?b=1&a=2\nexample.com\n8080\n\n\n",
		NormalizedString("header", &h.Artifacts))
	assert.Equal(t, `Hawk id="dh37fgj492je", ts="1353832234", nonce="j4h3g2", `+
		`mac="WCKcMtzAcRs3MElPENlqn5npnCfpfDcRjznALGr4NDg="`, h.Header)
}

func TestNewHeader_AppAndDlg(t *testing.T) {
	tests := []struct {
		name   string
		app    string
		dlg    string
		header string
	}{
		{
			name: "app and dlg",
			app:  "my-app",
			dlg:  "delegated-by",
			header: `Hawk id="dh37fgj492je", ts="1353832234", nonce="j4h3g2", ` +
				`mac="iVfpABrESWRzkRCaRY4nMBzogwbhZiAIfuFNS8dZJvU=", app="my-app", dlg="delegated-by"`,
		},
		{
			name: "app only",
			app:  "my-app",
			header: `Hawk id="dh37fgj492je", ts="1353832234", nonce="j4h3g2", ` +
				`mac="O4bbHlGVItu+1peJXvhQwMPVVPFrYoo3g+Ncgjrb2wY=", app="my-app"`,
		},
		{
			name: "dlg without app is not signed",
			dlg:  "delegated-by",
			header: `Hawk id="dh37fgj492je", ts="1353832234", nonce="j4h3g2", ` +
				`mac="WCKcMtzAcRs3MElPENlqn5npnCfpfDcRjznALGr4NDg="`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHeader("http://EXAMPLE.com:8080/resource/1?b=1&a=2", "GET", testID, testKey, &Options{
				App:       tt.app,
				Dlg:       tt.dlg,
				Timestamp: 1353832234,
				Nonce:     "j4h3g2",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.header, h.Header)
		})
	}
}

func TestNewHeader_ExtEscaping(t *testing.T) {
	h, err := NewHeader("https://example.com/", "GET", testID, testKey, &Options{
		Ext:       "ab\\c\nd\"ef",
		Timestamp: 1353832234,
		Nonce:     "j4h3g2",
	})
	require.NoError(t, err)

	assert.Contains(t, h.Header, `ext="ab\\c\nd\"ef", mac="`)
	assert.NotContains(t, h.Header, "\n")
	assert.Equal(t, "ab\\c\nd\"ef", h.Artifacts.Ext)
	assert.True(t, strings.HasSuffix(NormalizedString("header", &h.Artifacts), "\n\nab\\\\c\\nd\"ef\n"))

	attrs, err := ParseHeader(h.Header)
	require.NoError(t, err)
	assert.Equal(t, h.Artifacts.Ext, attrs["ext"])
	assert.Equal(t, "j4h3g2", attrs["nonce"])
}

func TestNormalizedString_MatchesMAC(t *testing.T) {
	tests := []struct {
		name      string
		artifacts Artifacts
	}{
		{
			name: "reference request",
			artifacts: Artifacts{
				Ext: "some-app-ext-data", Host: "example.com", Method: "GET", Nonce: "j4h3g2",
				Port: "8000", Resource: "/resource/1?b=1&a=2", TS: "1353832234",
			},
		},
		{
			name: "escaped path and ipv6 host",
			artifacts: Artifacts{
				Host: "::1", Method: "POST", Nonce: "abcdef", Port: "8443",
				Resource: "/a%20b/c%2Fd?x=1&y=%41", TS: "1700000000",
				Hash: "Yi9LfIIFRtBEPt74PVmbTF/xVAwPn7ub15ePICfgnuY=",
			},
		},
		{
			name: "escaped ext with app and dlg",
			artifacts: Artifacts{
				App: "my-app", Dlg: "delegated-by", Ext: "a\\b\nc\"d", Host: "example.com",
				Method: "get", Nonce: "j4h3g2", Port: "443", Resource: "/", TS: "1",
			},
		},
	}

	kinds := map[string]refhawk.AuthType{"header": refhawk.Header, "response": refhawk.Response}
	for _, tt := range tests {
		for kind, authType := range kinds {
			t.Run(tt.name+"/"+kind, func(t *testing.T) {
				want := base64.StdEncoding.EncodeToString(synccrypto.HMACSHA256(testKey, []byte(NormalizedString(kind, &tt.artifacts))))
				got, err := calculateMAC(authType, testKey, &tt.artifacts)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			})
		}
	}
}

func TestNewHeader_Timestamp(t *testing.T) {
	h, err := NewHeader("https://example.com/", "GET", testID, testKey, &Options{
		Timestamp:       1000,
		LocalTimeOffset: -5,
	})
	require.NoError(t, err)
	assert.Equal(t, "995", h.Artifacts.TS)

	defer func(orig func() time.Time) { now = orig }(now)
	now = func() time.Time { return time.Unix(1700000000, 0) }

	// A zero Timestamp is unset; the offset is not applied to the clock.
	h, err = NewHeader("https://example.com/", "GET", testID, testKey, &Options{Timestamp: 0, LocalTimeOffset: 30})
	require.NoError(t, err)
	assert.Equal(t, "1700000000", h.Artifacts.TS)
}

func TestNewHeader_GeneratedNonce(t *testing.T) {
	nonceRE := regexp.MustCompile(`^[A-Za-z0-9_-]{6}$`)

	a, err := NewHeader("https://example.com/", "GET", testID, testKey, nil)
	require.NoError(t, err)
	b, err := NewHeader("https://example.com/", "GET", testID, testKey, nil)
	require.NoError(t, err)

	assert.Regexp(t, nonceRE, a.Artifacts.Nonce)
	assert.Regexp(t, nonceRE, b.Artifacts.Nonce)
	assert.NotEqual(t, a.Artifacts.Nonce, b.Artifacts.Nonce)
}

func TestNewHeader_URLs(t *testing.T) {
	tests := []struct {
		url      string
		host     string
		port     string
		resource string
	}{
		{"https://api.accounts.firefox.com/v1/account/keys", "api.accounts.firefox.com", "443", "/v1/account/keys"},
		{"http://Example.COM", "example.com", "80", "/"},
		{"http://127.0.0.1:5000/storage/1.5/42/info/collections?full=1", "127.0.0.1", "5000", "/storage/1.5/42/info/collections?full=1"},
		{"https://[::1]:8443/a%20b", "::1", "8443", "/a%20b"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			h, err := NewHeader(tt.url, "get", testID, testKey, &Options{Timestamp: 1, Nonce: "abcdef"})
			require.NoError(t, err)
			assert.Equal(t, tt.host, h.Artifacts.Host)
			assert.Equal(t, tt.port, h.Artifacts.Port)
			assert.Equal(t, tt.resource, h.Artifacts.Resource)
		})
	}
}

func TestNewHeader_MalformedURL(t *testing.T) {
	for _, raw := range []string{
		"://missing-scheme",
		"/relative/path",
		"ftp://example.com/file",
		"http://example.com:99999/",
	} {
		_, err := NewHeader(raw, "GET", testID, testKey, nil)
		var ferr *synccrypto.FormatError
		assert.True(t, errors.As(err, &ferr), raw)
	}
}

func TestNewHeader_EmptyKeyPanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = NewHeader("https://example.com/", "GET", testID, nil, nil)
	})
}

func TestPayloadHash_ContentTypeParameters(t *testing.T) {
	payload := []byte("Thank you for flying Hawk")
	assert.Equal(t, PayloadHash(payload, "text/plain"), PayloadHash(payload, "Text/Plain; charset=utf-8"))
	assert.NotEqual(t, PayloadHash(payload, "text/plain"), PayloadHash(payload, "application/json"))

	h, err := NewHeader("https://example.com/", "POST", testID, testKey, &Options{
		Payload:     []byte{},
		ContentType: "application/json",
	})
	require.NoError(t, err)
	assert.Equal(t, PayloadHash(nil, "application/json"), h.Artifacts.Hash)
}

func TestNewHeader_VerifiedByReferenceServer(t *testing.T) {
	store := &credentialStore{id: testID, key: string(testKey)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := refhawk.NewServer(store).Authenticate(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	send := func(key []byte) int {
		h, err := NewHeader(srv.URL+"/v1/account/keys?b=1&a=2", "GET", testID, key, &Options{Ext: "some-app-ext-data"})
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/account/keys?b=1&a=2", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", h.Header)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, send(testKey))
	assert.Equal(t, http.StatusUnauthorized, send([]byte("some other key")))
}

type credentialStore struct {
	id  string
	key string
}

func (s *credentialStore) GetCredential(id string) (*refhawk.Credential, error) {
	if id != s.id {
		return nil, errors.New("unknown credential id: " + id)
	}
	return &refhawk.Credential{ID: id, Key: s.key, Alg: refhawk.SHA256}, nil
}
