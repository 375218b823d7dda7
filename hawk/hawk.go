// Package hawk signs HTTP requests with the Hawk scheme used by the
// Firefox Accounts and Sync storage APIs, and verifies the server's
// response signature.
package hawk

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	refhawk "github.com/hiyosi/hawk"

	"github.com/ahyattdev/fxa-sync-client/synccrypto"
)

const nonceLength = 6

// now is replaced in tests.
var now = time.Now

// Options are the optional inputs to NewHeader.
type Options struct {
	App         string
	Dlg         string
	Ext         string
	ContentType string

	// Hash is a precomputed payload hash. When empty and Payload is
	// non-nil, the hash is computed from Payload and ContentType. An empty
	// but non-nil Payload is hashed.
	Hash    string
	Payload []byte

	// Nonce is generated when empty.
	Nonce string

	// Timestamp is in Unix seconds. Zero is the unset value and means the
	// current time, so an explicit timestamp of 0 cannot be expressed.
	// LocalTimeOffset (seconds) is added to an explicit Timestamp only.
	Timestamp       int64
	LocalTimeOffset int64
}

// Artifacts are the request fields covered by the MAC. TS and Port hold
// decimal integers.
type Artifacts struct {
	App      string
	Dlg      string
	Ext      string
	Hash     string
	Host     string
	Method   string
	Nonce    string
	Port     string
	Resource string
	TS       string
}

// Header is a rendered Authorization value and the artifacts it covers.
// The artifacts are needed to verify the server's response.
type Header struct {
	Header    string
	Artifacts Artifacts
}

// NewHeader computes the Hawk Authorization header for a request to
// rawURL. key must not be empty.
func NewHeader(rawURL, method, id string, key []byte, opts *Options) (*Header, error) {
	if len(key) == 0 {
		panic("hawk: empty MAC key")
	}
	if opts == nil {
		opts = &Options{}
	}

	var ts int64
	if opts.Timestamp != 0 {
		ts = opts.Timestamp + opts.LocalTimeOffset
	} else {
		ts = now().Unix()
	}

	nonce := opts.Nonce
	if nonce == "" {
		var err error
		if nonce, err = generateNonce(); err != nil {
			return nil, err
		}
	}

	host, port, resource, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	hash := opts.Hash
	if hash == "" && opts.Payload != nil {
		hash = PayloadHash(opts.Payload, opts.ContentType)
	}

	artifacts := Artifacts{
		App:      opts.App,
		Dlg:      opts.Dlg,
		Ext:      opts.Ext,
		Hash:     hash,
		Host:     strings.ToLower(host),
		Method:   strings.ToUpper(method),
		Nonce:    nonce,
		Port:     port,
		Resource: resource,
		TS:       strconv.FormatInt(ts, 10),
	}

	mac, err := calculateMAC(refhawk.Header, key, &artifacts)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(`Hawk id="`)
	b.WriteString(id)
	b.WriteString(`", ts="`)
	b.WriteString(artifacts.TS)
	b.WriteString(`", nonce="`)
	b.WriteString(artifacts.Nonce)
	if artifacts.Hash != "" {
		b.WriteString(`", hash="`)
		b.WriteString(artifacts.Hash)
	}
	if artifacts.Ext != "" {
		b.WriteString(`", ext="`)
		b.WriteString(headerEscaper.Replace(artifacts.Ext))
	}
	b.WriteString(`", mac="`)
	b.WriteString(mac)
	b.WriteByte('"')
	if artifacts.App != "" {
		b.WriteString(`, app="`)
		b.WriteString(artifacts.App)
		b.WriteByte('"')
		if artifacts.Dlg != "" {
			b.WriteString(`, dlg="`)
			b.WriteString(artifacts.Dlg)
			b.WriteByte('"')
		}
	}

	return &Header{Header: b.String(), Artifacts: artifacts}, nil
}

// PayloadHash returns the Hawk payload hash. Only the media type part of
// contentType is used.
func PayloadHash(payload []byte, contentType string) string {
	h := &refhawk.PayloadHash{ContentType: contentType, Payload: string(payload), Alg: refhawk.SHA256}
	return h.String()
}

// NormalizedString returns the MAC preimage for artifacts. kind is
// "header" for requests and "response" for server responses. The MAC
// itself is computed by calculateMAC over the same fields.
func NormalizedString(kind string, a *Artifacts) string {
	ext := normalizedEscaper.Replace(a.Ext)

	var b strings.Builder
	b.Grow(64 + len(a.Resource) + len(a.Host) + len(a.Hash) + len(ext) + len(a.App) + len(a.Dlg))
	b.WriteString("hawk.1.")
	b.WriteString(kind)
	for _, field := range []string{
		a.TS,
		a.Nonce,
		strings.ToUpper(a.Method),
		a.Resource,
		strings.ToLower(a.Host),
		a.Port,
		a.Hash,
		ext,
	} {
		b.WriteByte('\n')
		b.WriteString(field)
	}
	b.WriteByte('\n')
	if a.App != "" {
		b.WriteString(a.App)
		b.WriteByte('\n')
		b.WriteString(a.Dlg)
		b.WriteByte('\n')
	}
	return b.String()
}

func calculateMAC(kind refhawk.AuthType, key []byte, a *Artifacts) (string, error) {
	ts, err := strconv.ParseInt(a.TS, 10, 64)
	if err != nil {
		return "", &synccrypto.FormatError{What: "hawk ts", Err: err}
	}

	m := &refhawk.Mac{
		Type:       kind,
		Credential: &refhawk.Credential{Key: string(key), Alg: refhawk.SHA256},
		Uri:        a.uri(),
		Method:     a.Method,
		HostPort:   net.JoinHostPort(a.Host, a.Port),
		Option: &refhawk.Option{
			TimeStamp: ts,
			Nonce:     a.Nonce,
			Hash:      a.Hash,
			Ext:       a.Ext,
			App:       a.App,
			Dlg:       a.Dlg,
		},
	}
	return m.String()
}

// uri rebuilds a URL whose parsed path is exactly the escaped Resource, so
// percent escapes are signed as sent.
func (a *Artifacts) uri() string {
	path, query, _ := strings.Cut(a.Resource, "?")
	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(a.Host, a.Port),
		Path:     path,
		RawQuery: query,
	}
	return u.String()
}

var (
	// normalizedEscaper escapes ext inside the MAC preimage.
	normalizedEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	// headerEscaper also escapes quotes so ext stays one quoted attribute.
	headerEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func parseURL(rawURL string) (host, port, resource string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", &synccrypto.FormatError{What: "url", Err: err}
	}
	if u.Hostname() == "" {
		return "", "", "", &synccrypto.FormatError{What: "url", Err: errors.New("missing host")}
	}

	port = u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", "", "", &synccrypto.FormatError{What: "url", Err: errors.New("unsupported scheme " + strconv.Quote(u.Scheme))}
		}
	} else if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", "", "", &synccrypto.FormatError{What: "url", Err: err}
	}

	resource = u.EscapedPath()
	if resource == "" {
		resource = "/"
	}
	if len(u.Query()) > 0 {
		resource += "?" + u.RawQuery
	}
	return u.Hostname(), port, resource, nil
}

func generateNonce() (string, error) {
	b, err := synccrypto.RandomBytes(nonceLength)
	if err != nil {
		return "", err
	}
	return synccrypto.Base64URLEncode(b)[:nonceLength], nil
}
