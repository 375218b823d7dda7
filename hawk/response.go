package hawk

import (
	"errors"
	"strings"

	refhawk "github.com/hiyosi/hawk"

	"github.com/ahyattdev/fxa-sync-client/synccrypto"
)

// VerifyResponse checks a Server-Authorization header against the
// artifacts of the request it answers. When the header carries a payload
// hash and payload is non-nil, the payload is verified as well.
func VerifyResponse(key []byte, artifacts *Artifacts, serverAuthorization string, payload []byte, contentType string) error {
	attrs, err := ParseHeader(serverAuthorization)
	if err != nil {
		return err
	}
	mac, ok := attrs["mac"]
	if !ok {
		return &synccrypto.FormatError{What: "Server-Authorization", Err: errors.New("missing mac")}
	}

	response := *artifacts
	response.Ext = attrs["ext"]
	response.Hash = attrs["hash"]

	expected, err := calculateMAC(refhawk.Response, key, &response)
	if err != nil {
		return err
	}
	if !synccrypto.Equal([]byte(mac), []byte(expected)) {
		return &synccrypto.IntegrityError{What: "hawk response mac"}
	}

	if response.Hash != "" && payload != nil {
		if !synccrypto.Equal([]byte(response.Hash), []byte(PayloadHash(payload, contentType))) {
			return &synccrypto.IntegrityError{What: "hawk response payload"}
		}
	}
	return nil
}

// ParseHeader splits a Hawk header value into its attributes. Backslash
// escapes in values are undone; \n is a newline.
func ParseHeader(header string) (map[string]string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "Hawk ")
	if !ok {
		return nil, &synccrypto.FormatError{What: "hawk header", Err: errors.New("missing Hawk scheme")}
	}

	attrs := make(map[string]string)
	for {
		rest = strings.TrimLeft(rest, " ,")
		if rest == "" {
			return attrs, nil
		}

		name, value, found := strings.Cut(rest, `="`)
		if !found || name == "" || strings.ContainsAny(name, " ,\"") {
			return nil, &synccrypto.FormatError{What: "hawk header", Err: errors.New("bad attribute")}
		}
		unquoted, tail, ok := cutQuoted(value)
		if !ok {
			return nil, &synccrypto.FormatError{What: "hawk header", Err: errors.New("unterminated value for " + name)}
		}
		if _, dup := attrs[name]; dup {
			return nil, &synccrypto.FormatError{What: "hawk header", Err: errors.New("duplicate attribute " + name)}
		}
		attrs[name] = unquoted
		rest = tail
	}
}

// cutQuoted reads a quoted value up to its closing quote.
func cutQuoted(s string) (value, rest string, ok bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			return b.String(), s[i+1:], true
		case '\\':
			i++
			if i == len(s) {
				return "", "", false
			}
			if s[i] == 'n' {
				b.WriteByte('\n')
			} else {
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", "", false
}

// ResponseHeader renders the Server-Authorization value a server sends
// with its response to the request described by artifacts. payload may be
// nil to leave the response body unsigned.
func ResponseHeader(key []byte, artifacts *Artifacts, ext string, payload []byte, contentType string) (string, error) {
	response := *artifacts
	response.Ext = ext
	response.Hash = ""
	if payload != nil {
		response.Hash = PayloadHash(payload, contentType)
	}

	mac, err := calculateMAC(refhawk.Response, key, &response)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Hawk ")
	if response.Hash != "" {
		b.WriteString(`hash="`)
		b.WriteString(response.Hash)
		b.WriteString(`", `)
	}
	if ext != "" {
		b.WriteString(`ext="`)
		b.WriteString(headerEscaper.Replace(ext))
		b.WriteString(`", `)
	}
	b.WriteString(`mac="`)
	b.WriteString(mac)
	b.WriteByte('"')
	return b.String(), nil
}
