// Package fxa is a client for the Firefox Accounts auth server API. It
// sends requests signed with Hawk and turns the server's key bundle into
// Sync keys.
package fxa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ahyattdev/fxa-sync-client/hawk"
	"github.com/ahyattdev/fxa-sync-client/synccrypto"
)

// DefaultServerURL is Mozilla's production auth server.
const DefaultServerURL = "https://api.accounts.firefox.com"

const apiVersion = "/v1"

// Config configures a Client.
type Config struct {
	ServerURL string
	Timeout   time.Duration
}

// Client talks to a Firefox Accounts auth server. It is safe for
// concurrent use.
type Client struct {
	client  *resty.Client
	baseURL string
	now     func() time.Time

	mu   sync.Mutex
	skew int64
}

// NewClient creates a client for cfg.ServerURL.
func NewClient(cfg Config) *Client {
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(cfg.ServerURL, "/") + apiVersion
	cli := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{client: cli, baseURL: baseURL, now: time.Now}
}

// LoginResponse is the body of a successful /account/login.
type LoginResponse struct {
	UID           string `json:"uid"`
	SessionToken  string `json:"sessionToken"`
	KeyFetchToken string `json:"keyFetchToken,omitempty"`
	Verified      bool   `json:"verified"`
	AuthAt        int64  `json:"authAt"`
}

// SessionStatus is the body of /session/status.
type SessionStatus struct {
	State string `json:"state"`
	UID   string `json:"uid"`
}

// Login signs in with a stretched password. When keys is true the
// response carries a keyFetchToken.
func (c *Client) Login(ctx context.Context, email string, authPW []byte, keys bool) (*LoginResponse, error) {
	if len(authPW) != synccrypto.TokenLength {
		return nil, &synccrypto.LengthError{What: "authPW", Want: synccrypto.TokenLength, Got: len(authPW)}
	}

	body, err := json.Marshal(map[string]string{
		"email":  email,
		"authPW": synccrypto.HexEncode(authPW),
	})
	if err != nil {
		return nil, fmt.Errorf("encode login request: %w", err)
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if keys {
		req.SetQueryParam("keys", "true")
	}

	resp, err := req.Post("/account/login")
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	c.trackServerTime(resp)
	if err = mapHTTPError(resp); err != nil {
		slog.Debug("FxA login rejected", "email", email, "error", err)
		return nil, err
	}

	var lr LoginResponse
	if err = json.Unmarshal(resp.Body(), &lr); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if _, err = synccrypto.DecodeToken("sessionToken", lr.SessionToken, synccrypto.TokenLength); err != nil {
		return nil, err
	}
	if keys {
		if _, err = synccrypto.DecodeToken("keyFetchToken", lr.KeyFetchToken, synccrypto.TokenLength); err != nil {
			return nil, err
		}
	}

	slog.Debug("FxA login succeeded", "email", email, "uid", lr.UID, "verified", lr.Verified)
	return &lr, nil
}

// AccountKeys fetches the encrypted key bundle with a keyFetchToken.
// keyFetchTokens are single use.
func (c *Client) AccountKeys(ctx context.Context, keyFetchTokenHex string) (string, error) {
	token, err := synccrypto.ProcessKeyFetchTokenHex(keyFetchTokenHex)
	if err != nil {
		return "", err
	}
	defer token.Zero()
	return c.accountKeys(ctx, token)
}

func (c *Client) accountKeys(ctx context.Context, token *synccrypto.ProcessedKeyFetchToken) (string, error) {
	body, err := c.hawkRequest(ctx, http.MethodGet, "/account/keys", token.ID(), token.ReqHMACKey, nil)
	if err != nil {
		return "", err
	}

	var kr struct {
		Bundle string `json:"bundle"`
	}
	if err = json.Unmarshal(body, &kr); err != nil {
		return "", fmt.Errorf("decode account keys response: %w", err)
	}
	return kr.Bundle, nil
}

// FetchSyncKeys fetches and unwraps kA and kB. unwrapBKey comes from
// synccrypto.Stretch.
func (c *Client) FetchSyncKeys(ctx context.Context, keyFetchTokenHex string, unwrapBKey []byte) (*synccrypto.SyncKeys, error) {
	token, err := synccrypto.ProcessKeyFetchTokenHex(keyFetchTokenHex)
	if err != nil {
		return nil, err
	}
	defer token.Zero()

	bundle, err := c.accountKeys(ctx, token)
	if err != nil {
		return nil, err
	}
	return synccrypto.UnwrapSyncKeys(bundle, token.RespHMACKey, token.RespXORKey, unwrapBKey)
}

// SessionStatus reports whether a session token is still valid.
func (c *Client) SessionStatus(ctx context.Context, sessionTokenHex string) (*SessionStatus, error) {
	token, err := synccrypto.ProcessSessionTokenHex(sessionTokenHex)
	if err != nil {
		return nil, err
	}
	defer token.Zero()

	body, err := c.hawkRequest(ctx, http.MethodGet, "/session/status", token.ID(), token.ReqHMACKey, nil)
	if err != nil {
		return nil, err
	}

	var status SessionStatus
	if err = json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode session status: %w", err)
	}
	return &status, nil
}

// DestroySession invalidates a session token on the server.
func (c *Client) DestroySession(ctx context.Context, sessionTokenHex string) error {
	token, err := synccrypto.ProcessSessionTokenHex(sessionTokenHex)
	if err != nil {
		return err
	}
	defer token.Zero()

	_, err = c.hawkRequest(ctx, http.MethodPost, "/session/destroy", token.ID(), token.ReqHMACKey, []byte("{}"))
	return err
}

// hawkRequest sends a Hawk-signed request. A request rejected for a stale
// timestamp is retried once with the server's clock.
func (c *Client) hawkRequest(ctx context.Context, method, path, id string, key, payload []byte) ([]byte, error) {
	body, err := c.doHawkRequest(ctx, method, path, id, key, payload)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Errno == ErrnoInvalidTimestamp && apiErr.ServerTime > 0 {
		c.setSkew(apiErr.ServerTime - c.now().Unix())
		slog.Info("Retrying FxA request with server clock", "path", path, "skew", c.currentSkew())
		body, err = c.doHawkRequest(ctx, method, path, id, key, payload)
	}
	return body, err
}

func (c *Client) doHawkRequest(ctx context.Context, method, path, id string, key, payload []byte) ([]byte, error) {
	opts := &hawk.Options{
		Timestamp:       c.now().Unix(),
		LocalTimeOffset: c.currentSkew(),
	}
	req := c.client.R().SetContext(ctx)
	if payload != nil {
		opts.Payload = payload
		opts.ContentType = "application/json"
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	header, err := hawk.NewHeader(c.baseURL+path, method, id, key, opts)
	if err != nil {
		return nil, err
	}
	req.SetHeader("Authorization", header.Header)

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.trackServerTime(resp)
	slog.Debug("FxA request", "method", method, "path", path, "status", resp.StatusCode())

	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	if serverAuth := resp.Header().Get("Server-Authorization"); serverAuth != "" {
		if err = hawk.VerifyResponse(key, &header.Artifacts, serverAuth, resp.Body(), resp.Header().Get("Content-Type")); err != nil {
			return nil, err
		}
	}
	return resp.Body(), nil
}

// trackServerTime records the offset between the server's Timestamp
// header and the local clock.
func (c *Client) trackServerTime(resp *resty.Response) {
	ts := resp.Header().Get("Timestamp")
	if ts == "" {
		return
	}
	serverTime, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return
	}
	c.setSkew(serverTime - c.now().Unix())
}

func (c *Client) setSkew(skew int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skew = skew
}

func (c *Client) currentSkew() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skew
}
