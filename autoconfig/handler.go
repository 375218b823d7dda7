// Package autoconfig serves and fetches the FxA client configuration
// document that points a client at its auth, OAuth, profile and token
// servers.
package autoconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// WellKnownPath is where the configuration document is served.
const WellKnownPath = "/.well-known/fxa-client-configuration"

type ClientConfiguration struct {
	AuthServerBaseURL    string `json:"auth_server_base_url"`
	OAuthServerBaseURL   string `json:"oauth_server_base_url"`
	ProfileServerBaseURL string `json:"profile_server_base_url"`
	TokenServerBaseURL   string `json:"sync_tokenserver_base_url"`
	PairingServerBaseURL string `json:"pairing_server_base_url,omitempty"`
}

type Handler struct {
	Config ClientConfiguration
}

// NewHandler describes an auth server at authServerURL whose OAuth and
// profile endpoints live under the same origin.
func NewHandler(authServerURL, tokenServerURL string) *Handler {
	authServerURL = strings.TrimRight(authServerURL, "/")
	return &Handler{
		Config: ClientConfiguration{
			AuthServerBaseURL:    authServerURL,
			OAuthServerBaseURL:   authServerURL + "/oauth",
			ProfileServerBaseURL: authServerURL + "/profile",
			TokenServerBaseURL:   tokenServerURL,
		},
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+WellKnownPath, h.handleClientConfiguration)
}

func (h *Handler) handleClientConfiguration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Config)
}

// Fetch downloads the configuration document published by configURL.
func Fetch(ctx context.Context, configURL string, timeout time.Duration) (*ClientConfiguration, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base, err := url.Parse(configURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid config URL %q", configURL)
	}

	resp, err := resty.New().
		SetTimeout(timeout).
		R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(strings.TrimRight(configURL, "/") + WellKnownPath)
	if err != nil {
		return nil, fmt.Errorf("fetch client configuration: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetch client configuration: unexpected status %d", resp.StatusCode())
	}

	var cfg ClientConfiguration
	if err := json.Unmarshal(resp.Body(), &cfg); err != nil {
		return nil, fmt.Errorf("decode client configuration: %w", err)
	}
	if cfg.AuthServerBaseURL == "" {
		return nil, errors.New("client configuration has no auth_server_base_url")
	}
	return &cfg, nil
}
