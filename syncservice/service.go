// Package syncservice signs a user in to Firefox Sync: it stretches the
// password, logs in, fetches and unwraps the Sync keys and stores the
// result in the keyring.
package syncservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"unicode/utf8"

	"github.com/ahyattdev/fxa-sync-client/fxa"
	"github.com/ahyattdev/fxa-sync-client/keyring"
	"github.com/ahyattdev/fxa-sync-client/synccrypto"
)

// AuthClient is the part of the FxA API the service needs.
type AuthClient interface {
	Login(ctx context.Context, email string, authPW []byte, keys bool) (*fxa.LoginResponse, error)
	FetchSyncKeys(ctx context.Context, keyFetchTokenHex string, unwrapBKey []byte) (*synccrypto.SyncKeys, error)
	SessionStatus(ctx context.Context, sessionTokenHex string) (*fxa.SessionStatus, error)
	DestroySession(ctx context.Context, sessionTokenHex string) error
}

// Account describes a signed-in account. It never carries raw keys.
type Account struct {
	Email    string
	UID      string
	Verified bool
	HasKeys  bool
}

type Service struct {
	client AuthClient
	store  keyring.Store
}

func New(client AuthClient, store keyring.Store) *Service {
	return &Service{client: client, store: store}
}

// SignIn logs in and stores the session and Sync keys. Any error is fatal
// to this attempt; see IsFatal for which ones may succeed on retry.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Account, error) {
	if !utf8.ValidString(email) || !utf8.ValidString(password) {
		return nil, &synccrypto.FormatError{What: "credentials", Err: errors.New("invalid UTF-8")}
	}

	creds, err := synccrypto.Stretch(email, password)
	if err != nil {
		return nil, err
	}
	defer creds.Zero()

	login, err := s.client.Login(ctx, email, creds.AuthPW, true)
	if err != nil {
		slog.Warn("Sign-in failed", "email", email, "error", err)
		return nil, fmt.Errorf("login: %w", err)
	}

	err = s.store.SaveSession(ctx, email, keyring.Session{
		UID:           login.UID,
		SessionToken:  login.SessionToken,
		KeyFetchToken: login.KeyFetchToken,
		Verified:      login.Verified,
	})
	if err != nil {
		return nil, err
	}

	account := &Account{Email: email, UID: login.UID, Verified: login.Verified}
	if !login.Verified {
		slog.Info("Signed in, account not verified yet", "email", email, "uid", login.UID)
		return account, nil
	}

	if err := s.fetchKeys(ctx, email, creds.UnwrapBKey); err != nil {
		s.abandon(ctx, email, login.SessionToken)
		return nil, err
	}
	account.HasKeys = true

	slog.Info("Signed in to Firefox Sync", "email", email, "uid", login.UID)
	return account, nil
}

// abandon drops the session of a sign-in that could not finish, on the
// server and in the keyring. Failures are only logged.
func (s *Service) abandon(ctx context.Context, email, sessionToken string) {
	if err := s.client.DestroySession(ctx, sessionToken); err != nil {
		slog.Warn("Failed to destroy session of failed sign-in", "email", email, "error", err)
	}
	if err := s.store.Forget(ctx, email); err != nil {
		slog.Warn("Failed to forget failed sign-in", "email", email, "error", err)
	}
}

func (s *Service) fetchKeys(ctx context.Context, email string, unwrapBKey []byte) error {
	keyFetchToken, err := s.store.ConsumeKeyFetchToken(ctx, email)
	if err != nil {
		return err
	}

	keys, err := s.client.FetchSyncKeys(ctx, keyFetchToken, unwrapBKey)
	if err != nil {
		slog.Warn("Fetching sync keys failed", "email", email, "error", err)
		return fmt.Errorf("fetch sync keys: %w", err)
	}
	defer keys.Zero()

	return s.store.SaveSyncKeys(ctx, email, keys)
}

// Status asks the auth server whether the stored session is still valid.
func (s *Service) Status(ctx context.Context, email string) (*Account, error) {
	session, err := s.store.LoadSession(ctx, email)
	if err != nil {
		return nil, err
	}

	status, err := s.client.SessionStatus(ctx, session.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("session status: %w", err)
	}

	account := &Account{Email: email, UID: status.UID, Verified: status.State == "verified"}
	if keys, err := s.store.LoadSyncKeys(ctx, email); err == nil {
		account.HasKeys = true
		keys.Zero()
	}
	return account, nil
}

// SyncKeys returns the stored kA and kB. The caller owns and should zero
// them.
func (s *Service) SyncKeys(ctx context.Context, email string) (*synccrypto.SyncKeys, error) {
	return s.store.LoadSyncKeys(ctx, email)
}

// SignOut destroys the session on the server and forgets the account
// locally. A server-side failure is logged and does not stop the local
// cleanup.
func (s *Service) SignOut(ctx context.Context, email string) error {
	session, err := s.store.LoadSession(ctx, email)
	if err != nil {
		return err
	}

	if err := s.client.DestroySession(ctx, session.SessionToken); err != nil {
		slog.Warn("Failed to destroy remote session", "email", email, "error", err)
	}

	if err := s.store.Forget(ctx, email); err != nil {
		return err
	}
	slog.Info("Signed out", "email", email)
	return nil
}

// Accounts lists the emails with stored sessions.
func (s *Service) Accounts(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// IsFatal reports whether err ends the current sign-in attempt for good.
// Cryptographic failures and client errors cannot change on retry;
// network failures and 5xx responses may.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *fxa.APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
