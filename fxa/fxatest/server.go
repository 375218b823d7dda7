// Package fxatest provides an in-process Firefox Accounts auth server for
// tests. It implements the login, key fetch and session endpoints with
// the real onepw derivations and verifies Hawk signatures with an
// independent Hawk implementation.
package fxatest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/hiyosi/hawk"

	"github.com/ahyattdev/fxa-sync-client/autoconfig"
	hawksign "github.com/ahyattdev/fxa-sync-client/hawk"
	"github.com/ahyattdev/fxa-sync-client/synccrypto"
)

// Account is a user registered with the fake server. KA and KB are what a
// client should unwrap after signing in.
type Account struct {
	Email    string
	UID      string
	Verified bool
	KA       []byte
	KB       []byte

	authPW []byte
	wrapKB []byte
}

type session struct {
	tokenID string
	hawkKey []byte
	account *Account
}

type keyFetch struct {
	tokenID     string
	hawkKey     []byte
	respHMACKey []byte
	respXORKey  []byte
	account     *Account
}

// Server is a fake auth server. The zero value is not usable; call
// NewServer.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	signResponses bool
	tamperBundle  bool
	accounts      map[string]*Account
	sessions      map[string]*session
	keyFetch      map[string]*keyFetch
	nextError     *apiError
	requests      map[string]int
}

type apiError struct {
	status     int
	Code       int    `json:"code"`
	Errno      int    `json:"errno"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	ServerTime int64  `json:"serverTime,omitempty"`
}

// NewServer starts a fake auth server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		accounts: make(map[string]*Account),
		sessions: make(map[string]*session),
		keyFetch: make(map[string]*keyFetch),
		requests: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/account/login", s.handleLogin)
	mux.HandleFunc("GET /v1/account/keys", s.handleAccountKeys)
	mux.HandleFunc("GET /v1/session/status", s.handleSessionStatus)
	mux.HandleFunc("POST /v1/session/destroy", s.handleSessionDestroy)

	s.Server = httptest.NewServer(s.middleware(mux))

	autoconfig.NewHandler(s.URL, s.URL+"/token/1.0/sync/1.5").RegisterRoutes(mux)
	return s
}

// AddAccount registers email/password with fresh random sync keys.
func (s *Server) AddAccount(email, password string, verified bool) (*Account, error) {
	creds, err := synccrypto.Stretch(email, password)
	if err != nil {
		return nil, err
	}
	defer creds.Zero()

	kA, err := synccrypto.RandomBytes(synccrypto.TokenLength)
	if err != nil {
		return nil, err
	}
	kB, err := synccrypto.RandomBytes(synccrypto.TokenLength)
	if err != nil {
		return nil, err
	}
	wrapKB, err := synccrypto.XOR(kB, creds.UnwrapBKey, synccrypto.TokenLength)
	if err != nil {
		return nil, err
	}
	uid, err := synccrypto.RandomBytes(16)
	if err != nil {
		return nil, err
	}

	account := &Account{
		Email:    email,
		UID:      synccrypto.HexEncode(uid),
		Verified: verified,
		KA:       kA,
		KB:       kB,
		authPW:   bytes.Clone(creds.AuthPW),
		wrapKB:   wrapKB,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = account
	return account, nil
}

// SetSignResponses adds a Server-Authorization header to Hawk
// authenticated responses.
func (s *Server) SetSignResponses(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signResponses = on
}

// SetTamperBundle flips a bit in every key bundle served.
func (s *Server) SetTamperBundle(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tamperBundle = on
}

// FailNext makes the next API request fail with status and errno.
// Invalid timestamp errors carry the server time.
func (s *Server) FailNext(status, errno int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &apiError{
		status:  status,
		Code:    status,
		Errno:   errno,
		Error:   http.StatusText(status),
		Message: "injected failure",
	}
	if errno == 111 {
		e.ServerTime = time.Now().Unix()
	}
	s.nextError = e
}

// Requests returns how many requests reached method+" "+path.
func (s *Server) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Timestamp", strconv.FormatInt(time.Now().Unix(), 10))

		s.mu.Lock()
		s.requests[r.Method+" "+r.URL.Path]++
		injected := s.nextError
		if r.URL.Path != "/.well-known/fxa-client-configuration" {
			s.nextError = nil
		} else {
			injected = nil
		}
		s.mu.Unlock()

		if injected != nil {
			writeError(w, injected)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		AuthPW string `json:"authPW"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &apiError{status: http.StatusBadRequest, Errno: 107, Message: "invalid parameter in request body"})
		return
	}

	s.mu.Lock()
	account, ok := s.accounts[req.Email]
	s.mu.Unlock()
	if !ok {
		writeError(w, &apiError{status: http.StatusBadRequest, Errno: 102, Message: "Unknown account"})
		return
	}

	authPW, err := synccrypto.DecodeToken("authPW", req.AuthPW, synccrypto.TokenLength)
	if err != nil || !synccrypto.Equal(authPW, account.authPW) {
		slog.Warn("Failed login attempt", "email", req.Email)
		writeError(w, &apiError{status: http.StatusBadRequest, Errno: 103, Message: "Incorrect password"})
		return
	}

	sessionToken, sess, err := newSession(account)
	if err != nil {
		writeError(w, internalError(err))
		return
	}

	resp := map[string]any{
		"uid":          account.UID,
		"sessionToken": sessionToken,
		"verified":     account.Verified,
		"authAt":       time.Now().Unix(),
	}

	var kf *keyFetch
	if r.URL.Query().Get("keys") == "true" {
		var keyFetchToken string
		keyFetchToken, kf, err = newKeyFetch(account)
		if err != nil {
			writeError(w, internalError(err))
			return
		}
		resp["keyFetchToken"] = keyFetchToken
	}

	s.mu.Lock()
	s.sessions[sess.tokenID] = sess
	if kf != nil {
		s.keyFetch[kf.tokenID] = kf
	}
	s.mu.Unlock()

	writeJSON(w, resp)
}

func (s *Server) handleAccountKeys(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.authenticate(w, r, keyFetchStore{s})
	if !ok {
		return
	}

	// keyFetchTokens are single use.
	s.mu.Lock()
	kf := s.keyFetch[cred.ID]
	delete(s.keyFetch, cred.ID)
	tamper := s.tamperBundle
	s.mu.Unlock()
	if kf == nil {
		writeError(w, invalidToken())
		return
	}
	if !kf.account.Verified {
		writeError(w, &apiError{status: http.StatusBadRequest, Errno: 104, Message: "Unconfirmed account"})
		return
	}

	bundle, err := synccrypto.WrapSyncKeys(kf.account.KA, kf.account.wrapKB, kf.respHMACKey, kf.respXORKey)
	if err != nil {
		writeError(w, internalError(err))
		return
	}
	if tamper {
		raw, _ := synccrypto.HexDecode(bundle)
		raw[0] ^= 0x01
		bundle = synccrypto.HexEncode(raw)
	}

	s.writeSigned(w, r, kf.hawkKey, map[string]string{"bundle": bundle})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.authenticate(w, r, sessionStore{s})
	if !ok {
		return
	}

	s.mu.Lock()
	sess := s.sessions[cred.ID]
	s.mu.Unlock()
	if sess == nil {
		writeError(w, invalidToken())
		return
	}

	state := "unverified"
	if sess.account.Verified {
		state = "verified"
	}
	s.writeSigned(w, r, sess.hawkKey, map[string]string{"state": state, "uid": sess.account.UID})
}

func (s *Server) handleSessionDestroy(w http.ResponseWriter, r *http.Request) {
	cred, ok := s.authenticate(w, r, sessionStore{s})
	if !ok {
		return
	}

	s.mu.Lock()
	sess := s.sessions[cred.ID]
	delete(s.sessions, cred.ID)
	s.mu.Unlock()
	if sess == nil {
		writeError(w, invalidToken())
		return
	}

	s.writeSigned(w, r, sess.hawkKey, map[string]string{})
}

// authenticate verifies the request's Hawk header and, when present, its
// payload hash.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, store hawk.CredentialStore) (*hawk.Credential, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, internalError(err))
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	cred, err := hawk.NewServer(store).Authenticate(r)
	if err != nil {
		slog.Warn("Hawk authentication failed", "error", err, "path", r.URL.Path)
		writeError(w, invalidToken())
		return nil, false
	}

	attrs, err := hawksign.ParseHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, invalidToken())
		return nil, false
	}
	if hash := attrs["hash"]; hash != "" {
		if !synccrypto.Equal([]byte(hash), []byte(hawksign.PayloadHash(body, r.Header.Get("Content-Type")))) {
			slog.Warn("Hawk payload hash mismatch", "path", r.URL.Path)
			writeError(w, invalidToken())
			return nil, false
		}
	}
	return cred, true
}

// writeSigned writes v as JSON and, when response signing is on, adds a
// Server-Authorization header covering the body.
func (s *Server) writeSigned(w http.ResponseWriter, r *http.Request, key []byte, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, internalError(err))
		return
	}

	s.mu.Lock()
	sign := s.signResponses
	s.mu.Unlock()
	if sign {
		artifacts, err := requestArtifacts(r)
		if err != nil {
			writeError(w, internalError(err))
			return
		}
		auth, err := hawksign.ResponseHeader(key, artifacts, "", body, "application/json")
		if err != nil {
			writeError(w, internalError(err))
			return
		}
		w.Header().Set("Server-Authorization", auth)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func requestArtifacts(r *http.Request) (*hawksign.Artifacts, error) {
	attrs, err := hawksign.ParseHeader(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	host, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		return nil, fmt.Errorf("request host %q: %w", r.Host, err)
	}
	return &hawksign.Artifacts{
		App:      attrs["app"],
		Dlg:      attrs["dlg"],
		Ext:      attrs["ext"],
		Hash:     attrs["hash"],
		Host:     host,
		Method:   r.Method,
		Nonce:    attrs["nonce"],
		Port:     port,
		Resource: r.URL.RequestURI(),
		TS:       attrs["ts"],
	}, nil
}

func newSession(account *Account) (string, *session, error) {
	raw, err := synccrypto.RandomBytes(synccrypto.TokenLength)
	if err != nil {
		return "", nil, err
	}
	p, err := synccrypto.ProcessSessionToken(raw)
	if err != nil {
		return "", nil, err
	}
	return synccrypto.HexEncode(raw), &session{tokenID: p.ID(), hawkKey: p.ReqHMACKey, account: account}, nil
}

func newKeyFetch(account *Account) (string, *keyFetch, error) {
	raw, err := synccrypto.RandomBytes(synccrypto.TokenLength)
	if err != nil {
		return "", nil, err
	}
	p, err := synccrypto.ProcessKeyFetchToken(raw)
	if err != nil {
		return "", nil, err
	}
	return synccrypto.HexEncode(raw), &keyFetch{
		tokenID:     p.ID(),
		hawkKey:     p.ReqHMACKey,
		respHMACKey: p.RespHMACKey,
		respXORKey:  p.RespXORKey,
		account:     account,
	}, nil
}

// sessionStore implements hawk.CredentialStore over live sessions.
type sessionStore struct{ s *Server }

func (st sessionStore) GetCredential(id string) (*hawk.Credential, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	sess, ok := st.s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown credential id: %s", id)
	}
	return &hawk.Credential{ID: id, Key: string(sess.hawkKey), Alg: hawk.SHA256}, nil
}

// keyFetchStore implements hawk.CredentialStore over unused keyFetchTokens.
type keyFetchStore struct{ s *Server }

func (st keyFetchStore) GetCredential(id string) (*hawk.Credential, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	kf, ok := st.s.keyFetch[id]
	if !ok {
		return nil, fmt.Errorf("unknown credential id: %s", id)
	}
	return &hawk.Credential{ID: id, Key: string(kf.hawkKey), Alg: hawk.SHA256}, nil
}

func invalidToken() *apiError {
	return &apiError{status: http.StatusUnauthorized, Errno: 110, Message: "Invalid authentication token in request signature"}
}

func internalError(err error) *apiError {
	slog.Error("fxatest internal error", "error", err)
	return &apiError{status: http.StatusInternalServerError, Errno: 999, Message: err.Error()}
}

func writeError(w http.ResponseWriter, e *apiError) {
	if e.Code == 0 {
		e.Code = e.status
	}
	if e.Error == "" {
		e.Error = http.StatusText(e.status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.status)
	json.NewEncoder(w).Encode(e)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
