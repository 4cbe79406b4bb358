package fakeapi

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authclient/token"
)

// Config configures a Server.
type Config struct {
	AccessTTL time.Duration
	// RetainRefresh makes refresh responses omit "refresh" and keeps the old
	// refresh token valid. The default rotates single-use refresh tokens.
	RetainRefresh bool
	Hash          HashParams
	// Now overrides the clock used for issuing and checking tokens.
	Now func() time.Time
}

// DefaultConfig returns a Server configuration suitable for tests.
func DefaultConfig() Config {
	return Config{
		AccessTTL: time.Minute,
		Hash:      DefaultHashParams(),
	}
}

// Hit is one request seen by the server.
type Hit struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
	Status        int
	At            time.Time
}

// RefreshHook runs before each refresh is processed. Returning a non-zero
// status answers the refresh with that status instead.
type RefreshHook func(r *http.Request) int

type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	hash     string
}

// Server is a fake REST backend. It is safe for concurrent use.
type Server struct {
	cfg    Config
	issuer *token.Issuer
	mux    *http.ServeMux

	mu      sync.Mutex
	users   map[string]user
	refresh map[string]string // refresh token -> user id
	hits    []Hit
	orders  map[string][]map[string]any

	hook         atomic.Pointer[RefreshHook]
	refreshCalls atomic.Int64
}

// New returns a Server with a fresh Ed25519 signing key.
func New(cfg Config) (*Server, error) {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Minute
	}
	if cfg.Hash == (HashParams{}) {
		cfg.Hash = DefaultHashParams()
	}
	if err := cfg.Hash.validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	issuer, err := token.NewIssuer(token.IssuerConfig{
		AccessTTL:     cfg.AccessTTL,
		SigningMethod: token.MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "fakeapi",
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		issuer:  issuer,
		mux:     http.NewServeMux(),
		users:   make(map[string]user),
		refresh: make(map[string]string),
		orders:  make(map[string][]map[string]any),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /auth/login/", s.handleLogin)
	s.mux.HandleFunc("POST /auth/refresh/", s.handleRefresh)
	s.mux.HandleFunc("POST /auth/register/", s.handleRegister)
	s.mux.HandleFunc("POST /auth/logout/", s.handleLogout)
	s.mux.HandleFunc("GET /orders/", s.guard(false, s.handleOrders))
	s.mux.HandleFunc("DELETE /orders/{id}/", s.guard(false, s.handleDeleteOrder))
	s.mux.HandleFunc("GET /profile/", s.guard(false, s.handleProfile))
	s.mux.HandleFunc("GET /events/", s.guard(true, s.handleEvents))
	s.mux.HandleFunc("GET /empty/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux.HandleFunc("GET /broken/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>upstream error</html>"))
	})
}

// ServeHTTP logs the request on arrival, dispatches it, then records the status.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx := len(s.hits)
	s.hits = append(s.hits, Hit{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get("X-Request-ID"),
		At:            s.now(),
	})
	s.mu.Unlock()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	s.mu.Lock()
	s.hits[idx].Status = rec.status
	s.mu.Unlock()
}

// AddUser registers a user and returns its id.
func (s *Server) AddUser(username, password string) (string, error) {
	hash, err := hashPassword(s.cfg.Hash, password)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return "", errors.New("username taken")
	}
	u := user{ID: uuid.NewString(), Username: username, hash: hash}
	s.users[username] = u
	return u.ID, nil
}

// IssueSession mints an access token and a refresh token for username,
// bypassing the password check.
func (s *Server) IssueSession(username string) (access, refresh string, err error) {
	return s.issueSession(username, s.now())
}

// IssueExpiredSession is IssueSession with an access token that has already expired.
func (s *Server) IssueExpiredSession(username string) (access, refresh string, err error) {
	return s.issueSession(username, s.now().Add(-2*s.cfg.AccessTTL))
}

func (s *Server) issueSession(username string, issuedAt time.Time) (string, string, error) {
	s.mu.Lock()
	u, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return "", "", errors.New("unknown user")
	}
	access, err := s.issuer.Issue(u.ID, issuedAt)
	if err != nil {
		return "", "", err
	}
	refresh := s.newRefresh(u.ID)
	return access, refresh, nil
}

// RevokeRefresh invalidates a refresh token.
func (s *Server) RevokeRefresh(refresh string) {
	s.mu.Lock()
	delete(s.refresh, refresh)
	s.mu.Unlock()
}

// SetRefreshHook installs h; nil removes it.
func (s *Server) SetRefreshHook(h RefreshHook) {
	if h == nil {
		s.hook.Store(nil)
		return
	}
	s.hook.Store(&h)
}

// RefreshCalls returns the number of refresh requests received.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// Hits returns a copy of the request log in arrival order. Status is zero
// for requests still being handled.
func (s *Server) Hits() []Hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Hit, len(s.hits))
	copy(out, s.hits)
	return out
}

// HitsFor returns the logged requests to path, in arrival order.
func (s *Server) HitsFor(path string) []Hit {
	var out []Hit
	for _, h := range s.Hits() {
		if h.Path == path {
			out = append(out, h)
		}
	}
	return out
}

func (s *Server) now() time.Time {
	return s.cfg.Now()
}

func (s *Server) newRefresh(userID string) string {
	t := uuid.NewString()
	s.mu.Lock()
	s.refresh[t] = userID
	s.mu.Unlock()
	return t
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	s.mu.Lock()
	u, ok := s.users[in.Username]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "No active account found with the given credentials"})
		return
	}
	match, err := verifyPassword(in.Password, u.hash)
	if err != nil || !match {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "No active account found with the given credentials"})
		return
	}

	access, err := s.issuer.Issue(u.ID, s.now())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "token issue failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access":  access,
		"refresh": s.newRefresh(u.ID),
		"user":    u,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if h := s.hook.Load(); h != nil {
		if status := (*h)(r); status != 0 {
			writeJSON(w, status, map[string]any{"detail": http.StatusText(status)})
			return
		}
	}

	var in struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"refresh": []string{"This field is required."}})
		return
	}

	s.mu.Lock()
	userID, ok := s.refresh[in.Refresh]
	if ok && !s.cfg.RetainRefresh {
		delete(s.refresh, in.Refresh)
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}

	access, err := s.issuer.Issue(userID, s.now())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "token issue failed"})
		return
	}
	out := map[string]any{"access": access}
	if !s.cfg.RetainRefresh {
		out["refresh"] = s.newRefresh(userID)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Username) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "username and password are required"})
		return
	}
	id, err := s.AddUser(in.Username, in.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "username": in.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Refresh string `json:"refresh"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	if in.Refresh != "" {
		s.RevokeRefresh(in.Refresh)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	s.mu.Lock()
	orders, ok := s.orders[claims.Subject]
	if !ok {
		orders = []map[string]any{
			{"id": "1", "item": "Iftar dinner booking"},
			{"id": "2", "item": "Quran class enrolment"},
		}
		s.orders[claims.Subject] = orders
	}
	out := append([]map[string]any(nil), orders...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": out, "count": len(out)})
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	id := r.PathValue("id")
	s.mu.Lock()
	orders := s.orders[claims.Subject]
	kept := orders[:0:0]
	for _, o := range orders {
		if o["id"] != id {
			kept = append(kept, o)
		}
	}
	s.orders[claims.Subject] = kept
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == claims.Subject {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	_, member := ClaimsFromContext(r.Context())
	data := []map[string]any{
		{"id": "e1", "title": "Community iftar"},
		{"id": "e2", "title": "Charity run"},
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "count": len(data), "member": member})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
