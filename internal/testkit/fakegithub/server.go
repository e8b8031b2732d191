// Package fakegithub is an in-process stand-in for the GitHub OAuth and
// REST endpoints the broker talks to.
package fakegithub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/pepkit/pephub-sub000/internal/config"
)

const (
	ClientID     = "fake-client-id"
	ClientSecret = "fake-client-secret"
)

// User is a GitHub account known to the fake.
type User struct {
	Login string
	ID    int64
	Orgs  []string
}

// Server serves /login/oauth/authorize, /login/oauth/access_token, /user and
// /user/orgs.
type Server struct {
	*httptest.Server

	mu sync.Mutex
	// codes maps provider authorization codes to access tokens
	codes map[string]string
	// users maps access tokens to accounts
	users map[string]User
	// rawUser, when set, replaces the /user body for every token
	rawUser string
	// lastTokenForm is the most recent form posted to the token endpoint
	lastTokenForm url.Values
}

// New starts a fake GitHub. It is closed when the test ends.
func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		codes: make(map[string]string),
		users: make(map[string]User),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("/login/oauth/access_token", s.handleAccessToken)
	mux.HandleFunc("/user", s.handleUser)
	mux.HandleFunc("/user/orgs", s.handleOrgs)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddUser registers user reachable through accessToken and, when code is
// not empty, through the authorization code.
func (s *Server) AddUser(code, accessToken string, user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code != "" {
		s.codes[code] = accessToken
	}
	s.users[accessToken] = user
}

// SetRawUserResponse makes /user answer body verbatim.
func (s *Server) SetRawUserResponse(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawUser = body
}

// LastTokenForm returns the last form posted to the token endpoint.
func (s *Server) LastTokenForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTokenForm
}

// OAuthConfig returns an OAuth configuration pointed at the fake.
func (s *Server) OAuthConfig(redirectURL string) *config.OAuthConfig {
	return &config.OAuthConfig{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      s.URL + "/login/oauth/authorize",
		TokenURL:     s.URL + "/login/oauth/access_token",
		APIBaseURL:   s.URL,
	}
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.lastTokenForm = r.PostForm
	accessToken, ok := s.codes[r.PostForm.Get("code")]
	if ok {
		delete(s.codes, r.PostForm.Get("code"))
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "incorrect_client_credentials"})
		return
	}
	if !ok {
		// GitHub reports bad codes with a 200 and an error field
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"access_token": accessToken,
		"token_type":   "bearer",
		"scope":        "read:org,read:user",
	})
}

func (s *Server) lookup(r *http.Request) (User, string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[token]
	return user, s.rawUser, ok
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, raw, ok := s.lookup(r)
	if !ok {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if raw != "" {
		_, _ = w.Write([]byte(raw))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"login": user.Login, "id": user.ID})
}

func (s *Server) handleOrgs(w http.ResponseWriter, r *http.Request) {
	user, _, ok := s.lookup(r)
	if !ok {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
		return
	}
	orgs := make([]map[string]string, 0, len(user.Orgs))
	for _, org := range user.Orgs {
		orgs = append(orgs, map[string]string{"login": org})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(orgs)
}
