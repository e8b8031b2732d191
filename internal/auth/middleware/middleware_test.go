package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/auth/token"
)

const secret = "middleware-secret"

var alice = models.Identity{Login: "alice", ID: 1, Organizations: []string{"pepkit"}}

type keySet map[string]bool

func (k keySet) Active(_ context.Context, key string) (bool, error) {
	return k[key], nil
}

// whoami echoes the caller login, or "anonymous".
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	login := "anonymous"
	if id := IdentityFrom(r.Context()); id != nil {
		login = id.Login
	}
	_, _ = w.Write([]byte(login))
})

type fixture struct {
	auth  *Authenticator
	codec *token.Codec
	keys  keySet
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{keys: keySet{}, now: time.Now()}
	codec, err := token.NewCodec(secret, token.WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.codec = codec
	f.auth = NewAuthenticator(codec, f.keys, nil)
	return f
}

func (f *fixture) session(t *testing.T) string {
	t.Helper()
	raw, err := f.codec.Encode(alice, time.Hour)
	require.NoError(t, err)
	return raw
}

func (f *fixture) developerKey(t *testing.T, registered bool) string {
	t.Helper()
	raw, err := f.codec.EncodeWithSalt(alice, time.Hour, fmt.Sprintf("salt-%d", len(f.keys)))
	require.NoError(t, err)
	f.keys[raw] = registered
	return raw
}

func serve(h http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	h := f.auth.Authenticate(whoami)

	expired := f.session(t)
	f.now = f.now.Add(2 * time.Hour)
	valid := f.session(t)

	forger, err := token.NewCodec("other-secret")
	require.NoError(t, err)
	forged, err := forger.Encode(alice, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		bearer string
		status int
		code   string
		body   string
	}{
		{name: "valid session", bearer: valid, status: http.StatusOK, body: "alice"},
		{name: "registered developer key", bearer: f.developerKey(t, true), status: http.StatusOK, body: "alice"},
		{name: "absent", status: http.StatusUnauthorized, code: "unauthorized"},
		{name: "expired", bearer: expired, status: http.StatusUnauthorized, code: "token_expired"},
		{name: "forged", bearer: forged, status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "malformed", bearer: "not-a-token", status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "revoked developer key", bearer: f.developerKey(t, false), status: http.StatusUnauthorized, code: "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.bearer)
			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, rec))
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `realm="pephub"`)
			} else {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestOptionalAuthenticate(t *testing.T) {
	f := newFixture(t)
	h := f.auth.OptionalAuthenticate(whoami)

	expired := f.session(t)
	f.now = f.now.Add(2 * time.Hour)

	tests := []struct {
		name   string
		bearer string
		status int
		body   string
	}{
		{name: "valid", bearer: f.session(t), status: http.StatusOK, body: "alice"},
		{name: "absent", status: http.StatusOK, body: "anonymous"},
		{name: "malformed is anonymous", bearer: "garbage", status: http.StatusOK, body: "anonymous"},
		{name: "expired is refused", bearer: expired, status: http.StatusUnauthorized},
		{name: "revoked key is refused", bearer: f.developerKey(t, false), status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.bearer)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAuthInfoFrom(t *testing.T) {
	assert.Nil(t, AuthInfoFrom(context.Background()))
	assert.Nil(t, IdentityFrom(context.Background()))

	ctx := WithAuthInfo(context.Background(), &AuthInfo{Identity: &alice, Token: "t"})
	assert.Equal(t, "alice", IdentityFrom(ctx).Login)
}

func TestExtractBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?token=abc", nil)
	assert.Empty(t, ExtractBearer(req), "query tokens are ignored")

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, ExtractBearer(req))

	req.Header.Set("Authorization", "Bearer  gho_123 ")
	assert.Equal(t, "gho_123", ExtractBearer(req))
}

func TestCORSWithOrigins(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("any origin", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CORSWithOrigins(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("listed origin", func(t *testing.T) {
		h := CORSWithOrigins([]string{"https://pephub.databio.org"})(next)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://pephub.databio.org")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "https://pephub.databio.org", rec.Header().Get("Access-Control-Allow-Origin"))

		req.Header.Set("Origin", "https://evil.example")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		CORSWithOrigins(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
