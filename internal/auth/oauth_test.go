package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepkit/pephub-sub000/internal/auth/broker"
	"github.com/pepkit/pephub-sub000/internal/auth/handlers"
	"github.com/pepkit/pephub-sub000/internal/auth/keys"
	"github.com/pepkit/pephub-sub000/internal/auth/ledger"
	"github.com/pepkit/pephub-sub000/internal/auth/middleware"
	"github.com/pepkit/pephub-sub000/internal/auth/providers"
	"github.com/pepkit/pephub-sub000/internal/config"
	"github.com/pepkit/pephub-sub000/internal/projects"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	authCfg := &config.AuthConfig{
		Secret:          "service-secret",
		TokenTTL:        time.Hour,
		CodeTTL:         time.Minute,
		DeveloperKeyTTL: time.Hour,
		MaxNewKeys:      5,
	}
	oauthCfg := &config.OAuthConfig{ClientID: "id", ClientSecret: "secret", RedirectURL: "http://localhost/auth/callback"}

	codec, err := newCodec(authCfg)
	require.NoError(t, err)
	l := ledger.NewMemoryLedger()
	t.Cleanup(func() { _ = l.Close() })

	registry := keys.NewRegistry(keys.NewMemoryStore(), codec, authCfg)
	b := broker.New(providers.NewGitHubProvider(oauthCfg), codec, l, nil, authCfg, oauthCfg)
	h := handlers.NewHandler(b, registry, projects.NewMemoryStore(), nil)
	return NewService(h, middleware.NewAuthenticator(codec, registry, nil))
}

func TestNewService(t *testing.T) {
	s := newTestService(t)
	assert.NotNil(t, s.Handler())
}

func TestNewCodec_EmptySecret(t *testing.T) {
	_, err := newCodec(&config.AuthConfig{})
	assert.Error(t, err)
}

func TestRegisterRoutes(t *testing.T) {
	r := chi.NewRouter()
	newTestService(t).RegisterRoutes(r)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/auth/login"},
		{http.MethodGet, "/auth/callback"},
		{http.MethodGet, "/auth/login/success"},
		{http.MethodPost, "/auth/token"},
		{http.MethodPost, "/auth/login_cli"},
		{http.MethodGet, "/auth/session"},
		{http.MethodPost, "/api/v1/namespaces/alice/developer-keys"},
		{http.MethodGet, "/api/v1/namespaces/alice/developer-keys"},
		{http.MethodDelete, "/api/v1/namespaces/alice/developer-keys"},
		{http.MethodGet, "/api/v1/projects/alice/p1"},
		{http.MethodPatch, "/api/v1/projects/alice/p1"},
		{http.MethodPost, "/api/v1/projects/alice/p1/forks"},
	}
	for _, route := range routes {
		assert.True(t, r.Match(chi.NewRouteContext(), route.method, route.path), "%s %s not registered", route.method, route.path)
	}

	assert.False(t, r.Match(chi.NewRouteContext(), http.MethodPut, "/auth/token"))
}
