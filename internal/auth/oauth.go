package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/pepkit/pephub-sub000/internal/auth/broker"
	"github.com/pepkit/pephub-sub000/internal/auth/handlers"
	"github.com/pepkit/pephub-sub000/internal/auth/keys"
	"github.com/pepkit/pephub-sub000/internal/auth/middleware"
	"github.com/pepkit/pephub-sub000/internal/auth/providers"
	"github.com/pepkit/pephub-sub000/internal/auth/token"
	"github.com/pepkit/pephub-sub000/internal/config"
)

// Service represents the auth service: login flow, developer keys and the
// project routes guarded by the authorization policy
type Service struct {
	handler       *handlers.Handler
	authenticator *middleware.Authenticator
}

// NewService creates a new auth service
func NewService(handler *handlers.Handler, authenticator *middleware.Authenticator) *Service {
	return &Service{
		handler:       handler,
		authenticator: authenticator,
	}
}

// RegisterRoutes registers all auth-related routes
func (s *Service) RegisterRoutes(r chi.Router) {
	// Login flow
	r.Get("/auth/login", s.handler.HandleLogin)
	r.Get("/auth/callback", s.handler.HandleCallback)
	r.Get("/auth/login/success", s.handler.HandleLoginSuccess)
	r.Post("/auth/token", s.handler.HandleToken)
	r.Post("/auth/login_cli", s.handler.HandleLoginCLI)
	r.With(s.Authenticate).Get("/auth/session", s.handler.HandleSession)

	// Developer keys
	r.Group(func(r chi.Router) {
		r.Use(s.Authenticate)
		r.Post("/api/v1/namespaces/{namespace}/developer-keys", s.handler.HandleMintKey)
		r.Get("/api/v1/namespaces/{namespace}/developer-keys", s.handler.HandleListKeys)
		r.Delete("/api/v1/namespaces/{namespace}/developer-keys", s.handler.HandleRevokeKeys)
	})

	// Projects, readable anonymously when public
	r.Group(func(r chi.Router) {
		r.Use(s.OptionalAuthenticate)
		r.Get("/api/v1/projects/{namespace}/{project}", s.handler.HandleGetProject)
		r.Patch("/api/v1/projects/{namespace}/{project}", s.handler.HandleUpdateProject)
		r.Post("/api/v1/projects/{namespace}/{project}/forks", s.handler.HandleFork)
	})
}

// Authenticate is the required authentication middleware
func (s *Service) Authenticate(next http.Handler) http.Handler {
	return s.authenticator.Authenticate(next)
}

// OptionalAuthenticate is the optional authentication middleware
func (s *Service) OptionalAuthenticate(next http.Handler) http.Handler {
	return s.authenticator.OptionalAuthenticate(next)
}

// Handler returns the request handlers
func (s *Service) Handler() *handlers.Handler {
	return s.handler
}

func newCodec(cfg *config.AuthConfig) (*token.Codec, error) {
	return token.NewCodec(cfg.Secret)
}

// Module provides the auth service and everything it is built from
var Module = fx.Module("auth",
	fx.Provide(
		newCodec,
		fx.Annotate(
			providers.NewGitHubProvider,
			fx.As(new(providers.Provider)),
		),
		broker.New,
		keys.NewRegistry,
		fx.Annotate(
			func(r *keys.Registry) *keys.Registry { return r },
			fx.As(new(middleware.KeyChecker)),
		),
		middleware.NewAuthenticator,
		handlers.NewHandler,
		NewService,
	),
)
