package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/constants"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/auth/token"
	"github.com/pepkit/pephub-sub000/internal/logger"
	"github.com/pepkit/pephub-sub000/internal/metrics"
	"github.com/pepkit/pephub-sub000/internal/utils"
)

// authContextKey is the key type for the context
type authContextKey struct{}

// errKeyRevoked marks a developer key that verifies but is no longer
// registered.
var errKeyRevoked = errors.New("developer key has been revoked")

// AuthInfo represents the authentication information stored in context
type AuthInfo struct {
	Identity *models.Identity
	Claims   *token.Claims
	Token    string
}

// WithAuthInfo stores info in ctx.
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey{}, info)
}

// AuthInfoFrom returns the caller's auth info, or nil when anonymous.
func AuthInfoFrom(ctx context.Context) *AuthInfo {
	info, _ := ctx.Value(authContextKey{}).(*AuthInfo)
	return info
}

// IdentityFrom returns the caller's identity, or nil when anonymous.
func IdentityFrom(ctx context.Context) *models.Identity {
	if info := AuthInfoFrom(ctx); info != nil {
		return info.Identity
	}
	return nil
}

// KeyChecker reports whether a developer key is still registered.
type KeyChecker interface {
	Active(ctx context.Context, key string) (bool, error)
}

// Authenticator verifies bearer tokens: session tokens and developer keys.
type Authenticator struct {
	codec   *token.Codec
	keys    KeyChecker
	metrics *metrics.Metrics
}

// NewAuthenticator creates an authenticator. m may be nil.
func NewAuthenticator(codec *token.Codec, keys KeyChecker, m *metrics.Metrics) *Authenticator {
	return &Authenticator{codec: codec, keys: keys, metrics: m}
}

// verify decodes the bearer token of r. It returns token.ErrTokenAbsent when
// there is none.
func (a *Authenticator) verify(r *http.Request) (*AuthInfo, error) {
	raw := extractToken(r)
	claims, err := a.codec.DecodeClaims(raw)
	if err != nil {
		return nil, err
	}
	if claims.IsDeveloperKey() {
		active, err := a.keys.Active(r.Context(), raw)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, errKeyRevoked
		}
	}
	identity := claims.Identity()
	return &AuthInfo{Identity: &identity, Claims: claims, Token: raw}, nil
}

// reject records why a presented token was refused and returns the client
// facing error.
func (a *Authenticator) reject(r *http.Request, err error) error {
	var reason string
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		reason = "expired"
	case errors.Is(err, token.ErrTokenBadSignature):
		reason = "bad_signature"
		logger.Warn("Rejected token with an invalid signature",
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)
	case errors.Is(err, token.ErrTokenMalformed):
		reason = "malformed"
	case errors.Is(err, errKeyRevoked):
		reason = "revoked"
	default:
		return apperrors.Wrap(apperrors.KindInternal, "failed to verify credentials", err)
	}
	a.metrics.DecodeFailure(reason)

	if reason == "expired" {
		return apperrors.Wrap(apperrors.KindTokenExpired, "token has expired", err)
	}
	return apperrors.Wrap(apperrors.KindTokenInvalid, "invalid token", err)
}

// Authenticate requires a valid bearer token.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := a.verify(r)
		if errors.Is(err, token.ErrTokenAbsent) {
			utils.WriteAppError(w, r, apperrors.New(apperrors.KindUnauthorized, "authentication required"))
			return
		}
		if err != nil {
			utils.WriteAppError(w, r, a.reject(r, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthInfo(r.Context(), info)))
	})
}

// OptionalAuthenticate lets anonymous callers through. Malformed or forged
// tokens are logged and treated as anonymous; expired and revoked ones are
// refused so the client knows to log in again.
func (a *Authenticator) OptionalAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := a.verify(r)
		switch {
		case err == nil:
			r = r.WithContext(WithAuthInfo(r.Context(), info))
		case errors.Is(err, token.ErrTokenAbsent):
		case errors.Is(err, token.ErrTokenExpired), errors.Is(err, errKeyRevoked):
			utils.WriteAppError(w, r, a.reject(r, err))
			return
		default:
			rejected := a.reject(r, err)
			if apperrors.IsKind(rejected, apperrors.KindInternal) {
				utils.WriteAppError(w, r, rejected)
				return
			}
			logger.Debug("Ignoring unusable token", zap.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

// CORSWithOrigins allows the listed origins, or any origin when the list is
// empty or contains "*".
func CORSWithOrigins(origins []string) func(http.Handler) http.Handler {
	anyOrigin := len(origins) == 0 || slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case anyOrigin:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Expose-Headers", "WWW-Authenticate")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logger.Info("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// extractToken extracts the Bearer token from the request
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get(constants.AuthHeaderName)
	if strings.HasPrefix(authHeader, constants.AuthHeaderPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, constants.AuthHeaderPrefix))
	}
	return ""
}

// ExtractBearer returns the bearer credential of r, or "".
func ExtractBearer(r *http.Request) string {
	return extractToken(r)
}
