package handlers

import (
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/broker"
	"github.com/pepkit/pephub-sub000/internal/auth/constants"
	"github.com/pepkit/pephub-sub000/internal/auth/keys"
	"github.com/pepkit/pephub-sub000/internal/auth/middleware"
	"github.com/pepkit/pephub-sub000/internal/logger"
	"github.com/pepkit/pephub-sub000/internal/metrics"
	"github.com/pepkit/pephub-sub000/internal/projects"
	"github.com/pepkit/pephub-sub000/internal/utils"
)

// Handler handles auth, developer key and guarded project requests
type Handler struct {
	broker   *broker.Broker
	keys     *keys.Registry
	projects projects.Store
	metrics  *metrics.Metrics
}

// NewHandler creates a new Handler instance
func NewHandler(b *broker.Broker, registry *keys.Registry, store projects.Store, m *metrics.Metrics) *Handler {
	return &Handler{
		broker:   b,
		keys:     registry,
		projects: store,
		metrics:  m,
	}
}

// HandleLogin redirects the browser to the identity provider
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.broker.Begin(r.URL.Query().Get(constants.ClientRedirectURIParam))
	if err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the provider leg and sends the browser on with a
// local exchange code
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		logger.Info("Identity provider denied login",
			zap.String("error", providerErr),
			zap.String("description", q.Get("error_description")),
		)
		utils.WriteAppError(w, r, apperrors.New(apperrors.KindIdentityUnavailable, "login was not completed at the identity provider"))
		return
	}

	result, err := h.broker.Callback(r.Context(), q.Get(constants.CodeParam), q.Get(constants.StateParam))
	if err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	http.Redirect(w, r, result.RedirectURL(), http.StatusFound)
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>PEPhub login</title></head>
<body>
<h1>Login successful</h1>
{{if .Code}}<p>Your exchange code:</p>
<pre id="code">{{.Code}}</pre>
<p>It can be redeemed once at <code>POST /auth/token</code> within {{.TTL}}.</p>
{{else}}<p>No exchange code was supplied.</p>{{end}}
</body>
</html>
`))

// HandleLoginSuccess shows the exchange code when no client redirect was given
func (h *Handler) HandleLoginSuccess(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	data := struct {
		Code string
		TTL  string
	}{
		Code: r.URL.Query().Get(constants.CodeParam),
		TTL:  h.broker.CodeTTL().String(),
	}
	if err := successPage.Execute(w, data); err != nil {
		logger.Error("Failed to render success page", zap.Error(err))
	}
}

type tokenRequest struct {
	Code              string `json:"code"`
	ClientRedirectURI string `json:"client_redirect_uri"`
}

type tokenResponse struct {
	Token             string `json:"token"`
	ClientRedirectURI string `json:"client_redirect_uri,omitempty"`
}

// HandleToken redeems an exchange code for its session token
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteAppError(w, r, err)
		return
	}

	record, err := h.broker.Redeem(r.Context(), req.Code, req.ClientRedirectURI)
	if err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	utils.WriteJSON(w, tokenResponse{Token: record.Token, ClientRedirectURI: record.ClientRedirectURI})
}

// HandleLoginCLI trades a provider access token for a session token
func (h *Handler) HandleLoginCLI(w http.ResponseWriter, r *http.Request) {
	session, err := h.broker.LoginCLI(r.Context(), middleware.ExtractBearer(r))
	if err != nil {
		utils.WriteAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	utils.WriteJSON(w, map[string]string{"jwt_token": session})
}

type sessionResponse struct {
	Login         string    `json:"login"`
	ID            int64     `json:"id"`
	Organizations []string  `json:"organizations"`
	ExpiresAt     time.Time `json:"expires_at"`
	DeveloperKey  bool      `json:"developer_key"`
}

// HandleSession describes the caller's credential
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	info := middleware.AuthInfoFrom(r.Context())
	if info == nil {
		utils.WriteAppError(w, r, apperrors.New(apperrors.KindUnauthorized, "authentication required"))
		return
	}
	resp := sessionResponse{
		Login:         info.Identity.Login,
		ID:            info.Identity.ID,
		Organizations: info.Identity.Organizations,
		DeveloperKey:  info.Claims.IsDeveloperKey(),
	}
	if info.Claims.ExpiresAt != nil {
		resp.ExpiresAt = info.Claims.ExpiresAt.Time.UTC()
	}
	utils.WriteJSON(w, resp)
}

// HandleHealth reports liveness
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, map[string]string{"status": "ok"})
}
