package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/constants"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/config"
	"github.com/pepkit/pephub-sub000/internal/logger"
)

const (
	// maxResponseSize caps how much of a provider response is read
	maxResponseSize = 1 << 20

	defaultHTTPTimeout = 10 * time.Second
	defaultAPIBaseURL  = "https://api.github.com"
)

// Client-facing messages. Causes are logged, never returned to callers.
const (
	msgIdentityUnavailable = "bad response from identity provider"
	msgExchangeFailed      = "failed to exchange code with identity provider"
)

// GitHubProvider talks to GitHub (or GitHub Enterprise) for the login flow
// and resolves access tokens into identities.
type GitHubProvider struct {
	oauth2Config *oauth2.Config
	client       *http.Client
	apiBaseURL   string
	rateLimiter  *rate.Limiter
}

// NewGitHubProvider creates a provider from the OAuth configuration.
func NewGitHubProvider(cfg *config.OAuthConfig) *GitHubProvider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = constants.DefaultScopes
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	apiBaseURL := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &GitHubProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
				// GitHub expects client credentials in the form body
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:      &http.Client{Timeout: timeout},
		apiBaseURL:  apiBaseURL,
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

// AuthURL returns the GitHub authorize URL for state.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange posts the authorization code to the token endpoint and returns
// the access token.
func (p *GitHubProvider) Exchange(ctx context.Context, code, state string) (string, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return "", apperrors.Wrap(apperrors.KindIdentityUnavailable, msgExchangeFailed, err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.oauth2Config.Exchange(ctx, code, oauth2.SetAuthURLParam("state", state))
	if err != nil {
		logger.Warn("Failed to exchange code", zap.Error(err))
		return "", apperrors.Wrap(apperrors.KindIdentityUnavailable, msgExchangeFailed, err)
	}
	if tok.AccessToken == "" {
		return "", apperrors.New(apperrors.KindIdentityUnavailable, msgExchangeFailed)
	}
	return tok.AccessToken, nil
}

type githubUser struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type githubOrg struct {
	Login string `json:"login"`
}

// Resolve fetches the user and their organizations. Any transport failure
// or unexpected response shape is reported as identity unavailable.
func (p *GitHubProvider) Resolve(ctx context.Context, accessToken string) (models.Identity, error) {
	if accessToken == "" {
		return models.Identity{}, apperrors.New(apperrors.KindIdentityUnavailable, msgIdentityUnavailable)
	}

	var user githubUser
	if err := p.getJSON(ctx, "/user", accessToken, &user); err != nil {
		return models.Identity{}, identityUnavailable(err)
	}
	if user.Login == "" || user.ID == 0 {
		return models.Identity{}, identityUnavailable(fmt.Errorf("user response missing login or id"))
	}

	var orgs []githubOrg
	if err := p.getJSON(ctx, "/user/orgs", accessToken, &orgs); err != nil {
		return models.Identity{}, identityUnavailable(err)
	}

	identity := models.Identity{
		Login:         user.Login,
		ID:            user.ID,
		Organizations: make([]string, 0, len(orgs)),
	}
	for _, org := range orgs {
		if org.Login == "" {
			return models.Identity{}, identityUnavailable(fmt.Errorf("organization entry missing login"))
		}
		identity.Organizations = append(identity.Organizations, org.Login)
	}

	logger.Debug("Resolved identity",
		zap.String("login", identity.Login),
		zap.Int("organizations", len(identity.Organizations)),
	)
	return identity, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, path, accessToken string, out any) error {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(constants.AuthHeaderName, constants.AuthHeaderPrefix+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", constants.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Debug("Failed to close response body", zap.Error(err))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s request failed with status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func identityUnavailable(err error) error {
	logger.Warn("Identity provider returned an unusable response", zap.Error(err))
	return apperrors.Wrap(apperrors.KindIdentityUnavailable, msgIdentityUnavailable, err)
}
