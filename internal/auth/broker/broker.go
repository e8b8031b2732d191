// Package broker drives the three-legged login: provider redirect, callback,
// session minting and the single-use exchange code handed back to the client.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/constants"
	"github.com/pepkit/pephub-sub000/internal/auth/ledger"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/auth/providers"
	"github.com/pepkit/pephub-sub000/internal/auth/token"
	"github.com/pepkit/pephub-sub000/internal/config"
	"github.com/pepkit/pephub-sub000/internal/logger"
	"github.com/pepkit/pephub-sub000/internal/metrics"
)

const (
	// codeLength is the number of random bytes in an exchange code
	codeLength = 32

	// putAttempts bounds retries on an exchange code collision
	putAttempts = 3

	defaultExchangeTimeout = 15 * time.Second
)

// Exchange code outcomes reported to metrics.
const (
	outcomeIssued           = "issued"
	outcomeRedeemed         = "redeemed"
	outcomeInvalid          = "invalid"
	outcomeRedirectMismatch = "redirect_mismatch"
)

// Broker owns the login flow. It is safe for concurrent use.
type Broker struct {
	provider        providers.Provider
	codec           *token.Codec
	ledger          ledger.Ledger
	metrics         *metrics.Metrics
	secret          []byte
	tokenTTL        time.Duration
	codeTTL         time.Duration
	exchangeTimeout time.Duration
}

// New creates a broker. m may be nil.
func New(
	provider providers.Provider,
	codec *token.Codec,
	l ledger.Ledger,
	m *metrics.Metrics,
	authCfg *config.AuthConfig,
	oauthCfg *config.OAuthConfig,
) *Broker {
	exchangeTimeout := oauthCfg.ExchangeTimeout
	if exchangeTimeout <= 0 {
		exchangeTimeout = defaultExchangeTimeout
	}
	return &Broker{
		provider:        provider,
		codec:           codec,
		ledger:          l,
		metrics:         m,
		secret:          []byte(authCfg.Secret),
		tokenTTL:        authCfg.TokenTTL,
		codeTTL:         authCfg.CodeTTL,
		exchangeTimeout: exchangeTimeout,
	}
}

// TokenTTL is the lifetime of minted session tokens.
func (b *Broker) TokenTTL() time.Duration {
	return b.tokenTTL
}

// CodeTTL is how long an exchange code stays redeemable.
func (b *Broker) CodeTTL() time.Duration {
	return b.codeTTL
}

// Begin returns the provider URL that starts a login. clientRedirectURI is
// optional; when set it must be an absolute http(s) URL and is carried
// through the provider round trip inside the state.
func (b *Broker) Begin(clientRedirectURI string) (string, error) {
	if err := validateRedirect(clientRedirectURI); err != nil {
		return "", err
	}
	state, err := newState(b.secret, clientRedirectURI)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, "failed to start login", err)
	}
	return b.provider.AuthURL(state), nil
}

// CallbackResult is what a successful callback hands back to the client.
type CallbackResult struct {
	Code              string
	ClientRedirectURI string
}

// RedirectURL is where the callback sends the browser: the client redirect
// with the code appended, or the success page.
func (r CallbackResult) RedirectURL() string {
	target := constants.SuccessPath
	if r.ClientRedirectURI != "" {
		target = r.ClientRedirectURI
	}
	u, err := url.Parse(target)
	if err != nil {
		// validated in Begin, and the state is signed
		return constants.SuccessPath + "?" + url.Values{constants.CodeParam: {r.Code}}.Encode()
	}
	q := u.Query()
	q.Set(constants.CodeParam, r.Code)
	u.RawQuery = q.Encode()
	return u.String()
}

// Callback completes the provider leg: it verifies the state, exchanges the
// provider code, resolves the identity, mints a session token and files it
// in the ledger under a fresh exchange code.
func (b *Broker) Callback(ctx context.Context, code, state string) (result CallbackResult, err error) {
	defer func() { b.metrics.Login("web", err) }()

	if code == "" {
		return CallbackResult{}, apperrors.New(apperrors.KindInvalid, "code is required")
	}
	redirect, err := parseState(b.secret, state)
	if err != nil {
		logger.Warn("Rejected login callback state", zap.Error(err))
		return CallbackResult{}, apperrors.Wrap(apperrors.KindStateMismatch, "state mismatch", err)
	}

	identity, err := b.identify(ctx, func(ctx context.Context) (string, error) {
		return b.provider.Exchange(ctx, code, state)
	})
	if err != nil {
		return CallbackResult{}, err
	}

	session, err := b.codec.Encode(identity, b.tokenTTL)
	if err != nil {
		return CallbackResult{}, apperrors.Wrap(apperrors.KindInternal, "failed to mint session", err)
	}

	record := models.ExchangeRecord{Token: session, ClientRedirectURI: redirect}
	exchangeCode, err := b.file(ctx, record)
	if err != nil {
		return CallbackResult{}, err
	}

	logger.Info("Login completed",
		zap.String("login", identity.Login),
		zap.Bool("client_redirect", redirect != ""),
	)
	return CallbackResult{Code: exchangeCode, ClientRedirectURI: redirect}, nil
}

// Redeem consumes code and returns its record. The code is consumed even when
// the redirect does not match.
func (b *Broker) Redeem(ctx context.Context, code, clientRedirectURI string) (models.ExchangeRecord, error) {
	const msgInvalid = "invalid or expired code"

	if code == "" {
		b.metrics.ExchangeCode(outcomeInvalid)
		return models.ExchangeRecord{}, apperrors.New(apperrors.KindCodeInvalid, msgInvalid)
	}

	record, err := b.ledger.Take(ctx, code)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		b.metrics.ExchangeCode(outcomeInvalid)
		return models.ExchangeRecord{}, apperrors.New(apperrors.KindCodeInvalid, msgInvalid)
	case err != nil:
		return models.ExchangeRecord{}, apperrors.Wrap(apperrors.KindInternal, "failed to redeem code", err)
	}

	if record.ClientRedirectURI != clientRedirectURI {
		b.metrics.ExchangeCode(outcomeRedirectMismatch)
		logger.Warn("Exchange code redeemed with a different redirect", logger.Tail("code", code))
		return models.ExchangeRecord{}, apperrors.New(apperrors.KindRedirectMismatch, "client_redirect_uri does not match")
	}

	b.metrics.ExchangeCode(outcomeRedeemed)
	return record, nil
}

// LoginCLI turns a provider access token into a session token.
func (b *Broker) LoginCLI(ctx context.Context, accessToken string) (session string, err error) {
	defer func() { b.metrics.Login("cli", err) }()

	if accessToken == "" {
		return "", apperrors.New(apperrors.KindUnauthorized, "provider access token is required")
	}
	identity, err := b.identify(ctx, func(context.Context) (string, error) {
		return accessToken, nil
	})
	if err != nil {
		return "", err
	}

	session, err = b.codec.Encode(identity, b.tokenTTL)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, "failed to mint session", err)
	}
	logger.Info("CLI login completed", zap.String("login", identity.Login))
	return session, nil
}

// identify obtains an access token and resolves it, both under the exchange
// timeout.
func (b *Broker) identify(ctx context.Context, accessToken func(context.Context) (string, error)) (models.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, b.exchangeTimeout)
	defer cancel()

	tok, err := accessToken(ctx)
	if err != nil {
		return models.Identity{}, err
	}
	return b.provider.Resolve(ctx, tok)
}

func (b *Broker) file(ctx context.Context, record models.ExchangeRecord) (string, error) {
	for attempt := 0; attempt < putAttempts; attempt++ {
		code, err := randomString(codeLength)
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindInternal, "failed to issue code", err)
		}
		err = b.ledger.Put(ctx, code, record, b.codeTTL)
		if errors.Is(err, ledger.ErrDuplicate) {
			continue
		}
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindInternal, "failed to issue code", err)
		}
		b.metrics.ExchangeCode(outcomeIssued)
		return code, nil
	}
	return "", apperrors.New(apperrors.KindInternal, "failed to issue code")
}

func validateRedirect(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.New(apperrors.KindInvalid,
			fmt.Sprintf("%s must be an absolute http(s) URL", constants.ClientRedirectURIParam))
	}
	return nil
}
