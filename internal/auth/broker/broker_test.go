package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/ledger"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/auth/providers"
	"github.com/pepkit/pephub-sub000/internal/auth/token"
	"github.com/pepkit/pephub-sub000/internal/config"
	"github.com/pepkit/pephub-sub000/internal/testkit/fakegithub"
)

const (
	secret      = "broker-test-secret"
	clientURI   = "http://localhost:3000/login/callback"
	callbackURL = "http://localhost:8000/auth/callback"
)

var alice = fakegithub.User{Login: "alice", ID: 1, Orgs: []string{"pepkit"}}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	broker *Broker
	gh     *fakegithub.Server
	ledger *ledger.MemoryLedger
	codec  *token.Codec
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithSecret(t, secret, fakegithub.New(t))
}

func newFixtureWithSecret(t *testing.T, signingSecret string, gh *fakegithub.Server) *fixture {
	t.Helper()
	clk := &clock{now: time.Now()}
	codec, err := token.NewCodec(signingSecret)
	require.NoError(t, err)
	l := ledger.NewMemoryLedger(ledger.WithClock(clk.Now), ledger.WithSweepInterval(time.Hour))
	t.Cleanup(func() { _ = l.Close() })

	oauthCfg := gh.OAuthConfig(callbackURL)
	authCfg := &config.AuthConfig{
		Secret:   signingSecret,
		TokenTTL: time.Hour,
		CodeTTL:  5 * time.Minute,
	}
	b := New(providers.NewGitHubProvider(oauthCfg), codec, l, nil, authCfg, oauthCfg)
	return &fixture{broker: b, gh: gh, ledger: l, codec: codec, clock: clk}
}

// login runs Begin and Callback, returning the callback result.
func (f *fixture) login(t *testing.T, providerCode, redirect string) CallbackResult {
	t.Helper()
	state := f.begin(t, redirect)
	result, err := f.broker.Callback(context.Background(), providerCode, state)
	require.NoError(t, err)
	return result
}

func (f *fixture) begin(t *testing.T, redirect string) string {
	t.Helper()
	authURL, err := f.broker.Begin(redirect)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestBegin(t *testing.T) {
	f := newFixture(t)

	authURL, err := f.broker.Begin(clientURI)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, fakegithub.ClientID, u.Query().Get("client_id"))

	redirect, err := parseState([]byte(secret), u.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, clientURI, redirect)

	// two logins never share a state
	other, err := f.broker.Begin(clientURI)
	require.NoError(t, err)
	assert.NotEqual(t, authURL, other)
}

func TestBegin_InvalidRedirect(t *testing.T) {
	f := newFixture(t)
	for _, redirect := range []string{"/relative", "javascript:alert(1)", "ftp://host/x", "http://"} {
		_, err := f.broker.Begin(redirect)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalid), redirect)
	}
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)
	f.gh.AddUser("gh-code", "gho_alice", alice)

	result := f.login(t, "gh-code", clientURI)
	assert.Equal(t, clientURI, result.ClientRedirectURI)
	assert.Len(t, result.Code, 43)

	record, err := f.broker.Redeem(context.Background(), result.Code, clientURI)
	require.NoError(t, err)
	assert.Equal(t, clientURI, record.ClientRedirectURI)

	identity, err := f.codec.Decode(record.Token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{Login: "alice", ID: 1, Organizations: []string{"pepkit"}}, identity)

	_, err = f.broker.Redeem(context.Background(), result.Code, clientURI)
	assert.True(t, apperrors.IsKind(err, apperrors.KindCodeInvalid))
}

func TestLoginFlow_WithoutClientRedirect(t *testing.T) {
	f := newFixture(t)
	f.gh.AddUser("gh-code", "gho_alice", alice)

	result := f.login(t, "gh-code", "")
	assert.Empty(t, result.ClientRedirectURI)

	u, err := url.Parse(result.RedirectURL())
	require.NoError(t, err)
	assert.Equal(t, "/auth/login/success", u.Path)
	assert.Equal(t, result.Code, u.Query().Get("code"))

	_, err = f.broker.Redeem(context.Background(), result.Code, "")
	require.NoError(t, err)
}

func TestRedeem_RedirectMismatchConsumesCode(t *testing.T) {
	f := newFixture(t)
	f.gh.AddUser("gh-code", "gho_alice", alice)
	result := f.login(t, "gh-code", clientURI)

	_, err := f.broker.Redeem(context.Background(), result.Code, "http://evil.example/cb")
	assert.True(t, apperrors.IsKind(err, apperrors.KindRedirectMismatch))

	_, err = f.broker.Redeem(context.Background(), result.Code, clientURI)
	assert.True(t, apperrors.IsKind(err, apperrors.KindCodeInvalid))
}

func TestRedeem_Expired(t *testing.T) {
	f := newFixture(t)
	f.gh.AddUser("gh-code", "gho_alice", alice)
	result := f.login(t, "gh-code", "")

	f.clock.Advance(5*time.Minute + time.Second)

	_, err := f.broker.Redeem(context.Background(), result.Code, "")
	require.Error(t, err)
	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.KindCodeInvalid, appErr.Kind)

	// expired and never-issued codes look the same
	_, other := f.broker.Redeem(context.Background(), "never-issued", "")
	assert.Equal(t, appErr.Message, apperrors.As(other).Message)
}

func TestRedeem_EmptyCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.broker.Redeem(context.Background(), "", "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindCodeInvalid))
}

func TestCallback_StateMismatch(t *testing.T) {
	f := newFixture(t)
	f.gh.AddUser("gh-code", "gho_alice", alice)
	state := f.begin(t, clientURI)

	raw, err := base64.RawURLEncoding.DecodeString(state)
	require.NoError(t, err)
	var payload statePayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	payload.Redirect = "http://evil.example/cb"
	forged, err := json.Marshal(payload)
	require.NoError(t, err)

	tests := []struct {
		name  string
		state string
	}{
		{name: "empty", state: ""},
		{name: "not base64", state: "%%%"},
		{name: "not json", state: base64.RawURLEncoding.EncodeToString([]byte("nope"))},
		{name: "missing signature", state: base64.RawURLEncoding.EncodeToString([]byte(`{"nonce":"n"}`))},
		{name: "redirect swapped", state: base64.RawURLEncoding.EncodeToString(forged)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.broker.Callback(context.Background(), "gh-code", tt.state)
			assert.True(t, apperrors.IsKind(err, apperrors.KindStateMismatch))
		})
	}

	assert.Zero(t, f.ledger.Len())
}

func TestCallback_SecretRotated(t *testing.T) {
	gh := fakegithub.New(t)
	gh.AddUser("gh-code", "gho_alice", alice)
	before := newFixtureWithSecret(t, secret, gh)
	after := newFixtureWithSecret(t, "rotated-secret", gh)

	state := before.begin(t, "")
	_, err := after.broker.Callback(context.Background(), "gh-code", state)
	assert.True(t, apperrors.IsKind(err, apperrors.KindStateMismatch))
}

func TestCallback_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	state := f.begin(t, "")

	_, err := f.broker.Callback(context.Background(), "unknown-code", state)
	assert.True(t, apperrors.IsKind(err, apperrors.KindIdentityUnavailable))

	_, err = f.broker.Callback(context.Background(), "", state)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalid))

	assert.Zero(t, f.ledger.Len())
}

func TestLoginCLI(t *testing.T) {
	f := newFixture(t)
	f.gh.AddUser("", "gho_alice", alice)

	session, err := f.broker.LoginCLI(context.Background(), "gho_alice")
	require.NoError(t, err)
	identity, err := f.codec.Decode(session)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Login)

	_, err = f.broker.LoginCLI(context.Background(), "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthorized))

	_, err = f.broker.LoginCLI(context.Background(), "gho_unknown")
	assert.True(t, apperrors.IsKind(err, apperrors.KindIdentityUnavailable))
}

func TestCallbackResult_RedirectURL(t *testing.T) {
	r := CallbackResult{Code: "abc", ClientRedirectURI: "https://app.example/cb?next=%2Fhome"}
	u, err := url.Parse(r.RedirectURL())
	require.NoError(t, err)
	assert.Equal(t, "app.example", u.Host)
	assert.Equal(t, "abc", u.Query().Get("code"))
	assert.Equal(t, "/home", u.Query().Get("next"))
}
