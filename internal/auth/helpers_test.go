package auth

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teemow/mailauth/internal/logging"
	"github.com/teemow/mailauth/internal/oauth"
	"github.com/teemow/mailauth/internal/provider"
	"github.com/teemow/mailauth/internal/secret"
	"github.com/teemow/mailauth/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type testEnv struct {
	dir     string
	tokens  *store.TokenStore
	clients *store.ClientStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	c, err := secret.New("test-passphrase", secret.WithCost(16, 1, 1))
	require.NoError(t, err)

	dir := t.TempDir()
	return &testEnv{
		dir:     dir,
		tokens:  store.NewTokenStore(dir, c, logging.NewSlogAdapter(discardLogger())),
		clients: store.NewClientStore(dir, c, logging.NewSlogAdapter(discardLogger())),
	}
}

func (e *testEnv) withGoogleClient(t *testing.T) *testEnv {
	t.Helper()
	require.NoError(t, e.clients.Save(store.ClientCredential{
		Provider:     "google",
		ClientID:     "google-client",
		ClientSecret: "google-secret",
	}))
	return e
}

func (e *testEnv) saveRecord(t *testing.T, rec *store.TokenRecord) {
	t.Helper()
	require.NoError(t, e.tokens.Save(rec))
}

func (e *testEnv) options(ex Exchanger) Options {
	return Options{
		Registry:  provider.DefaultRegistry(),
		Tokens:    e.tokens,
		Clients:   e.clients,
		Exchanger: ex,
		Output:    io.Discard,
		Browser:   oauth.BrowserFunc(func(string) error { return nil }),
		Now:       fixedClock(testNow),
		Logger:    discardLogger(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

var fakeRefreshResult = oauth.TokenResult{AccessToken: "AT-new", ExpiresIn: time.Hour}

func googleRecord(email string, expiry time.Time) *store.TokenRecord {
	return &store.TokenRecord{
		Email:        email,
		Provider:     "google",
		AccessToken:  "AT-old",
		RefreshToken: "RT-old",
		TokenExpiry:  expiry.UnixMilli(),
		Scopes:       provider.GoogleScopes,
		CreatedAt:    testNow.Add(-24 * time.Hour).UnixMilli(),
		UpdatedAt:    testNow.Add(-time.Hour).UnixMilli(),
	}
}

// fakeExchanger records calls and returns canned results.
type fakeExchanger struct {
	mu sync.Mutex

	codeResult *oauth.TokenResult
	codeErr    error
	lastCode   string
	lastVerif  string

	refreshResult *oauth.TokenResult
	refreshErr    error
	lastRefresh   string

	// entered is signalled on every Refresh call; release blocks it when set.
	entered chan struct{}
	release chan struct{}

	codeCalls    atomic.Int32
	refreshCalls atomic.Int32
}

func (f *fakeExchanger) AuthCodeURL(p provider.Config, client store.ClientCredential, redirectURI, state, challenge string) string {
	q := url.Values{
		"client_id":             {client.ClientID},
		"redirect_uri":          {redirectURI},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {oauth.ChallengeMethod},
	}
	return p.AuthURL() + "?" + q.Encode()
}

func (f *fakeExchanger) ExchangeCode(_ context.Context, _ provider.Config, _ store.ClientCredential, code, _, verifier string) (*oauth.TokenResult, error) {
	f.codeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCode = code
	f.lastVerif = verifier
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	res := *f.codeResult
	return &res, nil
}

func (f *fakeExchanger) Refresh(_ context.Context, _ provider.Config, _ store.ClientCredential, refreshToken string) (*oauth.TokenResult, error) {
	f.refreshCalls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRefresh = refreshToken
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	res := *f.refreshResult
	return &res, nil
}

// fakeListener resolves Await with a canned outcome.
type fakeListener struct {
	port     int
	startErr error
	code     string
	err      error

	expectedState string
	closes        atomic.Int32
}

func (l *fakeListener) Start() (int, error) {
	if l.startErr != nil {
		return 0, l.startErr
	}
	return l.port, nil
}

func (l *fakeListener) RedirectURI() string {
	return "http://localhost:4711/callback"
}

func (l *fakeListener) Await(_ context.Context, expectedState string, _ time.Duration) (string, error) {
	l.expectedState = expectedState
	return l.code, l.err
}

func (l *fakeListener) Close() {
	l.closes.Add(1)
}
