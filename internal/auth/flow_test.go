package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailauth/internal/instrumentation"
	"github.com/teemow/mailauth/internal/oauth"
	"github.com/teemow/mailauth/internal/store"
)

// callbackBrowser plays the user's browser: it follows the authorization
// URL straight to the loopback redirect with the given code.
type callbackBrowser struct {
	t      *testing.T
	code   string
	status chan int
}

func newCallbackBrowser(t *testing.T, code string) *callbackBrowser {
	return &callbackBrowser{t: t, code: code, status: make(chan int, 1)}
}

func (b *callbackBrowser) Open(authURL string) error {
	u, err := url.Parse(authURL)
	if err != nil {
		return err
	}
	q := u.Query()
	redirect := strings.Replace(q.Get("redirect_uri"), "localhost", "127.0.0.1", 1)
	target := redirect + "?" + url.Values{"code": {b.code}, "state": {q.Get("state")}}.Encode()

	go func() {
		resp, err := http.Get(target)
		if err != nil {
			b.status <- 0
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		b.status <- resp.StatusCode
	}()
	return nil
}

func TestFlowController_EndToEndGmail(t *testing.T) {
	env := newTestEnv(t).withGoogleClient(t)
	ex := &fakeExchanger{codeResult: &oauth.TokenResult{
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		ExpiresIn:    3600 * time.Second,
	}}
	browser := newCallbackBrowser(t, "ABC")

	opts := env.options(ex)
	opts.Now = time.Now
	opts.Browser = browser
	opts.CallbackTimeout = 10 * time.Second

	p, ok := opts.Registry.Detect("user@gmail.com")
	require.True(t, ok)
	assert.Equal(t, "https://oauth2.googleapis.com/token", p.TokenURL())

	before := time.Now()
	rec, err := NewFlowController(opts).Run(context.Background(), "user@gmail.com")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, <-browser.status)
	assert.Equal(t, "ABC", ex.lastCode)
	assert.True(t, oauth.VerifyChallenge(ex.lastVerif, oauth.CodeChallenge(ex.lastVerif)))

	stored, err := env.tokens.Load("user@gmail.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "AT1", stored.AccessToken)
	assert.Equal(t, "RT1", stored.RefreshToken)
	assert.Equal(t, "google", stored.Provider)
	assert.Equal(t, rec.TokenExpiry, stored.TokenExpiry)
	assert.InDelta(t, before.Add(time.Hour).UnixMilli(), stored.TokenExpiry, 1000)

	raw, err := os.ReadFile(filepath.Join(env.tokens.Dir(), store.SafeFileName("user@gmail.com")))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "AT1")
	assert.NotContains(t, string(raw), "RT1")
}

func TestFlowController_PassesStateAndPrintsURL(t *testing.T) {
	env := newTestEnv(t).withGoogleClient(t)
	ex := &fakeExchanger{codeResult: &oauth.TokenResult{AccessToken: "AT1", RefreshToken: "RT1", ExpiresIn: time.Hour}}
	listener := &fakeListener{port: 4711, code: "ABC"}

	var opened string
	var out bytes.Buffer
	opts := env.options(ex)
	opts.NewListener = func() Listener { return listener }
	opts.Output = &out
	opts.Browser = oauth.BrowserFunc(func(u string) error {
		opened = u
		return errors.New("no display")
	})

	rec, err := NewFlowController(opts).Run(context.Background(), "user@gmail.com")
	require.NoError(t, err, "browser failure must not abort the flow")

	u, err := url.Parse(opened)
	require.NoError(t, err)
	assert.Equal(t, listener.expectedState, u.Query().Get("state"))
	assert.NotEmpty(t, listener.expectedState)
	assert.Equal(t, "http://localhost:4711/callback", u.Query().Get("redirect_uri"))
	assert.Contains(t, out.String(), opened)

	assert.Equal(t, testNow.Add(time.Hour).UnixMilli(), rec.TokenExpiry)
	assert.Equal(t, testNow.UnixMilli(), rec.CreatedAt)
	assert.GreaterOrEqual(t, listener.closes.Load(), int32(1))
}

func TestFlowController_Failures(t *testing.T) {
	tests := []struct {
		name       string
		email      string
		noClient   bool
		listener   *fakeListener
		exchanger  *fakeExchanger
		wantErr    error
		wantClosed bool
	}{
		{
			name:    "unsupported provider",
			email:   "x@unknown.example",
			wantErr: ErrProviderNotSupported,
		},
		{
			name:     "client not configured",
			email:    "user@gmail.com",
			noClient: true,
			wantErr:  ErrClientNotConfigured,
		},
		{
			name:       "port allocation",
			email:      "user@gmail.com",
			listener:   &fakeListener{startErr: oauth.ErrPortAllocationFailed},
			wantErr:    oauth.ErrPortAllocationFailed,
			wantClosed: true,
		},
		{
			name:       "state mismatch",
			email:      "user@gmail.com",
			listener:   &fakeListener{port: 1, err: oauth.ErrCallbackStateMismatch},
			wantErr:    oauth.ErrCallbackStateMismatch,
			wantClosed: true,
		},
		{
			name:       "consent denied",
			email:      "user@gmail.com",
			listener:   &fakeListener{port: 1, err: &oauth.ConsentDeniedError{Code: "access_denied"}},
			wantErr:    oauth.ErrProviderDeniedConsent,
			wantClosed: true,
		},
		{
			name:       "timeout",
			email:      "user@gmail.com",
			listener:   &fakeListener{port: 1, err: oauth.ErrCallbackTimeout},
			wantErr:    oauth.ErrCallbackTimeout,
			wantClosed: true,
		},
		{
			name:       "exchange rejected",
			email:      "user@gmail.com",
			listener:   &fakeListener{port: 1, code: "ABC"},
			exchanger:  &fakeExchanger{codeErr: &oauth.TokenExchangeError{Status: 400, Body: "bad code"}},
			wantClosed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if !tt.noClient {
				env.withGoogleClient(t)
			}
			ex := tt.exchanger
			if ex == nil {
				ex = &fakeExchanger{codeResult: &oauth.TokenResult{AccessToken: "AT1", ExpiresIn: time.Hour}}
			}
			listener := tt.listener
			if listener == nil {
				listener = &fakeListener{port: 1, code: "ABC"}
			}

			opts := env.options(ex)
			opts.NewListener = func() Listener { return listener }

			_, err := NewFlowController(opts).Run(context.Background(), tt.email)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.exchanger != nil {
				var exErr *oauth.TokenExchangeError
				assert.ErrorAs(t, err, &exErr)
			}
			if tt.wantClosed {
				assert.GreaterOrEqual(t, listener.closes.Load(), int32(1), "listener must be closed")
			}

			assert.False(t, env.tokens.Has(tt.email), "no record may be persisted on failure")
		})
	}
}

func TestFlowController_ReloginKeepsCreatedAtAndRefreshToken(t *testing.T) {
	env := newTestEnv(t).withGoogleClient(t)
	existing := googleRecord("user@gmail.com", testNow.Add(-time.Minute))
	env.saveRecord(t, existing)

	ex := &fakeExchanger{codeResult: &oauth.TokenResult{AccessToken: "AT-new", ExpiresIn: time.Hour}}
	opts := env.options(ex)
	opts.NewListener = func() Listener { return &fakeListener{port: 1, code: "ABC"} }

	rec, err := NewFlowController(opts).Run(context.Background(), "user@gmail.com")
	require.NoError(t, err)

	assert.Equal(t, "AT-new", rec.AccessToken)
	assert.Equal(t, "RT-old", rec.RefreshToken)
	assert.Equal(t, existing.CreatedAt, rec.CreatedAt)
	assert.Equal(t, testNow.UnixMilli(), rec.UpdatedAt)
}

func TestFlowController_AuditEvents(t *testing.T) {
	env := newTestEnv(t).withGoogleClient(t)

	var buf bytes.Buffer
	opts := env.options(&fakeExchanger{})
	opts.Audit = newTestAudit(&buf)
	opts.NewListener = func() Listener { return &fakeListener{port: 1, err: oauth.ErrCallbackStateMismatch} }

	_, err := NewFlowController(opts).Run(context.Background(), "user@gmail.com")
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"event_type":"callback_state_mismatch"`)
	assert.NotContains(t, buf.String(), "user@gmail.com")
}

func TestFlowController_AuditTokenIssued(t *testing.T) {
	env := newTestEnv(t).withGoogleClient(t)

	var buf bytes.Buffer
	opts := env.options(&fakeExchanger{codeResult: &oauth.TokenResult{
		AccessToken: "AT1", RefreshToken: "RT1", ExpiresIn: time.Hour,
	}})
	opts.Audit = newTestAudit(&buf)
	opts.NewListener = func() Listener { return &fakeListener{port: 1, code: "ABC"} }

	_, err := NewFlowController(opts).Run(context.Background(), "user@gmail.com")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"event_type":"token_issued"`)
	assert.Contains(t, buf.String(), `"meta_refresh_token":"true"`)
	assert.NotContains(t, buf.String(), "RT1")
}

func newTestAudit(w io.Writer) *instrumentation.AuditLogger {
	return instrumentation.NewAuditLoggerWithConfig(slog.New(slog.NewJSONHandler(w, nil)),
		instrumentation.AuditLoggingConfig{Enabled: true})
}
