package auth

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/teemow/mailauth/internal/instrumentation"
	"github.com/teemow/mailauth/internal/oauth"
	"github.com/teemow/mailauth/internal/provider"
	"github.com/teemow/mailauth/internal/store"
)

// TokenStore persists one token record per email. *store.TokenStore satisfies it.
type TokenStore interface {
	Save(rec *store.TokenRecord) error
	Load(email string) (*store.TokenRecord, error)
	Delete(email string) (bool, error)
	Has(email string) bool
	ListEmails() ([]string, error)
}

// ClientStore persists OAuth client credentials per provider.
// *store.ClientStore satisfies it.
type ClientStore interface {
	Save(cred store.ClientCredential) error
	Load(provider string) (*store.ClientCredential, error)
	List() ([]string, error)
	Delete(provider string) (bool, error)
}

// Exchanger talks to provider authorization and token endpoints.
// *oauth.Exchanger satisfies it.
type Exchanger interface {
	AuthCodeURL(p provider.Config, client store.ClientCredential, redirectURI, state, challenge string) string
	ExchangeCode(ctx context.Context, p provider.Config, client store.ClientCredential, code, redirectURI, verifier string) (*oauth.TokenResult, error)
	Refresh(ctx context.Context, p provider.Config, client store.ClientCredential, refreshToken string) (*oauth.TokenResult, error)
}

// Listener receives the provider redirect for one login.
// *oauth.CallbackListener satisfies it.
type Listener interface {
	Start() (int, error)
	RedirectURI() string
	Await(ctx context.Context, expectedState string, timeout time.Duration) (string, error)
	Close()
}

// Options wires the collaborators shared by FlowController, Refresher and
// Service. Only Tokens and Clients are required.
type Options struct {
	Registry  *provider.Registry
	Tokens    TokenStore
	Clients   ClientStore
	Exchanger Exchanger

	// NewListener creates a fresh loopback listener per login.
	NewListener func() Listener
	// Browser opens the authorization URL. Failures are not fatal.
	Browser oauth.BrowserOpener
	// Output receives user-facing login instructions.
	Output io.Writer

	CallbackTimeout time.Duration
	Now             func() time.Time

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

func (o Options) withDefaults() Options {
	if o.Registry == nil {
		o.Registry = provider.DefaultRegistry()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Exchanger == nil {
		o.Exchanger = oauth.NewExchanger(oauth.WithExchangerLogger(o.Logger))
	}
	if o.NewListener == nil {
		logger, metrics := o.Logger, o.Metrics
		o.NewListener = func() Listener {
			return oauth.NewCallbackListener(
				oauth.WithCallbackLogger(logger),
				oauth.WithOutcomeHook(func(s oauth.ListenerState) {
					metrics.RecordCallback(context.Background(), s.String())
				}),
			)
		}
	}
	if o.Browser == nil {
		o.Browser = oauth.SystemBrowser
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}
	if o.CallbackTimeout <= 0 {
		o.CallbackTimeout = oauth.DefaultCallbackTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
