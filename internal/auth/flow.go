package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/mailauth/internal/instrumentation"
	"github.com/teemow/mailauth/internal/logging"
	"github.com/teemow/mailauth/internal/oauth"
	"github.com/teemow/mailauth/internal/provider"
	"github.com/teemow/mailauth/internal/store"
)

// FlowController runs interactive authorization code + PKCE logins.
// Each Run owns its listener for the duration of the call.
type FlowController struct {
	opts Options
}

// NewFlowController creates a controller. Options.Tokens and Options.Clients
// must be set.
func NewFlowController(opts Options) *FlowController {
	return &FlowController{opts: opts.withDefaults()}
}

// Run performs one full login for email and returns the persisted record.
// The listener is closed before Run returns, whatever the outcome.
func (f *FlowController) Run(ctx context.Context, email string) (rec *store.TokenRecord, err error) {
	email = strings.TrimSpace(email)
	logger := logging.WithOperation(f.opts.Logger, "auth.flow").With(logging.UserHash(email))
	start := f.opts.Now()

	// 1. Provider
	p, ok := f.opts.Registry.Detect(email)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotSupported, logging.ExtractDomain(email))
	}
	logger = logger.With(logging.Provider(p.Name))

	ctx, span := instrumentation.StartAuthFlowSpan(ctx, email, p.Name)
	defer func() {
		instrumentation.EndSpan(span, err)
		f.recordOutcome(ctx, email, p.Name, rec, err)
		if err != nil {
			logger.Warn("authorization failed", logging.Err(err))
		} else {
			logger.Info("authorization completed", slog.Duration(logging.KeyDuration, f.opts.Now().Sub(start)))
		}
	}()

	// 2. Client credential
	client, err := f.opts.Clients.Load(p.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load OAuth client for %s: %w", p.Name, err)
	}
	if client == nil || client.ClientID == "" {
		return nil, fmt.Errorf("%w for provider %s; %s", ErrClientNotConfigured, p.Name, clientRemediation(p.Name))
	}

	// 3. Listener
	listener := f.opts.NewListener()
	defer listener.Close()

	port, err := listener.Start()
	if err != nil {
		return nil, err
	}
	redirectURI := listener.RedirectURI()
	logger.Debug("waiting for callback", logging.Port(port))

	// 4. PKCE and state
	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}

	// 5. Present the authorization URL
	authURL := f.opts.Exchanger.AuthCodeURL(p, *client, redirectURI, state, pkce.Challenge)
	f.present(logger, email, authURL)

	// 6. Callback
	code, err := listener.Await(ctx, state, f.opts.CallbackTimeout)
	if err != nil {
		return nil, fmt.Errorf("authorization callback failed: %w", err)
	}

	// 7. Exchange
	result, err := f.exchange(ctx, p, *client, code, redirectURI, pkce.Verifier)
	if err != nil {
		return nil, err
	}

	// 8. Persist
	rec = f.buildRecord(logger, email, p, result)
	if err := f.opts.Tokens.Save(rec); err != nil {
		return nil, fmt.Errorf("failed to save tokens: %w", err)
	}
	return rec, nil
}

func (f *FlowController) present(logger *slog.Logger, email, authURL string) {
	fmt.Fprintf(f.opts.Output, "Opening your browser to authorize %s.\n", email)
	fmt.Fprintf(f.opts.Output, "If it does not open, visit this URL:\n\n  %s\n\n", authURL)

	if err := f.opts.Browser.Open(authURL); err != nil {
		logger.Warn("failed to open browser", logging.Err(err))
	}
}

func (f *FlowController) exchange(ctx context.Context, p provider.Config, client store.ClientCredential, code, redirectURI, verifier string) (*oauth.TokenResult, error) {
	ctx, span := instrumentation.StartExchangeSpan(ctx, p.Name, oauth.GrantTypeAuthorizationCode)
	start := time.Now()

	result, err := f.opts.Exchanger.ExchangeCode(ctx, p, client, code, redirectURI, verifier)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	f.opts.Metrics.RecordTokenExchange(ctx, p.Name, oauth.GrantTypeAuthorizationCode, status, time.Since(start))
	instrumentation.EndSpan(span, err)
	return result, err
}

// buildRecord merges the grant into any existing record for email so a
// re-login keeps CreatedAt and a refresh token the provider did not resend.
func (f *FlowController) buildRecord(logger *slog.Logger, email string, p provider.Config, result *oauth.TokenResult) *store.TokenRecord {
	now := f.opts.Now()

	rec := &store.TokenRecord{
		Email:        email,
		Provider:     p.Name,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenExpiry:  result.ExpiryFrom(now).UnixMilli(),
		Scopes:       result.Scopes,
		CreatedAt:    now.UnixMilli(),
		UpdatedAt:    now.UnixMilli(),
	}

	existing, err := f.opts.Tokens.Load(email)
	if err != nil {
		logger.Debug("ignoring unreadable existing record", logging.Err(err))
	}
	if existing != nil {
		if existing.CreatedAt != 0 {
			rec.CreatedAt = existing.CreatedAt
		}
		if rec.RefreshToken == "" {
			rec.RefreshToken = existing.RefreshToken
		}
	}
	if rec.RefreshToken == "" {
		logger.Warn("provider issued no refresh token; the account will need to log in again when the access token expires")
	}
	return rec
}

func (f *FlowController) recordOutcome(ctx context.Context, email, providerName string, rec *store.TokenRecord, err error) {
	audit := f.opts.Audit
	switch {
	case err == nil:
		f.opts.Metrics.RecordOAuthAuthWithUser(ctx, providerName, instrumentation.OAuthResultSuccess, email)
		audit.LogEvent(ctx, instrumentation.NewAuditEvent(instrumentation.AuditEventTokenIssued).
			WithUser(email).
			WithProvider(providerName).
			WithMetadata("refresh_token", strconv.FormatBool(rec != nil && rec.RefreshToken != "")).
			WithSpanContext(ctx))
	case errors.Is(err, oauth.ErrProviderDeniedConsent):
		f.opts.Metrics.RecordOAuthAuthWithUser(ctx, providerName, instrumentation.OAuthResultDenied, email)
		audit.Record(ctx, instrumentation.AuditEventConsentDenied, email, providerName, err)
	case errors.Is(err, oauth.ErrCallbackStateMismatch):
		f.opts.Metrics.RecordOAuthAuthWithUser(ctx, providerName, instrumentation.OAuthResultFailure, email)
		audit.Record(ctx, instrumentation.AuditEventCallbackStateMismatch, email, providerName, err)
	default:
		f.opts.Metrics.RecordOAuthAuthWithUser(ctx, providerName, instrumentation.OAuthResultFailure, email)
		audit.Record(ctx, instrumentation.AuditEventAuthFailure, email, providerName, err)
	}
}
