package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/mailauth/internal/logging"
	"github.com/teemow/mailauth/internal/provider"
	"github.com/teemow/mailauth/internal/store"
)

// TokenResult is the useful part of a successful token endpoint response.
type TokenResult struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not issue or rotate one
	ExpiresIn    time.Duration
	Scopes       []string
}

// ExpiryFrom returns the absolute expiry for a response received at now.
func (r *TokenResult) ExpiryFrom(now time.Time) time.Time {
	return now.Add(r.ExpiresIn)
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithHTTPClient sets the client used for token endpoint requests.
func WithHTTPClient(client *http.Client) ExchangerOption {
	return func(e *Exchanger) { e.httpClient = client }
}

// WithExchangerLogger sets the logger.
func WithExchangerLogger(logger *slog.Logger) ExchangerOption {
	return func(e *Exchanger) { e.logger = logger }
}

// Exchanger talks to provider token endpoints. It is stateless apart from
// its HTTP client and safe for concurrent use.
type Exchanger struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExchanger creates an Exchanger with a 30 second HTTP timeout unless a
// client is supplied.
func NewExchanger(opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchanger) config(p provider.Config, client store.ClientCredential, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL(),
			TokenURL:  p.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      p.Scopes,
	}
}

func (e *Exchanger) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

// AuthCodeURL builds the authorization URL the user opens in a browser.
// Consent is always forced so the provider issues a refresh token again.
func (e *Exchanger) AuthCodeURL(p provider.Config, client store.ClientCredential, redirectURI, state, challenge string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", ChallengeMethod),
		oauth2.ApprovalForce,
	}
	for k, v := range p.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return e.config(p, client, redirectURI).AuthCodeURL(state, opts...)
}

// ExchangeCode redeems an authorization code with its PKCE verifier.
func (e *Exchanger) ExchangeCode(ctx context.Context, p provider.Config, client store.ClientCredential, code, redirectURI, verifier string) (*TokenResult, error) {
	start := time.Now()
	tok, err := e.config(p, client, redirectURI).Exchange(e.context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		e.logger.Debug("token exchange failed",
			logging.Provider(p.Name),
			slog.Duration(logging.KeyDuration, time.Since(start)),
			logging.Err(err))
		return nil, classifyError(err, GrantTypeAuthorizationCode)
	}

	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w (%s grant)", ErrMalformedTokenResponse, GrantTypeAuthorizationCode)
	}
	e.logger.Debug("token exchange succeeded",
		logging.Provider(p.Name),
		slog.Duration(logging.KeyDuration, time.Since(start)))
	return toResult(tok, p.Scopes, ""), nil
}

// Refresh redeems a refresh token for a new access token. The returned
// RefreshToken is empty when the provider did not rotate it.
func (e *Exchanger) Refresh(ctx context.Context, p provider.Config, client store.ClientCredential, refreshToken string) (*TokenResult, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token cannot be empty")
	}

	start := time.Now()
	src := e.config(p, client, "").TokenSource(e.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		e.logger.Debug("token refresh failed",
			logging.Provider(p.Name),
			slog.Duration(logging.KeyDuration, time.Since(start)),
			logging.Err(err))
		return nil, classifyError(err, GrantTypeRefreshToken)
	}

	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w (%s grant)", ErrMalformedTokenResponse, GrantTypeRefreshToken)
	}
	e.logger.Debug("token refresh succeeded",
		logging.Provider(p.Name),
		slog.Duration(logging.KeyDuration, time.Since(start)))
	// x/oauth2 copies the old refresh token forward when none is returned.
	return toResult(tok, p.Scopes, refreshToken), nil
}

func toResult(tok *oauth2.Token, requested []string, previousRefresh string) *TokenResult {
	res := &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok),
		Scopes:       grantedScopes(tok, requested),
	}
	if previousRefresh != "" && res.RefreshToken == previousRefresh {
		res.RefreshToken = ""
	}
	return res
}

func expiresIn(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if !tok.Expiry.IsZero() {
		if d := time.Until(tok.Expiry).Round(time.Second); d > 0 {
			return d
		}
	}
	return DefaultExpiresIn
}

func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		return strings.Fields(s)
	}
	return append([]string(nil), requested...)
}

// upstreamMissingAccessToken is the message x/oauth2 (internal/token.go,
// v0.34.0) returns for a 2xx token response without access_token. It has no
// typed error; the exchanger tests pin it.
const upstreamMissingAccessToken = "server response missing access_token"

// classifyError maps x/oauth2 failures onto this package's error taxonomy.
// Transport errors are returned wrapped but otherwise untouched.
func classifyError(err error, grant string) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		body := string(re.Body)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		if grant == GrantTypeRefreshToken {
			return &TokenRefreshError{Status: status, Body: body, Code: re.ErrorCode, Description: re.ErrorDescription}
		}
		return &TokenExchangeError{Status: status, Body: body, Code: re.ErrorCode, Description: re.ErrorDescription}
	}
	if strings.Contains(err.Error(), upstreamMissingAccessToken) {
		return fmt.Errorf("%w (%s grant)", ErrMalformedTokenResponse, grant)
	}
	return fmt.Errorf("%s grant request failed: %w", grant, err)
}
