package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teemow/mailauth/internal/instrumentation"
	"github.com/teemow/mailauth/internal/logging"
	"github.com/teemow/mailauth/internal/provider"
	"github.com/teemow/mailauth/internal/store"
)

// FlowResult summarizes a completed login without exposing tokens.
type FlowResult struct {
	Email           string
	Provider        string
	ExpiresAt       time.Time
	Scopes          []string
	HasRefreshToken bool
}

// AccountStatus is a diagnostic view of one stored account.
type AccountStatus struct {
	Email            string
	Provider         string
	ExpiresAt        time.Time
	NeedsRefresh     bool
	HasRefreshToken  bool
	ClientConfigured bool
	Scopes           []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Service is the API the rest of the application uses for OAuth accounts.
type Service struct {
	opts      Options
	flow      *FlowController
	refresher *Refresher
}

// NewService wires a FlowController and a Refresher over the same stores.
func NewService(opts Options) (*Service, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if opts.Clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	opts = opts.withDefaults()
	return &Service{
		opts:      opts,
		flow:      NewFlowController(opts),
		refresher: NewRefresher(opts),
	}, nil
}

// Registry returns the provider registry in use.
func (s *Service) Registry() *provider.Registry {
	return s.opts.Registry
}

// EnsureFreshToken returns a usable access token for email.
func (s *Service) EnsureFreshToken(ctx context.Context, email string) (string, error) {
	return s.refresher.EnsureFreshToken(ctx, email)
}

// IsTokenExpired reports whether the stored token is due for refresh.
func (s *Service) IsTokenExpired(email string) (bool, error) {
	return s.refresher.IsTokenExpired(email)
}

// IsOAuthSupported reports whether a registered provider serves email.
func (s *Service) IsOAuthSupported(email string) bool {
	return s.opts.Registry.IsSupported(strings.TrimSpace(email))
}

// HasTokens reports whether a token file exists for email.
func (s *Service) HasTokens(email string) bool {
	return s.opts.Tokens.Has(strings.TrimSpace(email))
}

// ListStoredAccounts returns the emails with stored tokens, sorted.
func (s *Service) ListStoredAccounts() ([]string, error) {
	return s.opts.Tokens.ListEmails()
}

// DeleteTokens removes the stored tokens for email. It reports whether a
// record existed. Tokens are not revoked at the provider.
func (s *Service) DeleteTokens(ctx context.Context, email string) (bool, error) {
	email = strings.TrimSpace(email)
	var providerName string
	if rec, _ := s.opts.Tokens.Load(email); rec != nil {
		providerName = rec.Provider
	}

	deleted, err := s.opts.Tokens.Delete(email)
	if err != nil {
		return false, fmt.Errorf("failed to delete tokens: %w", err)
	}
	if deleted {
		s.opts.Audit.Record(ctx, instrumentation.AuditEventTokenRevoked, email, providerName, nil)
		s.opts.Logger.Info("tokens deleted", logging.UserHash(email))
	}
	return deleted, nil
}

// RunOAuthFlow runs an interactive login for email.
func (s *Service) RunOAuthFlow(ctx context.Context, email string) (*FlowResult, error) {
	rec, err := s.flow.Run(ctx, email)
	if err != nil {
		return nil, err
	}
	return &FlowResult{
		Email:           rec.Email,
		Provider:        rec.Provider,
		ExpiresAt:       rec.Expiry(),
		Scopes:          append([]string(nil), rec.Scopes...),
		HasRefreshToken: rec.RefreshToken != "",
	}, nil
}

// SaveClientConfig stores the OAuth client registration for a known provider.
func (s *Service) SaveClientConfig(ctx context.Context, cred store.ClientCredential) error {
	name := strings.ToLower(strings.TrimSpace(cred.Provider))
	if _, ok := s.opts.Registry.Lookup(name); !ok {
		return fmt.Errorf("%w: unknown provider %q (known: %s)",
			ErrProviderNotSupported, cred.Provider, strings.Join(s.opts.Registry.Names(), ", "))
	}
	cred.Provider = name
	cred.ClientID = strings.TrimSpace(cred.ClientID)

	if err := s.opts.Clients.Save(cred); err != nil {
		return fmt.Errorf("failed to save OAuth client: %w", err)
	}
	s.opts.Audit.Record(ctx, instrumentation.AuditEventClientConfigured, "", name, nil)
	return nil
}

// LoadClientConfig returns the client registration for provider, or nil
// when none is stored.
func (s *Service) LoadClientConfig(providerName string) (*store.ClientCredential, error) {
	return s.opts.Clients.Load(strings.ToLower(strings.TrimSpace(providerName)))
}

// ListClientConfigs returns the providers that have a client registration.
func (s *Service) ListClientConfigs() ([]string, error) {
	return s.opts.Clients.List()
}

// DeleteClientConfig removes the client registration for provider.
func (s *Service) DeleteClientConfig(ctx context.Context, providerName string) (bool, error) {
	name := strings.ToLower(strings.TrimSpace(providerName))
	deleted, err := s.opts.Clients.Delete(name)
	if err != nil {
		return false, fmt.Errorf("failed to delete OAuth client: %w", err)
	}
	if deleted {
		s.opts.Audit.Record(ctx, instrumentation.AuditEventClientDeleted, "", name, nil)
	}
	return deleted, nil
}

// AccountStatus describes the stored account for email.
func (s *Service) AccountStatus(email string) (*AccountStatus, error) {
	email = strings.TrimSpace(email)
	rec, err := s.opts.Tokens.Load(email)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	if rec == nil {
		return nil, reauthError(ErrNoTokensFound, email)
	}

	status := &AccountStatus{
		Email:           rec.Email,
		Provider:        rec.Provider,
		ExpiresAt:       rec.Expiry(),
		NeedsRefresh:    needsRefresh(rec, s.opts.Now()),
		HasRefreshToken: rec.RefreshToken != "",
		Scopes:          append([]string(nil), rec.Scopes...),
		CreatedAt:       time.UnixMilli(rec.CreatedAt),
		UpdatedAt:       time.UnixMilli(rec.UpdatedAt),
	}
	if client, err := s.opts.Clients.Load(rec.Provider); err == nil && client != nil {
		status.ClientConfigured = true
	}
	return status, nil
}
