package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teemow/mailauth/internal/instrumentation"
	"github.com/teemow/mailauth/internal/logging"
	"github.com/teemow/mailauth/internal/oauth"
	"github.com/teemow/mailauth/internal/provider"
	"github.com/teemow/mailauth/internal/store"
)

// RefreshBuffer is how long before expiry a stored token stops being served
// and is refreshed instead.
const RefreshBuffer = 60 * time.Second

// Refresher hands out access tokens, refreshing them when they are close to
// expiry. Concurrent callers for the same email share one refresh grant.
type Refresher struct {
	opts  Options
	group singleflight.Group

	// unsaved holds refreshed records whose Save failed, keyed by lowercased
	// email. They take precedence over the store until a retried Save succeeds,
	// so a rotated refresh token is never replaced by the superseded one.
	mu      sync.Mutex
	unsaved map[string]*store.TokenRecord
}

// NewRefresher creates a refresher. Options.Tokens and Options.Clients must be set.
func NewRefresher(opts Options) *Refresher {
	return &Refresher{
		opts:    opts.withDefaults(),
		unsaved: make(map[string]*store.TokenRecord),
	}
}

// needsRefresh reports whether rec is within RefreshBuffer of expiry at now.
func needsRefresh(rec *store.TokenRecord, now time.Time) bool {
	return !now.Before(rec.Expiry().Add(-RefreshBuffer))
}

// EnsureFreshToken returns a usable access token for email. It makes no
// network call while the stored token is more than RefreshBuffer from expiry.
func (r *Refresher) EnsureFreshToken(ctx context.Context, email string) (token string, err error) {
	email = strings.TrimSpace(email)
	ctx, span := instrumentation.StartRefreshSpan(ctx, email)
	defer func() { instrumentation.EndSpan(span, err) }()

	rec, err := r.load(email)
	if err != nil {
		return "", err
	}
	if !needsRefresh(rec, r.opts.Now()) {
		span.SetAttributes(instrumentation.CachedAttr(true))
		r.opts.Metrics.RecordTokenCacheHit(ctx, rec.Provider)
		return rec.AccessToken, nil
	}

	// The grant runs detached from every caller's cancellation so one caller
	// giving up cannot fail the others waiting on the same flight. The caller
	// itself stops waiting as soon as its context is done.
	shared := context.WithoutCancel(ctx)
	flight := r.group.DoChan(strings.ToLower(email), func() (any, error) {
		return r.refresh(shared, email)
	})
	select {
	case res := <-flight:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	}
}

// IsTokenExpired reports whether the stored token would be refreshed by the
// next EnsureFreshToken call. It never contacts the provider.
func (r *Refresher) IsTokenExpired(email string) (bool, error) {
	rec, err := r.load(strings.TrimSpace(email))
	if err != nil {
		return false, err
	}
	return needsRefresh(rec, r.opts.Now()), nil
}

func (r *Refresher) load(email string) (*store.TokenRecord, error) {
	rec, err := r.opts.Tokens.Load(email)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	if pending := r.retryUnsaved(email, rec); pending != nil {
		return pending, nil
	}
	if rec == nil {
		return nil, reauthError(ErrNoTokensFound, email)
	}
	return rec, nil
}

// retryUnsaved returns the record kept in memory after a failed Save, trying
// to persist it again first. It is dropped once saved, or once the store
// holds a newer record (a fresh login) or none at all (revoked).
func (r *Refresher) retryUnsaved(email string, stored *store.TokenRecord) *store.TokenRecord {
	key := strings.ToLower(email)
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, ok := r.unsaved[key]
	if !ok {
		return nil
	}
	if stored == nil || stored.UpdatedAt > pending.UpdatedAt {
		delete(r.unsaved, key)
		return nil
	}
	if err := r.opts.Tokens.Save(pending); err != nil {
		r.opts.Logger.Warn("refreshed token still not persisted",
			logging.UserHash(email), logging.Err(err))
		return pending.Clone()
	}
	delete(r.unsaved, key)
	return pending.Clone()
}

func (r *Refresher) keepUnsaved(rec *store.TokenRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsaved[strings.ToLower(rec.Email)] = rec.Clone()
}

func (r *Refresher) refresh(ctx context.Context, email string) (string, error) {
	logger := logging.WithOperation(r.opts.Logger, "auth.refresh").With(logging.UserHash(email))

	// Reload: a flight that finished just before this one may already have
	// stored a fresh token.
	rec, err := r.load(email)
	if err != nil {
		return "", err
	}
	now := r.opts.Now()
	if !needsRefresh(rec, now) {
		return rec.AccessToken, nil
	}

	logger = logger.With(logging.Provider(rec.Provider))
	fail := func(result string, err error) (string, error) {
		r.opts.Metrics.RecordOAuthTokenRefresh(ctx, rec.Provider, result)
		r.opts.Audit.Record(ctx, instrumentation.AuditEventRefreshFailure, email, rec.Provider, err)
		logger.Warn("token refresh failed", logging.Err(err))
		return "", err
	}

	if rec.RefreshToken == "" {
		return fail(instrumentation.OAuthResultExpired, reauthError(ErrNoRefreshToken, email))
	}

	p, ok := r.providerFor(rec)
	if !ok {
		return fail(instrumentation.OAuthResultFailure, fmt.Errorf("%w: %q", ErrProviderNotSupported, rec.Provider))
	}
	client, err := r.opts.Clients.Load(p.Name)
	if err != nil {
		return fail(instrumentation.OAuthResultFailure, fmt.Errorf("failed to load OAuth client for %s: %w", p.Name, err))
	}
	if client == nil || client.ClientID == "" {
		return fail(instrumentation.OAuthResultFailure,
			fmt.Errorf("%w for provider %s; %s", ErrClientNotConfigured, p.Name, clientRemediation(p.Name)))
	}

	result, err := r.exchange(ctx, p, *client, rec.RefreshToken)
	if err != nil {
		if errors.Is(err, oauth.ErrRefreshTokenInvalid) {
			return fail(instrumentation.OAuthResultInvalid,
				fmt.Errorf("%w: %w; %s", ErrReauthRequired, err, Remediation(email)))
		}
		return fail(instrumentation.OAuthResultFailure, fmt.Errorf("transient token refresh failure: %w", err))
	}

	// Load-then-merge: only the fields the grant changes are replaced.
	now = r.opts.Now()
	updated := rec.Clone()
	updated.AccessToken = result.AccessToken
	if result.RefreshToken != "" {
		updated.RefreshToken = result.RefreshToken
	}
	updated.TokenExpiry = result.ExpiryFrom(now).UnixMilli()
	updated.UpdatedAt = now.UnixMilli()

	if err := r.opts.Tokens.Save(updated); err != nil {
		// The new tokens are valid; serve them and keep them until a later
		// load manages to store them.
		logger.Error("failed to save refreshed token", logging.Err(err))
		r.keepUnsaved(updated)
	}

	r.opts.Metrics.RecordOAuthTokenRefresh(ctx, rec.Provider, instrumentation.OAuthResultSuccess)
	r.opts.Audit.Record(ctx, instrumentation.AuditEventTokenRefreshed, email, rec.Provider, nil)
	logger.Info("token refreshed",
		slog.Time("expires_at", updated.Expiry()),
		slog.Bool("rotated", result.RefreshToken != "" && result.RefreshToken != rec.RefreshToken))
	return updated.AccessToken, nil
}

func (r *Refresher) providerFor(rec *store.TokenRecord) (provider.Config, bool) {
	if p, ok := r.opts.Registry.Lookup(rec.Provider); ok {
		return p, true
	}
	return r.opts.Registry.Detect(rec.Email)
}

func (r *Refresher) exchange(ctx context.Context, p provider.Config, client store.ClientCredential, refreshToken string) (*oauth.TokenResult, error) {
	ctx, span := instrumentation.StartExchangeSpan(ctx, p.Name, oauth.GrantTypeRefreshToken)
	start := time.Now()

	result, err := r.opts.Exchanger.Refresh(ctx, p, client, refreshToken)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	r.opts.Metrics.RecordTokenExchange(ctx, p.Name, oauth.GrantTypeRefreshToken, status, time.Since(start))
	instrumentation.EndSpan(span, err)
	return result, err
}
