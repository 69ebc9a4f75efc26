package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/mailauth/internal/instrumentation"
	"github.com/teemow/mailauth/internal/logging"
)

// DefaultKeeperInterval is how often Keeper checks stored accounts.
const DefaultKeeperInterval = time.Minute

// TokenSource is the part of Service the keeper needs.
type TokenSource interface {
	ListStoredAccounts() ([]string, error)
	EnsureFreshToken(ctx context.Context, email string) (string, error)
}

// CycleReport summarizes one keeper pass.
type CycleReport struct {
	Started  time.Time
	Duration time.Duration
	Accounts int
	Failed   int
	Err      error // set when the account list could not be read
}

// KeeperOption configures a Keeper.
type KeeperOption func(*Keeper)

// WithKeeperInterval sets the pass interval.
func WithKeeperInterval(d time.Duration) KeeperOption {
	return func(k *Keeper) {
		if d > 0 {
			k.interval = d
		}
	}
}

// WithKeeperLogger sets the logger.
func WithKeeperLogger(logger *slog.Logger) KeeperOption {
	return func(k *Keeper) { k.logger = logger }
}

// WithKeeperMetrics sets the metrics recorder.
func WithKeeperMetrics(m *instrumentation.Metrics) KeeperOption {
	return func(k *Keeper) { k.metrics = m }
}

// WithCycleHook registers a function called after every pass.
func WithCycleHook(fn func(CycleReport)) KeeperOption {
	return func(k *Keeper) { k.onCycle = fn }
}

// Keeper refreshes every stored account ahead of expiry so long-running
// consumers rarely wait on a refresh grant. Failures are logged, never fatal.
type Keeper struct {
	source   TokenSource
	interval time.Duration
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	onCycle  func(CycleReport)

	mu   sync.Mutex
	last *CycleReport
}

// NewKeeper creates a keeper over source.
func NewKeeper(source TokenSource, opts ...KeeperOption) *Keeper {
	k := &Keeper{
		source:   source,
		interval: DefaultKeeperInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Run performs a pass immediately and then every interval until ctx is done.
func (k *Keeper) Run(ctx context.Context) {
	k.logger.Info("token keeper started", slog.Duration("interval", k.interval))
	defer k.logger.Info("token keeper stopped")

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		k.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass over all stored accounts.
func (k *Keeper) RunOnce(ctx context.Context) CycleReport {
	report := CycleReport{Started: time.Now()}

	emails, err := k.source.ListStoredAccounts()
	if err != nil {
		report.Err = err
		k.logger.Error("failed to list stored accounts", logging.Err(err))
	}

	for _, email := range emails {
		if ctx.Err() != nil {
			break
		}
		report.Accounts++
		if _, err := k.source.EnsureFreshToken(ctx, email); err != nil {
			report.Failed++
			k.logger.Warn("background refresh failed", logging.UserHash(email), logging.Err(err))
		}
	}
	report.Duration = time.Since(report.Started)

	status := instrumentation.StatusSuccess
	if report.Err != nil || report.Failed > 0 {
		status = instrumentation.StatusError
	}
	k.metrics.RecordKeeperCycle(ctx, status)
	k.logger.Debug("keeper pass finished",
		slog.Int("accounts", report.Accounts),
		slog.Int("failed", report.Failed),
		slog.Duration(logging.KeyDuration, report.Duration))

	k.mu.Lock()
	k.last = &report
	k.mu.Unlock()

	if k.onCycle != nil {
		k.onCycle(report)
	}
	return report
}

// LastCycle returns the most recent pass, if any.
func (k *Keeper) LastCycle() (CycleReport, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.last == nil {
		return CycleReport{}, false
	}
	return *k.last, true
}
