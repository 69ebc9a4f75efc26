package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/teemow/mailauth/internal/auth"
	"github.com/teemow/mailauth/internal/instrumentation"
	"github.com/teemow/mailauth/internal/logging"
	"github.com/teemow/mailauth/internal/oauth"
	"github.com/teemow/mailauth/internal/secret"
	"github.com/teemow/mailauth/internal/store"
)

const (
	// CallbackTimeoutEnv overrides how long login waits for the browser redirect.
	CallbackTimeoutEnv = "MAILAUTH_CALLBACK_TIMEOUT"

	// ClientIDEnv and ClientSecretEnv provide "client set" values when the
	// flags are not given.
	ClientIDEnv     = "MAILAUTH_CLIENT_ID"
	ClientSecretEnv = "MAILAUTH_CLIENT_SECRET"
)

// newService opens the stores under the configured directory and builds the
// account service. instr may be nil for one-shot commands.
func newService(instr *instrumentation.Provider) (*auth.Service, error) {
	dir, err := store.ResolveConfigDir(configDir)
	if err != nil {
		return nil, err
	}

	cipher, err := secret.NewMachineCipher()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token encryption: %w", err)
	}

	storeLogger := logging.NewSlogAdapter(logging.WithComponent(slog.Default(), "store"))
	opts := auth.Options{
		Tokens:          store.NewTokenStore(dir, cipher, storeLogger),
		Clients:         store.NewClientStore(dir, cipher, storeLogger),
		Output:          os.Stderr,
		CallbackTimeout: durationFromEnv(CallbackTimeoutEnv, oauth.DefaultCallbackTimeout),
		Logger:          slog.Default(),
		Audit:           instrumentation.NewAuditLoggerWithConfig(slog.Default(), instrumentation.DefaultConfig().AuditLogging),
	}
	if instr != nil {
		opts.Metrics = instr.Metrics()
		opts.Audit = instr.Audit()
	}

	slog.Debug("using config directory", "dir", dir)
	return auth.NewService(opts)
}

// durationFromEnv parses a Go duration from key, falling back to def when
// the variable is unset or invalid.
func durationFromEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid duration", "env", key, "value", raw)
		return def
	}
	return d
}

// envFallback returns value unless it is empty, in which case the
// environment variable key is used.
func envFallback(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

func formatExpiry(expiresAt, now time.Time) string {
	if !expiresAt.After(now) {
		return fmt.Sprintf("expired %s ago", now.Sub(expiresAt).Truncate(time.Second))
	}
	return fmt.Sprintf("expires in %s", expiresAt.Sub(now).Truncate(time.Second))
}
