package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderNotSupported is returned for emails whose domain no
	// registered provider serves.
	ErrProviderNotSupported = errors.New("email provider does not support OAuth")

	// ErrClientNotConfigured is returned when no OAuth client credential is
	// stored for the detected provider.
	ErrClientNotConfigured = errors.New("OAuth client is not configured")

	// ErrNoTokensFound is returned when no usable token record exists for an email.
	ErrNoTokensFound = errors.New("no OAuth tokens found")

	// ErrNoRefreshToken is returned when a token must be refreshed but the
	// provider never issued a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token stored")

	// ErrReauthRequired wraps a refresh failure that cannot succeed without a
	// new interactive login.
	ErrReauthRequired = errors.New("refresh token invalid, re-authorization required")
)

// Remediation returns the command that fixes token errors for email.
func Remediation(email string) string {
	return "re-authenticate with: mailauth login " + email
}

func clientRemediation(provider string) string {
	return "configure it with: mailauth client set " + provider
}

func reauthError(kind error, email string) error {
	return fmt.Errorf("%w; %s", kind, Remediation(email))
}
