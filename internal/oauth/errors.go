package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPortAllocationFailed is returned when no loopback port can be bound.
	ErrPortAllocationFailed = errors.New("failed to allocate a local callback port")

	// ErrCallbackTimeout is returned when the browser never reaches the listener.
	ErrCallbackTimeout = errors.New("timed out waiting for the OAuth callback")

	// ErrCallbackStateMismatch is returned when the callback carries no code or
	// a state that differs from the one sent in the authorization URL.
	ErrCallbackStateMismatch = errors.New("OAuth callback state mismatch")

	// ErrProviderDeniedConsent is returned when the provider redirects back
	// with an error parameter. Match it with errors.Is; details are on
	// *ConsentDeniedError.
	ErrProviderDeniedConsent = errors.New("provider denied consent")

	// ErrMalformedTokenResponse is returned when a 2xx token response has no
	// access_token.
	ErrMalformedTokenResponse = errors.New("token response missing access_token")

	// ErrRefreshTokenInvalid matches a *TokenRefreshError whose refresh token
	// was rejected by the provider.
	ErrRefreshTokenInvalid = errors.New("refresh token is invalid or revoked")

	// ErrListenerNotReady is returned by Await when Start has not succeeded or
	// the listener was already used.
	ErrListenerNotReady = errors.New("callback listener is not listening")
)

// ConsentDeniedError carries the error the provider reported on the callback.
type ConsentDeniedError struct {
	Code        string // OAuth error code, e.g. "access_denied"
	Description string // optional error_description
}

func (e *ConsentDeniedError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", ErrProviderDeniedConsent, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", ErrProviderDeniedConsent, e.Code, e.Description)
}

func (e *ConsentDeniedError) Unwrap() error {
	return ErrProviderDeniedConsent
}

// TokenExchangeError is a non-2xx response to an authorization_code grant.
type TokenExchangeError struct {
	Status      int
	Body        string
	Code        string // OAuth error code from the body, if any
	Description string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d: %s", e.Status, e.summary())
}

func (e *TokenExchangeError) summary() string {
	return describe(e.Code, e.Description, e.Body)
}

// TokenRefreshError is a non-2xx response to a refresh_token grant.
type TokenRefreshError struct {
	Status      int
	Body        string
	Code        string
	Description string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed with status %d: %s", e.Status, describe(e.Code, e.Description, e.Body))
}

// Invalid reports whether the refresh token itself was rejected (HTTP 400
// or 401, or an invalid_grant error code). Any other failure is transient.
func (e *TokenRefreshError) Invalid() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return true
	}
	return e.Code == "invalid_grant"
}

// Is lets errors.Is(err, ErrRefreshTokenInvalid) match invalid refresh errors.
func (e *TokenRefreshError) Is(target error) bool {
	return target == ErrRefreshTokenInvalid && e.Invalid()
}

func describe(code, description, body string) string {
	switch {
	case code != "" && description != "":
		return code + ": " + description
	case code != "":
		return code
	case body != "":
		return body
	}
	return "empty response body"
}
