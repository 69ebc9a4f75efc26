package oauth

import "time"

const (
	// CallbackPath is the path the provider redirects to on the loopback listener.
	CallbackPath = "/callback"

	// DefaultCallbackTimeout bounds how long a login waits for the browser redirect.
	DefaultCallbackTimeout = 5 * time.Minute

	// DefaultHTTPTimeout applies to every token endpoint request.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultExpiresIn is assumed when a token response omits expires_in.
	DefaultExpiresIn = 3600 * time.Second

	// ChallengeMethod is the only PKCE method this client sends.
	ChallengeMethod = "S256"

	// shutdownGrace is how long a resolved listener waits for the in-flight
	// response to drain before the server is closed forcibly.
	shutdownGrace = 2 * time.Second

	// maxErrorBody caps how much of a failed token response is kept on errors.
	maxErrorBody = 2048
)

// Grant types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)
