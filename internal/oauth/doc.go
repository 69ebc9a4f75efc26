// Package oauth implements the client side of the OAuth 2.0 authorization
// code grant with PKCE as used by desktop mail clients.
//
// It contains the pieces that talk to the outside world during a login:
//
//   - PKCE verifier, challenge and CSRF state generation
//   - CallbackListener, a one-shot loopback HTTP server that receives the
//     provider redirect on 127.0.0.1 and resolves exactly once
//   - Exchanger, which builds the authorization URL and redeems codes and
//     refresh tokens at a provider's token endpoint via golang.org/x/oauth2
//
// Orchestration (when to log in, when to refresh, what to persist) lives in
// the auth package.
package oauth
