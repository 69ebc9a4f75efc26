// Package auth orchestrates OAuth logins and keeps stored access tokens fresh.
//
// FlowController runs one interactive authorization code + PKCE login and
// persists the resulting tokens. Refresher is the single entry point for
// callers that need a usable access token: it serves the stored token while
// it is more than RefreshBuffer away from expiry and otherwise performs one
// refresh grant, deduplicated per email. Service bundles both behind the
// consumer-facing API and Keeper refreshes all stored accounts ahead of time
// for long-running processes.
package auth
