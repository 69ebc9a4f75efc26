// Package cmd implements the command-line interface for mailauth.
//
// This package provides the following commands:
//   - login: Authorize a mail account with the OAuth authorization code flow
//   - client: Manage OAuth client registrations (set, show, list, delete)
//   - accounts, status: Inspect stored accounts
//   - token: Print a fresh access token, refreshing when needed
//   - revoke: Delete stored tokens
//   - providers: List supported providers
//   - serve: Run the background token keeper with metrics and health endpoints
//   - version: Display version information
//
// Global flags --config-dir and --debug apply to every command.
package cmd
