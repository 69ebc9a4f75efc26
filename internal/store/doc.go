// Package store persists OAuth tokens and client credentials on disk.
//
// Layout under the configuration directory:
//
//	accounts/<safe-email>.json   one TokenRecord per account
//	oauth-clients.json           provider name -> client credential
//
// Secret fields are encrypted individually with package secret before they
// are written. Files are rewritten wholesale on every save, so callers must
// load, merge and then save rather than build records from scratch.
//
// There is no cross-process locking. Two writers for the same account race
// and the last one wins.
package store
