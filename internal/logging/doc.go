// Package logging holds the slog conventions of mailauth: shared attribute
// keys, account hashing and credential redaction.
//
//	logger := logging.WithOperation(slog.Default(), "auth.refresh")
//	logger.Info("token refreshed", logging.UserHash(email), logging.Provider("google"))
//
// Addresses are logged as UserHash. Tokens and client secrets are never
// logged; NewHandler masks any attribute named like one in case a caller
// forgets.
package logging
