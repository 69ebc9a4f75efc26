package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// secretKeys are attribute keys whose values are credentials. They are
// masked whatever package logs them.
var secretKeys = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"id_token":      {},
	"client_secret": {},
	"code":          {},
	"code_verifier": {},
	"token":         {},
}

// AnonymizeEmail hashes an address so log lines for one account can be
// correlated. Case is ignored.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "user:" + hex.EncodeToString(sum[:8])
}

// SanitizeToken describes a credential by its length only.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// ExtractDomain returns the lowercased domain of email, or "" if it is not
// of the form local@domain.
func ExtractDomain(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 0 || at != strings.LastIndexByte(email, '@') {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// RedactSecrets is a slog.HandlerOptions.ReplaceAttr that masks any
// attribute named like a credential.
func RedactSecrets(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; !ok {
		return a
	}
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	return slog.String(a.Key, SanitizeToken(a.Value.String()))
}

// NewHandler returns the text handler the CLI logs through, with
// RedactSecrets installed.
func NewHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: RedactSecrets,
	})
}
