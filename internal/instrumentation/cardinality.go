package instrumentation

import "strings"

// Label values outside these sets are folded so a misconfigured caller cannot
// grow a metric's series without bound.
var knownProviders = map[string]struct{}{
	"google":    {},
	"microsoft": {},
}

const (
	labelUnknown = "unknown"
	labelOther   = "other"
)

// providerLabel normalizes a provider name for use as a metric label.
func providerLabel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return labelUnknown
	}
	if _, ok := knownProviders[name]; ok {
		return name
	}
	return labelOther
}

// ExtractUserDomain returns the lowercased domain of an email, or "unknown"
// when the address has no single '@' followed by a domain.
func ExtractUserDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return labelUnknown
	}
	return strings.ToLower(domain)
}
