package instrumentation

import "testing"

func TestExtractUserDomain(t *testing.T) {
	tests := map[string]string{
		"jane@example.com":      "example.com",
		"User@Outlook.COM":      "outlook.com",
		"ops@mail.corp.example": "mail.corp.example",
		"@domain.com":           "domain.com",
		"no-at-sign":            "unknown",
		"":                      "unknown",
		"@":                     "unknown",
		"trailing@":             "unknown",
		"two@at@signs.example":  "unknown",
	}

	for email, want := range tests {
		if got := ExtractUserDomain(email); got != want {
			t.Errorf("ExtractUserDomain(%q) = %q, want %q", email, got, want)
		}
	}
}

func TestProviderLabel(t *testing.T) {
	tests := map[string]string{
		"google":      "google",
		" Microsoft ": "microsoft",
		"yahoo":       "other",
		"":            "unknown",
	}

	for name, want := range tests {
		if got := providerLabel(name); got != want {
			t.Errorf("providerLabel(%q) = %q, want %q", name, got, want)
		}
	}
}
