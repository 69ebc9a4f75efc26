package provider

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// Provider names.
const (
	Google    = "google"
	Microsoft = "microsoft"
)

// Config describes one OAuth provider. Values are treated as immutable once
// they are placed in a Registry.
type Config struct {
	// Name is the stable identifier used as a storage key.
	Name string

	// Endpoint holds the authorization and token endpoint URLs.
	Endpoint oauth2.Endpoint

	// Scopes are requested in order.
	Scopes []string

	// Domains route email addresses to this provider. Stored lowercase.
	Domains []string

	// AuthParams are extra authorization URL parameters this provider needs
	// to issue a refresh token (e.g. access_type=offline for Google).
	AuthParams map[string]string
}

// AuthURL returns the authorization endpoint.
func (c Config) AuthURL() string { return c.Endpoint.AuthURL }

// TokenURL returns the token endpoint.
func (c Config) TokenURL() string { return c.Endpoint.TokenURL }

// Registry is an immutable lookup table of providers.
type Registry struct {
	providers []Config
	byName    map[string]Config
	byDomain  map[string]string
}

// NewRegistry builds a registry. It rejects empty or duplicate names and
// domains claimed by more than one provider.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]Config, len(configs)),
		byDomain: make(map[string]string),
	}

	for _, cfg := range configs {
		cfg.Name = strings.ToLower(strings.TrimSpace(cfg.Name))
		if cfg.Name == "" {
			return nil, fmt.Errorf("provider name cannot be empty")
		}
		if _, dup := r.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", cfg.Name)
		}
		if cfg.Endpoint.AuthURL == "" || cfg.Endpoint.TokenURL == "" {
			return nil, fmt.Errorf("provider %q must define authorization and token endpoints", cfg.Name)
		}

		domains := make([]string, 0, len(cfg.Domains))
		for _, d := range cfg.Domains {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "" {
				continue
			}
			if owner, taken := r.byDomain[d]; taken {
				return nil, fmt.Errorf("domain %q claimed by both %q and %q", d, owner, cfg.Name)
			}
			r.byDomain[d] = cfg.Name
			domains = append(domains, d)
		}
		cfg.Domains = domains
		cfg.Scopes = append([]string(nil), cfg.Scopes...)

		r.byName[cfg.Name] = cfg
		r.providers = append(r.providers, cfg)
	}

	return r, nil
}

// DefaultRegistry returns the compiled-in providers.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Config{
			Name:     Google,
			Endpoint: google.Endpoint,
			Scopes:   GoogleScopes,
			Domains:  []string{"gmail.com", "googlemail.com"},
			AuthParams: map[string]string{
				"access_type": "offline",
			},
		},
		Config{
			Name:     Microsoft,
			Endpoint: microsoft.AzureADEndpoint("common"),
			Scopes:   MicrosoftScopes,
			Domains:  []string{"outlook.com", "hotmail.com", "live.com", "msn.com"},
		},
	)
	if err != nil {
		// The built-in table is static; an error here is a programming mistake.
		panic(err)
	}
	return r
}

// Detect returns the provider serving the given email address.
// The domain is matched exactly first, then as a subdomain of a known domain.
func (r *Registry) Detect(email string) (Config, bool) {
	domain := emailDomain(email)
	if domain == "" {
		return Config{}, false
	}

	if name, ok := r.byDomain[domain]; ok {
		return r.byName[name], true
	}

	// Walk providers in registration order so the result is deterministic.
	for _, cfg := range r.providers {
		for _, known := range cfg.Domains {
			if strings.HasSuffix(domain, "."+known) {
				return cfg, true
			}
		}
	}

	return Config{}, false
}

// IsSupported reports whether Detect finds a provider for email.
func (r *Registry) IsSupported(email string) bool {
	_, ok := r.Detect(email)
	return ok
}

// Lookup returns the provider with the given name.
func (r *Registry) Lookup(name string) (Config, bool) {
	cfg, ok := r.byName[strings.ToLower(name)]
	return cfg, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
