package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/teemow/mailauth/internal/logging"
)

// ClientStore keeps OAuth client registrations for all providers in a single
// JSON object keyed by provider name.
type ClientStore struct {
	mu     sync.Mutex
	path   string
	enc    Encrypter
	logger logging.Logger
}

// NewClientStore creates a store backed by <configDir>/oauth-clients.json.
func NewClientStore(configDir string, enc Encrypter, logger logging.Logger) *ClientStore {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &ClientStore{
		path:   filepath.Join(configDir, clientsFileName),
		enc:    enc,
		logger: logger,
	}
}

// Save stores cred, replacing any existing entry for the same provider.
func (s *ClientStore) Save(cred ClientCredential) error {
	provider := strings.ToLower(strings.TrimSpace(cred.Provider))
	if provider == "" {
		return fmt.Errorf("provider cannot be empty")
	}
	if cred.ClientID == "" {
		return fmt.Errorf("client id cannot be empty")
	}

	secret, err := s.enc.Encrypt(cred.ClientSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt client secret: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		if !errors.Is(err, ErrStoreCorrupted) {
			return err
		}
		// A corrupt file would otherwise block setup forever.
		s.logger.Warn("Replacing unreadable client credential file", logging.KeyError, err)
		all = map[string]storedClient{}
	}

	all[provider] = storedClient{
		Provider:     provider,
		ClientID:     cred.ClientID,
		ClientSecret: secret,
	}
	if err := s.writeAll(all); err != nil {
		return err
	}

	s.logger.Info("Saved OAuth client credential", logging.KeyProvider, provider)
	return nil
}

// Load returns the credential for provider, or (nil, nil) when none is
// configured or the stored secret cannot be decrypted.
func (s *ClientStore) Load(provider string) (*ClientCredential, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))

	s.mu.Lock()
	all, err := s.readAll()
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrStoreCorrupted) {
			s.logger.Warn("Ignoring unreadable client credential file", logging.KeyError, err)
			return nil, nil
		}
		return nil, err
	}

	stored, ok := all[provider]
	if !ok {
		return nil, nil
	}

	secret := ""
	if stored.ClientSecret != "" {
		secret, err = s.enc.Decrypt(stored.ClientSecret)
		if err != nil {
			s.logger.Warn("Ignoring undecryptable client secret",
				logging.KeyProvider, provider,
				logging.KeyError, err)
			return nil, nil
		}
	}

	return &ClientCredential{
		Provider:     provider,
		ClientID:     stored.ClientID,
		ClientSecret: secret,
	}, nil
}

// List returns the providers that have a stored credential.
func (s *ClientStore) List() ([]string, error) {
	s.mu.Lock()
	all, err := s.readAll()
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrStoreCorrupted) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the credential for provider and reports whether it existed.
func (s *ClientStore) Delete(provider string) (bool, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return false, err
	}
	if _, ok := all[provider]; !ok {
		return false, nil
	}
	delete(all, provider)
	if err := s.writeAll(all); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ClientStore) readAll() (map[string]storedClient, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]storedClient{}, nil
		}
		return nil, fmt.Errorf("failed to read client credentials: %w", err)
	}
	all := map[string]storedClient{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
	}
	return all, nil
}

func (s *ClientStore) writeAll(all map[string]storedClient) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client credentials: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to save client credentials: %w", err)
	}
	return nil
}
