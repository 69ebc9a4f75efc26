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

var (
	// ErrStoreCorrupted marks a record that exists but cannot be parsed or
	// decrypted. Load downgrades it to "no record" after logging it.
	ErrStoreCorrupted = errors.New("token store corrupted")

	// ErrFileCollision is returned when two distinct emails map to the same
	// file name and saving one would overwrite the other.
	ErrFileCollision = errors.New("account file belongs to a different email")
)

// TokenStore keeps one encrypted token file per account email.
type TokenStore struct {
	dir    string
	enc    Encrypter
	logger logging.Logger

	// plain maps an account file to the plaintext of the ciphertexts last
	// seen in it, so unchanged files are not decrypted again.
	mu    sync.Mutex
	plain map[string]plainSecrets
}

type plainSecrets struct {
	accessCT, access   string
	refreshCT, refresh string
}

// NewTokenStore creates a store rooted at <configDir>/accounts.
// The directory is created lazily on first save.
func NewTokenStore(configDir string, enc Encrypter, logger logging.Logger) *TokenStore {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &TokenStore{
		dir:    filepath.Join(configDir, accountsDirName),
		enc:    enc,
		logger: logger,
		plain:  make(map[string]plainSecrets),
	}
}

// Dir returns the accounts directory.
func (s *TokenStore) Dir() string {
	return s.dir
}

func (s *TokenStore) path(email string) string {
	return filepath.Join(s.dir, SafeFileName(email))
}

// Save encrypts the secret fields of rec and overwrites the account file.
func (s *TokenStore) Save(rec *TokenRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.Email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if rec.TokenExpiry == 0 {
		return fmt.Errorf("token expiry is required")
	}

	path := s.path(rec.Email)
	if existing, err := s.readStored(path); err == nil && !strings.EqualFold(existing.Email, rec.Email) {
		return fmt.Errorf("%w: %s", ErrFileCollision, filepath.Base(path))
	}

	access, err := s.enc.Encrypt(rec.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.enc.Encrypt(rec.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	data, err := json.MarshalIndent(storedRecord{
		Email:        rec.Email,
		Provider:     rec.Provider,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenExpiry:  rec.TokenExpiry,
		Scopes:       rec.Scopes,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to save tokens for %s: %w", logging.AnonymizeEmail(rec.Email), err)
	}
	s.remember(path, plainSecrets{
		accessCT: access, access: rec.AccessToken,
		refreshCT: refresh, refresh: rec.RefreshToken,
	})

	s.logger.Debug("Saved token record",
		logging.KeyUserHash, logging.AnonymizeEmail(rec.Email),
		logging.KeyProvider, rec.Provider,
		"expiry", rec.Expiry())
	return nil
}

// Load returns the decrypted record for email. A missing, unparseable or
// undecryptable file yields (nil, nil); only unexpected I/O errors are returned.
func (s *TokenStore) Load(email string) (*TokenRecord, error) {
	path := s.path(email)
	stored, err := s.readStored(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.forget(path)
			return nil, nil
		}
		if errors.Is(err, ErrStoreCorrupted) {
			s.logger.Warn("Ignoring unreadable token record",
				logging.KeyUserHash, logging.AnonymizeEmail(email),
				logging.KeyError, err)
			return nil, nil
		}
		return nil, err
	}

	if !strings.EqualFold(stored.Email, email) {
		return nil, nil
	}

	rec, err := s.decrypt(path, stored)
	if err != nil {
		s.logger.Warn("Ignoring undecryptable token record",
			logging.KeyUserHash, logging.AnonymizeEmail(email),
			logging.KeyError, err)
		return nil, nil
	}
	return rec, nil
}

// Delete removes the account file. It reports whether a file was removed.
func (s *TokenStore) Delete(email string) (bool, error) {
	path := s.path(email)
	if stored, err := s.readStored(path); err == nil && !strings.EqualFold(stored.Email, email) {
		return false, nil
	}
	s.forget(path)
	err := os.Remove(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete tokens: %w", err)
	}
	s.logger.Info("Deleted token record", logging.KeyUserHash, logging.AnonymizeEmail(email))
	return true, nil
}

// Has reports whether a usable record exists for email.
func (s *TokenStore) Has(email string) bool {
	rec, err := s.Load(email)
	return err == nil && rec != nil
}

// ListEmails returns the emails of all stored accounts in sorted order.
// Files that cannot be parsed are skipped.
func (s *TokenStore) ListEmails() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	emails := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		stored, err := s.readStored(filepath.Join(s.dir, entry.Name()))
		if err != nil || stored.Email == "" {
			s.logger.Debug("Skipping unreadable account file", "file", entry.Name(), logging.KeyError, err)
			continue
		}
		emails = append(emails, stored.Email)
	}
	sort.Strings(emails)
	return emails, nil
}

func (s *TokenStore) readStored(path string) (*storedRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
	}
	return &stored, nil
}

func (s *TokenStore) decrypt(path string, stored *storedRecord) (*TokenRecord, error) {
	s.mu.Lock()
	known := s.plain[path]
	s.mu.Unlock()

	access, err := s.open(stored.AccessToken, known.accessCT, known.access)
	if err != nil {
		return nil, fmt.Errorf("%w: access token: %v", ErrStoreCorrupted, err)
	}
	refresh := ""
	if stored.RefreshToken != "" {
		refresh, err = s.open(stored.RefreshToken, known.refreshCT, known.refresh)
		if err != nil {
			return nil, fmt.Errorf("%w: refresh token: %v", ErrStoreCorrupted, err)
		}
	}
	s.remember(path, plainSecrets{
		accessCT: stored.AccessToken, access: access,
		refreshCT: stored.RefreshToken, refresh: refresh,
	})

	return &TokenRecord{
		Email:        stored.Email,
		Provider:     stored.Provider,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenExpiry:  stored.TokenExpiry,
		Scopes:       stored.Scopes,
		CreatedAt:    stored.CreatedAt,
		UpdatedAt:    stored.UpdatedAt,
	}, nil
}

// open decrypts ciphertext unless it is the one whose plaintext is already known.
// Every ciphertext carries its own salt, so equal ciphertexts mean equal secrets.
func (s *TokenStore) open(ciphertext, knownCT, known string) (string, error) {
	if knownCT != "" && ciphertext == knownCT {
		return known, nil
	}
	return s.enc.Decrypt(ciphertext)
}

func (s *TokenStore) remember(path string, p plainSecrets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plain[path] = p
}

func (s *TokenStore) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plain, path)
}
