package store

import (
	"time"
)

// Encrypter seals and opens individual secret fields.
// *secret.Cipher satisfies it.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// TokenRecord is the decrypted, in-memory form of one account's tokens.
// It is never written to disk as-is.
type TokenRecord struct {
	Email        string
	Provider     string
	AccessToken  string
	RefreshToken string
	// TokenExpiry is the absolute access-token expiry in milliseconds since epoch.
	TokenExpiry int64
	Scopes      []string
	// CreatedAt and UpdatedAt are milliseconds since epoch.
	CreatedAt int64
	UpdatedAt int64
}

// Expiry returns TokenExpiry as a time.Time.
func (r *TokenRecord) Expiry() time.Time {
	return time.UnixMilli(r.TokenExpiry)
}

// Clone returns a deep copy so callers can merge without aliasing slices.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Scopes = append([]string(nil), r.Scopes...)
	return &c
}

// storedRecord is the on-disk JSON form. Secret fields hold
// salt:iv:authTag:ciphertext strings.
type storedRecord struct {
	Email        string   `json:"email"`
	Provider     string   `json:"provider"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenExpiry  int64    `json:"tokenExpiry"`
	Scopes       []string `json:"scopes,omitempty"`
	CreatedAt    int64    `json:"createdAt"`
	UpdatedAt    int64    `json:"updatedAt"`
}

// ClientCredential is an OAuth client registration for one provider.
type ClientCredential struct {
	Provider     string
	ClientID     string
	ClientSecret string
}

type storedClient struct {
	Provider     string `json:"provider"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}
