package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCE holds a code verifier and its S256 challenge (RFC 7636).
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE creates a fresh verifier from 32 random bytes. The resulting
// verifier is 43 characters of base64url without padding.
func GeneratePKCE() (PKCE, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return PKCE{}, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return PKCE{
		Verifier:  verifier,
		Challenge: CodeChallenge(verifier),
	}, nil
}

// CodeChallenge computes BASE64URL(SHA256(ASCII(verifier))).
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyChallenge reports whether challenge was derived from verifier with S256.
func VerifyChallenge(verifier, challenge string) bool {
	return CodeChallenge(verifier) == challenge
}

// GenerateState returns a random state parameter for CSRF protection.
func GenerateState() (string, error) {
	state, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
