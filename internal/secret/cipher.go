package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// SaltSize is the number of random salt bytes fed to the KDF per encryption.
	SaltSize = 16

	// IVSize is the GCM nonce size.
	IVSize = 12

	// TagSize is the GCM authentication tag size.
	TagSize = 16

	// KeySize selects AES-256.
	KeySize = 32

	// Delimiter separates the hex fields of a serialized value.
	Delimiter = ":"
)

// scrypt cost parameters. N=2^15, r=8 costs ~32 MiB and tens of
// milliseconds per derivation.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var (
	// ErrMalformedCiphertext is returned when a serialized value does not
	// have the salt:iv:authTag:ciphertext shape.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrDecryptFailed is returned when authentication of the ciphertext fails.
	ErrDecryptFailed = errors.New("failed to decrypt")
)

// Cipher encrypts and decrypts individual secret fields.
type Cipher struct {
	passphrase []byte
	rand       io.Reader

	// cost parameters, lowered in tests
	n, r, p int
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithRandom overrides the randomness source. Only tests should need this.
func WithRandom(r io.Reader) Option {
	return func(c *Cipher) { c.rand = r }
}

// WithCost overrides the scrypt cost parameters.
func WithCost(n, r, p int) Option {
	return func(c *Cipher) { c.n, c.r, c.p = n, r, p }
}

// New creates a Cipher keyed by the given passphrase.
func New(passphrase string, opts ...Option) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	c := &Cipher{
		passphrase: []byte(passphrase),
		rand:       rand.Reader,
		n:          scryptN,
		r:          scryptR,
		p:          scryptP,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewMachineCipher creates a Cipher keyed by MachinePassphrase.
func NewMachineCipher(opts ...Option) (*Cipher, error) {
	passphrase, err := MachinePassphrase()
	if err != nil {
		return nil, err
	}
	return New(passphrase, opts...)
}

func (c *Cipher) deriveKey(salt []byte) ([]byte, error) {
	key, err := scrypt.Key(c.passphrase, salt, c.n, c.r, c.p, KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext and returns salt:iv:authTag:ciphertext in hex.
// The empty string is encrypted like any other value.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	key, err := c.deriveKey(salt)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	// Seal appends the tag to the ciphertext; it is split out for the wire format.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, Delimiter), nil
}

// Decrypt opens a value produced by Encrypt. It fails closed on any
// malformed, truncated or tampered input.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, Delimiter)
	if len(parts) != 4 {
		return "", fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedCiphertext, len(parts))
	}

	salt, err := decodeField(parts[0], SaltSize, "salt")
	if err != nil {
		return "", err
	}
	iv, err := decodeField(parts[1], IVSize, "iv")
	if err != nil {
		return "", err
	}
	tag, err := decodeField(parts[2], TagSize, "auth tag")
	if err != nil {
		return "", err
	}
	ct, err := hex.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not hex", ErrMalformedCiphertext)
	}

	key, err := c.deriveKey(salt)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return string(plaintext), nil
}

func decodeField(s string, size int, name string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not hex", ErrMalformedCiphertext, name)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %s must be %d bytes, got %d", ErrMalformedCiphertext, name, size, len(b))
	}
	return b, nil
}
