// Package secret encrypts credential fields at rest.
//
// Every call to Encrypt derives a fresh AES-256 key from a machine-scoped
// passphrase and a random salt using scrypt, then seals the plaintext with
// AES-256-GCM under a random IV. The serialized form is four hex fields
// joined by ':':
//
//	salt:iv:authTag:ciphertext
//
// Security Properties:
//   - Two encryptions of the same plaintext never produce the same string
//   - Any malformed, truncated or tampered value fails to decrypt
//   - The passphrase is derived from machine identity, so no prompt is needed.
//     Another process running as the same user on the same machine can
//     derive the same key; that is an accepted limitation of this design.
package secret
