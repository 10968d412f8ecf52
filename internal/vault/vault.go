// Package vault is the encryption boundary for OAuth token material.
// Tokens are sealed with AES-256-GCM, a random nonce per call, and the
// GCM integrity tag; ciphertexts are base64 for storage in text columns.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// DecryptionError indicates tampered ciphertext or a key mismatch. It is
// deliberately distinct from "token missing" so operators can tell a
// data-corruption incident apart from a normal expiry.
type DecryptionError struct {
	Cause error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("vault: decryption failed: %v", e.Cause)
}

func (e *DecryptionError) Unwrap() error { return e.Cause }

// Vault seals and opens credential strings with a single symmetric key.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns nonce||ciphertext, base64-encoded.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any tampering or key
// mismatch yields a *DecryptionError, never garbage plaintext.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	if len(raw) < v.aead.NonceSize() {
		return "", &DecryptionError{Cause: fmt.Errorf("ciphertext shorter than nonce")}
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	return string(plain), nil
}
