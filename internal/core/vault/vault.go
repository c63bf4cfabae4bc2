// Package vault seals and unseals secret values carried in configuration.
// This is part of the Functional Core - no I/O beyond the system RNG.
//
// A sealed value is "vault:" followed by base64(salt || nonce || ciphertext),
// encrypted with AES-256-GCM under a key derived from an operator passphrase
// with scrypt. Sealing lets secret values live in committed configuration
// without exposing them; the provisioner unseals at write time.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyPassphrase is returned when no passphrase is supplied.
	ErrEmptyPassphrase = errors.New("vault passphrase is empty")

	// ErrNotSealed is returned when unsealing a value without the vault prefix.
	ErrNotSealed = errors.New("value is not vault-sealed")

	// ErrMalformedEnvelope is returned when a sealed value cannot be decoded.
	ErrMalformedEnvelope = errors.New("malformed vault envelope")

	// ErrUnsealFailed is returned when decryption fails (wrong passphrase or
	// corrupted data).
	ErrUnsealFailed = errors.New("unseal failed: wrong passphrase or corrupted value")
)

// =============================================================================
// Envelope Format
// =============================================================================

// Prefix marks a sealed value in configuration.
const Prefix = "vault:"

const saltSize = 16

// scrypt cost parameters (interactive profile).
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// IsSealed reports whether a configuration value is vault-sealed.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// =============================================================================
// Key Derivation
// =============================================================================

// deriveKey derives a 32-byte AES-256 key from the passphrase with scrypt.
// The per-value random salt makes identical plaintexts seal differently.
func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
}

// =============================================================================
// Seal / Unseal
// =============================================================================

// Seal encrypts a secret value under the passphrase and returns the sealed
// configuration form.
//
// Envelope layout: salt (16 bytes) || nonce (12 bytes) || ciphertext+tag.
func Seal(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	envelope := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = gcm.Seal(envelope, nonce, []byte(plaintext), nil)

	return Prefix + base64.StdEncoding.EncodeToString(envelope), nil
}

// Unseal decrypts a sealed configuration value back to the secret value.
func Unseal(sealed, passphrase string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrNotSealed
	}
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}

	envelope, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, Prefix))
	if err != nil {
		return "", ErrMalformedEnvelope
	}
	if len(envelope) < saltSize {
		return "", ErrMalformedEnvelope
	}

	salt, rest := envelope[:saltSize], envelope[saltSize:]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(rest) < gcm.NonceSize() {
		return "", ErrMalformedEnvelope
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrUnsealFailed
	}

	return string(plaintext), nil
}
