// Package crypto provides AES-256-GCM encryption for secret material that has
// to live in process memory or at rest in configuration, such as OAuth2 client
// secrets. Each encryption uses a fresh random nonce, so encrypting the same
// plaintext twice produces different ciphertexts.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"dicomweb-oauth-proxy/internal/common/errors"
)

// SecretsEncryptor encrypts and decrypts secret strings with AES-256-GCM.
// It is safe for concurrent use by multiple goroutines.
type SecretsEncryptor struct {
	key []byte // 32-byte AES-256 key
}

// NewSecretsEncryptor creates an encryptor from a passphrase. The passphrase
// is stretched with PBKDF2 to a 32-byte key, so any non-empty input works
// regardless of length.
func NewSecretsEncryptor(key string) (*SecretsEncryptor, error) {
	if key == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	// Static salt keeps derivation deterministic across restarts so that
	// secrets encrypted in a previous run can still be decrypted.
	salt := []byte("dicomweb-oauth-proxy-salt")
	derivedKey := pbkdf2.Key([]byte(key), salt, 10000, 32, sha256.New)

	return &SecretsEncryptor{key: derivedKey}, nil
}

// NewEphemeralEncryptor creates an encryptor with a random per-process key.
// Secrets encrypted with it cannot outlive the process, which is exactly
// what in-memory protection of client secrets wants.
func NewEphemeralEncryptor() (*SecretsEncryptor, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.InternalError("failed to generate encryption key", err)
	}
	return &SecretsEncryptor{key: key}, nil
}

// Encrypt encrypts a plaintext string and returns base64(nonce + ciphertext).
// Empty strings pass through unchanged.
func (e *SecretsEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. GCM authenticates the ciphertext, so tampered or
// corrupted input fails instead of yielding garbage.
func (e *SecretsEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}
