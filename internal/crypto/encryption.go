package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// KeyEnvVar overrides the keychain key, for development and tests
const KeyEnvVar = "BUILDGUARD_ENCRYPTION_KEY"

// ErrNotInitialized is returned by the package-level helpers before Init
var ErrNotInitialized = errors.New("encryption not initialized")

// Sealer encrypts secrets with AES-256-GCM. Ciphertexts are base64 with the
// nonce prepended.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a sealer for a 32-byte key
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal
func (s *Sealer) Open(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// KeyFromString turns a configured key into 32 bytes. A base64 value of the
// right length is used as is; anything else is hashed.
func KeyFromString(value string) []byte {
	if raw, err := base64.StdEncoding.DecodeString(value); err == nil {
		if len(raw) == 32 {
			return raw
		}
		sum := sha256.Sum256(raw)
		return sum[:]
	}
	sum := sha256.Sum256([]byte(value))
	return sum[:]
}

var (
	mu      sync.RWMutex
	current *Sealer
)

// Init sets up the process-wide sealer. The key comes from KeyEnvVar when
// set, otherwise from the system keychain (generated on first use).
func Init() error {
	var key []byte
	if value := os.Getenv(KeyEnvVar); value != "" {
		key = KeyFromString(value)
	} else {
		loaded, err := GenerateOrLoadKey()
		if err != nil {
			return fmt.Errorf("failed to initialize encryption from keystore: %w", err)
		}
		key = loaded
	}

	sealer, err := NewSealer(key)
	if err != nil {
		return err
	}

	mu.Lock()
	current = sealer
	mu.Unlock()
	return nil
}

// IsInitialized reports whether Init succeeded
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return current != nil
}

// EncryptSecret seals an API token or other credential for storage
func EncryptSecret(secret string) (string, error) {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s == nil {
		return "", ErrNotInitialized
	}
	return s.Seal(secret)
}

// DecryptSecret opens a value produced by EncryptSecret
func DecryptSecret(encoded string) (string, error) {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s == nil {
		return "", ErrNotInitialized
	}
	return s.Open(encoded)
}
