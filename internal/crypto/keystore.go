package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const (
	keystoreService = "buildguard-desktop"
	keystoreUser    = "encryption-key"
)

// GenerateOrLoadKey loads the AES-256 key from the system keychain, creating
// and storing a new one if none exists
func GenerateOrLoadKey() ([]byte, error) {
	stored, err := keyring.Get(keystoreService, keystoreUser)
	if err == nil && stored != "" {
		key, decodeErr := base64.StdEncoding.DecodeString(stored)
		if decodeErr == nil && len(key) == 32 {
			return key, nil
		}
		zap.S().Warnf("Keystore entry is not a valid key, generating a new one")
	} else if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		zap.S().Warnf("Keystore warning: %v", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	if err := keyring.Set(keystoreService, keystoreUser, base64.StdEncoding.EncodeToString(key)); err != nil {
		// Linux without a secret service can run with a per-launch key
		if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
			return nil, fmt.Errorf("keychain storage required on %s: %w", runtime.GOOS, err)
		}
		zap.S().Warnf("Failed to store key in keychain, saved tokens will not survive a restart: %v", err)
	}

	return key, nil
}

// DeleteKey removes the encryption key from the keychain
func DeleteKey() error {
	return keyring.Delete(keystoreService, keystoreUser)
}

// IsKeyStored checks if an encryption key exists in the keychain
func IsKeyStored() bool {
	_, err := keyring.Get(keystoreService, keystoreUser)
	return err == nil
}
