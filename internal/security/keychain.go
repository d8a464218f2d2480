package security

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeychainService is the service name used for storing passwords in the keychain
	KeychainService = "cascade"
)

// Keychain provides secure password storage using OS keychain
type Keychain struct {
	service string
}

// NewKeychain creates a new keychain instance
func NewKeychain() *Keychain {
	return &Keychain{service: KeychainService}
}

// PasswordKey names the server password entry of a network.
func PasswordKey(network string) string {
	return network + "/password"
}

// SASLKey names the SASL password entry of a network account.
func SASLKey(network, account string) string {
	return network + "/sasl/" + account
}

// StorePassword stores a password under key. An empty password deletes it.
func (k *Keychain) StorePassword(key string, password string) error {
	if password == "" {
		return k.DeletePassword(key)
	}
	if err := keyring.Set(k.service, key, password); err != nil {
		return fmt.Errorf("failed to store password in keychain: %w", err)
	}
	return nil
}

// GetPassword retrieves the password stored under key. A missing entry
// yields an empty password and no error.
func (k *Keychain) GetPassword(key string) (string, error) {
	password, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get password from keychain: %w", err)
	}
	return password, nil
}

// DeletePassword removes the password stored under key
func (k *Keychain) DeletePassword(key string) error {
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete password from keychain: %w", err)
	}
	return nil
}
